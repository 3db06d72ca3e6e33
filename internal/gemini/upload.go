package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/logger"
	"github.com/tidwall/gjson"
)

const (
	uploadIDHeader     = "x-guploader-uploadid"
	contribPathPrefix  = "/contrib_service/"
	minContribPathSize = 40
)

var contribPathPattern = regexp.MustCompile(`/contrib_service/[^\s"']+`)

// browserUploadHeaders mirror what the web client sends to the upload host.
var browserUploadHeaders = map[string]string{
	"accept":            "*/*",
	"accept-language":   "zh-CN,zh;q=0.9,en;q=0.8",
	"origin":            "https://gemini.google.com",
	"referer":           "https://gemini.google.com/",
	"sec-fetch-dest":    "empty",
	"sec-fetch-mode":    "cors",
	"sec-fetch-site":    "same-site",
	"x-browser-channel": "stable",
}

// upload stores img through the two-phase resumable upload and returns the
// storage path to reference in the envelope.
func (c *Client) upload(ctx context.Context, creds *credentials.Credentials, img Image) (*Attachment, error) {
	if creds.PushID == "" {
		return nil, &AuthExpiredError{Stage: "upload", Detail: "no push id configured"}
	}

	filename := fmt.Sprintf("image_%06d.png", 100000+rand.IntN(900000))

	uploadID, err := c.startUpload(ctx, creds, filename, len(img.Data))
	if err != nil {
		return nil, err
	}

	body, err := c.finalizeUpload(ctx, creds, uploadID, img.Data)
	if err != nil {
		return nil, err
	}

	path := extractContribPath(body)
	if path == "" {
		return nil, &AuthExpiredError{Stage: "upload", Detail: "no storage path in response: " + logger.Preview(body, 300)}
	}
	if len(path) < minContribPathSize {
		return nil, &AuthExpiredError{Stage: "upload", Detail: "storage path incomplete: " + path}
	}

	c.logger.Debug().Str("path", logger.Preview(path, 50)).Int("bytes", len(img.Data)).Msg("image uploaded")

	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &Attachment{Path: path, MimeType: mimeType, Filename: filename}, nil
}

func (c *Client) startUpload(ctx context.Context, creds *credentials.Credentials, filename string, size int) (string, error) {
	form := url.Values{"File name": {filename}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.UploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	c.uploadHeaders(req, creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("x-goog-upload-command", "start")
	req.Header.Set("x-goog-upload-header-content-length", strconv.Itoa(size))
	req.Header.Set("x-goog-upload-protocol", "resumable")
	req.Header.Set("x-tenant-id", "bard-storage")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload init: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &AuthExpiredError{Stage: "upload init", StatusCode: resp.StatusCode}
	}
	uploadID := resp.Header.Get(uploadIDHeader)
	if uploadID == "" {
		return "", &AuthExpiredError{Stage: "upload init", StatusCode: resp.StatusCode, Detail: "no upload id returned"}
	}
	return uploadID, nil
}

func (c *Client) finalizeUpload(ctx context.Context, creds *credentials.Credentials, uploadID string, data []byte) (string, error) {
	u := c.opts.UploadURL + "?" + url.Values{
		"upload_id":       {uploadID},
		"upload_protocol": {"resumable"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	c.uploadHeaders(req, creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("x-goog-upload-command", "upload, finalize")
	req.Header.Set("x-goog-upload-offset", "0")
	req.Header.Set("x-tenant-id", "bard-storage")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload finalize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upload finalize: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &AuthExpiredError{Stage: "upload finalize", StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return "", &UpstreamHTTPError{StatusCode: resp.StatusCode, Body: logger.Preview(string(body), 200)}
	}
	return string(body), nil
}

func (c *Client) uploadHeaders(req *http.Request, creds *credentials.Credentials) {
	for k, v := range browserUploadHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("push-id", creds.PushID)
	addCookies(req, creds)
}

// extractContribPath finds the first /contrib_service/ string anywhere in a
// JSON body, falling back to a text scan for non-JSON bodies.
func extractContribPath(body string) string {
	if gjson.Valid(body) {
		if p := findContribPath(gjson.Parse(body)); p != "" {
			return p
		}
		return ""
	}
	return contribPathPattern.FindString(body)
}

func findContribPath(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		if strings.HasPrefix(v.Str, contribPathPrefix) {
			return v.Str
		}
	case v.IsArray() || v.IsObject():
		var found string
		v.ForEach(func(_, child gjson.Result) bool {
			found = findContribPath(child)
			return found == ""
		})
		return found
	}
	return ""
}
