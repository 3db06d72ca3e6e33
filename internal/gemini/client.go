package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/logger"
	"github.com/rs/zerolog"
)

const (
	chatPath  = "/_/BardChatUi/data/assistant.lamda.BardFrontendService/StreamGenerate"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Options configures a Client. Zero values are replaced by DefaultOptions.
type Options struct {
	BaseURL    string
	UploadURL  string
	Locale     string
	BuildLabel string

	// Timeout bounds a single upstream exchange.
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration

	ModelIDs ModelIDs
	Policy   Policy

	// MediaBaseURL prefixes locally served media. Empty yields relative /media/<id> paths.
	MediaBaseURL     string
	MediaTimeout     time.Duration
	MediaMinBytes    int
	MediaParallelism int
}

func DefaultOptions() Options {
	return Options{
		BaseURL:          "https://gemini.google.com",
		UploadURL:        "https://push.clients6.google.com/upload/",
		Locale:           "zh-CN",
		BuildLabel:       "boq_assistant-bard-web-server_20241209.00_p0",
		Timeout:          60 * time.Second,
		MaxAttempts:      3,
		Backoff:          2 * time.Second,
		ModelIDs:         DefaultModelIDs,
		Policy:           DefaultPolicy(),
		MediaTimeout:     60 * time.Second,
		MediaMinBytes:    100,
		MediaParallelism: 4,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = def.BaseURL
	}
	if o.UploadURL == "" {
		o.UploadURL = def.UploadURL
	}
	if o.Locale == "" {
		o.Locale = def.Locale
	}
	if o.BuildLabel == "" {
		o.BuildLabel = def.BuildLabel
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.MediaTimeout <= 0 {
		o.MediaTimeout = def.MediaTimeout
	}
	if o.MediaParallelism <= 0 {
		o.MediaParallelism = def.MediaParallelism
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return o
}

// Usage approximates token counts with character counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the outcome of one submitted turn.
type ChatResult struct {
	Text    string
	Usage   Usage
	Session SessionContext
	Media   []string

	// Parsed is false when the response yielded nothing usable and Text is
	// UnparsableResponse.
	Parsed bool
}

// Client drives one upstream conversation. Submit calls must be serialized
// by the caller.
type Client struct {
	opts       Options
	httpClient HTTPClient
	creds      credentials.CredentialsFetcher
	codec      *Codec
	resolver   *MediaResolver
	session    *Session
	logger     zerolog.Logger

	requestCount int
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

// NewClient creates a client. store may be nil, in which case media stays
// remote and only image URLs are upgraded to full size.
func NewClient(opts Options, httpClient HTTPClient, creds credentials.CredentialsFetcher, store MediaStore, logger zerolog.Logger) *Client {
	opts = opts.withDefaults()

	resolver := NewMediaResolver(httpClient, store, opts.MediaBaseURL, logger)
	resolver.Timeout = opts.MediaTimeout
	resolver.MinBytes = opts.MediaMinBytes
	resolver.Parallelism = opts.MediaParallelism

	return &Client{
		opts:       opts,
		httpClient: httpClient,
		creds:      creds,
		codec:      NewCodec(opts.Policy),
		resolver:   resolver,
		session:    NewSession(0),
		logger:     logger,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// Session exposes the conversation state driven by Submit.
func (c *Client) Session() *Session {
	return c.session
}

// Reset drops the upstream conversation and local history.
func (c *Client) Reset() {
	c.session.Reset()
}

// Submit sends one turn and returns the post-processed reply. The session
// context is only updated on success.
func (c *Client) Submit(ctx context.Context, turn Turn) (*ChatResult, error) {
	if turn.Empty() {
		return nil, ErrEmptyTurn
	}

	creds, err := c.creds.GetCredentials()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, &AuthExpiredError{Stage: "credentials", Detail: err.Error()}
	}

	var attachment *Attachment
	if len(turn.Images) > 0 {
		if len(turn.Images) > 1 {
			c.logger.Warn().Int("images", len(turn.Images)).Msg("upstream accepts one image per turn, sending the first only")
		}
		attachment, err = c.upload(ctx, creds, turn.Images[0])
		if err != nil {
			return nil, err
		}
	}

	variant := SelectVariant(turn.Model)
	modelID := c.opts.ModelIDs.WithOverrides(creds.ModelIDs).For(variant)

	freq, err := c.codec.Encode(EncodeInput{
		Text:       turn.Text,
		Attachment: attachment,
		Locale:     c.opts.Locale,
		Session:    c.session.Context(),
		AtToken:    creds.AtToken,
		Model:      turn.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.logger.Debug().
		Str("model", turn.Model).
		Str("variant", variant.String()).
		Str("state", c.session.State().String()).
		Bool("attachment", attachment != nil).
		Str("at", logger.Redact(creds.AtToken)).
		Str("f.req", logger.Preview(freq, 500)).
		Msg("submitting turn")

	body, err := c.sendWithRetry(ctx, creds, freq, modelID)
	if err != nil {
		return nil, err
	}
	c.requestCount++

	decoded := c.codec.Decode(body)
	if !decoded.Parsed {
		c.logger.Warn().
			Int("frames", decoded.Frames).
			Int("skipped", decoded.Skipped).
			Str("body", logger.Preview(body, 1200)).
			Msg("response had no usable content")
	}

	c.resolver.Cookies = cookieList(creds)
	urls, err := c.resolver.ResolveAll(ctx, decoded.Media)
	if err != nil {
		return nil, err
	}

	text := decoded.Text
	if decoded.Parsed {
		text = Finalize(decoded.Text, urls)
	}

	c.session.Apply(decoded.Session)
	c.session.Touch(c.now())

	prompt := utf8.RuneCountInString(turn.Text)
	completion := utf8.RuneCountInString(text)
	return &ChatResult{
		Text: text,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		Session: c.session.Context(),
		Media:   urls,
		Parsed:  decoded.Parsed,
	}, nil
}

// sendWithRetry retries connection-level failures with linear backoff. HTTP
// error responses fail immediately.
func (c *Client) sendWithRetry(ctx context.Context, creds *credentials.Credentials, freq, modelID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		body, err := c.send(ctx, creds, freq, modelID)
		if err == nil {
			return body, nil
		}
		if !isTransient(err) {
			return "", err
		}
		lastErr = err

		if attempt < c.opts.MaxAttempts-1 {
			wait := time.Duration(attempt+1) * c.opts.Backoff
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", c.opts.MaxAttempts).
				Dur("wait", wait).
				Msg("connection interrupted, retrying")
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
	}
	return "", &TransientNetworkError{Attempts: c.opts.MaxAttempts, Err: lastErr}
}

func (c *Client) send(ctx context.Context, creds *credentials.Credentials, freq, modelID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	buildLabel := creds.BuildLabel
	if buildLabel == "" {
		buildLabel = c.opts.BuildLabel
	}
	params := url.Values{
		"bl":     {buildLabel},
		"f.sid":  {""},
		"hl":     {c.opts.Locale},
		"_reqid": {strconv.Itoa(c.requestCount*100000 + 10000 + rand.IntN(90000))},
		"rt":     {"c"},
	}
	form := url.Values{
		"f.req": {freq},
		"at":    {creds.AtToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+chatPath+"?"+params.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("Origin", c.opts.BaseURL)
	req.Header.Set("Referer", c.opts.BaseURL+"/")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set(ModelHeaderName, ModelHeader(modelID))
	addCookies(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", errors.Join(errBodyRead, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", logger.Preview(string(data), 1200)).
			Msg("upstream returned error status")
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", &AuthExpiredError{Stage: "chat", StatusCode: resp.StatusCode}
		}
		return "", &UpstreamHTTPError{StatusCode: resp.StatusCode, Body: logger.Preview(string(data), 1200)}
	}
	return string(data), nil
}

func addCookies(req *http.Request, creds *credentials.Credentials) {
	for _, cookie := range cookieList(creds) {
		req.AddCookie(cookie)
	}
}

func cookieList(creds *credentials.Credentials) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(creds.Cookies))
	for _, name := range creds.CookieNames() {
		out = append(out, &http.Cookie{Name: name, Value: creds.Cookies[name]})
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
