package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HTTPClient is the subset of *http.Client used for upstream calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MediaStore persists downloaded media under a generated id.
type MediaStore interface {
	Put(id, ext string, data []byte) error
}

const mediaIDPrefix = "gen_"

// MediaResolver downloads generated media into a MediaStore and rewrites the
// references to locally served URLs. Without a store it only upgrades image
// URLs to full size.
type MediaResolver struct {
	client  HTTPClient
	store   MediaStore
	logger  zerolog.Logger
	baseURL string

	Timeout     time.Duration
	MinBytes    int
	Parallelism int
	Cookies     []*http.Cookie
}

func NewMediaResolver(client HTTPClient, store MediaStore, baseURL string, logger zerolog.Logger) *MediaResolver {
	return &MediaResolver{
		client:      client,
		store:       store,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		Timeout:     60 * time.Second,
		MinBytes:    100,
		Parallelism: 4,
	}
}

// ResolveAll resolves refs concurrently and returns URLs in input order.
// Failures degrade to the original URL, so it never returns an error for a
// single reference.
func (r *MediaResolver) ResolveAll(ctx context.Context, refs []MediaReference) ([]string, error) {
	out := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for i, ref := range refs {
		g.Go(func() error {
			out[i] = r.Resolve(gctx, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve returns a local media URL for ref, or a fallback upstream URL if
// the download or store fails. With an empty base URL the local reference is
// the relative path /media/<id>.
func (r *MediaResolver) Resolve(ctx context.Context, ref MediaReference) string {
	optimized := OptimizeURL(ref.URL)
	if r.store == nil {
		return optimized
	}

	data, err := r.download(ctx, optimized)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", optimized).Msg("media download failed, keeping upstream URL")
		return optimized
	}

	ext := SniffMedia(data)
	id := mediaIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if err := r.store.Put(id, ext, data); err != nil {
		r.logger.Warn().Err(err).Str("id", id).Msg("failed to store media")
		return optimized
	}

	r.logger.Debug().Str("id", id).Str("ext", ext).Int("bytes", len(data)).Msg("media cached")
	return r.baseURL + "/media/" + id
}

func (r *MediaResolver) download(ctx context.Context, u string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media host returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) < r.MinBytes {
		return nil, fmt.Errorf("media body too small (%d bytes)", len(data))
	}
	return data, nil
}

// SniffMedia returns the file extension for data based on its magic bytes,
// defaulting to png.
func SniffMedia(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "png"
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return "jpg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "mp4"
	case bytes.HasPrefix(data, []byte{0x00, 0x00, 0x00, 0x1c}):
		return "mp4"
	}
	return "png"
}
