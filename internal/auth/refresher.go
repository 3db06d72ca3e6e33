package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const scrapeTimeout = 30 * time.Second

// TokenRefresher wraps a credentials fetcher and fills in page tokens (at
// token, push id, build label, model ids) by scraping the app page with the
// stored cookies. Scraped values override stored ones until the next
// UpdateCredentials.
type TokenRefresher struct {
	base    credentials.CredentialsFetcher
	scraper *Scraper
	logger  zerolog.Logger

	// mu guards overlay and generation only; scrapes run without it.
	mu         sync.Mutex
	overlay    *PageTokens
	generation uint64

	scrapes   singleflight.Group
	refreshMu sync.Mutex
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewTokenRefresher creates a refresher. A positive interval starts a
// background goroutine that re-scrapes on that period until Close.
func NewTokenRefresher(base credentials.CredentialsFetcher, scraper *Scraper, logger zerolog.Logger, interval time.Duration) *TokenRefresher {
	r := &TokenRefresher{
		base:    base,
		scraper: scraper,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	if interval > 0 {
		go r.backgroundRefresh(interval)
	}
	return r
}

// GetCredentials returns stored credentials merged with scraped tokens. When
// no at token is known yet it scrapes once, sharing the scrape between
// concurrent callers; a failed scrape is logged and the incomplete
// credentials are returned so the caller reports them as expired.
func (r *TokenRefresher) GetCredentials() (*credentials.Credentials, error) {
	overlay, gen := r.snapshot()
	creds, err := r.base.GetCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	merged := applyTokens(creds.Clone(), overlay)
	if merged.AtToken != "" || len(merged.Cookies) == 0 {
		return merged, nil
	}

	r.logger.Info().Msg("🔄 No at token stored, scraping app page...")
	v, err, _ := r.scrapes.Do("page", func() (any, error) {
		return r.scrape(merged)
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("❌ Failed to scrape page tokens")
		return merged, nil
	}
	tokens := v.(*PageTokens)
	r.install(tokens, gen)
	return applyTokens(merged, tokens), nil
}

// RefreshCredentials refreshes the base fetcher, then re-scrapes tokens and
// persists them when the base is writable.
func (r *TokenRefresher) RefreshCredentials() error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	_, gen := r.snapshot()
	if err := r.base.RefreshCredentials(); err != nil {
		return fmt.Errorf("failed to refresh base credentials: %w", err)
	}
	creds, err := r.base.GetCredentials()
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	tokens, err := r.scrape(creds)
	if err != nil {
		return fmt.Errorf("failed to scrape page tokens: %w", err)
	}
	if !r.install(tokens, gen) {
		r.logger.Debug().Msg("Credentials changed during refresh, discarding scraped tokens")
		return nil
	}

	if store, ok := r.base.(credentials.CredentialsStore); ok {
		if err := store.UpdateCredentials(applyTokens(creds.Clone(), tokens)); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to persist scraped tokens")
		}
	}
	return nil
}

func (r *TokenRefresher) snapshot() (*PageTokens, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlay, r.generation
}

// install sets the overlay unless credentials were replaced since gen was
// read.
func (r *TokenRefresher) install(tokens *PageTokens, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return false
	}
	r.overlay = tokens
	return true
}

// UpdateCredentials writes through to the base store and drops any scraped
// overlay so the new values take effect.
func (r *TokenRefresher) UpdateCredentials(creds *credentials.Credentials) error {
	store, ok := r.base.(credentials.CredentialsStore)
	if !ok {
		return fmt.Errorf("credentials source is read-only")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay = nil
	r.generation++
	return store.UpdateCredentials(creds)
}

func (r *TokenRefresher) scrape(creds *credentials.Credentials) (*PageTokens, error) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	return r.scraper.Scrape(ctx, creds.Cookies)
}

func (r *TokenRefresher) backgroundRefresh(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.RefreshCredentials(); err != nil {
				r.logger.Error().Err(err).Msg("❌ Background refresh: failed to refresh page tokens")
				continue
			}
			r.logger.Debug().Msg("✅ Background refresh: page tokens refreshed")
		case <-r.stopCh:
			r.logger.Debug().Msg("Background token refresh stopped")
			return
		}
	}
}

// Close stops the background refresh goroutine.
func (r *TokenRefresher) Close() {
	r.closeOnce.Do(func() { close(r.stopCh) })
}

// applyTokens overlays scraped tokens onto creds. Push id and model ids only
// fill gaps; the at token and build label are always taken from the page.
func applyTokens(creds *credentials.Credentials, t *PageTokens) *credentials.Credentials {
	if t == nil {
		return creds
	}
	if t.AtToken != "" {
		creds.AtToken = t.AtToken
	}
	if t.BuildLabel != "" {
		creds.BuildLabel = t.BuildLabel
	}
	if creds.PushID == "" {
		creds.PushID = t.PushID
	}
	for variant, id := range t.ModelIDs {
		if creds.ModelIDs == nil {
			creds.ModelIDs = make(map[string]string)
		}
		if creds.ModelIDs[variant] == "" {
			creds.ModelIDs[variant] = id
		}
	}
	return creds
}
