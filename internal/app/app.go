package app

import (
	"github.com/dvcrn/gemini-web-proxy/internal/auth"
	"github.com/dvcrn/gemini-web-proxy/internal/config"
	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/server"
	"github.com/rs/zerolog"
)

// NewServer creates a new server instance with the given credentials fetcher
func NewServer(cfg *config.Config, credsFetcher credentials.CredentialsFetcher, logger zerolog.Logger, opts ...server.Option) *server.Server {
	return server.New(logger, cfg, credsFetcher, opts...)
}

// NewTokenRefresher wraps base so missing page tokens are scraped on first
// use and, with a non-zero interval, refreshed in the background.
func NewTokenRefresher(cfg *config.Config, base credentials.CredentialsFetcher, client server.HTTPClient, logger zerolog.Logger) *auth.TokenRefresher {
	scraper := auth.NewScraper(client, cfg.Upstream.BaseURL, logger)
	return auth.NewTokenRefresher(base, scraper, logger, cfg.CredentialsRefreshInterval())
}
