//go:build js && wasm

package main

import (
	"github.com/dvcrn/gemini-web-proxy/internal/app"
	"github.com/dvcrn/gemini-web-proxy/internal/config"
	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/logger"
	"github.com/dvcrn/gemini-web-proxy/internal/server"
	"github.com/syumai/workers"
)

func main() {
	log := logger.New("")

	cfg, err := config.LoadOrDefault("")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	// Workers are short-lived; tokens are scraped lazily, never on a timer.
	cfg.Credentials.RefreshMinutes = 0

	log.Info().Msg("📦 Using Cloudflare KV credentials fetcher")
	kvFetcher, err := credentials.NewCloudflareKVFetcher()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Cloudflare KV fetcher")
	}

	httpClient := server.NewHTTPClient(cfg.UpstreamTimeout())
	refresher := app.NewTokenRefresher(cfg, kvFetcher, httpClient, log)

	// No media cache and an in-memory session store: generated media is
	// returned as remote URLs and conversations live per isolate.
	srv := app.NewServer(cfg, refresher, log, server.WithHTTPClient(httpClient))

	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(srv)
}
