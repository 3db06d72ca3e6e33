package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/app"
	"github.com/dvcrn/gemini-web-proxy/internal/config"
	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/logger"
	"github.com/dvcrn/gemini-web-proxy/internal/mediacache"
	"github.com/dvcrn/gemini-web-proxy/internal/server"
	"github.com/dvcrn/gemini-web-proxy/internal/sessionstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", filepath.Join(credentials.DefaultDataDir(), "config.toml"), "Path to the TOML config file")
	credsSource := flag.String("creds-source", "", "Credentials source: file, env or keychain (overrides config)")
	credsPath := flag.String("creds-path", "", "Path to the credentials JSON file (default: XDG config dir)")
	cookie := flag.String("cookie", "", "Browser cookie string to initialize the credentials file with")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		bootLog := logger.New("")
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}
	if *credsSource != "" {
		cfg.Credentials.Source = *credsSource
	}
	if *credsPath != "" {
		cfg.Credentials.Path = *credsPath
	}
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path = credentials.DefaultCredsPath()
	}

	log := logger.New(cfg.Log.Level)

	var base credentials.CredentialsFetcher
	switch cfg.Credentials.Source {
	case "keychain":
		base = credentials.NewKeychainCredentialsFetcher(log)
		log.Info().Msg("🔑 Using keychain credentials fetcher")
	case "env":
		base = credentials.NewEnvCredentialsFetcher()
		log.Info().Msg("📝 Using environment credentials fetcher")
	default:
		if *cookie != "" {
			if err := credentials.InitFromCookie(cfg.Credentials.Path, *cookie); err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize credentials from cookie")
			}
			log.Info().Str("path", cfg.Credentials.Path).Msg("✅ Credentials file initialized from cookie")
		}
		base = credentials.NewFSCredentialsFetcher(cfg.Credentials.Path)
		log.Info().Str("path", cfg.Credentials.Path).Msg("📄 Using filesystem credentials fetcher")
	}

	httpClient := server.NewHTTPClient(cfg.UpstreamTimeout())
	refresher := app.NewTokenRefresher(cfg, base, httpClient, log)
	defer refresher.Close()

	validateCredentialsAtStartup(refresher, log)

	opts := []server.Option{server.WithHTTPClient(httpClient)}

	mediaDir := cfg.Media.CacheDir
	if mediaDir == "" {
		mediaDir = filepath.Join(credentials.DefaultDataDir(), "media")
	}
	media, err := mediacache.New(mediaDir, log)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Media cache disabled, generated media will be returned as remote URLs")
	} else {
		sweeper, err := mediacache.NewSweeper(media, cfg.Media.SweepSchedule, cfg.MediaMaxAge(), log)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid media sweep schedule")
		}
		sweeper.Start()
		defer sweeper.Stop()
		opts = append(opts, server.WithMediaStore(media))
		log.Info().Str("dir", mediaDir).Dur("max_age", cfg.MediaMaxAge()).Msg("🖼️  Media cache enabled")
	}

	sessions, err := newSessionStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Session.Store).Msg("Failed to open session store")
	}
	defer sessions.Close()
	opts = append(opts, server.WithSessionStore(sessions))
	log.Info().Str("store", cfg.Session.Store).Msg("💾 Session store ready")

	srv := app.NewServer(cfg, refresher, log, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed to start")
		return
	}
	log.Info().Msg("Server stopped")
}

func newSessionStore(cfg *config.Config) (sessionstore.Store, error) {
	storeType := sessionstore.StoreType(cfg.Session.Store)
	opts := []sessionstore.StoreOption{sessionstore.WithTTL(cfg.RedisTTL())}

	switch storeType {
	case sessionstore.StoreTypeBolt:
		path := cfg.Session.BoltPath
		if path == "" {
			path = filepath.Join(credentials.DefaultDataDir(), "sessions.db")
		}
		if err := credentials.EnsureParentDir(path); err != nil {
			return nil, err
		}
		opts = append(opts, sessionstore.WithBoltPath(path))
	case sessionstore.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, err
		}
		opts = append(opts, sessionstore.WithRedisClient(client))
	}
	return sessionstore.New(storeType, opts...)
}

func validateCredentialsAtStartup(credsFetcher credentials.CredentialsFetcher, log zerolog.Logger) {
	creds, err := credsFetcher.GetCredentials()
	if err != nil {
		log.Error().Err(err).Msg("⚠️  Failed to load credentials at startup, requests will fail until they are set via /admin/credentials")
		return
	}

	if err := creds.Validate(); err != nil {
		log.Warn().Err(err).Strs("cookies", creds.CookieNames()).Msg("⚠️  Credentials are incomplete")
		return
	}

	log.Info().
		Strs("cookies", creds.CookieNames()).
		Str("at_token", logger.Redact(creds.AtToken)).
		Str("push_id", creds.PushID).
		Msg("✅ Credentials loaded successfully")
}
