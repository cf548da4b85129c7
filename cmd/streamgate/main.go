package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"streamgate/pkg/api"
	"streamgate/pkg/auth"
	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/metadata/tmdb"
	"streamgate/pkg/metrics"
	"streamgate/pkg/paths"
	"streamgate/pkg/preload"
	"streamgate/pkg/provider"
	"streamgate/pkg/provider/debrid"
	"streamgate/pkg/provider/hosted"
	"streamgate/pkg/provider/torznab"
	"streamgate/pkg/proxy"
	"streamgate/pkg/resolver"
	"streamgate/pkg/server"
	"streamgate/pkg/session"
	"streamgate/pkg/stream"
)

func main() {
	// Load environment variables for logger and bootstrap
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	// Initialize Logger early so config loading can use it
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}
	logger.Init(logLevel)

	logger.Info("Starting StreamGate", "version", "v0.1.0")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}

	providerTimeout := time.Duration(cfg.Timeouts.ProviderSeconds) * time.Second

	// Build source adapters in configured order
	var providers []provider.Provider
	var materializer resolver.Materializer

	for _, tc := range cfg.Torznab {
		providers = append(providers, torznab.NewClient(tc, providerTimeout))
	}

	if cfg.Debrid.Enabled {
		debridClient, err := debrid.NewClient(cfg.Debrid, cfg.Timeouts)
		if err != nil {
			logger.Fatal("Failed to initialize debrid client", "err", err)
		}
		providers = append(providers, debridClient)
		materializer = debridClient
	}

	if cfg.Hosted.Enabled {
		providers = append(providers, hosted.NewClient(cfg.Hosted, providerTimeout))
	}

	if len(providers) == 0 {
		logger.Fatal("No source adapters configured")
	}
	logger.Info("Source adapters initialized", "count", len(providers))

	res := resolver.New(providers, materializer, cfg)

	sessionTTL := time.Duration(cfg.Session.TTLSeconds) * time.Second
	sessions := session.NewStore(sessionTTL, cfg.Session.MaxEntries)
	logger.Info("Session store initialized", "ttl", sessionTTL, "maxEntries", cfg.Session.MaxEntries)

	m := metrics.New()

	probeTimeout := time.Duration(cfg.Timeouts.ProbeSeconds) * time.Second
	prx := proxy.New(sessions, cfg.Proxy, probeTimeout, m)

	// Episode window expansion needs TMDB; preload degrades without it
	var episodes preload.EpisodeLister
	if cfg.TMDBAPIKey != "" {
		episodes = tmdb.NewClient(cfg.TMDBAPIKey)
	} else {
		logger.Warn("TMDB API key not set, preload episode windows disabled")
	}

	resolveForPreload := func(ctx context.Context, key stream.ContentKey) (*session.Session, error) {
		return sessions.ResolveOrGet(ctx, key, func(ctx context.Context) (*session.Session, error) {
			r, err := res.Resolve(ctx, key, "")
			if err != nil {
				return nil, err
			}
			return &session.Session{
				URL:          r.URL,
				Title:        r.Title,
				Quality:      r.Quality,
				Format:       r.Format,
				Source:       r.Source,
				HLS:          r.HLS,
				Alternatives: r.Alternatives,
			}, nil
		})
	}
	preloader := preload.New(sessions, resolveForPreload, episodes, cfg.Preload)

	deviceManager, err := auth.GetDeviceManager(paths.GetDataDir())
	if err != nil {
		logger.Fatal("Failed to initialize device manager", "err", err)
	}
	for _, d := range cfg.Devices {
		deviceManager.Seed(d.Name, d.Token)
	}

	srv, err := server.NewServer(cfg, res, sessions, prx, preloader, deviceManager, m)
	if err != nil {
		logger.Fatal("Failed to initialize server", "err", err)
	}

	apiServer := api.NewServer(cfg, sessions, providers)
	srv.SetAPIHandler(apiServer.Handler())

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Listening", "addr", addr, "baseURL", cfg.BaseURL)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}
