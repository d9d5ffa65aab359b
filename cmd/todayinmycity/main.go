package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/todayinmycity/todayinmycity/internal/api/http"
	"github.com/todayinmycity/todayinmycity/internal/config"
	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/observability"
	"github.com/todayinmycity/todayinmycity/internal/page"
	"github.com/todayinmycity/todayinmycity/internal/providers"
	"github.com/todayinmycity/todayinmycity/internal/scheduler"
	"github.com/todayinmycity/todayinmycity/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	metrics := observability.NewMetrics()

	// Shared settings for outbound provider calls.
	httpCfg := providers.HTTPClientConfig{
		Client: &http.Client{Timeout: cfg.HTTPTimeout},
		Backoff: providers.BackoffConfig{
			MaxRetries:      cfg.ProviderMaxRetries,
			InitialInterval: providers.DefaultBackoff.InitialInterval,
			MaxInterval:     providers.DefaultBackoff.MaxInterval,
		},
		UserAgent: cfg.UserAgent,
		Metrics:   metrics,
	}

	nominatim := providers.NewNominatimClient(httpCfg, cfg.NominatimURL, cfg.PostalCountry)
	postal := []location.PostalSearcher{nominatim}
	if cfg.GoogleGeocoderAPIKey != "" {
		google, err := providers.NewGoogleGeocoder(httpCfg, cfg.GoogleGeocoderAPIKey, cfg.PostalCountry)
		if err != nil {
			slog.Error("failed to set up google geocoder", "error", err)
			os.Exit(1)
		}
		postal = append(postal, google)
	}
	resolver := location.NewResolver(providers.NewGeoIPClient(httpCfg, cfg.GeoIPURL), nominatim, postal, log)

	weatherClient := providers.NewWeatherClient(httpCfg, cfg.WeatherURL)
	pageProviders := page.Providers{
		Weather:   weatherClient,
		Excerpt:   providers.NewWikipediaClient(httpCfg, cfg.WikipediaURL),
		Amenities: providers.NewAmenityClient(httpCfg, cfg.OverpassURL),
	}
	if cfg.EnableMeetups {
		pageProviders.Meetups = providers.NewMeetupClient(httpCfg, cfg.MeetupProxyURL)
	}
	orchestrator := page.NewOrchestrator(resolver, pageProviders, metrics, log)

	// Meetup response cache, purged in the background.
	cache := store.NewMemoryCache(cfg.MeetupCacheTTL, cfg.MeetupCacheSize, nil)
	sched := scheduler.New(cache, cfg.CachePurgeInterval, metrics, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	index, err := os.ReadFile(filepath.Join(cfg.StaticDir, "index.html"))
	if err != nil {
		log.Warn("index page not loaded", "error", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "todayinmycity",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Forecast:        weatherClient,
		ForecastTimeout: cfg.ForecastTimeout,
		Meetups:         providers.NewMeetupSearchClient(httpCfg, cfg.MeetupURL, cfg.MeetupAPIKey),
		MeetupTimeout:   cfg.MeetupTimeout,
		Cache:           cache,
		Resolver:        resolver,
		Page:            orchestrator,
		StreamTimeout:   cfg.StreamTimeout,
		Index:           index,
		StaticDir:       cfg.StaticDir,
		Metrics:         metrics,
		Logger:          log,
	})

	go func() {
		log.Info("server starting", "addr", cfg.Addr(), "meetups", cfg.EnableMeetups)
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("received termination signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}
