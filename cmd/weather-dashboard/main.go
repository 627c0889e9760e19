package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/weather-dashboard/internal/api/http"
	"github.com/i474232898/weather-dashboard/internal/config"
	"github.com/i474232898/weather-dashboard/internal/logging"
	"github.com/i474232898/weather-dashboard/internal/scheduler"
	"github.com/i474232898/weather-dashboard/internal/store"
	"github.com/i474232898/weather-dashboard/internal/weather"
	"github.com/i474232898/weather-dashboard/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, loadedDotEnv, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	lg := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.SetGlobalLogger(lg)
	if !loadedDotEnv {
		lg.Info().Msg("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable visited places.
	dialect := store.Dialect(cfg.DBDriver)
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := store.InitSchema(ctx, db, dialect); err != nil {
		lg.Fatal().Err(err).Msg("failed to initialize schema")
	}
	places, err := store.NewSQLPlaceStore(ctx, db, dialect, store.Options{Logger: lg})
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to load visited places")
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	geocoder, closeCache := newGeocoder(ctx, cfg, httpClient, lg)
	defer closeCache()
	fetcher := providers.NewOneCallProvider(httpClient, cfg.OpenWeatherAPIKey, lg).
		WithBackoff(providers.BackoffConfig{
			MaxRetries:      cfg.WeatherMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		})
	pois := providers.NewPlacesProvider(httpClient, cfg.GoogleMapsAPIKey, cfg.POIRadiusMeters, lg)

	service := weather.NewService(geocoder, fetcher, pois, places, weather.Options{
		DefaultPlace: cfg.DefaultPlace,
		POILimit:     cfg.POILimit,
		Logger:       lg,
	})

	events := httpapi.NewEventLog(0)
	unsubscribe := service.Subscribe(events.Record)
	defer unsubscribe()

	go func() {
		if err := service.Start(ctx); err != nil {
			lg.Warn().Err(err).Msg("start-up load failed")
		}
	}()

	// Scheduler that periodically refreshes the active place.
	sched := scheduler.New(cfg.RefreshInterval, service, lg)
	if err := sched.Start(); err != nil {
		lg.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          8 * cfg.HTTPTimeout,
		ErrorHandler:          httpapi.ErrorHandler(service),
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-dashboard",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service, events)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Error().Err(err).Msg("fiber server stopped")
		}
	}()
	lg.Info().Str("port", cfg.Port).Str("db", cfg.DBDriver).Str("geocoder", cfg.GeocoderProvider).Msg("listening")

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error().Err(err).Msg("error during shutdown")
	}
}

// newGeocoder builds the configured geocoder, wrapped by the Redis cache when
// one is reachable. The returned func closes the cache connection.
func newGeocoder(ctx context.Context, cfg *config.AppConfig, client *http.Client, lg zerolog.Logger) (weather.Geocoder, func()) {
	var g weather.Geocoder
	switch cfg.GeocoderProvider {
	case config.GeocoderGoogle:
		g = providers.NewGoogleGeocoder(cfg.GoogleMapsAPIKey, lg)
	default:
		g = providers.NewOpenWeatherGeocoder(client, cfg.OpenWeatherAPIKey, lg)
	}

	if cfg.RedisURL == "" {
		return g, func() {}
	}
	rdb, err := providers.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		lg.Warn().Err(err).Msg("geocode cache unavailable, resolving without it")
		return g, func() {}
	}
	closeCache := func() {
		if err := rdb.Close(); err != nil {
			lg.Warn().Err(err).Msg("failed to close geocode cache")
		}
	}
	return providers.NewCachedGeocoder(g, rdb, cfg.GeocodeCacheTTL, lg), closeCache
}
