package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	GeocoderOpenWeather = "openweather"
	GeocoderGoogle      = "google"
)

type AppConfig struct {
	OpenWeatherAPIKey string `validate:"required"`
	GoogleMapsAPIKey  string `validate:"required"`

	// GeocoderProvider selects the free-text resolver.
	GeocoderProvider string `validate:"oneof=openweather google"`

	DefaultPlace    string `validate:"required"`
	POILimit        int    `validate:"gte=1,lte=20"`
	POIRadiusMeters int    `validate:"gte=1,lte=50000"`

	HTTPTimeout       time.Duration `validate:"gt=0"`
	WeatherMaxRetries int           `validate:"gte=0,lte=5"`

	// RefreshInterval drives the periodic reload of the active place (0 = disabled).
	RefreshInterval time.Duration `validate:"gte=0"`

	DBDriver    string `validate:"oneof=sqlite3 pgx"`
	DatabaseURL string `validate:"required"`

	// Geocode cache; an empty RedisURL disables it.
	RedisURL        string        `validate:"omitempty,url"`
	GeocodeCacheTTL time.Duration `validate:"gt=0"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`

	Port string `validate:"required,numeric"`
}

// Load reads configuration from environment with sensible defaults.
// A missing .env file is not an error; the bool reports whether one was read.
func Load() (*AppConfig, bool, error) {
	loadedDotEnv := godotenv.Load() == nil

	cfg, err := FromEnv()
	if err != nil {
		return nil, loadedDotEnv, err
	}
	return cfg, loadedDotEnv, nil
}

// FromEnv builds and validates the configuration from the process environment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	cfg.GeocoderProvider = strings.ToLower(getenvDefault("GEOCODER_PROVIDER", GeocoderOpenWeather))

	cfg.DefaultPlace = getenvDefault("DEFAULT_PLACE", "London")
	cfg.POILimit = getenvInt("POI_LIMIT", 5)
	cfg.POIRadiusMeters = getenvInt("POI_RADIUS_METERS", 10000)

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.WeatherMaxRetries = getenvInt("WEATHER_MAX_RETRIES", 0)

	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "15m"); err != nil {
		return nil, err
	}

	cfg.DBDriver = getenvDefault("DB_DRIVER", "sqlite3")
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", "data/weather.db")

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.GeocodeCacheTTL, err = getenvDuration("GEOCODE_CACHE_TTL", "168h"); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))
	cfg.Port = getenvDefault("PORT", "8080")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports every offending variable.
func (c *AppConfig) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", envNames[fe.Field()], fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

var envNames = map[string]string{
	"OpenWeatherAPIKey": "OPENWEATHER_API_KEY",
	"GoogleMapsAPIKey":  "GOOGLE_MAPS_API_KEY",
	"GeocoderProvider":  "GEOCODER_PROVIDER",
	"DefaultPlace":      "DEFAULT_PLACE",
	"POILimit":          "POI_LIMIT",
	"POIRadiusMeters":   "POI_RADIUS_METERS",
	"HTTPTimeout":       "HTTP_TIMEOUT",
	"WeatherMaxRetries": "WEATHER_MAX_RETRIES",
	"RefreshInterval":   "REFRESH_INTERVAL",
	"DBDriver":          "DB_DRIVER",
	"DatabaseURL":       "DATABASE_URL",
	"RedisURL":          "REDIS_URL",
	"GeocodeCacheTTL":   "GEOCODE_CACHE_TTL",
	"LogLevel":          "LOG_LEVEL",
	"LogFormat":         "LOG_FORMAT",
	"Port":              "PORT",
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
