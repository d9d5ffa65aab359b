package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type AppConfig struct {
	// Listen address, named after the original hosting platform's variables.
	Host string `validate:"required,ip"`
	Port string `validate:"required,numeric"`

	// MeetupAPIKey is injected into upstream meetup calls and never sent to clients.
	MeetupAPIKey string
	// GoogleGeocoderAPIKey enables the Google postal-code fallback when set.
	GoogleGeocoderAPIKey string

	HTTPTimeout     time.Duration `validate:"gt=0"`
	ForecastTimeout time.Duration `validate:"gt=0"`
	MeetupTimeout   time.Duration `validate:"gt=0"`
	StreamTimeout   time.Duration `validate:"gt=0"`

	// Meetup response cache.
	MeetupCacheTTL     time.Duration `validate:"gt=0"`
	MeetupCacheSize    int           `validate:"gte=0"`
	CachePurgeInterval time.Duration `validate:"gt=0"`

	ProviderMaxRetries int `validate:"gte=0,lte=5"`

	NominatimURL   string `validate:"required,url"`
	GeoIPURL       string `validate:"required,url"`
	WeatherURL     string `validate:"required,url"`
	WikipediaURL   string `validate:"required,url"`
	OverpassURL    string `validate:"required,url"`
	MeetupURL      string `validate:"required,url"`
	MeetupProxyURL string `validate:"required,url"`

	UserAgent     string `validate:"required"`
	PostalCountry string `validate:"required,len=2"`
	EnableMeetups bool

	StaticDir       string        `validate:"required"`
	LogLevel        string        `validate:"oneof=debug info warn warning error"`
	LogFormat       string        `validate:"oneof=json text"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Addr is the host:port the server listens on.
func (c *AppConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	cfg := &AppConfig{}

	cfg.Host = getenvDefault("OPENSHIFT_NODEJS_IP", "127.0.0.1")
	cfg.Port = getenvDefault("OPENSHIFT_NODEJS_PORT", "8080")

	cfg.MeetupAPIKey = os.Getenv("MEETUP_API_KEY")
	cfg.GoogleGeocoderAPIKey = os.Getenv("GOOGLE_GEOCODER_API_KEY")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ForecastTimeout, err = getenvDuration("FORECAST_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.MeetupTimeout, err = getenvDuration("MEETUP_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamTimeout, err = getenvDuration("CITY_STREAM_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.MeetupCacheTTL, err = getenvDuration("MEETUP_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CachePurgeInterval, err = getenvDuration("CACHE_PURGE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.MeetupCacheSize = getenvInt("MEETUP_CACHE_SIZE", 400)
	cfg.ProviderMaxRetries = getenvInt("PROVIDER_MAX_RETRIES", 0)

	cfg.NominatimURL = getenvDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org")
	cfg.GeoIPURL = getenvDefault("GEOIP_URL", "https://ipapi.co")
	cfg.WeatherURL = getenvDefault("WEATHER_URL", "https://forecast.weather.gov")
	cfg.WikipediaURL = getenvDefault("WIKIPEDIA_URL", "https://en.wikipedia.org")
	cfg.OverpassURL = getenvDefault("OVERPASS_URL", "https://overpass-api.de/api/interpreter")
	cfg.MeetupURL = getenvDefault("MEETUP_URL", "https://api.meetup.com")
	cfg.MeetupProxyURL = getenvDefault("MEETUP_PROXY_URL", "http://"+cfg.Addr()+"/endpoint/meetup")

	cfg.UserAgent = getenvDefault("USER_AGENT", "todayinmycity/1.0")
	cfg.PostalCountry = strings.ToUpper(getenvDefault("POSTAL_COUNTRY", "US"))
	cfg.EnableMeetups = getenvBool("ENABLE_MEETUPS", false)

	cfg.StaticDir = getenvDefault("STATIC_DIR", "./static")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
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

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
