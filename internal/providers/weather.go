package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
	"github.com/todayinmycity/todayinmycity/internal/weather"
)

// WeatherClient reads current observations from the National Weather Service
// MapClick endpoint.
type WeatherClient struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewWeatherClient(cfg HTTPClientConfig, baseURL string) *WeatherClient {
	if baseURL == "" {
		baseURL = "https://forecast.weather.gov"
	}
	return &WeatherClient{
		name:    "nws",
		baseURL: baseURL,
		httpCfg: withDefaults(cfg),
		circuit: newBreaker("nws"),
		now:     time.Now,
	}
}

func (c *WeatherClient) Name() string {
	return c.name
}

// looseString accepts a JSON string or number; NWS mixes both for readings.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	*s = looseString(b)
	return nil
}

// Fetch returns the current temperature and condition near coords. It reports
// NotFound when the response has no current observation (no station nearby).
func (c *WeatherClient) Fetch(ctx context.Context, coords location.Coordinates) outcome.Result[weather.Observation] {
	start := time.Now()

	var payload struct {
		CreationDateLocal  string `json:"creationDateLocal"`
		CurrentObservation *struct {
			Temp    looseString `json:"Temp"`
			Weather looseString `json:"Weather"`
			Date    string      `json:"Date"`
		} `json:"currentobservation"`
	}

	u := c.mapClickURL("json", formatCoord(coords.Latitude), formatCoord(coords.Longitude))
	if err := getJSON(ctx, c.httpCfg, c.circuit, u, &payload); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[weather.Observation](fmt.Errorf("nws: %w", err)))
	}

	if payload.CurrentObservation == nil {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[weather.Observation]("no current observation"))
	}

	temp, err := strconv.ParseFloat(strings.TrimSpace(string(payload.CurrentObservation.Temp)), 64)
	if err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[weather.Observation]("no temperature in current observation"))
	}

	at, ok := stationLocalTime(payload.CurrentObservation.Date, payload.CreationDateLocal)
	if !ok {
		at = c.now()
	}
	obs := weather.NewObservation(temp, string(payload.CurrentObservation.Weather), at)
	return observe(c.httpCfg, c.Name(), start, outcome.Found(obs))
}

// stationTimeLayouts match MapClick's local timestamps, e.g. "1 Jun 2:53 pm PDT".
var stationTimeLayouts = []string{
	"2 Jan 3:04 pm MST",
	"2 Jan 3:04 PM MST",
	"2 Jan 15:04 pm MST",
	"2 Jan 15:04 MST",
	time.RFC3339,
}

// stationLocalTime parses the first usable observation timestamp. The result keeps
// the station's wall clock, so its Hour is the hour where the visitor is.
func stationLocalTime(values ...string) (time.Time, bool) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		for _, layout := range stationTimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Forward requests the raw MapClick document for the forecast passthrough route.
// Parameters are forwarded as given. Any non-200 answer is an error.
func (c *WeatherClient) Forward(ctx context.Context, fcstType, lat, lon string) ([]byte, error) {
	u := c.mapClickURL(fcstType, lat, lon)
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("forecast upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: forecast upstream status %d", outcome.ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read forecast body: %v", outcome.ErrProviderUnavailable, err)
	}
	return body, nil
}

func (c *WeatherClient) mapClickURL(fcstType, lat, lon string) string {
	values := url.Values{}
	values.Set("FcstType", fcstType)
	values.Set("lat", lat)
	values.Set("lon", lon)
	return fmt.Sprintf("%s/MapClick.php?%s", c.baseURL, values.Encode())
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
