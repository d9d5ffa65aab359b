package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

// NominatimClient implements reverse geocoding and postal-code search against an
// OpenStreetMap Nominatim instance.
type NominatimClient struct {
	name    string
	baseURL string
	country string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewNominatimClient creates a client. Postal searches are restricted to country.
func NewNominatimClient(cfg HTTPClientConfig, baseURL, country string) *NominatimClient {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if country == "" {
		country = "US"
	}
	return &NominatimClient{
		name:    "nominatim",
		baseURL: baseURL,
		country: country,
		httpCfg: withDefaults(cfg),
		circuit: newBreaker("nominatim"),
	}
}

func (c *NominatimClient) Name() string {
	return c.name
}

// Reverse resolves coordinates into a raw place at street-level zoom.
func (c *NominatimClient) Reverse(ctx context.Context, coords location.Coordinates) outcome.Result[location.RawPlace] {
	start := time.Now()

	values := url.Values{}
	values.Set("format", "json")
	values.Set("lat", formatCoord(coords.Latitude))
	values.Set("lon", formatCoord(coords.Longitude))
	values.Set("zoom", "18")

	var place location.RawPlace
	if err := getJSON(ctx, c.httpCfg, c.circuit, fmt.Sprintf("%s/reverse?%s", c.baseURL, values.Encode()), &place); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[location.RawPlace](fmt.Errorf("nominatim reverse: %w", err)))
	}

	if place.Error != "" {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[location.RawPlace](place.Error))
	}
	if len(place.Address) == 0 && place.DisplayName == "" {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[location.RawPlace]("empty reverse geocode response"))
	}

	return observe(c.httpCfg, c.Name(), start, outcome.Found(place))
}

// SearchPostalCode returns the first place matching the postal code.
func (c *NominatimClient) SearchPostalCode(ctx context.Context, code string) outcome.Result[location.RawPlace] {
	start := time.Now()

	values := url.Values{}
	values.Set("format", "json")
	values.Set("postalcode", code)
	values.Set("country", c.country)
	values.Set("addressdetails", "1")

	var places []location.RawPlace
	if err := getJSON(ctx, c.httpCfg, c.circuit, fmt.Sprintf("%s/search?%s", c.baseURL, values.Encode()), &places); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[location.RawPlace](fmt.Errorf("nominatim search: %w", err)))
	}

	if len(places) == 0 {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[location.RawPlace]("no place for postal code "+code))
	}

	return observe(c.httpCfg, c.Name(), start, outcome.Found(places[0]))
}
