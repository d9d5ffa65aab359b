package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/paulmach/orb"
	"github.com/sony/gobreaker"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

const (
	// AmenityBoxDegrees is the half-width of the search box around the visitor.
	AmenityBoxDegrees = 0.02
	// MaxAmenities caps the number of points of interest returned.
	MaxAmenities = 11
)

// Amenity is a nearby point of interest.
type Amenity struct {
	Type    string `json:"amenity"`
	Name    string `json:"name,omitempty"`
	Website string `json:"website,omitempty"`
}

// AmenityClient queries an Overpass API instance for amenities around a point.
type AmenityClient struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewAmenityClient(cfg HTTPClientConfig, baseURL string) *AmenityClient {
	if baseURL == "" {
		baseURL = "https://overpass-api.de/api/interpreter"
	}
	return &AmenityClient{
		name:    "overpass",
		baseURL: baseURL,
		httpCfg: withDefaults(cfg),
		circuit: newBreaker("overpass"),
	}
}

func (c *AmenityClient) Name() string {
	return c.name
}

// AmenityBounds returns the fixed search box centred on coords.
func AmenityBounds(coords location.Coordinates) orb.Bound {
	p := orb.Point{coords.Longitude, coords.Latitude}
	return orb.Bound{Min: p, Max: p}.Pad(AmenityBoxDegrees)
}

// AmenityQuery builds the Overpass QL query for b. Overpass expects
// (south, west, north, east).
func AmenityQuery(b orb.Bound) string {
	return fmt.Sprintf(`[out:json][timeout:25];node["amenity"](%f,%f,%f,%f);out %d;`,
		b.Bottom(), b.Left(), b.Top(), b.Right(), MaxAmenities)
}

// Fetch returns up to MaxAmenities amenities near coords. An empty list is a
// successful outcome.
func (c *AmenityClient) Fetch(ctx context.Context, coords location.Coordinates) outcome.Result[[]Amenity] {
	start := time.Now()

	values := url.Values{}
	values.Set("data", AmenityQuery(AmenityBounds(coords)))

	var payload struct {
		Elements []struct {
			Tags struct {
				Amenity string `json:"amenity"`
				Name    string `json:"name"`
				Website string `json:"website"`
			} `json:"tags"`
		} `json:"elements"`
	}

	if err := getJSON(ctx, c.httpCfg, c.circuit, c.baseURL+"?"+values.Encode(), &payload); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[[]Amenity](fmt.Errorf("overpass: %w", err)))
	}

	amenities := make([]Amenity, 0, MaxAmenities)
	for _, el := range payload.Elements {
		if len(amenities) == MaxAmenities {
			break
		}
		amenities = append(amenities, Amenity{
			Type:    el.Tags.Amenity,
			Name:    el.Tags.Name,
			Website: el.Tags.Website,
		})
	}

	return observe(c.httpCfg, c.Name(), start, outcome.Found(amenities))
}
