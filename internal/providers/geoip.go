package providers

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sony/gobreaker"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

// GeoIPClient resolves coordinates from an IP address using a freegeoip-style
// "GET /json/" endpoint.
type GeoIPClient struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewGeoIPClient(cfg HTTPClientConfig, baseURL string) *GeoIPClient {
	if baseURL == "" {
		baseURL = "https://ipapi.co"
	}
	return &GeoIPClient{
		name:    "geoip",
		baseURL: baseURL,
		httpCfg: withDefaults(cfg),
		circuit: newBreaker("geoip"),
	}
}

func (c *GeoIPClient) Name() string {
	return c.name
}

// Locate looks up ip, or the caller's own address when ip is empty or not a
// public address.
func (c *GeoIPClient) Locate(ctx context.Context, ip string) outcome.Result[location.Coordinates] {
	start := time.Now()

	u := c.baseURL + "/json/"
	if isPublicIP(ip) {
		u = fmt.Sprintf("%s/%s/json/", c.baseURL, ip)
	}

	var payload struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Error     bool     `json:"error"`
		Reason    string   `json:"reason"`
	}
	if err := getJSON(ctx, c.httpCfg, c.circuit, u, &payload); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[location.Coordinates](fmt.Errorf("geoip: %w", err)))
	}

	if payload.Error || payload.Latitude == nil || payload.Longitude == nil {
		reason := payload.Reason
		if reason == "" {
			reason = "no coordinates in geoip response"
		}
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[location.Coordinates](reason))
	}

	return observe(c.httpCfg, c.Name(), start, outcome.Found(location.Coordinates{
		Latitude:  *payload.Latitude,
		Longitude: *payload.Longitude,
	}))
}

func isPublicIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast())
}
