package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

// NetworkLocator resolves coordinates from an IP address. An empty ip means
// "the caller's own address" as seen by the provider.
type NetworkLocator interface {
	Locate(ctx context.Context, ip string) outcome.Result[Coordinates]
}

// PostalSearcher looks up a postal code and returns the first matching place.
type PostalSearcher interface {
	SearchPostalCode(ctx context.Context, code string) outcome.Result[RawPlace]
}

// ReverseGeocoder turns coordinates into a raw place description.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, c Coordinates) outcome.Result[RawPlace]
}

// DeviceOptions controls resolveFromDevice.
type DeviceOptions struct {
	// FallbackToNetwork resolves via IP geolocation when no device capability exists.
	FallbackToNetwork bool
	// ClientIP is passed to the network locator on fallback.
	ClientIP string
}

// Resolver is the location provider: it resolves a visitor's coordinates from the
// device, the network, or a postal code, and reverse-geocodes them into a
// NormalizedAddress. All state lives in the Session passed to each call.
type Resolver struct {
	network NetworkLocator
	postal  []PostalSearcher
	reverse ReverseGeocoder
	logger  *slog.Logger
}

// NewResolver creates a Resolver. Postal searchers are tried in order until one
// finds a match.
func NewResolver(network NetworkLocator, reverse ReverseGeocoder, postal []PostalSearcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		network: network,
		postal:  postal,
		reverse: reverse,
		logger:  logger,
	}
}

// ResolveFromDevice uses the platform geolocation capability. A nil device fails
// with ErrCapabilityUnavailable unless the caller opted into network fallback.
func (r *Resolver) ResolveFromDevice(ctx context.Context, s *Session, device DeviceLocator, opts DeviceOptions) outcome.Result[Coordinates] {
	if err := s.begin(); err != nil {
		return outcome.Failed[Coordinates](err)
	}

	res := func() outcome.Result[Coordinates] {
		if device == nil {
			return outcome.Failed[Coordinates](fmt.Errorf("%w: device geolocation not supported", outcome.ErrCapabilityUnavailable))
		}
		c, err := device.CurrentPosition(ctx)
		if err != nil {
			return outcome.Failed[Coordinates](fmt.Errorf("%w: %v", outcome.ErrCapabilityUnavailable, err))
		}
		if !c.Valid() {
			return outcome.Failed[Coordinates](fmt.Errorf("%w: device reported invalid coordinates %s", outcome.ErrCapabilityUnavailable, c))
		}
		return outcome.Found(c)
	}()

	if !res.OK() && opts.FallbackToNetwork {
		r.logger.Info("device geolocation unavailable, falling back to network", "session", s.ID, "error", res.Err)
		res = outcome.OrElse(res, func() outcome.Result[Coordinates] {
			return r.locateNetwork(ctx, opts.ClientIP)
		})
	}

	return r.settle(s, res)
}

// ResolveFromNetwork resolves via IP-based geolocation.
func (r *Resolver) ResolveFromNetwork(ctx context.Context, s *Session, ip string) outcome.Result[Coordinates] {
	if err := s.begin(); err != nil {
		return outcome.Failed[Coordinates](err)
	}
	r.logger.Debug("network location request", "session", s.ID)
	return r.settle(s, r.locateNetwork(ctx, ip))
}

// ResolveFromPostalCode searches for the postal code and keeps the first result
// only. The partial address from the search is stored on the session so a later
// ReverseLookup does not query again.
func (r *Resolver) ResolveFromPostalCode(ctx context.Context, s *Session, code string) outcome.Result[PostalMatch] {
	if err := s.begin(); err != nil {
		return outcome.Failed[PostalMatch](err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		s.failed()
		return outcome.NotFound[PostalMatch]("empty postal code")
	}

	steps := make([]func() outcome.Result[RawPlace], 0, len(r.postal))
	for _, p := range r.postal {
		p := p
		steps = append(steps, func() outcome.Result[RawPlace] {
			return p.SearchPostalCode(ctx, code)
		})
	}

	res := outcome.Map(outcome.FirstOf(steps...), func(raw RawPlace) PostalMatch {
		addr := Normalize(raw)
		return PostalMatch{Coordinates: addr.Coordinates(), Address: addr}
	})

	if !res.OK() {
		r.logger.Warn("postal code lookup failed", "session", s.ID, "postal_code", code, "error", res.Err)
		s.failed()
		return res
	}

	s.resolved(res.Value.Coordinates, &res.Value.Address)
	return res
}

// ReverseLookup returns the session's address, reverse-geocoding its coordinates
// when no address is held yet. The result is memoized on the session.
func (r *Resolver) ReverseLookup(ctx context.Context, s *Session) outcome.Result[NormalizedAddress] {
	if addr, ok := s.Address(); ok {
		r.logger.Debug("skipping reverse lookup, address already known", "session", s.ID)
		return outcome.Found(addr)
	}

	c, ok := s.Coordinates()
	if !ok {
		return outcome.NotFound[NormalizedAddress]("session has no coordinates")
	}

	r.logger.Debug("reverse lookup", "session", s.ID, "lat", c.Latitude, "lon", c.Longitude)
	res := outcome.Map(r.reverse.Reverse(ctx, c), Normalize)
	if !res.OK() {
		return res
	}

	// Keep the requested coordinates when the geocoder omitted its own.
	if res.Value.Latitude == 0 && res.Value.Longitude == 0 {
		res.Value.Latitude, res.Value.Longitude = c.Latitude, c.Longitude
	}
	s.setAddress(res.Value)
	return res
}

func (r *Resolver) locateNetwork(ctx context.Context, ip string) outcome.Result[Coordinates] {
	if r.network == nil {
		return outcome.Failed[Coordinates](fmt.Errorf("%w: no network locator configured", outcome.ErrProviderUnavailable))
	}
	return r.network.Locate(ctx, ip)
}

func (r *Resolver) settle(s *Session, res outcome.Result[Coordinates]) outcome.Result[Coordinates] {
	if !res.OK() {
		r.logger.Warn("location resolution failed", "session", s.ID, "error", res.Err)
		s.failed()
		return res
	}
	s.resolved(res.Value, nil)
	return res
}
