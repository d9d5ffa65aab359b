package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/observability"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
	"github.com/todayinmycity/todayinmycity/internal/providers"
	"github.com/todayinmycity/todayinmycity/internal/weather"
)

// AddressResolver turns a session's coordinates into an address.
type AddressResolver interface {
	ReverseLookup(ctx context.Context, s *location.Session) outcome.Result[location.NormalizedAddress]
}

type WeatherFetcher interface {
	Fetch(ctx context.Context, c location.Coordinates) outcome.Result[weather.Observation]
}

type ExcerptFetcher interface {
	LookupPlace(ctx context.Context, addr location.NormalizedAddress) outcome.Result[providers.Excerpt]
}

type AmenityFetcher interface {
	Fetch(ctx context.Context, c location.Coordinates) outcome.Result[[]providers.Amenity]
}

type MeetupFetcher interface {
	Fetch(ctx context.Context, c location.Coordinates, addr location.NormalizedAddress) outcome.Result[[]providers.Meetup]
}

// Providers are the clients behind each region. Meetups is optional; a nil value
// leaves the meetup region out of the page.
type Providers struct {
	Weather   WeatherFetcher
	Excerpt   ExcerptFetcher
	Amenities AmenityFetcher
	Meetups   MeetupFetcher
}

// CityView is the data of the city region.
type CityView struct {
	Town         string               `json:"town"`
	State        string               `json:"state"`
	HumanAddress string               `json:"humanAddress"`
	Coordinates  location.Coordinates `json:"coordinates"`
}

// WeatherView is the data of the weather region, with the reading in both units.
type WeatherView struct {
	weather.Observation
	Fahrenheit string `json:"fahrenheit"`
	Celsius    string `json:"celsius"`
}

// Orchestrator populates the city page: it resolves the address for a session
// and then starts one independent task per region.
type Orchestrator struct {
	resolver  AddressResolver
	providers Providers
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewOrchestrator(resolver AddressResolver, p Providers, metrics *observability.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		providers: p,
		metrics:   metrics,
		logger:    logger,
	}
}

// Populate reverse-geocodes the session's position, renders the city region, and
// launches the provider regions without waiting for them. It returns every region
// that will be rendered into sink, the city region included.
//
// When no address can be resolved only the city region is rendered, as
// unavailable, and the lookup error is returned.
func (o *Orchestrator) Populate(ctx context.Context, s *location.Session, sink Sink) ([]Region, error) {
	if s == nil {
		return nil, errors.New("page: nil session")
	}

	addrRes := o.resolver.ReverseLookup(ctx, s)
	if !addrRes.OK() {
		o.logger.Warn("address lookup failed", "session", s.ID, "error", addrRes.Err)
		o.emit(sink, Content{
			Region: RegionCity,
			Status: StatusUnavailable,
			Text:   "We could not work out which city you are in.",
		})
		return []Region{RegionCity}, fmt.Errorf("page: %w", addrRes.Err)
	}

	addr := addrRes.Value
	coords := addr.Coordinates()
	if c, ok := s.Coordinates(); ok {
		coords = c
	}

	o.emit(sink, cityContent(addr, coords))

	regions := []Region{RegionCity}
	launch := func(r Region, task func() Content) {
		regions = append(regions, r)
		go func() {
			o.emit(sink, task())
		}()
	}

	if o.providers.Weather != nil {
		launch(RegionWeather, func() Content {
			return o.weatherContent(ctx, s, coords)
		})
	}
	if o.providers.Excerpt != nil {
		launch(RegionExcerpt, func() Content {
			return o.excerptContent(ctx, s, addr)
		})
	}
	if o.providers.Amenities != nil {
		launch(RegionAmenities, func() Content {
			return o.amenityContent(ctx, s, coords)
		})
	}
	if o.providers.Meetups != nil {
		launch(RegionMeetups, func() Content {
			return o.meetupContent(ctx, s, coords, addr)
		})
	}

	return regions, nil
}

func cityContent(addr location.NormalizedAddress, coords location.Coordinates) Content {
	text := addr.Town
	if text == "" {
		text = "Somewhere"
	}
	if addr.State != "" {
		text += ", " + addr.State
	}
	return Content{
		Region: RegionCity,
		Status: StatusOK,
		Text:   text,
		Data: CityView{
			Town:         addr.Town,
			State:        addr.State,
			HumanAddress: addr.HumanAddress(),
			Coordinates:  coords,
		},
	}
}

func (o *Orchestrator) weatherContent(ctx context.Context, s *location.Session, coords location.Coordinates) Content {
	res := o.providers.Weather.Fetch(ctx, coords)
	if !res.OK() {
		o.providerFailed(s, RegionWeather, coords, res.Err)
		text := "Weather is unavailable right now."
		if res.Kind == outcome.KindNotFound {
			text = "No weather station is reporting near you."
		}
		return Content{Region: RegionWeather, Status: StatusUnavailable, Text: text}
	}

	obs := res.Value
	view := WeatherView{
		Observation: obs,
		Fahrenheit:  obs.Temperature.In(weather.Fahrenheit).String(),
		Celsius:     obs.Temperature.In(weather.Celsius).String(),
	}
	period := "day"
	if obs.Night {
		period = "night"
	}
	text := fmt.Sprintf("%s, %s (%s)", view.Fahrenheit, obs.Description, period)
	return Content{Region: RegionWeather, Status: StatusOK, Text: text, Data: view}
}

func (o *Orchestrator) excerptContent(ctx context.Context, s *location.Session, addr location.NormalizedAddress) Content {
	res := o.providers.Excerpt.LookupPlace(ctx, addr)
	if !res.OK() {
		o.providerFailed(s, RegionExcerpt, addr.Coordinates(), res.Err)
		text := "The encyclopedia is unavailable right now."
		if res.Kind == outcome.KindNotFound {
			text = "No article was found for this place."
		}
		return Content{Region: RegionExcerpt, Status: StatusUnavailable, Text: text}
	}
	return Content{Region: RegionExcerpt, Status: StatusOK, Text: res.Value.Extract, Data: res.Value}
}

func (o *Orchestrator) amenityContent(ctx context.Context, s *location.Session, coords location.Coordinates) Content {
	res := o.providers.Amenities.Fetch(ctx, coords)
	if !res.OK() {
		o.providerFailed(s, RegionAmenities, coords, res.Err)
		return Content{Region: RegionAmenities, Status: StatusUnavailable, Text: "Nearby places are unavailable right now."}
	}
	if len(res.Value) == 0 {
		return Content{Region: RegionAmenities, Status: StatusEmpty, Text: "No amenities found nearby."}
	}

	names := make([]string, 0, len(res.Value))
	for _, a := range res.Value {
		label := strings.ReplaceAll(a.Type, "_", " ")
		if a.Name != "" {
			label = a.Name + " (" + label + ")"
		}
		names = append(names, label)
	}
	return Content{Region: RegionAmenities, Status: StatusOK, Text: strings.Join(names, "; "), Data: res.Value}
}

func (o *Orchestrator) meetupContent(ctx context.Context, s *location.Session, coords location.Coordinates, addr location.NormalizedAddress) Content {
	res := o.providers.Meetups.Fetch(ctx, coords, addr)
	if !res.OK() {
		if res.Kind == outcome.KindNotFound {
			return Content{Region: RegionMeetups, Status: StatusEmpty, Text: "No upcoming meetups nearby."}
		}
		o.providerFailed(s, RegionMeetups, coords, res.Err)
		return Content{Region: RegionMeetups, Status: StatusUnavailable, Text: "Meetups are unavailable right now."}
	}
	if len(res.Value) == 0 {
		return Content{Region: RegionMeetups, Status: StatusEmpty, Text: "No upcoming meetups nearby."}
	}

	lines := make([]string, 0, len(res.Value))
	for _, m := range res.Value {
		lines = append(lines, fmt.Sprintf("%s %s (%s)", m.StartTime, m.Name, m.GroupName))
	}
	return Content{Region: RegionMeetups, Status: StatusOK, Text: strings.Join(lines, "; "), Data: res.Value}
}

func (o *Orchestrator) providerFailed(s *location.Session, r Region, coords location.Coordinates, err error) {
	o.logger.Warn("provider failed",
		"session", s.ID,
		"provider", string(r),
		"lat", coords.Latitude,
		"lon", coords.Longitude,
		"error", err,
	)
}

func (o *Orchestrator) emit(sink Sink, c Content) {
	if o.metrics != nil {
		o.metrics.RegionsRendered.WithLabelValues(string(c.Region), string(c.Status)).Inc()
	}
	sink.Render(c)
}
