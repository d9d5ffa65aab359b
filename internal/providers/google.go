package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

// The geocoder package keeps its API key in a package variable, so one process
// can only talk to Google with a single key.
var (
	googleKeyMu sync.Mutex
	googleKey   string
)

// ErrGoogleKeyConflict is returned when a second geocoder asks for a different key.
var ErrGoogleKeyConflict = errors.New("google geocoder: a different API key is already in use")

// maxGoogleLookups caps concurrent geocoder calls. The geocoder package builds its
// own http.Client without a timeout and takes no context, so a call abandoned on
// cancellation keeps its slot until Google answers.
const maxGoogleLookups = 4

// GoogleGeocoder is a postal-code searcher backed by the Google Geocoding API.
// It is only wired in when an API key is configured and serves as a fallback
// after Nominatim.
type GoogleGeocoder struct {
	name    string
	country string
	httpCfg HTTPClientConfig
	geocode func(geocoder.Address) (geocoder.Location, error)
	reverse func(geocoder.Location) ([]geocoder.Address, error)
	slots   chan struct{}
}

func NewGoogleGeocoder(cfg HTTPClientConfig, apiKey, country string) (*GoogleGeocoder, error) {
	if err := useGoogleKey(apiKey); err != nil {
		return nil, err
	}
	if country == "" {
		country = "US"
	}
	return &GoogleGeocoder{
		name:    "google_geocoder",
		country: country,
		httpCfg: cfg,
		geocode: geocoder.Geocoding,
		reverse: geocoder.GeocodingReverse,
		slots:   make(chan struct{}, maxGoogleLookups),
	}, nil
}

func useGoogleKey(apiKey string) error {
	googleKeyMu.Lock()
	defer googleKeyMu.Unlock()
	if googleKey != "" && googleKey != apiKey {
		return ErrGoogleKeyConflict
	}
	googleKey = apiKey
	geocoder.ApiKey = apiKey
	return nil
}

func (g *GoogleGeocoder) Name() string {
	return g.name
}

// SearchPostalCode geocodes the postal code and reverse-geocodes the resulting
// point to recover town and state.
func (g *GoogleGeocoder) SearchPostalCode(ctx context.Context, code string) outcome.Result[location.RawPlace] {
	start := time.Now()

	select {
	case g.slots <- struct{}{}:
	default:
		return observe(g.httpCfg, g.Name(), start, outcome.Failed[location.RawPlace](fmt.Errorf("%w: too many google lookups in flight", outcome.ErrProviderUnavailable)))
	}

	type answer struct {
		place location.RawPlace
		err   error
	}
	done := make(chan answer, 1)

	go func() {
		defer func() { <-g.slots }()

		loc, err := g.geocode(geocoder.Address{PostalCode: code, Country: g.country})
		if err != nil {
			done <- answer{err: fmt.Errorf("%w: google geocode: %v", outcome.ErrProviderUnavailable, err)}
			return
		}
		if loc.Latitude == 0 && loc.Longitude == 0 {
			done <- answer{err: fmt.Errorf("%w: google geocode returned no location for %s", outcome.ErrNotFound, code)}
			return
		}

		place := location.RawPlace{
			Address: map[string]string{"postcode": code},
			Lat:     strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			Lon:     strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
		}
		// Reverse lookup failures still leave usable coordinates.
		if addrs, err := g.reverse(loc); err == nil && len(addrs) > 0 {
			fillFromGoogle(&place, addrs[0])
		}
		done <- answer{place: place}
	}()

	select {
	case <-ctx.Done():
		return observe(g.httpCfg, g.Name(), start, outcome.Failed[location.RawPlace](fmt.Errorf("%w: %v", outcome.ErrProviderUnavailable, ctx.Err())))
	case a := <-done:
		if a.err != nil {
			return observe(g.httpCfg, g.Name(), start, outcome.Failed[location.RawPlace](a.err))
		}
		return observe(g.httpCfg, g.Name(), start, outcome.Found(a.place))
	}
}

func fillFromGoogle(place *location.RawPlace, a geocoder.Address) {
	set := func(key, v string) {
		if v != "" {
			place.Address[key] = v
		}
	}
	set("city", a.City)
	set("suburb", a.District)
	set("county", a.County)
	set("state", a.State)
	set("road", a.Street)
	set("postcode", a.PostalCode)
	if a.Number > 0 {
		place.Address["house_number"] = strconv.Itoa(a.Number)
	}
	place.DisplayName = a.FormattedAddress
}
