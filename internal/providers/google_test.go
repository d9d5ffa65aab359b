package providers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

func testGoogleGeocoder(
	t *testing.T,
	geocode func(geocoder.Address) (geocoder.Location, error),
	reverse func(geocoder.Location) ([]geocoder.Address, error),
) *GoogleGeocoder {
	t.Helper()
	g, err := NewGoogleGeocoder(testConfig(), "test-key", "US")
	require.NoError(t, err)
	g.geocode = geocode
	g.reverse = reverse
	return g
}

func TestGoogleGeocoder_SearchPostalCode(t *testing.T) {
	g := testGoogleGeocoder(
		t,
		func(a geocoder.Address) (geocoder.Location, error) {
			assert.Equal(t, "62701", a.PostalCode)
			assert.Equal(t, "US", a.Country)
			return geocoder.Location{Latitude: 39.80, Longitude: -89.64}, nil
		},
		func(geocoder.Location) ([]geocoder.Address, error) {
			return []geocoder.Address{{
				City:             "Springfield",
				County:           "Sangamon County",
				State:            "Illinois",
				PostalCode:       "62701",
				FormattedAddress: "Springfield, IL 62701, USA",
			}}, nil
		},
	)

	res := g.SearchPostalCode(context.Background(), "62701")
	require.True(t, res.OK())

	addr := location.Normalize(res.Value)
	assert.Equal(t, "Springfield", addr.Town)
	assert.Equal(t, "Illinois", addr.State)
	assert.Equal(t, "62701", addr.PostalCode)
	assert.InDelta(t, 39.80, addr.Latitude, 1e-9)
	assert.InDelta(t, -89.64, addr.Longitude, 1e-9)
}

func TestGoogleGeocoder_ReverseFailureKeepsCoordinates(t *testing.T) {
	g := testGoogleGeocoder(
		t,
		func(geocoder.Address) (geocoder.Location, error) {
			return geocoder.Location{Latitude: 1.5, Longitude: 2.5}, nil
		},
		func(geocoder.Location) ([]geocoder.Address, error) {
			return nil, errors.New("OVER_QUERY_LIMIT")
		},
	)

	res := g.SearchPostalCode(context.Background(), "12345")
	require.True(t, res.OK())
	assert.Equal(t, "1.5", res.Value.Lat)
	assert.Equal(t, "12345", res.Value.Address["postcode"])
}

func TestGoogleGeocoder_ZeroLocationIsNotFound(t *testing.T) {
	g := testGoogleGeocoder(
		t,
		func(geocoder.Address) (geocoder.Location, error) {
			return geocoder.Location{}, nil
		},
		func(geocoder.Location) ([]geocoder.Address, error) { return nil, nil },
	)

	res := g.SearchPostalCode(context.Background(), "00000")
	assert.Equal(t, outcome.KindNotFound, res.Kind)
}

func TestGoogleGeocoder_ErrorIsProviderUnavailable(t *testing.T) {
	g := testGoogleGeocoder(
		t,
		func(geocoder.Address) (geocoder.Location, error) {
			return geocoder.Location{}, errors.New("REQUEST_DENIED")
		},
		func(geocoder.Location) ([]geocoder.Address, error) { return nil, nil },
	)

	res := g.SearchPostalCode(context.Background(), "62701")
	assert.Equal(t, outcome.KindFailure, res.Kind)
	assert.ErrorIs(t, res.Err, outcome.ErrProviderUnavailable)
}

func TestGoogleGeocoder_RespectsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	g := testGoogleGeocoder(
		t,
		func(geocoder.Address) (geocoder.Location, error) {
			<-release
			return geocoder.Location{}, nil
		},
		func(geocoder.Location) ([]geocoder.Address, error) { return nil, nil },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := g.SearchPostalCode(ctx, "62701")
	assert.Equal(t, outcome.KindFailure, res.Kind)
	assert.ErrorIs(t, res.Err, outcome.ErrProviderUnavailable)
}

func TestGoogleGeocoder_RejectsSecondKey(t *testing.T) {
	_, err := NewGoogleGeocoder(testConfig(), "test-key", "US")
	require.NoError(t, err)

	_, err = NewGoogleGeocoder(testConfig(), "test-key", "CA")
	require.NoError(t, err)

	g, err := NewGoogleGeocoder(testConfig(), "other-key", "US")
	assert.Nil(t, g)
	assert.ErrorIs(t, err, ErrGoogleKeyConflict)
	assert.Equal(t, "test-key", geocoder.ApiKey)
}

func TestGoogleGeocoder_BoundsAbandonedLookups(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	g := testGoogleGeocoder(
		t,
		func(geocoder.Address) (geocoder.Location, error) {
			calls.Add(1)
			<-release
			return geocoder.Location{Latitude: 1, Longitude: 2}, nil
		},
		func(geocoder.Location) ([]geocoder.Address, error) { return nil, nil },
	)

	for i := 0; i < maxGoogleLookups; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		res := g.SearchPostalCode(ctx, "62701")
		cancel()
		require.Equal(t, outcome.KindFailure, res.Kind)
	}

	res := g.SearchPostalCode(context.Background(), "62701")
	assert.Equal(t, outcome.KindFailure, res.Kind)
	assert.ErrorIs(t, res.Err, outcome.ErrProviderUnavailable)
	assert.Contains(t, res.Err.Error(), "in flight")

	close(release)
	require.Eventually(t, func() bool { return len(g.slots) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(maxGoogleLookups), calls.Load())

	res = g.SearchPostalCode(context.Background(), "62701")
	require.True(t, res.OK())
	assert.Equal(t, "1", res.Value.Lat)
}
