package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

const springfieldReverse = `{
	"display_name": "742, Evergreen Terrace, Springfield, Sangamon County, Illinois, 62701, United States",
	"lat": "39.7817",
	"lon": "-89.6501",
	"address": {
		"house_number": "742",
		"road": "Evergreen Terrace",
		"city": "Springfield",
		"county": "Sangamon County",
		"state": "Illinois",
		"postcode": "62701"
	}
}`

func TestNominatim_Reverse_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "39.7817", r.URL.Query().Get("lat"))
		assert.Equal(t, "-89.6501", r.URL.Query().Get("lon"))
		assert.Equal(t, "18", r.URL.Query().Get("zoom"))
		jsonHandler(t, springfieldReverse)(w, r)
	}))
	defer srv.Close()

	c := NewNominatimClient(testConfig(), srv.URL, "")
	res := c.Reverse(context.Background(), location.Coordinates{Latitude: 39.7817, Longitude: -89.6501})
	require.True(t, res.OK())

	addr := location.Normalize(res.Value)
	assert.Equal(t, "Springfield", addr.Town)
	assert.Equal(t, "Illinois", addr.State)
	assert.Equal(t, "62701", addr.PostalCode)
	assert.InDelta(t, 39.7817, addr.Latitude, 1e-9)
}

func TestNominatim_Reverse_UnableToGeocode(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, `{"error":"Unable to geocode"}`))
	defer srv.Close()

	c := NewNominatimClient(testConfig(), srv.URL, "")
	res := c.Reverse(context.Background(), location.Coordinates{Latitude: 0.5, Longitude: -30})
	assert.Equal(t, outcome.KindNotFound, res.Kind)
	assert.ErrorIs(t, res.Err, outcome.ErrNotFound)
}

func TestNominatim_Reverse_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewNominatimClient(testConfig(), srv.URL, "")
	res := c.Reverse(context.Background(), location.Coordinates{Latitude: 1, Longitude: 1})
	assert.Equal(t, outcome.KindFailure, res.Kind)
	assert.ErrorIs(t, res.Err, outcome.ErrUpstream)
}

func TestNominatim_SearchPostalCode_FirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "62701", r.URL.Query().Get("postalcode"))
		assert.Equal(t, "US", r.URL.Query().Get("country"))
		assert.Equal(t, "1", r.URL.Query().Get("addressdetails"))
		jsonHandler(t, `[
			{"display_name": "Springfield, Illinois", "lat": "39.80", "lon": "-89.64", "address": {"city": "Springfield", "state": "Illinois"}},
			{"display_name": "Elsewhere", "lat": "1", "lon": "2", "address": {"town": "Elsewhere"}}
		]`)(w, r)
	}))
	defer srv.Close()

	c := NewNominatimClient(testConfig(), srv.URL, "US")
	res := c.SearchPostalCode(context.Background(), "62701")
	require.True(t, res.OK())
	assert.Equal(t, "Springfield", res.Value.Address["city"])
	assert.Equal(t, "39.80", res.Value.Lat)
}

func TestNominatim_SearchPostalCode_NoMatch(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, `[]`))
	defer srv.Close()

	c := NewNominatimClient(testConfig(), srv.URL, "US")
	res := c.SearchPostalCode(context.Background(), "00000")
	assert.Equal(t, outcome.KindNotFound, res.Kind)
}
