package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/observability"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
	"github.com/todayinmycity/todayinmycity/internal/page"
	"github.com/todayinmycity/todayinmycity/internal/providers"
	"github.com/todayinmycity/todayinmycity/internal/store"
	"github.com/todayinmycity/todayinmycity/internal/weather"
)

type fakeForecast struct {
	body []byte
	err  error
	// block makes Forward wait for the context to end.
	block bool
}

func (f fakeForecast) Forward(ctx context.Context, _, _, _ string) ([]byte, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.body, f.err
}

type fakeMeetupSearch struct {
	calls atomic.Int32
	body  []byte
	err   error
}

func (f *fakeMeetupSearch) Search(context.Context, string, string) ([]byte, error) {
	f.calls.Add(1)
	return f.body, f.err
}

func newTestApp(d Deps) *fiber.App {
	app := fiber.New()
	if d.Logger == nil {
		d.Logger = observability.DiscardLogger()
	}
	RegisterRoutes(app, d)
	return app
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestIndexAndHealth(t *testing.T) {
	app := newTestApp(Deps{Index: []byte("<html>today</html>")})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "<html>today</html>", readBody(t, resp))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForecast_WrapsCallback(t *testing.T) {
	app := newTestApp(Deps{Forecast: fakeForecast{body: []byte(`{"currentobservation":{"Temp":"72"}}`)}})

	req := httptest.NewRequest(http.MethodGet, "/endpoint/forecast?FcstType=json&lat=39.78&lon=-89.65&callback=showWeather", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Equal(t, `showWeather({"currentobservation":{"Temp":"72"}});`, readBody(t, resp))
}

func TestForecast_PlainJSONWithoutCallback(t *testing.T) {
	app := newTestApp(Deps{Forecast: fakeForecast{body: []byte(`{"ok":true}`)}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/forecast?lat=39.78&lon=-89.65", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, readBody(t, resp))
}

func TestForecast_TimeoutIsEmptyPayload(t *testing.T) {
	app := newTestApp(Deps{
		Forecast:        fakeForecast{block: true},
		ForecastTimeout: 20 * time.Millisecond,
	})

	req := httptest.NewRequest(http.MethodGet, "/endpoint/forecast?FcstType=json&lat=39.78&lon=-89.65&callback=cb", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "cb({});", readBody(t, resp))
}

func TestForecast_UpstreamErrorIsEmptyPayload(t *testing.T) {
	app := newTestApp(Deps{Forecast: fakeForecast{err: outcome.ErrUpstream}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/forecast?lat=39.78&lon=-89.65", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "{}", readBody(t, resp))
}

func TestForecast_RejectsScriptCallback(t *testing.T) {
	app := newTestApp(Deps{Forecast: fakeForecast{body: []byte(`{}`)}})

	req := httptest.NewRequest(http.MethodGet, "/endpoint/forecast?lat=1&lon=2&callback=alert(1)//", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "{}", readBody(t, resp))
}

func TestForecast_InvalidQueryIsEmptyPayload(t *testing.T) {
	app := newTestApp(Deps{Forecast: fakeForecast{body: []byte(`{"never":"sent"}`)}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/forecast?lat=north&lon=2&callback=cb", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cb({});", readBody(t, resp))
}

const springfieldMeetupQuery = "/endpoint/meetup?latitude=39.78&longitude=-89.65&city=Springfield&state=IL"

func TestMeetup_CacheHitAndExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := store.NewMemoryCache(time.Hour, 400, clock)
	search := &fakeMeetupSearch{body: []byte(`{"results":[{"name":"Gopher Night"}]}`)}
	metrics := observability.NewMetricsForTesting()

	app := newTestApp(Deps{Meetups: search, Cache: cache, Metrics: metrics})

	get := func() string {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, springfieldMeetupQuery, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		return readBody(t, resp)
	}

	first := get()
	assert.JSONEq(t, `{"results":[{"name":"Gopher Night"}]}`, first)
	assert.Equal(t, int32(1), search.calls.Load())

	cached, err := cache.Get("meetup_Springfield_IL")
	require.NoError(t, err)
	assert.JSONEq(t, first, string(cached))

	// Within the TTL the cached body is served without an upstream call.
	clock.Advance(30 * time.Minute)
	assert.JSONEq(t, first, get())
	assert.Equal(t, int32(1), search.calls.Load())

	// After expiry the upstream is asked again.
	clock.Advance(31 * time.Minute)
	get()
	assert.Equal(t, int32(2), search.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")))
}

func TestMeetup_CacheKeyIsCaseSensitive(t *testing.T) {
	cache := store.NewMemoryCache(time.Hour, 400, clockwork.NewFakeClock())
	search := &fakeMeetupSearch{body: []byte(`{"results":[]}`)}
	app := newTestApp(Deps{Meetups: search, Cache: cache})

	for _, city := range []string{"Springfield", "springfield"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet,
			"/endpoint/meetup?latitude=39.78&longitude=-89.65&city="+city+"&state=IL", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(2), search.calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestMeetup_UpstreamErrorIsEmptyObject(t *testing.T) {
	cache := store.NewMemoryCache(time.Hour, 400, clockwork.NewFakeClock())
	search := &fakeMeetupSearch{err: errors.New("meetup down")}
	app := newTestApp(Deps{Meetups: search, Cache: cache})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, springfieldMeetupQuery, nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "{}", readBody(t, resp))
	assert.Equal(t, 0, cache.Len())
}

func TestMeetup_MissingParameters(t *testing.T) {
	app := newTestApp(Deps{Meetups: &fakeMeetupSearch{}, Cache: store.NewMemoryCache(time.Hour, 1, nil)})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/meetup?city=Springfield", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMeetupCacheKey(t *testing.T) {
	assert.Equal(t, "meetup_Springfield_IL", MeetupCacheKey("Springfield", "IL"))
}

type fakeNetwork struct{}

func (fakeNetwork) Locate(context.Context, string) outcome.Result[location.Coordinates] {
	return outcome.Failed[location.Coordinates](outcome.ErrProviderUnavailable)
}

type fakeReverse struct{}

func (fakeReverse) Reverse(context.Context, location.Coordinates) outcome.Result[location.RawPlace] {
	return outcome.Found(location.RawPlace{
		Address: map[string]string{"city": "Springfield", "state": "Illinois"},
		Lat:     "39.78",
		Lon:     "-89.65",
	})
}

type fakeWeather struct{}

func (fakeWeather) Fetch(context.Context, location.Coordinates) outcome.Result[weather.Observation] {
	return outcome.Found(weather.NewObservation(72, "Fair", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
}

type fakeAmenities struct{}

func (fakeAmenities) Fetch(context.Context, location.Coordinates) outcome.Result[[]providers.Amenity] {
	return outcome.Found([]providers.Amenity{})
}

func newCityApp() *fiber.App {
	logger := observability.DiscardLogger()
	resolver := location.NewResolver(fakeNetwork{}, fakeReverse{}, nil, logger)
	orchestrator := page.NewOrchestrator(resolver, page.Providers{
		Weather:   fakeWeather{},
		Amenities: fakeAmenities{},
	}, nil, logger)

	return newTestApp(Deps{
		Resolver:      resolver,
		Page:          orchestrator,
		StreamTimeout: 2 * time.Second,
	})
}

func TestCityStream_FromCoordinates(t *testing.T) {
	app := newCityApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/city?lat=39.78&lon=-89.65", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := readBody(t, resp)
	assert.Contains(t, body, "event: city\n")
	assert.Contains(t, body, `"text":"Springfield, Illinois"`)
	assert.Contains(t, body, "event: weather\n")
	assert.Contains(t, body, "event: amenities\n")
	assert.Contains(t, body, `"text":"No amenities found nearby."`)
	assert.Contains(t, body, "event: done\n")
}

func TestCityStream_NetworkFailureRendersUnavailableCity(t *testing.T) {
	app := newCityApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/city", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "event: city\n")
	assert.Contains(t, body, `"status":"unavailable"`)
	assert.NotContains(t, body, "event: weather\n")
	assert.Contains(t, body, "event: done\n")
}

func TestCityStream_RequiresBothCoordinates(t *testing.T) {
	app := newCityApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/endpoint/city?lat=39.78", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
