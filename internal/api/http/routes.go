package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/observability"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
	"github.com/todayinmycity/todayinmycity/internal/page"
	"github.com/todayinmycity/todayinmycity/internal/store"
)

var validate = validator.New()

// callbackPattern restricts JSONP callback names to JavaScript identifiers and
// dotted member paths.
var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// staticDirs are served from the static root under the same prefix.
var staticDirs = []string{"js", "css", "fonts", "img", "assets"}

// ForecastUpstream forwards a forecast request to the weather provider.
type ForecastUpstream interface {
	Forward(ctx context.Context, fcstType, lat, lon string) ([]byte, error)
}

// MeetupSearcher queries the upstream meetup API with the server-side key.
type MeetupSearcher interface {
	Search(ctx context.Context, lat, lon string) ([]byte, error)
}

// Cache stores upstream meetup bodies.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte)
}

// LocationResolver resolves the visitor position for the city stream.
type LocationResolver interface {
	ResolveFromDevice(ctx context.Context, s *location.Session, device location.DeviceLocator, opts location.DeviceOptions) outcome.Result[location.Coordinates]
	ResolveFromNetwork(ctx context.Context, s *location.Session, ip string) outcome.Result[location.Coordinates]
	ResolveFromPostalCode(ctx context.Context, s *location.Session, code string) outcome.Result[location.PostalMatch]
}

// PagePopulator fills page regions for a resolved session.
type PagePopulator interface {
	Populate(ctx context.Context, s *location.Session, sink page.Sink) ([]page.Region, error)
}

// Deps are the collaborators of the HTTP routes.
type Deps struct {
	Forecast        ForecastUpstream
	ForecastTimeout time.Duration

	Meetups       MeetupSearcher
	MeetupTimeout time.Duration
	Cache         Cache

	Resolver      LocationResolver
	Page          PagePopulator
	StreamTimeout time.Duration

	// Index is the landing page, read once at startup.
	Index     []byte
	StaticDir string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type handlers struct {
	Deps
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.ForecastTimeout <= 0 {
		d.ForecastTimeout = 3 * time.Second
	}
	if d.MeetupTimeout <= 0 {
		d.MeetupTimeout = 3 * time.Second
	}
	if d.StreamTimeout <= 0 {
		d.StreamTimeout = 15 * time.Second
	}
	if d.Logger == nil {
		d.Logger = observability.DiscardLogger()
	}
	h := &handlers{Deps: d}

	app.Get("/", h.index)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "todayinmycity",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	endpoint := app.Group("/endpoint")
	endpoint.Get("/forecast", h.forecast)
	endpoint.Get("/meetup", h.meetup)
	if d.Resolver != nil && d.Page != nil {
		endpoint.Get("/city", h.city)
	}

	if d.StaticDir != "" {
		for _, dir := range staticDirs {
			app.Static("/"+dir, filepath.Join(d.StaticDir, dir))
		}
	}
}

func (h *handlers) index(c *fiber.Ctx) error {
	if len(h.Index) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "index page not available")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(h.Index)
}

// forecastQuery holds the forwarded forecast parameters.
type forecastQuery struct {
	FcstType string `validate:"required,alpha"`
	Lat      string `validate:"required,latitude"`
	Lon      string `validate:"required,longitude"`
	Callback string
}

// forecast always answers 200. Any failure yields an empty object, wrapped in the
// callback when one was requested.
func (h *handlers) forecast(c *fiber.Ctx) error {
	q := forecastQuery{
		FcstType: c.Query("FcstType", "json"),
		Lat:      c.Query("lat"),
		Lon:      c.Query("lon"),
		Callback: c.Query("callback"),
	}
	if q.Callback != "" && !callbackPattern.MatchString(q.Callback) {
		h.Logger.Warn("forecast: rejected callback name", "callback", q.Callback)
		q.Callback = ""
	}

	if err := validate.Struct(q); err != nil {
		h.Logger.Warn("forecast: invalid query", "error", err)
		return sendForecast(c, q.Callback, []byte("{}"))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.ForecastTimeout)
	defer cancel()

	body, err := h.Forecast.Forward(ctx, q.FcstType, q.Lat, q.Lon)
	if err != nil {
		h.Logger.Warn("forecast: upstream failed", "lat", q.Lat, "lon", q.Lon, "error", err)
		return sendForecast(c, q.Callback, []byte("{}"))
	}

	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	return sendForecast(c, q.Callback, body)
}

func sendForecast(c *fiber.Ctx, callback string, body []byte) error {
	c.Status(fiber.StatusOK)
	if callback == "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
		return c.Send(body)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJavaScriptCharsetUTF8)
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	return c.SendString(callback + "(" + string(body) + ");")
}

// meetupQuery holds the meetup search parameters.
type meetupQuery struct {
	Longitude string `validate:"required,longitude"`
	Latitude  string `validate:"required,latitude"`
	City      string `validate:"required"`
	State     string `validate:"required"`
}

// MeetupCacheKey is the cache key for a city. Case is preserved, so differently
// cased names are separate entries.
func MeetupCacheKey(city, state string) string {
	return "meetup_" + city + "_" + state
}

func (h *handlers) meetup(c *fiber.Ctx) error {
	q := meetupQuery{
		Longitude: c.Query("longitude"),
		Latitude:  c.Query("latitude"),
		City:      c.Query("city"),
		State:     c.Query("state"),
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	key := MeetupCacheKey(q.City, q.State)

	if body, err := h.Cache.Get(key); err == nil {
		h.Logger.Debug("meetup cache hit", "key", key)
		h.countLookup("hit")
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
		return c.Send(body)
	} else if !errors.Is(err, store.ErrNotFound) {
		h.Logger.Warn("meetup cache read failed", "key", key, "error", err)
	}
	h.countLookup("miss")

	ctx, cancel := context.WithTimeout(c.UserContext(), h.MeetupTimeout)
	defer cancel()

	body, err := h.Meetups.Search(ctx, q.Latitude, q.Longitude)
	if err != nil {
		h.Logger.Warn("meetup: upstream failed", "key", key, "error", err)
		return c.JSON(fiber.Map{})
	}

	h.Logger.Debug("meetup cache miss", "key", key)
	h.Cache.Set(key, body)

	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(body)
}

func (h *handlers) countLookup(result string) {
	if h.Metrics != nil {
		h.Metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

// cityQuery selects how the visitor is located: coordinates, a postal code, or
// the caller's IP address when both are absent.
type cityQuery struct {
	Lat string `validate:"required_with=Lon,omitempty,latitude"`
	Lon string `validate:"required_with=Lat,omitempty,longitude"`
	Zip string `validate:"omitempty,max=16"`
}

// city streams one server-sent event per page region as each provider answers,
// followed by a final "done" event.
func (h *handlers) city(c *fiber.Ctx) error {
	q := cityQuery{
		Lat: c.Query("lat"),
		Lon: c.Query("lon"),
		Zip: c.Query("zip"),
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	// The fiber context is recycled once the handler returns.
	ip := c.IP()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), h.StreamTimeout)
		defer cancel()

		s := location.NewSession()
		h.resolve(ctx, s, q, ip)

		sink := page.NewChannelSink()
		regions, err := h.Page.Populate(ctx, s, sink)
		if err != nil {
			h.Logger.Info("city stream: page incomplete", "session", s.ID, "error", err)
		}

		for range regions {
			content, ok := sink.Next(ctx)
			if !ok {
				h.Logger.Warn("city stream: timed out waiting for regions", "session", s.ID)
				break
			}
			if err := writeEvent(w, string(content.Region), content); err != nil {
				h.Logger.Debug("city stream: client went away", "session", s.ID, "error", err)
				return
			}
		}
		_ = writeEvent(w, "done", fiber.Map{"session": s.ID})
	})
	return nil
}

func (h *handlers) resolve(ctx context.Context, s *location.Session, q cityQuery, ip string) {
	switch {
	case q.Lat != "" && q.Lon != "":
		lat, _ := strconv.ParseFloat(q.Lat, 64)
		lon, _ := strconv.ParseFloat(q.Lon, 64)
		device := location.FixedDevice{Position: location.Coordinates{Latitude: lat, Longitude: lon}}
		h.Resolver.ResolveFromDevice(ctx, s, device, location.DeviceOptions{FallbackToNetwork: true, ClientIP: ip})
	case q.Zip != "":
		h.Resolver.ResolveFromPostalCode(ctx, s, q.Zip)
	default:
		h.Resolver.ResolveFromNetwork(ctx, s, ip)
	}
}

func writeEvent(w *bufio.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
