package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

// MaxMeetups is how many upcoming events are shown.
const MaxMeetups = 8

// MeetupSearchClient calls the Meetup open events API with the server-side key.
// It is used by the proxy only; the key never reaches the browser.
type MeetupSearchClient struct {
	name    string
	baseURL string
	apiKey  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewMeetupSearchClient(cfg HTTPClientConfig, baseURL, apiKey string) *MeetupSearchClient {
	if baseURL == "" {
		baseURL = "https://api.meetup.com"
	}
	return &MeetupSearchClient{
		name:    "meetup",
		baseURL: baseURL,
		apiKey:  apiKey,
		httpCfg: withDefaults(cfg),
		circuit: newBreaker("meetup"),
	}
}

// Search returns the raw open_events document for events around lat/lon.
func (c *MeetupSearchClient) Search(ctx context.Context, lat, lon string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: meetup api key is not configured", outcome.ErrProviderUnavailable)
	}

	values := url.Values{}
	values.Set("and_text", "False")
	values.Set("offset", "0")
	values.Set("format", "json")
	values.Set("lon", lon)
	values.Set("limited_events", "False")
	values.Set("photo-host", "public")
	values.Set("page", "20")
	values.Set("radius", "25.0")
	values.Set("lat", lat)
	values.Set("desc", "False")
	values.Set("status", "upcoming")
	values.Set("key", c.apiKey)

	u := fmt.Sprintf("%s/2/open_events?%s", c.baseURL, values.Encode())
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("meetup search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: meetup status %d", outcome.ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read meetup body: %v", outcome.ErrProviderUnavailable, err)
	}
	return body, nil
}

// Meetup is one upcoming event ready for display.
type Meetup struct {
	Name      string `json:"name"`
	Link      string `json:"link"`
	StartTime string `json:"startTime"`
	GroupName string `json:"groupName"`
	GroupLink string `json:"groupLink"`
}

// MeetupClient reads upcoming events through the proxy's meetup endpoint.
type MeetupClient struct {
	name     string
	proxyURL string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewMeetupClient(cfg HTTPClientConfig, proxyURL string) *MeetupClient {
	return &MeetupClient{
		name:     "meetup_proxy",
		proxyURL: proxyURL,
		httpCfg:  withDefaults(cfg),
		circuit:  newBreaker("meetup_proxy"),
	}
}

func (c *MeetupClient) Name() string {
	return c.name
}

// Fetch returns the first MaxMeetups events near coords. A proxy answer without a
// results list is NotFound.
func (c *MeetupClient) Fetch(ctx context.Context, coords location.Coordinates, addr location.NormalizedAddress) outcome.Result[[]Meetup] {
	start := time.Now()

	values := url.Values{}
	values.Set("longitude", formatCoord(coords.Longitude))
	values.Set("latitude", formatCoord(coords.Latitude))
	values.Set("city", addr.Town)
	values.Set("state", addr.State)

	var payload struct {
		Results *[]struct {
			Name      string `json:"name"`
			EventURL  string `json:"event_url"`
			Time      int64  `json:"time"`
			UTCOffset int64  `json:"utc_offset"`
			Group     struct {
				Name    string `json:"name"`
				URLName string `json:"urlname"`
			} `json:"group"`
		} `json:"results"`
	}

	if err := getJSON(ctx, c.httpCfg, c.circuit, c.proxyURL+"?"+values.Encode(), &payload); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[[]Meetup](fmt.Errorf("meetups: %w", err)))
	}
	if payload.Results == nil {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[[]Meetup]("no meetup results"))
	}

	events := *payload.Results
	if len(events) > MaxMeetups {
		events = events[:MaxMeetups]
	}

	meetups := make([]Meetup, 0, len(events))
	for _, ev := range events {
		local := time.UnixMilli(ev.Time).In(time.FixedZone("", int(ev.UTCOffset/1000)))
		m := Meetup{
			Name:      ev.Name,
			Link:      ev.EventURL,
			StartTime: FormatClock(local),
			GroupName: ev.Group.Name,
		}
		if ev.Group.URLName != "" {
			m.GroupLink = "https://www.meetup.com/" + ev.Group.URLName + "/"
		}
		meetups = append(meetups, m)
	}

	return observe(c.httpCfg, c.Name(), start, outcome.Found(meetups))
}

// FormatClock renders t as "H:MM AM/PM": hour not zero-padded, midnight is 12 AM
// and noon is 12 PM.
func FormatClock(t time.Time) string {
	ampm := "AM"
	if t.Hour() >= 12 {
		ampm = "PM"
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), ampm)
}
