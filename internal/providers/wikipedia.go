package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/outcome"
)

// Excerpt is the introduction of an encyclopedia article.
type Excerpt struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URL     string `json:"url"`
}

// WikipediaClient fetches plain-text article introductions from the MediaWiki API.
type WikipediaClient struct {
	name        string
	baseURL     string
	articleBase string
	httpCfg     HTTPClientConfig
	circuit     *gobreaker.CircuitBreaker
}

func NewWikipediaClient(cfg HTTPClientConfig, baseURL string) *WikipediaClient {
	if baseURL == "" {
		baseURL = "https://en.wikipedia.org"
	}
	return &WikipediaClient{
		name:        "wikipedia",
		baseURL:     baseURL,
		articleBase: baseURL + "/wiki/",
		httpCfg:     withDefaults(cfg),
		circuit:     newBreaker("wikipedia"),
	}
}

func (c *WikipediaClient) Name() string {
	return c.name
}

// Fetch returns the introduction of the article titled title, following redirects.
// A page marked missing is NotFound.
func (c *WikipediaClient) Fetch(ctx context.Context, title string) outcome.Result[Excerpt] {
	start := time.Now()

	values := url.Values{}
	values.Set("format", "json")
	values.Set("action", "query")
	values.Set("prop", "extracts")
	values.Set("exintro", "")
	values.Set("explaintext", "")
	values.Set("titles", title)
	values.Set("redirects", "1")

	var payload struct {
		Query struct {
			Pages map[string]struct {
				Title   string          `json:"title"`
				Extract string          `json:"extract"`
				Missing json.RawMessage `json:"missing"`
				Invalid json.RawMessage `json:"invalid"`
			} `json:"pages"`
		} `json:"query"`
	}

	if err := getJSON(ctx, c.httpCfg, c.circuit, fmt.Sprintf("%s/w/api.php?%s", c.baseURL, values.Encode()), &payload); err != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.Failed[Excerpt](fmt.Errorf("wikipedia %q: %w", title, err)))
	}

	if len(payload.Query.Pages) == 0 {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[Excerpt]("no pages for "+title))
	}

	ids := make([]string, 0, len(payload.Query.Pages))
	for id := range payload.Query.Pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	page := payload.Query.Pages[ids[0]]

	if page.Missing != nil || page.Invalid != nil {
		return observe(c.httpCfg, c.Name(), start, outcome.NotFound[Excerpt]("missing article "+title))
	}

	return observe(c.httpCfg, c.Name(), start, outcome.Found(Excerpt{
		Title:   page.Title,
		Extract: page.Extract,
		URL:     c.articleBase + url.PathEscape(strings.ReplaceAll(page.Title, " ", "_")),
	}))
}

// LookupPlace looks up the article for addr, narrowing the query when the more
// specific title has no article: "town, county, state" first, then "town, state".
// The last outcome is returned when every title fails.
func (c *WikipediaClient) LookupPlace(ctx context.Context, addr location.NormalizedAddress) outcome.Result[Excerpt] {
	titles := ExcerptTitles(addr)
	steps := make([]func() outcome.Result[Excerpt], 0, len(titles))
	for _, title := range titles {
		title := title
		steps = append(steps, func() outcome.Result[Excerpt] {
			return c.Fetch(ctx, title)
		})
	}
	return outcome.FirstOf(steps...)
}

// ExcerptTitles lists article titles for addr from most to least specific.
// Without a town the county and then the state alone are used.
func ExcerptTitles(addr location.NormalizedAddress) []string {
	var candidates []string
	if addr.HasTown() {
		if addr.County != "" {
			candidates = append(candidates, joinTitle(addr.Town, addr.County, addr.State))
		}
		candidates = append(candidates, joinTitle(addr.Town, addr.State))
	} else {
		if addr.County != "" {
			candidates = append(candidates, joinTitle(addr.County, addr.State))
		}
		candidates = append(candidates, joinTitle(addr.State))
	}

	seen := make(map[string]bool, len(candidates))
	titles := candidates[:0]
	for _, t := range candidates {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		titles = append(titles, t)
	}
	return titles
}

func joinTitle(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
