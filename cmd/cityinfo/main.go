// Command cityinfo prints what is happening in a city: it locates the caller
// (or the given coordinates or postal code) and prints each page region as it
// arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/todayinmycity/todayinmycity/internal/config"
	"github.com/todayinmycity/todayinmycity/internal/location"
	"github.com/todayinmycity/todayinmycity/internal/observability"
	"github.com/todayinmycity/todayinmycity/internal/page"
	"github.com/todayinmycity/todayinmycity/internal/providers"
)

func main() {
	zip := flag.String("zip", "", "postal code to look up")
	lat := flag.Float64("lat", 0, "latitude (use with -lon)")
	lon := flag.Float64("lon", 0, "longitude (use with -lat)")
	ip := flag.String("ip", "", "IP address to geolocate instead of this machine")
	fallback := flag.Bool("device-fallback", true, "fall back to IP geolocation when coordinates are unusable")
	celsius := flag.Bool("celsius", false, "show temperatures in Celsius")
	verbose := flag.Bool("v", false, "log provider activity to stderr")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	log := observability.DiscardLogger()
	if *verbose {
		if log, err = observability.NewLogger("debug", "text"); err != nil {
			fmt.Fprintln(os.Stderr, "Error building logger:", err)
			os.Exit(1)
		}
	}

	httpCfg := providers.HTTPClientConfig{
		Client:    &http.Client{Timeout: cfg.HTTPTimeout},
		Backoff:   providers.DefaultBackoff,
		UserAgent: cfg.UserAgent,
	}

	nominatim := providers.NewNominatimClient(httpCfg, cfg.NominatimURL, cfg.PostalCountry)
	postal := []location.PostalSearcher{nominatim}
	if cfg.GoogleGeocoderAPIKey != "" {
		google, err := providers.NewGoogleGeocoder(httpCfg, cfg.GoogleGeocoderAPIKey, cfg.PostalCountry)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error setting up google geocoder:", err)
			os.Exit(1)
		}
		postal = append(postal, google)
	}
	resolver := location.NewResolver(providers.NewGeoIPClient(httpCfg, cfg.GeoIPURL), nominatim, postal, log)

	p := page.Providers{
		Weather:   providers.NewWeatherClient(httpCfg, cfg.WeatherURL),
		Excerpt:   providers.NewWikipediaClient(httpCfg, cfg.WikipediaURL),
		Amenities: providers.NewAmenityClient(httpCfg, cfg.OverpassURL),
	}
	if cfg.EnableMeetups {
		p.Meetups = providers.NewMeetupClient(httpCfg, cfg.MeetupProxyURL)
	}
	orchestrator := page.NewOrchestrator(resolver, p, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StreamTimeout)
	defer cancel()

	session := location.NewSession()
	switch {
	case *lat != 0 || *lon != 0:
		device := location.FixedDevice{Position: location.Coordinates{Latitude: *lat, Longitude: *lon}}
		resolver.ResolveFromDevice(ctx, session, device, location.DeviceOptions{FallbackToNetwork: *fallback, ClientIP: *ip})
	case *zip != "":
		resolver.ResolveFromPostalCode(ctx, session, *zip)
	default:
		resolver.ResolveFromNetwork(ctx, session, *ip)
	}

	sink := page.NewChannelSink()
	regions, err := orchestrator.Populate(ctx, session, sink)

	for range regions {
		content, ok := sink.Next(ctx)
		if !ok {
			fmt.Fprintln(os.Stderr, "Timed out waiting for the remaining regions")
			break
		}
		printRegion(content, *celsius)
	}

	if err != nil {
		os.Exit(1)
	}
}

func printRegion(c page.Content, celsius bool) {
	text := c.Text
	if view, ok := c.Data.(page.WeatherView); ok && celsius {
		period := "day"
		if view.Night {
			period = "night"
		}
		text = fmt.Sprintf("%s, %s (%s)", view.Celsius, view.Description, period)
	}
	if city, ok := c.Data.(page.CityView); ok && city.HumanAddress != "" {
		text += "\n  " + city.HumanAddress
	}

	fmt.Printf("%-10s %s\n", c.Region+":", text)
}
