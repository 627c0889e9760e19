package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kelvins/geocoder"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/logging"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

const openWeatherGeoURL = "https://api.openweathermap.org/geo/1.0/direct"

// OpenWeatherGeocoder resolves free text with the OpenWeather direct
// geocoding API, taking the first candidate.
type OpenWeatherGeocoder struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewOpenWeatherGeocoder(client *http.Client, apiKey string, logger zerolog.Logger) *OpenWeatherGeocoder {
	return &OpenWeatherGeocoder{
		apiKey:  apiKey,
		baseURL: openWeatherGeoURL,
		httpCfg: singleAttempt(client),
		circuit: newBreaker("openweather-geocoding"),
		log:     logger.With().Str("provider", "openweather-geocoding").Logger(),
	}
}

// WithBaseURL points the geocoder at another endpoint.
func (g *OpenWeatherGeocoder) WithBaseURL(u string) *OpenWeatherGeocoder {
	g.baseURL = u
	return g
}

func (g *OpenWeatherGeocoder) Resolve(ctx context.Context, text string) (id weather.Identity, err error) {
	defer logging.Time(ctx, g.log, "geocode.openweather")(&err)

	if g.apiKey == "" {
		return weather.Identity{}, weather.GeocodingFailure(text, fmt.Errorf("openweather api key is not configured"))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("q", text)
		values.Set("limit", "1")
		values.Set("appid", g.apiKey)

		u := fmt.Sprintf("%s?%s", g.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, g.httpCfg, g.circuit, buildRequest)
	if err != nil {
		return weather.Identity{}, weather.GeocodingFailure(text, err)
	}
	defer resp.Body.Close()

	var candidates []struct {
		Name    string  `json:"name"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Country string  `json:"country"`
		State   string  `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return weather.Identity{}, weather.GeocodingFailure(text, fmt.Errorf("decode geocoding response: %w", err))
	}
	if len(candidates) == 0 {
		return weather.Identity{}, weather.GeocodingFailure(text, nil)
	}

	first := candidates[0]
	return weather.Identity{
		Name:      nameOr(first.Name, text),
		Latitude:  first.Lat,
		Longitude: first.Lon,
	}, nil
}

// GoogleGeocoder resolves free text with the Google Geocoding API through
// kelvins/geocoder: a forward lookup for the coordinate, then a reverse
// lookup for the locality name. A failed reverse lookup keeps the input text
// as the name.
type GoogleGeocoder struct {
	lookup  func(geocoder.Address) (geocoder.Location, error)
	reverse func(geocoder.Location) ([]geocoder.Address, error)
	log     zerolog.Logger
}

// NewGoogleGeocoder sets the package-level key used by kelvins/geocoder.
func NewGoogleGeocoder(apiKey string, logger zerolog.Logger) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{
		lookup:  geocoder.Geocoding,
		reverse: geocoder.GeocodingReverse,
		log:     logger.With().Str("provider", "google-geocoding").Logger(),
	}
}

func (g *GoogleGeocoder) Resolve(ctx context.Context, text string) (id weather.Identity, err error) {
	defer logging.Time(ctx, g.log, "geocode.google")(&err)

	// kelvins/geocoder has no context support; run the lookups aside so a
	// cancelled caller is not held up.
	type result struct {
		id  weather.Identity
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{City: text})
		if err != nil {
			done <- result{err: err}
			return
		}

		name := text
		addresses, rerr := g.reverse(loc)
		if rerr != nil {
			g.log.Debug().Err(rerr).Str("query", text).Msg("reverse lookup failed, keeping query as name")
		} else if len(addresses) > 0 {
			name = nameOr(addresses[0].City, text)
		}
		done <- result{id: weather.Identity{Name: name, Latitude: loc.Latitude, Longitude: loc.Longitude}}
	}()

	select {
	case <-ctx.Done():
		return weather.Identity{}, weather.GeocodingFailure(text, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return weather.Identity{}, weather.GeocodingFailure(text, r.err)
		}
		return r.id, nil
	}
}

func nameOr(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}
