package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/logging"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

const (
	nearbySearchURL     = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"
	DefaultRadiusMeters = 10000

	poiUnavailable = "Unable to load nearby tourist attractions."
)

// PlacesProvider implements weather.POIFinder with the Google Places Nearby
// Search API, looking for tourist attractions.
type PlacesProvider struct {
	apiKey  string
	baseURL string
	radius  int
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewPlacesProvider(client *http.Client, apiKey string, radiusMeters int, logger zerolog.Logger) *PlacesProvider {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	return &PlacesProvider{
		apiKey:  apiKey,
		baseURL: nearbySearchURL,
		radius:  radiusMeters,
		httpCfg: singleAttempt(client),
		circuit: newBreaker("google-places"),
		log:     logger.With().Str("provider", "google-places").Logger(),
	}
}

// WithBaseURL points the provider at another endpoint.
func (p *PlacesProvider) WithBaseURL(u string) *PlacesProvider {
	p.baseURL = u
	return p
}

// Find returns up to limit named attractions in provider order. An area with
// no attractions is an empty list, not an error.
func (p *PlacesProvider) Find(ctx context.Context, lat, lon float64, limit int) (points []weather.PointOfInterest, err error) {
	defer logging.Time(ctx, p.log, "places.nearby")(&err)

	if p.apiKey == "" {
		return nil, weather.MissingData(poiUnavailable, fmt.Errorf("google maps api key is not configured"))
	}
	if limit <= 0 {
		return []weather.PointOfInterest{}, nil
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("location", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("radius", strconv.Itoa(p.radius))
		values.Set("type", "tourist_attraction")
		values.Set("key", p.apiKey)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, weather.MissingData(poiUnavailable, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			PlaceID  string `json:"place_id"`
			Name     string `json:"name"`
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, weather.MissingData(poiUnavailable, fmt.Errorf("decode places response: %w", err))
	}

	switch payload.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []weather.PointOfInterest{}, nil
	default:
		return nil, weather.MissingData(poiUnavailable, fmt.Errorf("places status %s: %s", payload.Status, payload.ErrorMessage))
	}

	points = make([]weather.PointOfInterest, 0, limit)
	for _, r := range payload.Results {
		if len(points) >= limit {
			break
		}
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		points = append(points, weather.PointOfInterest{
			Name:      name,
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
			Rank:      len(points),
		})
	}
	return points, nil
}
