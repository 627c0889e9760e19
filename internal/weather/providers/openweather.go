package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/common"
	"github.com/i474232898/weather-dashboard/internal/logging"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

const oneCallURL = "https://api.openweathermap.org/data/3.0/onecall"

// OneCallProvider implements weather.Fetcher for the OpenWeather One Call 3.0 API.
type OneCallProvider struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     zerolog.Logger
	now     func() time.Time
}

func NewOneCallProvider(client *http.Client, apiKey string, logger zerolog.Logger) *OneCallProvider {
	return &OneCallProvider{
		apiKey:  apiKey,
		baseURL: oneCallURL,
		httpCfg: singleAttempt(client),
		circuit: newBreaker("openweather-onecall"),
		log:     logger.With().Str("provider", "openweathermap").Logger(),
		now:     time.Now,
	}
}

// WithBaseURL points the provider at another endpoint.
func (p *OneCallProvider) WithBaseURL(u string) *OneCallProvider {
	p.baseURL = u
	return p
}

// WithBackoff replaces the retry policy. The default is a single attempt.
func (p *OneCallProvider) WithBackoff(b BackoffConfig) *OneCallProvider {
	p.httpCfg.Backoff = b
	return p
}

// Fetch returns current conditions and the daily forecast for a coordinate,
// in metric units.
func (p *OneCallProvider) Fetch(ctx context.Context, lat, lon float64) (snap weather.Snapshot, err error) {
	defer logging.Time(ctx, p.log, "onecall.fetch")(&err)

	if p.apiKey == "" {
		return weather.Snapshot{}, weather.InvalidEndpoint(fmt.Errorf("openweather api key is not configured"))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		base, err := url.Parse(p.baseURL)
		if err != nil {
			return nil, err
		}
		if base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("endpoint %q is not absolute", p.baseURL)
		}

		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("exclude", "minutely,hourly")
		values.Set("units", "metric")
		values.Set("appid", p.apiKey)
		base.RawQuery = values.Encode()

		return http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Snapshot{}, transportError(err)
	}
	defer resp.Body.Close()

	var payload oneCallPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Snapshot{}, weather.NetworkFailure(fmt.Errorf("decode onecall response: %w", err))
	}
	if payload.Current == nil {
		return weather.Snapshot{}, weather.NetworkFailure(fmt.Errorf("decode onecall response: missing current conditions"))
	}

	return payload.snapshot(p.now()), nil
}

type oneCallCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type oneCallPayload struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Timezone       string  `json:"timezone"`
	TimezoneOffset int     `json:"timezone_offset"`
	Current        *struct {
		Dt         int64              `json:"dt"`
		Sunrise    int64              `json:"sunrise"`
		Sunset     int64              `json:"sunset"`
		Temp       float64            `json:"temp"`
		FeelsLike  float64            `json:"feels_like"`
		Pressure   int                `json:"pressure"`
		Humidity   int                `json:"humidity"`
		DewPoint   float64            `json:"dew_point"`
		UVI        float64            `json:"uvi"`
		Clouds     int                `json:"clouds"`
		Visibility int                `json:"visibility"`
		WindSpeed  float64            `json:"wind_speed"`
		WindDeg    int                `json:"wind_deg"`
		WindGust   *float64           `json:"wind_gust"`
		Weather    []oneCallCondition `json:"weather"`
	} `json:"current"`
	Daily []struct {
		Dt        int64   `json:"dt"`
		Sunrise   int64   `json:"sunrise"`
		Sunset    int64   `json:"sunset"`
		Moonrise  int64   `json:"moonrise"`
		Moonset   int64   `json:"moonset"`
		MoonPhase float64 `json:"moon_phase"`
		Summary   string  `json:"summary"`
		Temp      struct {
			Day   float64 `json:"day"`
			Min   float64 `json:"min"`
			Max   float64 `json:"max"`
			Night float64 `json:"night"`
			Eve   float64 `json:"eve"`
			Morn  float64 `json:"morn"`
		} `json:"temp"`
		FeelsLike struct {
			Day   float64 `json:"day"`
			Night float64 `json:"night"`
			Eve   float64 `json:"eve"`
			Morn  float64 `json:"morn"`
		} `json:"feels_like"`
		Pressure  int                `json:"pressure"`
		Humidity  int                `json:"humidity"`
		DewPoint  float64            `json:"dew_point"`
		WindSpeed float64            `json:"wind_speed"`
		WindDeg   int                `json:"wind_deg"`
		WindGust  *float64           `json:"wind_gust"`
		Weather   []oneCallCondition `json:"weather"`
		Clouds    int                `json:"clouds"`
		Pop       float64            `json:"pop"`
		UVI       float64            `json:"uvi"`
		Rain      *float64           `json:"rain"`
	} `json:"daily"`
}

func (p oneCallPayload) snapshot(now time.Time) weather.Snapshot {
	c := p.Current
	snap := weather.Snapshot{
		Latitude:       p.Lat,
		Longitude:      p.Lon,
		Timezone:       p.Timezone,
		TimezoneOffset: p.TimezoneOffset,
		FetchedAt:      now.UTC(),
		Current: weather.Current{
			Time:          unixUTC(c.Dt),
			Sunrise:       unixUTC(c.Sunrise),
			Sunset:        unixUTC(c.Sunset),
			Temperature:   c.Temp,
			FeelsLike:     c.FeelsLike,
			Pressure:      c.Pressure,
			Humidity:      c.Humidity,
			DewPoint:      c.DewPoint,
			UVIndex:       c.UVI,
			CloudCover:    c.Clouds,
			Visibility:    c.Visibility,
			WindSpeed:     c.WindSpeed,
			WindDirection: c.WindDeg,
			WindGust:      c.WindGust,
			Conditions:    mapConditions(c.Weather),
		},
		Daily: make([]weather.Daily, 0, len(p.Daily)),
	}

	for _, d := range p.Daily {
		snap.Daily = append(snap.Daily, weather.Daily{
			Date:      unixUTC(d.Dt),
			Sunrise:   unixUTC(d.Sunrise),
			Sunset:    unixUTC(d.Sunset),
			Moonrise:  unixUTC(d.Moonrise),
			Moonset:   unixUTC(d.Moonset),
			MoonPhase: d.MoonPhase,
			Summary:   d.Summary,
			Temperature: weather.DailyTemperature{
				Min:     d.Temp.Min,
				Max:     d.Temp.Max,
				Day:     d.Temp.Day,
				Night:   d.Temp.Night,
				Evening: d.Temp.Eve,
				Morning: d.Temp.Morn,
			},
			FeelsLike: weather.DailyFeelsLike{
				Day:     d.FeelsLike.Day,
				Night:   d.FeelsLike.Night,
				Evening: d.FeelsLike.Eve,
				Morning: d.FeelsLike.Morn,
			},
			Pressure:                 d.Pressure,
			Humidity:                 d.Humidity,
			DewPoint:                 d.DewPoint,
			WindSpeed:                d.WindSpeed,
			WindDirection:            d.WindDeg,
			WindGust:                 d.WindGust,
			Conditions:               mapConditions(d.Weather),
			CloudCover:               d.Clouds,
			PrecipitationProbability: d.Pop,
			UVIndex:                  d.UVI,
			RainVolume:               d.Rain,
		})
	}
	sort.SliceStable(snap.Daily, func(i, j int) bool {
		return snap.Daily[i].Date.Before(snap.Daily[j].Date)
	})

	return snap
}

func mapConditions(items []oneCallCondition) []weather.ConditionInfo {
	out := make([]weather.ConditionInfo, 0, len(items))
	for _, it := range items {
		out = append(out, weather.ConditionInfo{
			ID:          it.ID,
			Main:        it.Main,
			Description: it.Description,
			Icon:        it.Icon,
			Condition:   mapOpenWeatherCondition(it.Main),
		})
	}
	return out
}

func mapOpenWeatherCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		return weather.ConditionStorm
	}
	// Atmosphere group: Mist, Smoke, Haze, Dust, Fog, Sand, Ash.
	if common.HasAnyFold(main, "mist", "fog", "haze", "smoke", "dust", "sand", "ash") {
		return weather.ConditionMist
	}
	return weather.ConditionUnknown
}

func unixUTC(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
