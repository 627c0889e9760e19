package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// Coord formats a coordinate as the key used by the fakes.
func Coord(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// Geocoder is an in-memory weather.Geocoder. Unknown names fail with a
// GeocodingFailure.
type Geocoder struct {
	mu     sync.Mutex
	places map[string]weather.Identity
	errs   map[string]error
	calls  []string

	// Before runs at the start of every Resolve, e.g. to block a call.
	Before func(ctx context.Context, text string)
}

func NewGeocoder(ids ...weather.Identity) *Geocoder {
	g := &Geocoder{
		places: make(map[string]weather.Identity),
		errs:   make(map[string]error),
	}
	for _, id := range ids {
		g.Add(id.Name, id)
	}
	return g
}

// Add maps query text to an identity.
func (g *Geocoder) Add(text string, id weather.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.places[weather.NameKey(text)] = id
}

// Fail makes every Resolve of text return err.
func (g *Geocoder) Fail(text string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[weather.NameKey(text)] = err
}

func (g *Geocoder) Resolve(ctx context.Context, text string) (weather.Identity, error) {
	if g.Before != nil {
		g.Before(ctx, text)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, text)
	key := weather.NameKey(text)
	if err, ok := g.errs[key]; ok {
		return weather.Identity{}, err
	}
	id, ok := g.places[key]
	if !ok {
		return weather.Identity{}, weather.GeocodingFailure(text, nil)
	}
	return id, nil
}

// Calls returns the resolved texts in call order.
func (g *Geocoder) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Fetcher is an in-memory weather.Fetcher returning a small snapshot for any
// coordinate that has not been made to fail.
type Fetcher struct {
	mu    sync.Mutex
	errs  map[string]error
	temps map[string]float64
	calls []string

	// Before runs at the start of every Fetch, e.g. to block a call.
	Before func(ctx context.Context, lat, lon float64)
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		errs:  make(map[string]error),
		temps: make(map[string]float64),
	}
}

// Fail makes every Fetch at the coordinate return err. A nil err clears it.
func (f *Fetcher) Fail(lat, lon float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, Coord(lat, lon))
		return
	}
	f.errs[Coord(lat, lon)] = err
}

// SetTemperature sets the current temperature reported at a coordinate.
func (f *Fetcher) SetTemperature(lat, lon, temp float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temps[Coord(lat, lon)] = temp
}

func (f *Fetcher) Fetch(ctx context.Context, lat, lon float64) (weather.Snapshot, error) {
	if f.Before != nil {
		f.Before(ctx, lat, lon)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := Coord(lat, lon)
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return weather.Snapshot{}, err
	}

	now := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)
	return weather.Snapshot{
		Latitude:  lat,
		Longitude: lon,
		Timezone:  "UTC",
		FetchedAt: now,
		Current: weather.Current{
			Time:        now,
			Temperature: f.temps[key],
			Conditions: []weather.ConditionInfo{
				{ID: 800, Main: "Clear", Description: "clear sky", Icon: "01d", Condition: weather.ConditionClear},
			},
		},
		Daily: []weather.Daily{
			{Date: now, Summary: "Clear all day"},
			{Date: now.Add(24 * time.Hour), Summary: "Clouds later"},
		},
	}, nil
}

// CallCount returns how many fetches were made.
func (f *Fetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// POIFinder is an in-memory weather.POIFinder. By default it returns
// Count generated attractions around any coordinate.
type POIFinder struct {
	mu     sync.Mutex
	errs   map[string]error
	points map[string][]weather.PointOfInterest
	calls  []string

	Count int
}

func NewPOIFinder() *POIFinder {
	return &POIFinder{
		errs:   make(map[string]error),
		points: make(map[string][]weather.PointOfInterest),
		Count:  3,
	}
}

// Fail makes every Find at the coordinate return err. A nil err clears it.
func (p *POIFinder) Fail(lat, lon float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, Coord(lat, lon))
		return
	}
	p.errs[Coord(lat, lon)] = err
}

// Set fixes the points returned at a coordinate.
func (p *POIFinder) Set(lat, lon float64, points ...weather.PointOfInterest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[Coord(lat, lon)] = points
}

func (p *POIFinder) Find(_ context.Context, lat, lon float64, limit int) ([]weather.PointOfInterest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := Coord(lat, lon)
	p.calls = append(p.calls, key)
	if err, ok := p.errs[key]; ok {
		return nil, err
	}

	points, ok := p.points[key]
	if !ok {
		for i := 0; i < p.Count; i++ {
			points = append(points, weather.PointOfInterest{
				Name:      fmt.Sprintf("Attraction %d near %s", i+1, key),
				Latitude:  lat + float64(i)*0.001,
				Longitude: lon + float64(i)*0.001,
			})
		}
	}
	if len(points) > limit {
		points = points[:limit]
	}
	out := make([]weather.PointOfInterest, len(points))
	copy(out, points)
	for i := range out {
		out[i].Rank = i
	}
	return out, nil
}

// CallCount returns how many searches were made.
func (p *POIFinder) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
