package weather

import (
	"context"
)

// Geocoder resolves free text into a place identity.
// Implementations make a single attempt and fail with a GeocodingFailure.
type Geocoder interface {
	Resolve(ctx context.Context, text string) (Identity, error)
}

// Fetcher abstracts a weather data source returning current conditions and
// the daily forecast for a coordinate.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (Snapshot, error)
}

// POIFinder returns up to limit named points of interest around a coordinate,
// ranked by the provider.
type POIFinder interface {
	Find(ctx context.Context, lat, lon float64, limit int) ([]PointOfInterest, error)
}

// PlaceStore is the durable, recency-ordered collection of visited places.
// List, Get and FindByName read the in-memory mirror; the mutating calls
// persist first and then update the mirror.
type PlaceStore interface {
	List() []Place
	Get(id string) (Place, bool)
	FindByName(name string) (Place, bool)
	Upsert(ctx context.Context, place Place) (Place, error)
	Touch(ctx context.Context, place Place) (Place, error)
	AttachPoints(ctx context.Context, place Place, points []PointOfInterest) (Place, error)
	Remove(ctx context.Context, place Place) error
}
