package store

import (
	"sync"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// VisitedCache is a concurrency-safe in-memory mirror of the visited places,
// ordered most recent first. It holds copies; callers never share slices
// with it.
type VisitedCache struct {
	mu     sync.RWMutex
	places []weather.Place
}

// NewVisitedCache creates a cache seeded with places, which must already be
// in recency order.
func NewVisitedCache(places []weather.Place) *VisitedCache {
	c := &VisitedCache{places: make([]weather.Place, 0, len(places))}
	for _, p := range places {
		c.places = append(c.places, p.Clone())
	}
	return c
}

// List returns a copy of the cached places, front first.
func (c *VisitedCache) List() []weather.Place {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]weather.Place, 0, len(c.places))
	for _, p := range c.places {
		out = append(out, p.Clone())
	}
	return out
}

// Len returns the number of cached places.
func (c *VisitedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.places)
}

// Get returns the place with the given id.
func (c *VisitedCache) Get(id string) (weather.Place, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.indexOf(id); i >= 0 {
		return c.places[i].Clone(), true
	}
	return weather.Place{}, false
}

// FindByName does a case-insensitive exact match over the cached places.
func (c *VisitedCache) FindByName(name string) (weather.Place, bool) {
	key := weather.NameKey(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.places {
		if weather.NameKey(p.Name) == key {
			return p.Clone(), true
		}
	}
	return weather.Place{}, false
}

// PushFront removes any entry with the same id and inserts place at the front.
func (c *VisitedCache) PushFront(place weather.Place) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(place.ID); i >= 0 {
		c.places = append(c.places[:i], c.places[i+1:]...)
	}
	c.places = append([]weather.Place{place.Clone()}, c.places...)
}

// Replace swaps an entry in place without reordering. It reports false when
// the id is not cached.
func (c *VisitedCache) Replace(place weather.Place) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(place.ID)
	if i < 0 {
		return false
	}
	c.places[i] = place.Clone()
	return true
}

// Remove drops the entry with the given id.
func (c *VisitedCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(id); i >= 0 {
		c.places = append(c.places[:i], c.places[i+1:]...)
	}
}

func (c *VisitedCache) indexOf(id string) int {
	for i, p := range c.places {
		if p.ID == id {
			return i
		}
	}
	return -1
}
