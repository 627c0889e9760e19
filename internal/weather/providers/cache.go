package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

const geocodeKeyPrefix = "geocode:"

// CachedGeocoder keeps resolved identities in Redis keyed by the normalized
// query. Redis problems are logged and the wrapped geocoder is used instead;
// they never fail a resolve.
type CachedGeocoder struct {
	next   weather.Geocoder
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCachedGeocoder(next weather.Geocoder, client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *CachedGeocoder {
	return &CachedGeocoder{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    logger.With().Str("component", "geocode_cache").Logger(),
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *CachedGeocoder) Resolve(ctx context.Context, text string) (weather.Identity, error) {
	key := geocodeKeyPrefix + weather.NameKey(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var id weather.Identity
		if jerr := json.Unmarshal(raw, &id); jerr == nil {
			c.log.Debug().Str("query", text).Msg("geocode cache hit")
			return id, nil
		}
		c.log.Warn().Str("key", key).Msg("dropping unreadable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn().Err(err).Msg("geocode cache read failed")
	}

	id, err := c.next.Resolve(ctx, text)
	if err != nil {
		return weather.Identity{}, err
	}

	if payload, jerr := json.Marshal(id); jerr == nil {
		if serr := c.client.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			c.log.Warn().Err(serr).Msg("geocode cache write failed")
		}
	}
	return id, nil
}
