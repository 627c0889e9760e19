package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

var (
	// ErrNotFound is returned when a place is not in the store.
	ErrNotFound = errors.New("place not found")
	// ErrDuplicatePlace is returned when a place with the same
	// case-insensitive name is already stored.
	ErrDuplicatePlace = errors.New("place with this name already exists")
	// ErrPointsAttached is returned when points are attached to a place that
	// already has them.
	ErrPointsAttached = errors.New("place already has points of interest")
)

// Options configures a SQLPlaceStore.
type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

// SQLPlaceStore persists visited places and their points of interest and
// keeps a VisitedCache mirror of them. Each durable write and its mirror
// update happen under one lock, and the mirror is only touched after the
// write succeeded.
type SQLPlaceStore struct {
	db      *sql.DB
	dialect Dialect
	cache   *VisitedCache
	log     zerolog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewSQLPlaceStore loads the stored places into a fresh mirror.
func NewSQLPlaceStore(ctx context.Context, db *sql.DB, dialect Dialect, opts Options) (*SQLPlaceStore, error) {
	if db == nil {
		return nil, errors.New("place store: db is nil")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &SQLPlaceStore{
		db:      db,
		dialect: dialect,
		log:     opts.Logger.With().Str("component", "place_store").Logger(),
		now:     opts.Now,
	}

	places, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.cache = NewVisitedCache(places)
	s.log.Debug().Int("places", s.cache.Len()).Msg("visited places loaded")
	return s, nil
}

func (s *SQLPlaceStore) load(ctx context.Context) ([]weather.Place, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, last_used_at
		FROM places
		ORDER BY last_used_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("load places: query places: %w", err)
	}
	defer rows.Close()

	var (
		places []weather.Place
		index  = make(map[string]int)
	)
	for rows.Next() {
		var p weather.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude, &p.LastUsedAt); err != nil {
			return nil, fmt.Errorf("load places: scan place: %w", err)
		}
		p.LastUsedAt = p.LastUsedAt.UTC()
		index[p.ID] = len(places)
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load places: row iteration: %w", err)
	}

	pointRows, err := s.db.QueryContext(ctx, `
		SELECT id, place_id, position, name, latitude, longitude
		FROM points_of_interest
		ORDER BY place_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("load places: query points: %w", err)
	}
	defer pointRows.Close()

	for pointRows.Next() {
		var poi weather.PointOfInterest
		if err := pointRows.Scan(&poi.ID, &poi.PlaceID, &poi.Rank, &poi.Name, &poi.Latitude, &poi.Longitude); err != nil {
			return nil, fmt.Errorf("load places: scan point: %w", err)
		}
		i, ok := index[poi.PlaceID]
		if !ok {
			continue
		}
		places[i].Points = append(places[i].Points, poi)
	}
	if err := pointRows.Err(); err != nil {
		return nil, fmt.Errorf("load places: point iteration: %w", err)
	}

	return places, nil
}

// List returns the visited places, most recent first.
func (s *SQLPlaceStore) List() []weather.Place {
	return s.cache.List()
}

// Get returns a visited place by id.
func (s *SQLPlaceStore) Get(id string) (weather.Place, bool) {
	return s.cache.Get(id)
}

// FindByName does a case-insensitive exact name match over the visited places.
func (s *SQLPlaceStore) FindByName(name string) (weather.Place, bool) {
	return s.cache.FindByName(name)
}

// Upsert inserts a new place, with any points it carries, at the front.
// It never overwrites: a name clash returns ErrDuplicatePlace.
func (s *SQLPlaceStore) Upsert(ctx context.Context, place weather.Place) (weather.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if place.ID == "" {
		place.ID = uuid.New().String()
	}
	if _, ok := s.cache.FindByName(place.Name); ok {
		return weather.Place{}, fmt.Errorf("insert place %q: %w", place.Name, ErrDuplicatePlace)
	}
	place.LastUsedAt = s.nextTimestamp()
	place.Points = preparePoints(place.ID, place.Points)

	err := retryOnLock(s.log, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, rebind(s.dialect, `
				INSERT INTO places (id, name, name_key, latitude, longitude, last_used_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`), place.ID, place.Name, weather.NameKey(place.Name), place.Latitude, place.Longitude, place.LastUsedAt)
			if err != nil {
				return err
			}
			return s.insertPoints(ctx, tx, place.Points)
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return weather.Place{}, fmt.Errorf("insert place %q: %w", place.Name, ErrDuplicatePlace)
		}
		return weather.Place{}, fmt.Errorf("insert place %q: %w", place.Name, err)
	}

	s.cache.PushFront(place)
	return place.Clone(), nil
}

// Touch marks a place as just used and moves it to the front.
func (s *SQLPlaceStore) Touch(ctx context.Context, place weather.Place) (weather.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.cache.Get(place.ID)
	if !ok {
		return weather.Place{}, fmt.Errorf("touch place %s: %w", place.ID, ErrNotFound)
	}
	ts := s.nextTimestamp()

	err := retryOnLock(s.log, func() error {
		res, err := s.db.ExecContext(ctx, rebind(s.dialect, `
			UPDATE places SET last_used_at = ? WHERE id = ?
		`), ts, place.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return weather.Place{}, fmt.Errorf("touch place %q: %w", cached.Name, err)
	}

	cached.LastUsedAt = ts
	s.cache.PushFront(cached)
	return cached, nil
}

// AttachPoints stores the first batch of points for a place. A place keeps
// its points for its lifetime; a second batch returns ErrPointsAttached.
func (s *SQLPlaceStore) AttachPoints(ctx context.Context, place weather.Place, points []weather.PointOfInterest) (weather.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.cache.Get(place.ID)
	if !ok {
		return weather.Place{}, fmt.Errorf("attach points to %s: %w", place.ID, ErrNotFound)
	}
	if len(cached.Points) > 0 {
		return weather.Place{}, fmt.Errorf("attach points to %q: %w", cached.Name, ErrPointsAttached)
	}
	if len(points) == 0 {
		return cached, nil
	}

	prepared := preparePoints(cached.ID, points)
	err := retryOnLock(s.log, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			return s.insertPoints(ctx, tx, prepared)
		})
	})
	if err != nil {
		return weather.Place{}, fmt.Errorf("attach points to %q: %w", cached.Name, err)
	}

	cached.Points = prepared
	s.cache.Replace(cached)
	return cached.Clone(), nil
}

// Remove deletes a place and its points. The mirror is left untouched when
// the durable delete fails.
func (s *SQLPlaceStore) Remove(ctx context.Context, place weather.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := retryOnLock(s.log, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, rebind(s.dialect, `
				DELETE FROM points_of_interest WHERE place_id = ?
			`), place.ID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, rebind(s.dialect, `
				DELETE FROM places WHERE id = ?
			`), place.ID)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("delete place %q: %w", place.Name, err)
	}

	s.cache.Remove(place.ID)
	return nil
}

func (s *SQLPlaceStore) insertPoints(ctx context.Context, tx *sql.Tx, points []weather.PointOfInterest) error {
	if len(points) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, rebind(s.dialect, `
		INSERT INTO points_of_interest (id, place_id, position, name, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare point insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.ID, p.PlaceID, p.Rank, p.Name, p.Latitude, p.Longitude); err != nil {
			return fmt.Errorf("insert point %q: %w", p.Name, err)
		}
	}
	return nil
}

func (s *SQLPlaceStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	tx = nil
	return nil
}

// nextTimestamp returns now, nudged past the newest stored place so recency
// order survives coarse clocks and reloads sorted by last_used_at.
func (s *SQLPlaceStore) nextTimestamp() time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if places := s.cache.List(); len(places) > 0 && !ts.After(places[0].LastUsedAt) {
		ts = places[0].LastUsedAt.Add(time.Microsecond)
	}
	return ts
}

func preparePoints(placeID string, points []weather.PointOfInterest) []weather.PointOfInterest {
	if len(points) == 0 {
		return nil
	}
	out := make([]weather.PointOfInterest, len(points))
	for i, p := range points {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.PlaceID = placeID
		p.Rank = i
		out[i] = p
	}
	return out
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
