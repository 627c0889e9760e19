package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-dashboard/internal/store"
)

// SetupTestDatabase opens a fresh SQLite database in a temp directory with
// the schema applied.
func SetupTestDatabase(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(context.Background(), store.DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.InitSchema(context.Background(), db, store.DialectSQLite))
	return db
}

// NewTestStore loads a place store over db, as a process start would.
func NewTestStore(t *testing.T, db *sql.DB, now func() time.Time) *store.SQLPlaceStore {
	t.Helper()

	s, err := store.NewSQLPlaceStore(context.Background(), db, store.DialectSQLite, store.Options{
		Logger: zerolog.Nop(),
		Now:    now,
	})
	require.NoError(t, err)
	return s
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
