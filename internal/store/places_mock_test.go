package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

func newMockStore(t *testing.T) (*SQLPlaceStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	used := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, name, latitude, longitude, last_used_at\s+FROM places`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "latitude", "longitude", "last_used_at"}).
			AddRow("p-2", "Tokyo", 35.6762, 139.6503, used.Add(time.Minute)).
			AddRow("p-1", "Paris", 48.8566, 2.3522, used))
	mock.ExpectQuery(`SELECT id, place_id, position, name, latitude, longitude\s+FROM points_of_interest`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "place_id", "position", "name", "latitude", "longitude"}).
			AddRow("poi-1", "p-1", 0, "Louvre", 48.8606, 2.3376).
			AddRow("poi-9", "gone", 0, "Orphan", 0.0, 0.0))

	s, err := NewSQLPlaceStore(context.Background(), db, DialectSQLite, Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return used.Add(time.Hour) },
	})
	require.NoError(t, err)
	return s, mock
}

func TestSQLPlaceStore_LoadsMirror(t *testing.T) {
	s, mock := newMockStore(t)

	assert.Equal(t, []string{"Tokyo", "Paris"}, names(s.List()))
	paris, ok := s.Get("p-1")
	require.True(t, ok)
	require.Len(t, paris.Points, 1)
	assert.Equal(t, "Louvre", paris.Points[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaceStore_RemoveFailureLeavesMirror(t *testing.T) {
	s, mock := newMockStore(t)
	paris, ok := s.Get("p-1")
	require.True(t, ok)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM points_of_interest WHERE place_id = \?`).
		WithArgs("p-1").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := s.Remove(context.Background(), paris)

	require.Error(t, err)
	assert.Equal(t, []string{"Tokyo", "Paris"}, names(s.List()))
	_, ok = s.Get("p-1")
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaceStore_TouchFailureLeavesOrder(t *testing.T) {
	s, mock := newMockStore(t)
	paris, _ := s.Get("p-1")

	mock.ExpectExec(`UPDATE places SET last_used_at = \? WHERE id = \?`).
		WillReturnError(errors.New("read-only database"))

	_, err := s.Touch(context.Background(), paris)

	require.Error(t, err)
	assert.Equal(t, []string{"Tokyo", "Paris"}, names(s.List()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaceStore_RetriesOnLock(t *testing.T) {
	s, mock := newMockStore(t)
	paris, _ := s.Get("p-1")

	mock.ExpectExec(`UPDATE places SET last_used_at`).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectExec(`UPDATE places SET last_used_at`).
		WithArgs(sqlmock.AnyArg(), "p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	touched, err := s.Touch(context.Background(), paris)

	require.NoError(t, err)
	assert.Equal(t, []string{"Paris", "Tokyo"}, names(s.List()))
	assert.Equal(t, time.Date(2025, 10, 18, 10, 0, 0, 0, time.UTC), touched.LastUsedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaceStore_AttachFailureLeavesPointsEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	tokyo, _ := s.Get("p-2")

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO points_of_interest`).
		ExpectExec().
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	_, err := s.AttachPoints(context.Background(), tokyo, []weather.PointOfInterest{{Name: "Senso-ji"}})

	require.Error(t, err)
	got, _ := s.Get("p-2")
	assert.Empty(t, got.Points)
	require.NoError(t, mock.ExpectationsWereMet())
}
