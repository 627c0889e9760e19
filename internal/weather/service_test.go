package weather_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-dashboard/internal/store"
	"github.com/i474232898/weather-dashboard/internal/testutil"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

var (
	london = weather.Identity{Name: "London", Latitude: 51.5074, Longitude: -0.1278}
	paris  = weather.Identity{Name: "Paris", Latitude: 48.8566, Longitude: 2.3522}
	tokyo  = weather.Identity{Name: "Tokyo", Latitude: 35.6762, Longitude: 139.6503}
	berlin = weather.Identity{Name: "Berlin", Latitude: 52.52, Longitude: 13.405}
)

type recorder struct {
	mu     sync.Mutex
	events []weather.Event
}

func (r *recorder) record(ev weather.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []weather.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]weather.Event(nil), r.events...)
}

func (r *recorder) ofType(typ weather.EventType) []weather.Event {
	var out []weather.Event
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	svc    *weather.Service
	geo    *testutil.Geocoder
	fetch  *testutil.Fetcher
	pois   *testutil.POIFinder
	places *store.SQLPlaceStore
	db     *sql.DB
	clock  *testutil.Clock
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.SetupTestDatabase(t)
	clock := testutil.NewClock()
	h := &harness{
		geo:    testutil.NewGeocoder(london, paris, tokyo, berlin),
		fetch:  testutil.NewFetcher(),
		pois:   testutil.NewPOIFinder(),
		places: testutil.NewTestStore(t, db, clock.Now),
		db:     db,
		clock:  clock,
	}
	h.svc = h.newService(h.places)
	return h
}

func (h *harness) newService(places weather.PlaceStore) *weather.Service {
	svc := weather.NewService(h.geo, h.fetch, h.pois, places, weather.Options{
		Logger: zerolog.Nop(),
		Now:    h.clock.Now,
	})
	h.events = &recorder{}
	svc.Subscribe(h.events.record)
	return svc
}

func (h *harness) load(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, h.svc.LoadByName(context.Background(), name))
		h.clock.Advance(time.Minute)
	}
}

func visitedNames(places []weather.Place) []string {
	names := make([]string, 0, len(places))
	for _, p := range places {
		names = append(names, p.Name)
	}
	return names
}

func activeName(t *testing.T, st weather.State) string {
	t.Helper()
	require.Equal(t, weather.StatusReady, st.Status)
	require.NotNil(t, st.Place)
	return st.Place.Name
}

func TestLoadByName(t *testing.T) {
	t.Run("new place is geocoded, saved and given points", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.svc.LoadByName(context.Background(), "Paris"))

		st := h.svc.State()
		assert.Equal(t, "Paris", activeName(t, st))
		require.NotNil(t, st.Snapshot)
		assert.InDelta(t, paris.Latitude, st.Snapshot.Latitude, 1e-9)
		assert.Len(t, st.Points, 3)
		assert.Equal(t, []string{"Paris"}, visitedNames(h.svc.Visited()))

		success := h.events.ofType(weather.EventSuccess)
		require.Len(t, success, 1)
		assert.Equal(t, "Fetched and saved: Paris", success[0].Alert.Message)
	})

	t.Run("loading passes through loading before ready", func(t *testing.T) {
		h := newHarness(t)

		h.load(t, "Paris")

		var statuses []weather.Status
		for _, ev := range h.events.ofType(weather.EventState) {
			statuses = append(statuses, ev.State.Status)
		}
		assert.Equal(t, []weather.Status{weather.StatusLoading, weather.StatusReady}, statuses)
	})

	t.Run("cached place moves to front without duplicate or geocode", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris", "Tokyo")

		require.NoError(t, h.svc.LoadByName(context.Background(), "  paris "))

		assert.Equal(t, []string{"Paris", "Tokyo"}, visitedNames(h.svc.Visited()))
		assert.Equal(t, []string{"Paris", "Tokyo"}, h.geo.Calls())
		assert.Equal(t, 3, h.fetch.CallCount(), "weather is fetched on every load")
		assert.Equal(t, "Paris", activeName(t, h.svc.State()))

		success := h.events.ofType(weather.EventSuccess)
		require.NotEmpty(t, success)
		last := success[len(success)-1]
		assert.Equal(t, "Place Loaded", last.Alert.Title)
		assert.Equal(t, "Paris loaded successfully.", last.Alert.Message)
	})

	t.Run("A B A leaves A in front of B", func(t *testing.T) {
		h := newHarness(t)

		h.load(t, "Paris", "Tokyo", "Paris")

		assert.Equal(t, []string{"Paris", "Tokyo"}, visitedNames(h.svc.Visited()))
	})

	t.Run("geocoded name already visited reuses the entry", func(t *testing.T) {
		h := newHarness(t)
		h.geo.Add("Paris, France", paris)
		h.load(t, "Paris")

		require.NoError(t, h.svc.LoadByName(context.Background(), "Paris, France"))

		assert.Equal(t, []string{"Paris"}, visitedNames(h.svc.Visited()))
		assert.Equal(t, 1, h.pois.CallCount())

		success := h.events.ofType(weather.EventSuccess)
		require.Len(t, success, 2)
		assert.Equal(t, "Place Loaded", success[1].Alert.Title)
		assert.Equal(t, "Paris loaded successfully.", success[1].Alert.Message)
	})

	t.Run("whitespace is rejected without loading or network calls", func(t *testing.T) {
		h := newHarness(t)

		err := h.svc.LoadByName(context.Background(), "   ")

		require.Error(t, err)
		assert.ErrorIs(t, err, weather.ErrValidationFailure)
		assert.Empty(t, h.geo.Calls())
		assert.Zero(t, h.fetch.CallCount())
		assert.Zero(t, h.pois.CallCount())
		assert.Empty(t, h.events.ofType(weather.EventState))
		assert.Equal(t, weather.StatusIdle, h.svc.State().Status)

		alerts := h.events.ofType(weather.EventAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, "Please enter a valid location.", alerts[0].Alert.Message)
		assert.Equal(t, weather.KindValidationFailure, alerts[0].Alert.Kind)
	})
}

func TestLoadByNameFallback(t *testing.T) {
	t.Run("weather failure alerts and settles on the default place", func(t *testing.T) {
		h := newHarness(t)
		h.fetch.Fail(paris.Latitude, paris.Longitude, weather.NetworkFailure(errors.New("connection reset")))

		err := h.svc.LoadByName(context.Background(), "Paris")

		require.Error(t, err)
		assert.ErrorIs(t, err, weather.ErrNetworkFailure)

		alerts := h.events.ofType(weather.EventAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, weather.StatusError, alerts[0].State.Status)
		assert.Equal(t, weather.KindNetworkFailure, alerts[0].State.ErrorKind)
		assert.Equal(t, "Unable to load location. Reverting to London.", alerts[0].Alert.Message)

		assert.Equal(t, "London", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"London"}, visitedNames(h.svc.Visited()))
	})

	t.Run("geocoding failure falls back", func(t *testing.T) {
		h := newHarness(t)

		err := h.svc.LoadByName(context.Background(), "Atlantis")

		assert.ErrorIs(t, err, weather.ErrGeocodingFailure)
		assert.Equal(t, "London", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"Atlantis", "London"}, h.geo.Calls())
	})

	t.Run("points failure aborts the load and falls back", func(t *testing.T) {
		h := newHarness(t)
		h.pois.Fail(paris.Latitude, paris.Longitude, weather.MissingData("Unable to load nearby tourist attractions.", nil))

		err := h.svc.LoadByName(context.Background(), "Paris")

		assert.ErrorIs(t, err, weather.ErrMissingData)
		assert.Equal(t, "London", activeName(t, h.svc.State()))

		// The place row survives without points and heals on its next load.
		saved, ok := h.places.FindByName("Paris")
		require.True(t, ok)
		assert.Empty(t, saved.Points)

		h.pois.Fail(paris.Latitude, paris.Longitude, nil)
		h.clock.Advance(time.Minute)
		require.NoError(t, h.svc.LoadByName(context.Background(), "Paris"))

		saved, ok = h.places.FindByName("Paris")
		require.True(t, ok)
		assert.Len(t, saved.Points, 3)
		assert.Equal(t, []string{"Paris", "London"}, visitedNames(h.svc.Visited()))
	})

	t.Run("default failure stops in error without nesting", func(t *testing.T) {
		h := newHarness(t)
		h.fetch.Fail(paris.Latitude, paris.Longitude, weather.NetworkFailure(errors.New("timeout")))
		h.fetch.Fail(london.Latitude, london.Longitude, weather.NetworkFailure(errors.New("timeout")))

		err := h.svc.LoadByName(context.Background(), "Paris")

		require.Error(t, err)
		st := h.svc.State()
		assert.Equal(t, weather.StatusError, st.Status)
		assert.Equal(t, []string{"Paris", "London"}, h.geo.Calls())

		alerts := h.events.ofType(weather.EventAlert)
		require.Len(t, alerts, 2)
		assert.Equal(t, "Unable to load location. Reverting to London.", alerts[0].Alert.Message)
		assert.Equal(t, "Unable to load default location.", alerts[1].Alert.Message)
		assert.Empty(t, h.svc.Visited())
	})

	t.Run("cached place failure uses the saved location message", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris")
		h.fetch.Fail(paris.Latitude, paris.Longitude, weather.NetworkFailure(errors.New("timeout")))

		err := h.svc.LoadByName(context.Background(), "Paris")

		assert.ErrorIs(t, err, weather.ErrNetworkFailure)
		alerts := h.events.ofType(weather.EventAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, "Failed to load saved location.", alerts[0].Alert.Message)
		assert.Equal(t, "London", activeName(t, h.svc.State()))
	})
}

func TestPointsOfInterestFetchedOncePerPlace(t *testing.T) {
	h := newHarness(t)

	h.load(t, "Paris")
	require.Equal(t, 1, h.pois.CallCount())

	h.load(t, "Paris")
	saved, ok := h.places.FindByName("Paris")
	require.True(t, ok)
	require.NoError(t, h.svc.LoadCachedPlace(context.Background(), saved.ID))

	assert.Equal(t, 1, h.pois.CallCount())
	assert.Len(t, h.svc.State().Points, 3)
}

func TestLoadCachedPlace(t *testing.T) {
	h := newHarness(t)
	h.load(t, "Paris", "Tokyo")

	p, ok := h.places.FindByName("Paris")
	require.True(t, ok)
	require.NoError(t, h.svc.LoadCachedPlace(context.Background(), p.ID))
	assert.Equal(t, []string{"Paris", "Tokyo"}, visitedNames(h.svc.Visited()))

	err := h.svc.LoadCachedPlace(context.Background(), "missing")
	assert.ErrorIs(t, err, weather.ErrPlaceNotFound)
}

func TestDelete(t *testing.T) {
	t.Run("deleting the active place activates the most recent remaining", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris", "Tokyo", "Berlin")

		active := h.svc.State().Place
		require.Equal(t, "Berlin", active.Name)
		require.NoError(t, h.svc.Delete(context.Background(), active.ID))

		assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"Tokyo", "Paris"}, visitedNames(h.svc.Visited()))
	})

	t.Run("deleting the last place loads the default", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris")

		require.NoError(t, h.svc.Delete(context.Background(), h.svc.State().Place.ID))

		assert.Equal(t, "London", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"London"}, visitedNames(h.svc.Visited()))
	})

	t.Run("deleting an inactive place keeps the active one", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris", "Tokyo")
		fetches := h.fetch.CallCount()

		p, ok := h.places.FindByName("Paris")
		require.True(t, ok)
		require.NoError(t, h.svc.Delete(context.Background(), p.ID))

		assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"Tokyo"}, visitedNames(h.svc.Visited()))
		assert.Equal(t, fetches, h.fetch.CallCount())
	})

	t.Run("store failure surfaces delete failed and changes nothing", func(t *testing.T) {
		h := newHarness(t)
		h.svc = h.newService(failingRemoveStore{h.places})
		h.load(t, "Paris", "Tokyo")

		active := h.svc.State().Place
		err := h.svc.Delete(context.Background(), active.ID)

		assert.ErrorIs(t, err, weather.ErrDeleteFailed)
		assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"Tokyo", "Paris"}, visitedNames(h.svc.Visited()))

		alerts := h.events.ofType(weather.EventAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, "Failed to delete saved place.", alerts[0].Alert.Message)
		assert.Equal(t, weather.KindDeleteFailed, alerts[0].Alert.Kind)
	})

	t.Run("unknown id", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.svc.Delete(context.Background(), "nope"), weather.ErrPlaceNotFound)
	})
}

type failingRemoveStore struct {
	*store.SQLPlaceStore
}

func (failingRemoveStore) Remove(context.Context, weather.Place) error {
	return errors.New("disk I/O error")
}

func TestSupersededLoadDoesNotClobberNewerIntent(t *testing.T) {
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.geo.Before = func(_ context.Context, text string) {
		if text == "Paris" {
			close(entered)
			<-release
		}
	}

	slow := make(chan error, 1)
	go func() {
		slow <- h.svc.LoadByName(context.Background(), "Paris")
	}()
	<-entered

	require.NoError(t, h.svc.LoadByName(context.Background(), "Tokyo"))
	close(release)

	err := <-slow
	assert.ErrorIs(t, err, weather.ErrSuperseded)
	assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
	assert.Equal(t, []string{"Tokyo"}, visitedNames(h.svc.Visited()))
	assert.Empty(t, h.events.ofType(weather.EventAlert))
}

// blockingStore pauses one kind of mutation for one place until release is
// closed.
type blockingStore struct {
	*store.SQLPlaceStore
	op      string
	name    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) pause(op string, place weather.Place) {
	if op != b.op || place.Name != b.name {
		return
	}
	b.once.Do(func() { close(b.entered) })
	<-b.release
}

func (b *blockingStore) Upsert(ctx context.Context, place weather.Place) (weather.Place, error) {
	b.pause("upsert", place)
	return b.SQLPlaceStore.Upsert(ctx, place)
}

func (b *blockingStore) AttachPoints(ctx context.Context, place weather.Place, points []weather.PointOfInterest) (weather.Place, error) {
	b.pause("attach", place)
	return b.SQLPlaceStore.AttachPoints(ctx, place, points)
}

func (b *blockingStore) Touch(ctx context.Context, place weather.Place) (weather.Place, error) {
	b.pause("touch", place)
	return b.SQLPlaceStore.Touch(ctx, place)
}

func TestNewerIntentWinsOverSlowStoreWrite(t *testing.T) {
	for _, op := range []string{"upsert", "attach", "touch"} {
		t.Run(op, func(t *testing.T) {
			h := newHarness(t)
			blocking := &blockingStore{
				SQLPlaceStore: h.places,
				op:            op,
				name:          "Paris",
				entered:       make(chan struct{}),
				release:       make(chan struct{}),
			}
			h.svc = h.newService(blocking)

			slow := make(chan error, 1)
			go func() {
				slow <- h.svc.LoadByName(context.Background(), "Paris")
			}()
			<-blocking.entered

			newer := make(chan error, 1)
			go func() {
				newer <- h.svc.LoadByName(context.Background(), "Tokyo")
			}()
			time.Sleep(50 * time.Millisecond)
			close(blocking.release)

			require.NoError(t, <-newer)
			if err := <-slow; err != nil {
				assert.ErrorIs(t, err, weather.ErrSuperseded)
			}

			assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
			assert.Equal(t, "Tokyo", h.svc.Visited()[0].Name)
			assert.Empty(t, h.events.ofType(weather.EventAlert))

			require.NoError(t, h.svc.Refresh(context.Background()))
			assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
		})
	}
}

func TestRefreshIfIdle(t *testing.T) {
	t.Run("refreshes the front place when ready", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris")
		fetches := h.fetch.CallCount()

		require.NoError(t, h.svc.RefreshIfIdle(context.Background()))

		assert.Equal(t, fetches+1, h.fetch.CallCount())
		assert.Equal(t, "Paris", activeName(t, h.svc.State()))
	})

	t.Run("skips while a user load is in flight", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris")

		entered := make(chan struct{})
		release := make(chan struct{})
		h.geo.Before = func(_ context.Context, text string) {
			if text == "Tokyo" {
				close(entered)
				<-release
			}
		}
		user := make(chan error, 1)
		go func() {
			user <- h.svc.LoadByName(context.Background(), "Tokyo")
		}()
		<-entered

		assert.ErrorIs(t, h.svc.RefreshIfIdle(context.Background()), weather.ErrRefreshSkipped)
		close(release)

		require.NoError(t, <-user)
		assert.Equal(t, "Tokyo", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"Tokyo", "Paris"}, visitedNames(h.svc.Visited()))
	})

	t.Run("skips after a failed load", func(t *testing.T) {
		h := newHarness(t)
		h.geo.Fail("London", weather.GeocodingFailure("London", errors.New("quota exceeded")))
		require.Error(t, h.svc.Start(context.Background()))
		calls := len(h.geo.Calls())

		assert.ErrorIs(t, h.svc.RefreshIfIdle(context.Background()), weather.ErrRefreshSkipped)
		assert.Len(t, h.geo.Calls(), calls)
		assert.Equal(t, weather.StatusError, h.svc.State().Status)
	})
}

func TestStart(t *testing.T) {
	t.Run("empty store loads the default place", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.svc.Start(context.Background()))

		assert.Equal(t, "London", activeName(t, h.svc.State()))
		assert.Equal(t, []string{"London"}, visitedNames(h.svc.Visited()))
	})

	t.Run("restart reloads the most recent place from the database", func(t *testing.T) {
		h := newHarness(t)
		h.load(t, "Paris", "Tokyo")
		geocodes := len(h.geo.Calls())

		restarted := testutil.NewTestStore(t, h.db, h.clock.Now)
		assert.Equal(t, []string{"Tokyo", "Paris"}, visitedNames(restarted.List()))

		h.svc = h.newService(restarted)
		require.NoError(t, h.svc.Start(context.Background()))

		st := h.svc.State()
		assert.Equal(t, "Tokyo", activeName(t, st))
		assert.Len(t, st.Points, 3)
		assert.Equal(t, geocodes, len(h.geo.Calls()))
		assert.Equal(t, 2, h.pois.CallCount())
	})

	t.Run("default failure ends in error", func(t *testing.T) {
		h := newHarness(t)
		h.geo.Fail("London", weather.GeocodingFailure("London", errors.New("quota exceeded")))

		err := h.svc.Start(context.Background())

		assert.ErrorIs(t, err, weather.ErrGeocodingFailure)
		assert.Equal(t, weather.StatusError, h.svc.State().Status)
		assert.Equal(t, []string{"London"}, h.geo.Calls())

		alerts := h.events.ofType(weather.EventAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, "Unable to load default location.", alerts[0].Alert.Message)
	})
}

func TestLoadDefaultReusesCachedDefault(t *testing.T) {
	h := newHarness(t)
	h.load(t, "London", "Paris")

	require.NoError(t, h.svc.LoadDefault(context.Background()))

	assert.Equal(t, []string{"London", "Paris"}, visitedNames(h.svc.Visited()))
	assert.Equal(t, 2, h.pois.CallCount())
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	var got int
	unsubscribe := h.svc.Subscribe(func(weather.Event) { got++ })

	h.load(t, "Paris")
	seen := got
	require.NotZero(t, seen)

	unsubscribe()
	h.load(t, "Tokyo")
	assert.Equal(t, seen, got)
}
