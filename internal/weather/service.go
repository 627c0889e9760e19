package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPlaceName = "London"
	DefaultPOILimit  = 5
)

// Options tunes a Service. Zero values fall back to the defaults above.
type Options struct {
	DefaultPlace string
	POILimit     int
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Service orchestrates geocoding, weather, points of interest and the
// visited-places store behind a single published state.
//
// Every intent that enters loading takes a new request token. Store
// mutations and the final commit only happen while that token is still the
// latest one, so a slow predecessor can never overwrite a newer result.
// writeMu makes the token check and the store write one step: begin takes
// it too, so no intent can start while a guarded write is in flight.
type Service struct {
	geocoder Geocoder
	fetcher  Fetcher
	pois     POIFinder
	places   PlaceStore

	defaultPlace string
	poiLimit     int
	log          zerolog.Logger
	now          func() time.Time

	writeMu  sync.Mutex
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    State
	token    uint64
	activeID string
	subs     map[int]func(Event)
	nextSub  int
}

// NewService creates a new Service in the idle state.
func NewService(geocoder Geocoder, fetcher Fetcher, pois POIFinder, places PlaceStore, opts Options) *Service {
	if opts.DefaultPlace == "" {
		opts.DefaultPlace = DefaultPlaceName
	}
	if opts.POILimit <= 0 {
		opts.POILimit = DefaultPOILimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		geocoder:     geocoder,
		fetcher:      fetcher,
		pois:         pois,
		places:       places,
		defaultPlace: opts.DefaultPlace,
		poiLimit:     opts.POILimit,
		log:          opts.Logger.With().Str("component", "orchestrator").Logger(),
		now:          opts.Now,
		state:        State{Status: StatusIdle, UpdatedAt: opts.Now().UTC()},
		subs:         make(map[int]func(Event)),
	}
}

// Visited returns the visited places, most recent first.
func (s *Service) Visited() []Place {
	return s.places.List()
}

// Start performs the start-up load: the most recently used place if the
// store has one, otherwise the default place.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info().Int("visited", len(s.places.List())).Msg("starting")
	return s.Refresh(ctx)
}

// LoadDefault loads the configured default place. It never falls back.
func (s *Service) LoadDefault(ctx context.Context) error {
	tok := s.begin()
	return s.loadDefault(ctx, tok)
}

// LoadByName loads a place by free-text name. Names already in the visited
// cache are served from it without geocoding; new names are geocoded, saved
// and given their points of interest. Any failure publishes an alert and
// falls back to the default place once; the original error is returned.
func (s *Service) LoadByName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		err := ValidationFailure("Please enter a valid location.")
		s.reject(err)
		return err
	}

	if existing, ok := s.places.FindByName(name); ok {
		tok := s.begin()
		if err := s.loadCachedPlace(ctx, tok, existing); err != nil {
			return err
		}
		s.success(tok, "Place Loaded", fmt.Sprintf("%s loaded successfully.", existing.Name))
		return nil
	}

	tok := s.begin()
	place, saved, err := s.loadNew(ctx, tok, name)
	if err != nil {
		return s.fallback(ctx, tok, err, fmt.Sprintf("Unable to load location. Reverting to %s.", s.defaultPlace))
	}
	if !saved {
		s.success(tok, "Place Loaded", fmt.Sprintf("%s loaded successfully.", place.Name))
		return nil
	}
	s.success(tok, "Place Saved", fmt.Sprintf("Fetched and saved: %s", place.Name))
	return nil
}

// LoadCachedPlace reloads a visited place by id. Weather is always fetched
// again; points of interest are reused when present.
func (s *Service) LoadCachedPlace(ctx context.Context, id string) error {
	place, ok := s.places.Get(id)
	if !ok {
		return fmt.Errorf("load place %s: %w", id, ErrPlaceNotFound)
	}
	tok := s.begin()
	return s.loadCachedPlace(ctx, tok, place)
}

// Refresh reloads the most recently used place, or the default place when
// nothing has been visited.
func (s *Service) Refresh(ctx context.Context) error {
	tok := s.begin()
	if front, ok := s.front(); ok {
		return s.loadCachedPlace(ctx, tok, front)
	}
	return s.loadDefault(ctx, tok)
}

// RefreshIfIdle is Refresh for background callers. It returns
// ErrRefreshSkipped without doing anything while a load is in flight or
// after a failed load, so a timer never overtakes a user intent or retries
// a failure.
func (s *Service) RefreshIfIdle(ctx context.Context) error {
	tok, ok := s.beginIf(func(st State) bool {
		return st.Status == StatusIdle || st.Status == StatusReady
	})
	if !ok {
		return ErrRefreshSkipped
	}
	if front, ok := s.front(); ok {
		return s.loadCachedPlace(ctx, tok, front)
	}
	return s.loadDefault(ctx, tok)
}

// Delete removes a visited place. A store failure surfaces DeleteFailed and
// leaves everything else untouched. Removing the active place loads the next
// most recent one, or the default place when none is left.
func (s *Service) Delete(ctx context.Context, id string) error {
	place, ok := s.places.Get(id)
	if !ok {
		return fmt.Errorf("delete place %s: %w", id, ErrPlaceNotFound)
	}

	if err := s.places.Remove(ctx, place); err != nil {
		derr := DeleteFailed("Failed to delete saved place.", err)
		s.log.Error().Err(err).Str("place", place.Name).Msg("delete failed")
		s.reject(derr)
		return derr
	}

	s.mu.Lock()
	wasActive := s.activeID == place.ID
	if wasActive {
		s.activeID = ""
	}
	s.mu.Unlock()

	s.log.Info().Str("place", place.Name).Bool("active", wasActive).Msg("place deleted")
	if !wasActive {
		return nil
	}

	tok := s.begin()
	if front, ok := s.front(); ok {
		return s.loadCachedPlace(ctx, tok, front)
	}
	return s.loadDefault(ctx, tok)
}

func (s *Service) front() (Place, bool) {
	visited := s.places.List()
	if len(visited) == 0 {
		return Place{}, false
	}
	return visited[0], true
}

// loadNew geocodes an unseen name and loads it. A geocoded name that is
// already cached continues as a load of the cached entry; saved reports
// whether a new place was stored.
func (s *Service) loadNew(ctx context.Context, tok uint64, name string) (place Place, saved bool, err error) {
	id, err := s.geocoder.Resolve(ctx, name)
	if err != nil {
		return Place{}, false, fmt.Errorf("resolve %q: %w", name, err)
	}

	if existing, ok := s.places.FindByName(id.Name); ok {
		s.log.Debug().Str("query", name).Str("place", existing.Name).Msg("geocoded name already visited")
		place, err = s.loadPlace(ctx, tok, existing)
		return place, false, err
	}

	snap, err := s.fetcher.Fetch(ctx, id.Latitude, id.Longitude)
	if err != nil {
		return Place{}, false, fmt.Errorf("fetch weather for %q: %w", id.Name, err)
	}

	place, err = s.upsert(ctx, tok, NewPlace(id, s.now()))
	if err != nil {
		return Place{}, false, err
	}
	place, err = s.finish(ctx, tok, place, snap)
	return place, err == nil, err
}

func (s *Service) loadCachedPlace(ctx context.Context, tok uint64, place Place) error {
	if _, err := s.loadPlace(ctx, tok, place); err != nil {
		return s.fallback(ctx, tok, err, "Failed to load saved location.")
	}
	return nil
}

// loadPlace fetches fresh weather for a known place and completes the load.
func (s *Service) loadPlace(ctx context.Context, tok uint64, place Place) (Place, error) {
	snap, err := s.fetcher.Fetch(ctx, place.Latitude, place.Longitude)
	if err != nil {
		return Place{}, fmt.Errorf("fetch weather for %q: %w", place.Name, err)
	}
	return s.finish(ctx, tok, place, snap)
}

// finish attaches points if the place has none, touches it and commits.
func (s *Service) finish(ctx context.Context, tok uint64, place Place, snap Snapshot) (Place, error) {
	place, err := s.ensurePoints(ctx, tok, place)
	if err != nil {
		return Place{}, err
	}
	place, err = s.touch(ctx, tok, place)
	if err != nil {
		return Place{}, err
	}
	if err := s.commitReady(tok, place, snap); err != nil {
		return Place{}, err
	}
	return place, nil
}

func (s *Service) loadDefault(ctx context.Context, tok uint64) error {
	err := s.loadDefaultPlace(ctx, tok)
	if err == nil || errors.Is(err, ErrSuperseded) {
		return err
	}
	s.log.Error().Err(err).Str("place", s.defaultPlace).Msg("default place load failed")
	if !s.fail(tok, err, "Unable to load default location.") {
		return ErrSuperseded
	}
	return err
}

func (s *Service) loadDefaultPlace(ctx context.Context, tok uint64) error {
	if !s.enter(tok) {
		return ErrSuperseded
	}

	id, err := s.geocoder.Resolve(ctx, s.defaultPlace)
	if err != nil {
		return fmt.Errorf("resolve default place: %w", err)
	}

	snap, err := s.fetcher.Fetch(ctx, id.Latitude, id.Longitude)
	if err != nil {
		return fmt.Errorf("fetch weather for default place: %w", err)
	}

	place, cached := s.places.FindByName(id.Name)

	points := place.Points
	if len(points) == 0 {
		points, err = s.pois.Find(ctx, id.Latitude, id.Longitude, s.poiLimit)
		if err != nil {
			return fmt.Errorf("find points for default place: %w", err)
		}
	}

	if !cached {
		place, err = s.upsert(ctx, tok, NewPlace(id, s.now()))
		if err != nil {
			return err
		}
	}
	if len(place.Points) == 0 {
		place, err = s.attach(ctx, tok, place, points)
		if err != nil {
			return err
		}
	}

	place, err = s.touch(ctx, tok, place)
	if err != nil {
		return err
	}
	return s.commitReady(tok, place, snap)
}

func (s *Service) ensurePoints(ctx context.Context, tok uint64, place Place) (Place, error) {
	if len(place.Points) > 0 {
		return place, nil
	}

	found, err := s.pois.Find(ctx, place.Latitude, place.Longitude, s.poiLimit)
	if err != nil {
		return Place{}, fmt.Errorf("find points for %q: %w", place.Name, err)
	}
	return s.attach(ctx, tok, place, found)
}

// fallback reports a failed load and reverts to the default place once,
// under the failing intent's token. It returns the original cause.
func (s *Service) fallback(ctx context.Context, tok uint64, cause error, message string) error {
	if errors.Is(cause, ErrSuperseded) {
		return cause
	}

	s.log.Warn().Err(cause).Str("fallback", s.defaultPlace).Msg("load failed")
	if !s.fail(tok, cause, message) {
		return ErrSuperseded
	}

	if err := s.loadDefault(ctx, tok); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) upsert(ctx context.Context, tok uint64, place Place) (Place, error) {
	return s.write(tok, "Unable to save place.", func() (Place, error) {
		return s.places.Upsert(ctx, place)
	})
}

func (s *Service) attach(ctx context.Context, tok uint64, place Place, points []PointOfInterest) (Place, error) {
	return s.write(tok, "Unable to save points of interest.", func() (Place, error) {
		return s.places.AttachPoints(ctx, place, points)
	})
}

func (s *Service) touch(ctx context.Context, tok uint64, place Place) (Place, error) {
	return s.write(tok, "Unable to save place.", func() (Place, error) {
		return s.places.Touch(ctx, place)
	})
}

// write runs a store mutation only while tok is the latest token.
func (s *Service) write(tok uint64, failure string, fn func() (Place, error)) (Place, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.current(tok) {
		return Place{}, ErrSuperseded
	}
	saved, err := fn()
	if err != nil {
		return Place{}, MissingData(failure, err)
	}
	return saved, nil
}

// begin issues a new request token and enters loading.
func (s *Service) begin() uint64 {
	tok, _ := s.beginIf(nil)
	return tok
}

// beginIf is begin when allow accepts the current state. It waits for any
// guarded store write to finish first.
func (s *Service) beginIf(allow func(State) bool) (uint64, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if allow != nil && !allow(s.state) {
		return 0, false
	}
	s.token++
	s.state = State{Status: StatusLoading, Token: s.token, UpdatedAt: s.now().UTC()}
	tok := s.token
	s.publishLocked(Event{Type: EventState})
	return tok, true
}

// enter moves back into loading for tok, e.g. when a fallback starts.
func (s *Service) enter(tok uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != s.token {
		return false
	}
	if s.state.Status == StatusLoading {
		return true
	}
	s.state = State{Status: StatusLoading, Token: tok, UpdatedAt: s.now().UTC()}
	s.publishLocked(Event{Type: EventState})
	return true
}

func (s *Service) current(tok uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tok == s.token
}

func (s *Service) commitReady(tok uint64, place Place, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != s.token {
		s.log.Debug().Uint64("token", tok).Uint64("latest", s.token).Msg("discarding superseded load")
		return ErrSuperseded
	}

	p := place.Clone()
	s.activeID = p.ID
	s.state = State{
		Status:    StatusReady,
		Token:     tok,
		Place:     &p,
		Snapshot:  &snap,
		Points:    p.Clone().Points,
		UpdatedAt: s.now().UTC(),
	}
	s.log.Info().Str("place", p.Name).Int("points", len(p.Points)).Msg("place ready")
	s.publishLocked(Event{Type: EventState})
	return nil
}

// fail publishes the error state with its alert. It reports false when tok
// has been superseded, in which case nothing is published.
func (s *Service) fail(tok uint64, err error, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != s.token {
		return false
	}

	kind, ok := KindOf(err)
	if !ok {
		kind = KindNetworkFailure
	}
	s.state = State{Status: StatusError, Token: tok, ErrorKind: kind, UpdatedAt: s.now().UTC()}
	s.publishLocked(Event{
		Type:  EventAlert,
		Alert: &Alert{Title: "Error", Message: message, Detail: describe(err), Kind: kind},
	})
	return true
}

// reject publishes an alert without touching the state machine.
func (s *Service) reject(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, _ := KindOf(err)
	s.publishLocked(Event{
		Type:  EventAlert,
		Alert: &Alert{Title: "Error", Message: describe(err), Kind: kind},
	})
}

func (s *Service) success(tok uint64, title, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != s.token {
		return
	}
	s.publishLocked(Event{Type: EventSuccess, Alert: &Alert{Title: title, Message: message}})
}
