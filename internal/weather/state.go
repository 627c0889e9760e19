package weather

import (
	"time"
)

// Status is the orchestrator's state machine position.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// State is the published view. Place, Snapshot and Points are set only when
// Status is ready; ErrorKind only when Status is error.
type State struct {
	Status    Status            `json:"status"`
	Token     uint64            `json:"token"`
	Place     *Place            `json:"place,omitempty"`
	Snapshot  *Snapshot         `json:"snapshot,omitempty"`
	Points    []PointOfInterest `json:"points,omitempty"`
	ErrorKind ErrorKind         `json:"errorKind,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// EventType distinguishes the notifications delivered to subscribers.
type EventType string

const (
	EventState   EventType = "state"
	EventAlert   EventType = "alert"
	EventSuccess EventType = "success"
)

// Alert is a user-visible message. Kind is empty for success alerts.
type Alert struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// Event is delivered to subscribers in the order it was produced. Every event
// carries the state as of its publication; a failed load publishes a single
// alert event whose state is the error state.
type Event struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
	Alert *Alert    `json:"alert,omitempty"`
	At    time.Time `json:"at"`
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs synchronously on the publishing goroutine and must
// not call back into the Service.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// State returns a copy of the current published state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// publishLocked delivers ev to the subscribers. It must be called with s.mu
// held; it hands ordering over to s.notifyMu before releasing s.mu so events
// are delivered in commit order without running callbacks under s.mu.
func (s *Service) publishLocked(ev Event) {
	ev.At = s.now().UTC()
	ev.State = copyState(s.state)

	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer func() {
		s.notifyMu.Unlock()
		s.mu.Lock()
	}()

	for _, fn := range subs {
		fn(ev)
	}
}

func copyState(st State) State {
	if st.Place != nil {
		p := st.Place.Clone()
		st.Place = &p
	}
	if st.Snapshot != nil {
		snap := *st.Snapshot
		st.Snapshot = &snap
	}
	if st.Points != nil {
		points := make([]PointOfInterest, len(st.Points))
		copy(points, st.Points)
		st.Points = points
	}
	return st
}
