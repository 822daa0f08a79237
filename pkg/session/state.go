package session

import (
	"sync"
)

// State holds the in-memory access credential and the loading flag. It is
// the single source of truth read by the transport on every request and by
// collaborators through Snapshot.
type State struct {
	// notifyMu serialises mutations together with their notifications so
	// observers see changes in mutation order.
	notifyMu sync.Mutex

	mu         sync.RWMutex
	credential string
	loading    bool
	ready      chan struct{}
	observers  map[int]func(Snapshot)
	nextID     int
}

// NewState returns a state with no credential that is still loading.
func NewState() *State {
	return &State{
		loading:   true,
		ready:     make(chan struct{}),
		observers: make(map[int]func(Snapshot)),
	}
}

// Credential returns the current credential and whether one is present.
func (s *State) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.credential, s.credential != ""
}

// Loading reports whether the initial session check is still running.
func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loading
}

// Snapshot returns the credential and the loading flag read together.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{Credential: s.credential, Loading: s.loading}
}

// Ready is closed once loading has become false.
func (s *State) Ready() <-chan struct{} {
	return s.ready
}

// SetCredential stores value as the current credential. An empty value
// clears it.
func (s *State) SetCredential(value string) {
	s.update(func() bool {
		changed := s.credential != value
		s.credential = value
		return changed
	})
}

// clear drops the credential and ends loading in one transition.
func (s *State) clear() {
	s.update(func() bool {
		changed := s.credential != "" || s.loading
		s.credential = ""
		s.setLoaded()
		return changed
	})
}

func (s *State) finishLoading() {
	s.update(func() bool {
		changed := s.loading
		s.setLoaded()
		return changed
	})
}

// setLoaded must be called with mu held.
func (s *State) setLoaded() {
	if s.loading {
		s.loading = false
		close(s.ready)
	}
}

// Subscribe registers fn to be called after every change of the state.
// Observers run synchronously on the mutating goroutine and must not mutate
// the state themselves.
func (s *State) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *State) update(mutate func() (changed bool)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := mutate()
	snapshot := Snapshot{Credential: s.credential, Loading: s.loading}
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	if !changed {
		return
	}

	for _, fn := range observers {
		fn(snapshot)
	}
}
