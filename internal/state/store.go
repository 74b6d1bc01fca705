package state

import (
	"sync"
	"time"
)

// Store owns the current Snapshot and fans it out to subscribers.
type Store struct {
	mu      sync.Mutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextID  int
	now     func() time.Time
}

// NewStore returns a store holding an idle snapshot.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		current: Snapshot{Session: Session{Phase: PhaseIdle}},
		subs:    make(map[int]chan Snapshot),
		now:     now,
	}
}

// Load returns the current snapshot. Callers must treat maps and slices in
// it as read-only.
func (s *Store) Load() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to the current snapshot and publishes the result. fn
// must build new maps and slices instead of mutating the ones it receives.
func (s *Store) Update(fn func(Snapshot) Snapshot) Snapshot {
	s.mu.Lock()
	next := fn(s.current)
	next.Version = s.current.Version + 1
	s.current = next
	for _, ch := range s.subs {
		offer(ch, next)
	}
	s.mu.Unlock()
	return next
}

// UpdateSession replaces only the check-in session.
func (s *Store) UpdateSession(fn func(Session) Session) Snapshot {
	return s.Update(func(snap Snapshot) Snapshot {
		snap.Session = fn(snap.Session)
		snap.Session.Updated = s.now()
		return snap
	})
}

// Subscribe returns a channel receiving the current snapshot followed by
// every later one. Slow readers only ever see the newest value. The returned
// func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// offer replaces any unread value so the subscriber sees the latest snapshot.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
