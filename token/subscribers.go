package token

import (
	"log/slog"
	"sync"

	erpauth "github.com/plazma-edu/erpauth-go"
)

// subscribers manages change listeners keyed by registration ID so that
// add returns a precise disposer instead of relying on func identity in a
// bare set.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(erpauth.TokenChange)
}

func newSubscribers() *subscribers {
	return &subscribers{fns: make(map[int]func(erpauth.TokenChange))}
}

// add registers fn and returns its disposer. Calling the disposer more than
// once is harmless.
func (s *subscribers) add(fn func(erpauth.TokenChange)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// emit delivers the change to every listener registered at call time.
// Listener panics are recovered so one bad listener cannot prevent the rest
// from running. Listeners are invoked outside the registration lock, so
// they may re-enter the store.
func (s *subscribers) emit(change erpauth.TokenChange) {
	s.mu.Lock()
	snapshot := make([]func(erpauth.TokenChange), 0, len(s.fns))
	for _, fn := range s.fns {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("token change listener panicked", "panic", r)
				}
			}()
			fn(change)
		}()
	}
}

// count returns the number of live registrations. Used by leak-detection
// tests.
func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}
