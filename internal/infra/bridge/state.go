package bridge

import (
	"sync"
	"time"
)

// State is the connection state of a bridge.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is delivered to observers on every transition. Err carries the transport
// error that caused a drop to disconnected, if any.
type Status struct {
	State State     `json:"state"`
	Err   error     `json:"-"`
	At    time.Time `json:"at"`
}

// StatusObserver receives state transitions synchronously, in transition order.
// Observers may read State or Status but must not call back into Connect or Disconnect.
type StatusObserver func(Status)

type statusRegistry struct {
	// deliverMu serialises transitions so observers see them in order; mu guards state.
	deliverMu sync.Mutex
	mu        sync.Mutex
	current   Status
	observers map[uint64]StatusObserver
	order     []uint64
	nextID    uint64
}

func newStatusRegistry() *statusRegistry {
	return &statusRegistry{
		current:   Status{State: StateDisconnected, At: time.Now().UTC()},
		observers: make(map[uint64]StatusObserver),
	}
}

func (r *statusRegistry) get() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *statusRegistry) subscribe(fn StatusObserver) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.observers[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			for i, v := range r.order {
				if v == id {
					r.order = append(r.order[:i:i], r.order[i+1:]...)
					break
				}
			}
			r.mu.Unlock()
		})
	}
}

// transition moves to next and notifies observers in transition order. Observers run
// after the state lock is released. It reports whether the state changed; an error on
// an unchanged disconnected state is still delivered.
func (r *statusRegistry) transition(next State, err error) (Status, bool) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if r.current.State == next && err == nil {
		current := r.current
		r.mu.Unlock()
		return current, false
	}
	changed := r.current.State != next
	r.current = Status{State: next, Err: err, At: time.Now().UTC()}
	current := r.current
	observers := make([]StatusObserver, 0, len(r.order))
	for _, id := range r.order {
		if fn := r.observers[id]; fn != nil {
			observers = append(observers, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(current)
	}
	return current, changed
}
