package eventbus

import (
	"cmp"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/coachpo/eventframe/errs"
)

// Subscription is a registered listener. Fields are fixed at registration.
type Subscription struct {
	ID       SubscriptionID
	Topic    string
	Name     string
	Priority int
	Once     bool
	Listener Listener

	claimed atomic.Bool
}

// claim marks a once-subscription as fired. It returns false if another emit already claimed it.
func (s *Subscription) claim() bool {
	if !s.Once {
		return true
	}
	return s.claimed.CompareAndSwap(false, true)
}

// SubscribeOption tunes a subscription.
type SubscribeOption func(*Subscription)

// WithPriority sets the priority; higher runs first within a bucket.
func WithPriority(priority int) SubscribeOption {
	return func(s *Subscription) { s.Priority = priority }
}

// WithName labels the subscription for introspection.
func WithName(name string) SubscribeOption {
	return func(s *Subscription) { s.Name = name }
}

// AsOnce removes the subscription after its first invocation.
func AsOnce() SubscribeOption {
	return func(s *Subscription) { s.Once = true }
}

// Handle is returned by On and Once. Unsubscribe is idempotent.
type Handle struct {
	ID    SubscriptionID
	Topic string
	off   func()
}

// Unsubscribe removes the subscription for future emits.
func (h Handle) Unsubscribe() {
	if h.off != nil {
		h.off()
	}
}

// Registry holds subscriptions in per-topic buckets ordered by priority descending,
// ties broken by insertion order. Buckets are replaced on write so resolved snapshots
// stay valid while registrations change.
type Registry struct {
	mu       sync.RWMutex
	buckets  map[string][]*Subscription
	byID     map[SubscriptionID]*Subscription
	patterns []string
	version  uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[string][]*Subscription),
		byID:    make(map[SubscriptionID]*Subscription),
	}
}

// Subscribe adds listener to topic, which may be a concrete name, a prefix pattern or MatchAll.
func (r *Registry) Subscribe(topic string, listener Listener, opts ...SubscribeOption) (*Subscription, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if listener == nil {
		return nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithTopic(topic), errs.WithMessage("listener required"))
	}
	sub := &Subscription{
		ID:       SubscriptionID(uuid.NewString()),
		Topic:    topic,
		Listener: listener,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.buckets[topic]
	bucket := make([]*Subscription, 0, len(old)+1)
	bucket = append(bucket, old...)
	bucket = append(bucket, sub)
	slices.SortStableFunc(bucket, func(a, b *Subscription) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	if len(old) == 0 && topic != MatchAll && IsPattern(topic) {
		r.patterns = append(r.patterns, topic)
		sort.Strings(r.patterns)
	}
	r.buckets[topic] = bucket
	r.byID[sub.ID] = sub
	r.version++
	return sub, nil
}

// Unsubscribe removes the subscription. An empty topic matches any bucket.
// Removing an unknown id is a no-op.
func (r *Registry) Unsubscribe(topic string, id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok || (topic != "" && sub.Topic != topic) {
		return false
	}
	old := r.buckets[sub.Topic]
	bucket := make([]*Subscription, 0, len(old))
	for _, s := range old {
		if s.ID != id {
			bucket = append(bucket, s)
		}
	}
	if len(bucket) == 0 {
		delete(r.buckets, sub.Topic)
		if idx, found := slices.BinarySearch(r.patterns, sub.Topic); found {
			r.patterns = slices.Delete(r.patterns, idx, idx+1)
		}
	} else {
		r.buckets[sub.Topic] = bucket
	}
	delete(r.byID, id)
	r.version++
	return true
}

// Resolve returns the subscriptions applicable to topic: the match-all bucket, then
// matching prefix-pattern buckets in lexical order, then the exact bucket. Priority
// is ordered within each bucket only.
func (r *Registry) Resolve(topic string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.buckets[MatchAll])+len(r.buckets[topic]))
	out = append(out, r.buckets[MatchAll]...)
	for _, p := range r.patterns {
		if Match(p, topic) {
			out = append(out, r.buckets[p]...)
		}
	}
	if !IsPattern(topic) {
		out = append(out, r.buckets[topic]...)
	}
	return out
}

// Counts returns the number of subscriptions per registered topic.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.buckets))
	for topic, bucket := range r.buckets {
		out[topic] = len(bucket)
	}
	return out
}

// ListenerInfo describes a subscription for introspection.
type ListenerInfo struct {
	ID       SubscriptionID `json:"id"`
	Name     string         `json:"name,omitempty"`
	Priority int            `json:"priority"`
	Once     bool           `json:"once"`
}

// Topics returns the registered topics with their subscriptions in resolved order.
func (r *Registry) Topics() map[string][]ListenerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]ListenerInfo, len(r.buckets))
	for topic, bucket := range r.buckets {
		subs := make([]ListenerInfo, 0, len(bucket))
		for _, s := range bucket {
			subs = append(subs, ListenerInfo{ID: s.ID, Name: s.Name, Priority: s.Priority, Once: s.Once})
		}
		out[topic] = subs
	}
	return out
}

// Len returns the total number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Version increments on every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Registration is one row of a component's static listener table.
type Registration struct {
	Name     string
	Topic    string
	Priority int
	Once     bool
	Listener Listener
}

// Register subscribes every row of regs on bus. On failure the rows already
// registered are removed again.
func Register(bus Bus, regs []Registration) ([]Handle, error) {
	handles := make([]Handle, 0, len(regs))
	for _, reg := range regs {
		opts := []SubscribeOption{WithPriority(reg.Priority), WithName(reg.Name)}
		if reg.Once {
			opts = append(opts, AsOnce())
		}
		h, err := bus.On(reg.Topic, reg.Listener, opts...)
		if err != nil {
			for _, done := range handles {
				done.Unsubscribe()
			}
			return nil, errs.New("eventbus/register", errs.CodeInvalid, errs.WithTopic(reg.Topic),
				errs.WithField("listener", reg.Name), errs.WithCause(err))
		}
		handles = append(handles, h)
	}
	return handles, nil
}
