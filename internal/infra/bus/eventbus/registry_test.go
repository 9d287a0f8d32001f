package eventbus

import (
	"context"
	"testing"

	"github.com/coachpo/eventframe/internal/domain/schema"
)

func noop(context.Context, *schema.Event) (schema.Result, error) { return schema.Done, nil }

func TestRegistryOrdersBucketByPriorityThenInsertion(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Subscribe("x", noop, WithPriority(0))
	b, _ := r.Subscribe("x", noop, WithPriority(10))
	c, _ := r.Subscribe("x", noop, WithPriority(5))
	d, _ := r.Subscribe("x", noop, WithPriority(5))

	got := r.Resolve("x")
	want := []SubscriptionID{b.ID, c.ID, d.ID, a.ID}
	if len(got) != len(want) {
		t.Fatalf("resolved %d subscriptions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, got[i].ID, want[i])
		}
	}
}

func TestRegistryResolveConcatenatesBuckets(t *testing.T) {
	r := NewRegistry()
	exact, _ := r.Subscribe("user.created", noop, WithPriority(100))
	prefix, _ := r.Subscribe("user.*", noop, WithPriority(50))
	all, _ := r.Subscribe(MatchAll, noop, WithPriority(-10))
	_, _ = r.Subscribe("order.*", noop)

	got := r.Resolve("user.created")
	if len(got) != 3 {
		t.Fatalf("resolved %d subscriptions, want 3", len(got))
	}
	if got[0].ID != all.ID || got[1].ID != prefix.ID || got[2].ID != exact.ID {
		t.Fatalf("unexpected order: %s %s %s", got[0].Topic, got[1].Topic, got[2].Topic)
	}
}

func TestRegistryUnsubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	sub, _ := r.Subscribe("user.*", noop)
	if !r.Unsubscribe("user.*", sub.ID) {
		t.Fatalf("expected first unsubscribe to remove")
	}
	if r.Unsubscribe("user.*", sub.ID) {
		t.Fatalf("second unsubscribe should be a no-op")
	}
	if len(r.Resolve("user.created")) != 0 {
		t.Fatalf("removed pattern still resolves")
	}
	if _, ok := r.Counts()["user.*"]; ok {
		t.Fatalf("empty bucket still counted")
	}
}

func TestRegistryUnsubscribeRequiresMatchingTopic(t *testing.T) {
	r := NewRegistry()
	sub, _ := r.Subscribe("a", noop)
	if r.Unsubscribe("b", sub.ID) {
		t.Fatalf("unsubscribe with wrong topic removed subscription")
	}
	if !r.Unsubscribe("", sub.ID) {
		t.Fatalf("unsubscribe with empty topic should match any bucket")
	}
}

func TestRegistrySnapshotSurvivesMutation(t *testing.T) {
	r := NewRegistry()
	first, _ := r.Subscribe("x", noop)
	snapshot := r.Resolve("x")
	_, _ = r.Subscribe("x", noop, WithPriority(99))
	r.Unsubscribe("x", first.ID)
	if len(snapshot) != 1 || snapshot[0].ID != first.ID {
		t.Fatalf("snapshot changed after mutation")
	}
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Subscribe("", noop); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if _, err := r.Subscribe("x", nil); err == nil {
		t.Fatalf("expected error for nil listener")
	}
	if r.Len() != 0 {
		t.Fatalf("invalid subscriptions were stored")
	}
}

func TestRegistryCountsAndVersion(t *testing.T) {
	r := NewRegistry()
	v0 := r.Version()
	_, _ = r.Subscribe("x", noop, WithName("audit"))
	_, _ = r.Subscribe("x", noop)
	_, _ = r.Subscribe(MatchAll, noop)
	counts := r.Counts()
	if counts["x"] != 2 || counts[MatchAll] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if r.Version() != v0+3 {
		t.Fatalf("version did not advance per mutation")
	}
	if r.Topics()["x"][0].Name != "audit" {
		t.Fatalf("listener name not exposed")
	}
}
