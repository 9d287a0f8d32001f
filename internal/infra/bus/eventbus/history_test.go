package eventbus

import (
	"fmt"
	"testing"

	"github.com/coachpo/eventframe/internal/domain/schema"
)

func TestEventLogEvictsOldestFirst(t *testing.T) {
	log := NewEventLog(3)
	for i := 1; i <= 5; i++ {
		log.Append(schema.NewEvent(fmt.Sprintf("e%d", i), nil))
	}
	if log.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", log.Len())
	}
	got := names(log.Snapshot(0))
	want := []string{"e3", "e4", "e5"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
}

func TestEventLogSnapshotLimit(t *testing.T) {
	log := NewEventLog(10)
	for i := 1; i <= 4; i++ {
		log.Append(schema.NewEvent(fmt.Sprintf("e%d", i), nil))
	}
	if got := names(log.Snapshot(2)); fmt.Sprint(got) != "[e3 e4]" {
		t.Fatalf("snapshot(2) = %v", got)
	}
	if got := names(log.Snapshot(50)); len(got) != 4 {
		t.Fatalf("snapshot(50) returned %d events", len(got))
	}
}

func TestEventLogClear(t *testing.T) {
	log := NewEventLog(2)
	log.Append(schema.NewEvent("a", nil))
	log.Append(nil)
	log.Clear()
	if log.Len() != 0 || len(log.Snapshot(0)) != 0 {
		t.Fatalf("expected empty log after clear")
	}
	log.Append(schema.NewEvent("b", nil))
	if got := names(log.Snapshot(0)); fmt.Sprint(got) != "[b]" {
		t.Fatalf("snapshot after clear = %v", got)
	}
	if log.Cap() != 2 {
		t.Fatalf("cap = %d", log.Cap())
	}
}

func names(events []*schema.Event) []string {
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Name)
	}
	return out
}
