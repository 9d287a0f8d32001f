package listeners

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/logging"
)

func setup(t *testing.T) (*Set, *eventbus.MemoryBus) {
	t.Helper()
	bus := eventbus.NewMemoryBus(eventbus.DefaultConfig(), eventbus.WithLogger(logging.Nop()))
	set := NewSet(logging.Nop())
	handles, err := set.Register(bus)
	require.NoError(t, err)
	require.Len(t, handles, len(set.Registrations()))
	return set, bus
}

func TestTodoLifecycleBroadcasts(t *testing.T) {
	set, bus := setup(t)
	ctx := context.Background()

	report, err := bus.Publish(ctx, "todo.created", map[string]any{"title": "milk"})
	require.NoError(t, err)
	broadcasts := report.Broadcasts()
	require.Len(t, broadcasts, 1)
	assert.Equal(t, TopicTodoListUpdated, broadcasts[0].Event.Name)
	assert.Equal(t, schema.ScopeBroadcast, broadcasts[0].Scope)
	payload := broadcasts[0].Event.Payload.(map[string]any)
	assert.Equal(t, "created", payload["action"])
	assert.Equal(t, 1, payload["total"])
	assert.Contains(t, report.Results(), `{"saved":true,"todo_id":1}`)

	report, err = bus.Publish(ctx, "todo.completed", map[string]any{"id": float64(1)})
	require.NoError(t, err)
	require.Len(t, report.Broadcasts(), 1)
	assert.True(t, set.Todos.List()[0].Completed)

	report, err = bus.Publish(ctx, "todo.deleted", map[string]any{"id": float64(1)})
	require.NoError(t, err)
	require.Len(t, report.Broadcasts(), 1)
	assert.Empty(t, set.Todos.List())

	report, err = bus.Publish(ctx, "todo.deleted", map[string]any{"id": float64(1)})
	require.NoError(t, err)
	assert.Empty(t, report.Broadcasts())
}

func TestUserCreatedOrdering(t *testing.T) {
	_, bus := setup(t)
	report, err := bus.Publish(context.Background(), "user.created", map[string]any{"username": "ada", "email": "ada@example.com"})
	require.NoError(t, err)

	var names []string
	for _, o := range report.Outcomes {
		names = append(names, o.Topic)
	}
	// wildcard bucket first, then the exact bucket by priority
	assert.Equal(t, []string{"*", "*", "user.created", "user.created", "user.created"}, names)
	require.Len(t, report.Broadcasts(), 1)
	assert.Equal(t, "user.notification", report.Broadcasts()[0].Event.Name)
	assert.Equal(t, 0, report.Failed())
}

func TestLargeOrderAlert(t *testing.T) {
	_, bus := setup(t)
	ctx := context.Background()

	report, err := bus.Publish(ctx, "order.placed", map[string]any{"order_id": "A1", "amount": float64(50), "items": []any{"x"}})
	require.NoError(t, err)
	require.Len(t, report.Broadcasts(), 1)
	assert.Equal(t, "order.status_updated", report.Broadcasts()[0].Event.Name)

	report, err = bus.Publish(ctx, "order.placed", map[string]any{"order_id": "A2", "amount": float64(5000)})
	require.NoError(t, err)
	require.Len(t, report.Broadcasts(), 2)
	alert := report.Broadcasts()[1]
	assert.Equal(t, "admin.alert", alert.Event.Name)
	assert.Equal(t, schema.ScopeLocal, alert.Scope)
}

func TestAdminPatternAndAnalytics(t *testing.T) {
	set, bus := setup(t)
	ctx := context.Background()
	report, err := bus.Publish(ctx, "admin.delete", map[string]any{"action": "purge"})
	require.NoError(t, err)
	assert.Equal(t, 3, report.ListenersExecuted())
	_, err = bus.Publish(ctx, "unknown.topic", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), set.Analytics.Count())
}

func TestTodoStoreClear(t *testing.T) {
	store := NewTodoStore()
	store.add("a", testTime)
	store.add("b", testTime)
	store.Clear()
	assert.Empty(t, store.List())
	assert.Equal(t, 1, store.add("c", testTime).ID)
}

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
