// Package listeners holds the application's event handlers and their registration tables.
package listeners

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

// LargeOrderThreshold is the amount above which placed orders raise an admin alert.
const LargeOrderThreshold = 1000

// Set bundles every handler table with the state the handlers share.
type Set struct {
	Todos     *TodoStore
	Analytics *Analytics
	logger    zerolog.Logger
}

// NewSet builds the handlers with an empty todo store.
func NewSet(logger zerolog.Logger) *Set {
	return &Set{Todos: NewTodoStore(), Analytics: &Analytics{}, logger: logger}
}

// Registrations returns the full registration table.
func (s *Set) Registrations() []eventbus.Registration {
	var regs []eventbus.Registration
	regs = append(regs, s.global()...)
	regs = append(regs, s.users()...)
	regs = append(regs, s.orders()...)
	regs = append(regs, s.todos()...)
	regs = append(regs, s.private()...)
	return regs
}

// Register subscribes every handler on bus.
func (s *Set) Register(bus eventbus.Bus) ([]eventbus.Handle, error) {
	return eventbus.Register(bus, s.Registrations())
}

func (s *Set) global() []eventbus.Registration {
	return []eventbus.Registration{
		{Name: "global.logger", Topic: eventbus.MatchAll, Priority: 100, Listener: s.logEvent},
		{Name: "analytics", Topic: eventbus.MatchAll, Priority: 1, Listener: s.Analytics.track},
	}
}

func (s *Set) logEvent(_ context.Context, evt *schema.Event) (schema.Result, error) {
	s.logger.Debug().
		Str("topic", evt.Name).
		Str("scope", string(evt.Scope)).
		Str("source", evt.Source()).
		Int("fields", len(payloadMap(evt))).
		Msg("event observed")
	return schema.Done, nil
}

func (s *Set) users() []eventbus.Registration {
	return []eventbus.Registration{
		{Name: "user.welcome_email", Topic: "user.created", Priority: 10, Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			email := stringField(evt, "email")
			s.logger.Info().Str("to", email).Msg("sending welcome email")
			return schema.NewReply(map[string]any{"email_sent": true, "to": email}), nil
		}},
		{Name: "user.profile", Topic: "user.created", Priority: 5, Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Info().Str("username", stringField(evt, "username")).Msg("creating user profile")
			return schema.NewReply(map[string]any{"profile_created": true}), nil
		}},
		{Name: "user.notify", Topic: "user.created", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			username := stringField(evt, "username")
			notice := schema.NewEvent("user.notification", map[string]any{
				"type":     "new_user",
				"message":  fmt.Sprintf("Welcome %s!", username),
				"username": username,
			})
			return schema.NewBroadcast(notice, schema.ScopeBroadcast), nil
		}},
		{Name: "user.update_log", Topic: "user.updated", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Info().Interface("data", evt.Payload).Msg("user updated")
			return schema.NewReply(map[string]any{"logged": true}), nil
		}},
		{Name: "user.cleanup", Topic: "user.deleted", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Info().Interface("user_id", field(evt, "user_id")).Msg("cleaning up user data")
			return schema.NewReply(map[string]any{"cleaned_up": true}), nil
		}},
		{Name: "notification.send", Topic: "notification.send", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Info().Str("message", stringField(evt, "message")).Msg("sending notification")
			return schema.NewReply(map[string]any{"notification_sent": true}), nil
		}},
	}
}

func (s *Set) orders() []eventbus.Registration {
	return []eventbus.Registration{
		{Name: "order.payment", Topic: "order.placed", Priority: 10, Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Info().Interface("order_id", field(evt, "order_id")).Float64("amount", numberField(evt, "amount")).Msg("processing payment")
			return schema.NewReply(map[string]any{"payment_processed": true}), nil
		}},
		{Name: "order.confirmation", Topic: "order.placed", Priority: 5, Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			status := schema.NewEvent("order.status_updated", map[string]any{
				"order_id": field(evt, "order_id"),
				"status":   "confirmed",
				"message":  "Order confirmed",
			})
			return schema.NewBroadcast(status, schema.ScopeBroadcast), nil
		}},
		{Name: "order.inventory", Topic: "order.placed", Priority: 3, Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			items, _ := field(evt, "items").([]any)
			s.logger.Info().Int("items", len(items)).Msg("updating inventory")
			return schema.NewReply(map[string]any{"inventory_updated": true}), nil
		}},
		{Name: "order.large_alert", Topic: "order.placed", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			amount := numberField(evt, "amount")
			if amount <= LargeOrderThreshold {
				return schema.NewReply(map[string]any{"admin_notified": false}), nil
			}
			alert := schema.NewEvent("admin.alert", map[string]any{
				"type":     "large_order",
				"order_id": field(evt, "order_id"),
				"amount":   amount,
			})
			// admin.* is kept in-process by the default outbound policy
			return schema.NewBroadcast(alert, schema.ScopeLocal), nil
		}},
	}
}

func (s *Set) private() []eventbus.Registration {
	return []eventbus.Registration{
		{Name: "private.password_changed", Topic: "private.user.password_changed", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Info().Interface("user_id", field(evt, "user_id")).Msg("password changed")
			return schema.NewReply(map[string]any{"logged": true, "secure": true}), nil
		}},
		{Name: "system.health_check", Topic: "system.health_check", Listener: func(context.Context, *schema.Event) (schema.Result, error) {
			return schema.NewReply(map[string]any{"status": "healthy"}), nil
		}},
		{Name: "admin.action", Topic: "admin.*", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			s.logger.Warn().Str("topic", evt.Name).Interface("data", evt.Payload).Msg("admin event")
			return schema.NewReply(map[string]any{"logged": true, "admin": true}), nil
		}},
	}
}

// Analytics counts every event it observes.
type Analytics struct {
	count atomic.Int64
}

// Count returns the number of observed events.
func (a *Analytics) Count() int64 {
	return a.count.Load()
}

func (a *Analytics) track(context.Context, *schema.Event) (schema.Result, error) {
	n := a.count.Add(1)
	return schema.NewReply(map[string]any{"analytics": "tracked", "count": n}), nil
}

func payloadMap(evt *schema.Event) map[string]any {
	m, _ := evt.Payload.(map[string]any)
	return m
}

func field(evt *schema.Event, key string) any {
	return payloadMap(evt)[key]
}

func stringField(evt *schema.Event, key string) string {
	v, _ := field(evt, key).(string)
	return v
}

func numberField(evt *schema.Event, key string) float64 {
	switch v := field(evt, key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
