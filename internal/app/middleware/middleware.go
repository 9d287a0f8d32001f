// Package middleware provides the built-in bus transforms.
package middleware

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

// APIVersion is stamped on events by the validation transform.
const APIVersion = "1.0"

// Options selects the transforms to install.
type Options struct {
	Logging           bool
	Verbose           bool
	Validation        bool
	SensitivityCheck  bool
	SensitivePatterns []string
}

// Install appends the enabled transforms to bus in a fixed order: logging, validation,
// sensitivity.
func Install(bus eventbus.Bus, opts Options, logger zerolog.Logger) {
	if opts.Logging {
		bus.Use("logging", Logging(logger, opts.Verbose))
	}
	if opts.Validation {
		bus.Use("validation", Validation())
	}
	if opts.SensitivityCheck {
		bus.Use("sensitivity", Sensitivity(logger, opts.SensitivePatterns))
	}
}

// Logging records every event passing through the pipeline. Payloads are logged only
// when verbose is set.
func Logging(logger zerolog.Logger, verbose bool) eventbus.Transform {
	return func(_ context.Context, evt *schema.Event) (*schema.Event, error) {
		ev := logger.Debug()
		if verbose {
			ev = logger.Info().Interface("data", evt.Payload)
		}
		ev.Str("topic", evt.Name).
			Str("scope", string(evt.Scope)).
			Str("source", evt.Source()).
			Time("created_at", evt.CreatedAt).
			Msg("event")
		return evt, nil
	}
}

// Validation marks events as validated and stamps the API version.
func Validation() eventbus.Transform {
	return func(_ context.Context, evt *schema.Event) (*schema.Event, error) {
		out := evt.Clone()
		out.Metadata[schema.MetaValidated] = true
		out.Metadata[schema.MetaAPIVersion] = APIVersion
		return out, nil
	}
}

// Sensitivity warns when a locally raised event on a sensitive topic is about to leave
// the process. It never alters or blocks the event; the bridge policy does that.
func Sensitivity(logger zerolog.Logger, patterns []string) eventbus.Transform {
	return func(_ context.Context, evt *schema.Event) (*schema.Event, error) {
		if evt.FromRemote() || !evt.Scope.Relays() {
			return evt, nil
		}
		if eventbus.MatchAny(patterns, evt.Name) {
			logger.Warn().
				Str("topic", evt.Name).
				Str("scope", string(evt.Scope)).
				Msg("sensitive event emitted with a relaying scope; use scope local")
		}
		return evt, nil
	}
}
