package scripting

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

// Installed tracks the runtimes backing installed transforms.
type Installed struct {
	instances []*Instance
}

// Close stops every runtime.
func (s *Installed) Close() {
	for _, inst := range s.instances {
		inst.Close()
	}
	s.instances = nil
}

// Install appends one transform per loaded module to bus, in module name order.
func Install(bus eventbus.Bus, loader *Loader, logger zerolog.Logger) (*Installed, error) {
	installed := &Installed{}
	for _, summary := range loader.List() {
		module, err := loader.Get(summary.Name)
		if err != nil {
			installed.Close()
			return nil, err
		}
		inst, err := NewInstance(module, logger, DefaultTimeout)
		if err != nil {
			installed.Close()
			return nil, err
		}
		installed.instances = append(installed.instances, inst)
		topics := module.Metadata.Topics
		bus.Use("script:"+module.Name, func(ctx context.Context, evt *schema.Event) (*schema.Event, error) {
			if len(topics) > 0 && !eventbus.MatchAny(topics, evt.Name) {
				return evt, nil
			}
			return inst.Transform(ctx, evt)
		})
		logger.Info().Str("script", module.Name).Str("file", module.Filename).Msg("script transform installed")
	}
	return installed, nil
}
