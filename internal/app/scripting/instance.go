package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/internal/domain/schema"
)

// ErrTransformMissing reports a script without a callable transform export.
var ErrTransformMissing = errors.New("transform export missing")

// DefaultTimeout bounds a single transform call.
const DefaultTimeout = 250 * time.Millisecond

// Instance owns one goja runtime for a module. goja runtimes are not safe for concurrent
// use, so calls are serialised through a single goroutine.
type Instance struct {
	module  *Module
	rt      *goja.Runtime
	export  *goja.Object
	timeout time.Duration
	queue   chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewInstance executes module in a fresh runtime. console.* calls are forwarded to logger.
func NewInstance(module *Module, logger zerolog.Logger, timeout time.Duration) (*Instance, error) {
	if module == nil {
		return nil, fmt.Errorf("script instance: module required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rt := goja.New()
	if err := rt.Set("console", buildConsole(rt, logger.With().Str("script", module.Name).Logger())); err != nil {
		return nil, fmt.Errorf("script instance: %w", err)
	}
	export, err := runModule(rt, module.Program)
	if err != nil {
		return nil, fmt.Errorf("script instance: execute %s: %w", module.Filename, err)
	}
	inst := &Instance{
		module:  module,
		rt:      rt,
		export:  export,
		timeout: timeout,
		queue:   make(chan func()),
	}
	inst.wg.Add(1)
	go inst.loop()
	return inst, nil
}

func (i *Instance) loop() {
	defer i.wg.Done()
	for cb := range i.queue {
		cb()
	}
}

// Transform passes evt to the script. A returned object replaces the event's data,
// metadata and scope where present; undefined or null keeps the event; false rejects it.
func (i *Instance) Transform(ctx context.Context, evt *schema.Event) (*schema.Event, error) {
	type outcome struct {
		evt *schema.Event
		err error
	}
	wait := make(chan outcome, 1)

	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return nil, fmt.Errorf("script %s: closed", i.module.Name)
	}
	i.queue <- func() {
		out, err := i.call(ctx, evt)
		wait <- outcome{evt: out, err: err}
	}
	i.mu.RUnlock()

	res := <-wait
	return res.evt, res.err
}

func (i *Instance) call(ctx context.Context, evt *schema.Event) (*schema.Event, error) {
	callable, ok := goja.AssertFunction(i.export.Get("transform"))
	if !ok {
		return nil, ErrTransformMissing
	}
	timeout := i.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.AfterFunc(timeout, func() { i.rt.Interrupt("transform timed out") })
	defer func() {
		timer.Stop()
		i.rt.ClearInterrupt()
	}()

	input, err := scriptInput(evt)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", i.module.Name, err)
	}
	value, err := callable(goja.Undefined(), i.rt.ToValue(input))
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", i.module.Name, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return evt, nil
	}
	if b, ok := value.Export().(bool); ok {
		if b {
			return evt, nil
		}
		return nil, fmt.Errorf("script %s: event rejected", i.module.Name)
	}
	obj, ok := value.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("script %s: transform must return an object, null or a boolean", i.module.Name)
	}
	out := evt.Clone()
	if data, ok := obj["data"]; ok {
		out.Payload = data
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		for k, v := range meta {
			out.Metadata[k] = v
		}
	}
	if raw, ok := obj["scope"].(string); ok {
		scope, err := schema.ParseScope(raw, out.Scope)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", i.module.Name, err)
		}
		out.Scope = scope
	}
	return out, nil
}

// scriptInput renders evt in its wire shape. The script receives its own copy so
// writes to event.data never reach the caller's payload.
func scriptInput(evt *schema.Event) (map[string]any, error) {
	raw, err := json.Marshal(schema.FrameFromEvent(evt))
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if _, ok := input["scope"]; !ok {
		input["scope"] = string(evt.Scope)
	}
	return input, nil
}

// Close stops the instance goroutine.
func (i *Instance) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.queue)
	i.mu.Unlock()
	i.wg.Wait()
}

func buildConsole(rt *goja.Runtime, logger zerolog.Logger) *goja.Object {
	console := rt.NewObject()
	logAt := func(level zerolog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]any, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.Export())
			}
			logger.WithLevel(level).Msg(fmt.Sprint(parts...))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt(zerolog.InfoLevel))
	_ = console.Set("info", logAt(zerolog.InfoLevel))
	_ = console.Set("warn", logAt(zerolog.WarnLevel))
	_ = console.Set("error", logAt(zerolog.ErrorLevel))
	return console
}
