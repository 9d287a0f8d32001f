// Package scripting loads JavaScript event transforms from a directory and installs them
// on the bus pipeline. A script exports `metadata` ({name, topics}) and a `transform(event)`
// function.
package scripting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

// ErrModuleNotFound reports missing script modules.
var ErrModuleNotFound = errors.New("script module not found")

// Metadata is exported by every script.
type Metadata struct {
	Name string `json:"name"`
	// Topics limits the transform to matching events; empty applies it to every event.
	Topics []string `json:"topics"`
}

// Module is a compiled script.
type Module struct {
	Name     string
	Filename string
	Hash     string
	Metadata Metadata
	Program  *goja.Program
}

// Summary exposes module details without the compiled program.
type Summary struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Hash   string   `json:"hash"`
	Topics []string `json:"topics"`
}

// Loader compiles the scripts found in one directory.
type Loader struct {
	mu      sync.RWMutex
	root    string
	modules map[string]*Module
}

// NewLoader constructs a loader rooted at dir.
func NewLoader(dir string) (*Loader, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("script loader: root directory required")
	}
	return &Loader{root: filepath.Clean(trimmed), modules: make(map[string]*Module)}, nil
}

// Root returns the directory scripts are read from.
func (l *Loader) Root() string {
	return l.root
}

// Refresh replaces the loaded modules with the scripts currently on disk. A compile
// failure leaves the previous set in place.
func (l *Loader) Refresh(ctx context.Context) error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return fmt.Errorf("script loader: read directory %q: %w", l.root, err)
	}
	next := make(map[string]*Module)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("script loader: refresh canceled: %w", err)
		}
		if entry.IsDir() || !isJavaScriptFile(entry.Name()) {
			continue
		}
		module, err := compileModule(filepath.Join(l.root, entry.Name()), entry.Name())
		if err != nil {
			return err
		}
		if _, exists := next[module.Name]; exists {
			return fmt.Errorf("script loader: duplicate script name %q", module.Name)
		}
		next[module.Name] = module
	}
	l.mu.Lock()
	l.modules = next
	l.mu.Unlock()
	return nil
}

// List returns the loaded modules ordered by name.
func (l *Loader) List() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Summary, 0, len(l.modules))
	for _, m := range l.modules {
		out = append(out, Summary{
			Name:   m.Name,
			File:   m.Filename,
			Hash:   m.Hash,
			Topics: append([]string(nil), m.Metadata.Topics...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the compiled module for name.
func (l *Loader) Get(name string) (*Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.modules[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrModuleNotFound
	}
	return m, nil
}

func isJavaScriptFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".mjs")
}

func compileModule(fullPath, filename string) (*Module, error) {
	// #nosec G304 -- fullPath comes from os.ReadDir within the loader root.
	source, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("script loader: read %q: %w", fullPath, err)
	}
	return compileSource(filename, source)
}

func compileSource(filename string, source []byte) (*Module, error) {
	prog, err := goja.Compile(filename, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("script loader: compile %q: %w", filename, err)
	}
	meta, err := extractMetadata(prog)
	if err != nil {
		return nil, fmt.Errorf("script loader: %s: %w", filename, err)
	}
	sum := sha256.Sum256(source)
	return &Module{
		Name:     meta.Name,
		Filename: filename,
		Hash:     hex.EncodeToString(sum[:]),
		Metadata: meta,
		Program:  prog,
	}, nil
}

func extractMetadata(program *goja.Program) (Metadata, error) {
	rt := goja.New()
	exports, err := runModule(rt, program)
	if err != nil {
		return Metadata{}, err
	}
	raw := exports.Get("metadata")
	if raw == nil || goja.IsUndefined(raw) || goja.IsNull(raw) {
		return Metadata{}, fmt.Errorf("metadata export missing")
	}
	var meta Metadata
	if err := rt.ExportTo(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("metadata export invalid: %w", err)
	}
	meta.Name = strings.ToLower(strings.TrimSpace(meta.Name))
	if meta.Name == "" {
		return Metadata{}, fmt.Errorf("metadata name required")
	}
	for _, topic := range meta.Topics {
		if err := eventbus.ValidateTopic(topic); err != nil {
			return Metadata{}, fmt.Errorf("metadata topics: %w", err)
		}
	}
	if fn := exports.Get("transform"); fn == nil {
		return Metadata{}, ErrTransformMissing
	} else if _, ok := goja.AssertFunction(fn); !ok {
		return Metadata{}, ErrTransformMissing
	}
	return meta, nil
}

func runModule(rt *goja.Runtime, program *goja.Program) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}
	object := module.Get("exports").ToObject(rt)
	if object == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}
