// Package driver runs device drivers.
//
// A Driver implements one device protocol as a small capability interface.
// A Runner owns the driver's transport and runs its cycle on a dedicated
// goroutine locked to an OS thread, drains its command queue between
// cycles, and turns cycle errors into link status on the data bus under a
// bounded failure budget.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/types"
)

// Driver is implemented by every device driver. All methods are called from
// the runner's goroutine, never concurrently.
type Driver interface {
	// Setup runs once after the transport is open. An error aborts Start.
	Setup(env *Env) error

	// Cycle performs one read or request/reply step. It must return within
	// a bounded time, honouring ctx where it waits.
	Cycle(ctx context.Context, env *Env) error

	// HandleCommand applies one command. Unsupported commands return an
	// error wrapping errors.ErrUnsupported.
	HandleCommand(env *Env, cmd types.Command) error

	// Shutdown runs once after the loop exits, before the transport closes.
	Shutdown(env *Env) error
}

// Describer is optionally implemented to name the driver kind in logs and
// metrics.
type Describer interface {
	Kind() string
}

// Factory builds a driver from its protocol configuration.
type Factory func(raw json.RawMessage) (Driver, error)

// Factories maps driver names to factories. It is safe for concurrent use.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories creates an empty set.
func NewFactories() *Factories {
	return &Factories{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (f *Factories) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Factories", "Register", "validate factory")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.factories[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("driver %q already registered", name), "Factories", "Register", "register")
	}
	f.factories[name] = factory
	return nil
}

// Create builds a driver by name.
func (f *Factories) Create(name string, raw json.RawMessage) (Driver, error) {
	f.mu.RLock()
	factory, ok := f.factories[name]
	f.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown driver %q", name), "Factories", "Create", "lookup")
	}
	d, err := factory(raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Factories", "Create", "build "+name)
	}
	return d, nil
}

// Names lists registered drivers in order.
func (f *Factories) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.factories))
	for n := range f.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeConfig unmarshals raw into cfg, leaving cfg untouched when raw is
// empty. Drivers use it in their factories.
func DecodeConfig(raw json.RawMessage, cfg any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return errors.WrapInvalid(err, "driver", "DecodeConfig", "unmarshal protocol config")
	}
	return nil
}
