// Package registry binds configured devices to running drivers and lets
// the rest of the process find them by name or address.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/types"
)

// Table maps device names and addresses to runners. A name or address is
// bound at most once until it is explicitly unbound.
type Table struct {
	mu     sync.RWMutex
	byName map[string]*driver.Runner
	byAddr map[types.Address]*driver.Runner
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byName: make(map[string]*driver.Runner),
		byAddr: make(map[types.Address]*driver.Runner),
	}
}

// Bind records r under its name and address.
func (t *Table) Bind(r *driver.Runner) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byAddr[r.Address()]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s held by %s", errors.ErrAddressInUse, r.Address(), existing.Name()),
			"Table", "Bind", "bind "+r.Name())
	}
	if _, ok := t.byName[r.Name()]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: name %s", errors.ErrAddressInUse, r.Name()),
			"Table", "Bind", "bind "+r.Name())
	}
	t.byName[r.Name()] = r
	t.byAddr[r.Address()] = r
	return nil
}

// Unbind removes the runner bound at addr and returns it.
func (t *Table) Unbind(addr types.Address) (*driver.Runner, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byAddr[addr]
	if !ok {
		return nil, false
	}
	delete(t.byAddr, addr)
	delete(t.byName, r.Name())
	return r, true
}

// Lookup finds a runner by device name.
func (t *Table) Lookup(name string) (*driver.Runner, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.byName[name]; ok {
		return r, nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: name %s", errors.ErrNoDriver, name), "Table", "Lookup", "lookup")
}

// Resolve finds the runner bound to addr.
func (t *Table) Resolve(addr types.Address) (*driver.Runner, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.byAddr[addr]; ok {
		return r, nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrNoDriver, addr), "Table", "Resolve", "resolve")
}

// List returns the bound runners ordered by name.
func (t *Table) List() []*driver.Runner {
	t.mu.RLock()
	out := make([]*driver.Runner, 0, len(t.byName))
	for _, r := range t.byName {
		out = append(out, r)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len reports how many devices are bound.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}
