// Package binding holds the process-lifetime address of an original,
// un-intercepted function.
//
// A Binding starts unresolved. The first call to Resolve (or Address) runs
// the configured Resolver exactly once; the outcome, address or error, is
// cached for the lifetime of the Binding and shared by every goroutine.
// Concurrent first callers block on the same resolution and all observe the
// same result.
package binding

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrUnresolved is returned when the resolver yields a zero address.
	ErrUnresolved = errors.New("binding: no further definition of symbol")
	// ErrSelfReference is returned when the resolver yields the wrapper's
	// own address.
	ErrSelfReference = errors.New("binding: resolved address refers back to the wrapper")
)

// Resolver looks up the address of symbol.
type Resolver func(symbol string) (uintptr, error)

// ResolutionError is the panic value of Address when resolution failed.
type ResolutionError struct {
	Symbol string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("binding: resolve %q: %v", e.Symbol, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Option configures a Binding.
type Option func(*Binding)

// WithSelf rejects a resolution returning addr, the wrapper's own entry.
func WithSelf(addr uintptr) Option {
	return func(b *Binding) {
		b.self = addr
	}
}

// Binding is the cached original-function address for one symbol.
type Binding struct {
	name     string
	resolver Resolver
	self     uintptr

	addr atomic.Uintptr
	done atomic.Bool

	mu          sync.Mutex
	err         error
	resolutions atomic.Int64
}

// New creates an unresolved binding for name.
func New(name string, resolver Resolver, opts ...Option) *Binding {
	b := &Binding{
		name:     name,
		resolver: resolver,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Static creates a binding that is already resolved to addr. It models an
// alias fixed at link time: no lookup ever runs.
func Static(name string, addr uintptr) *Binding {
	b := &Binding{name: name}
	b.addr.Store(addr)
	if addr == 0 {
		b.err = ErrUnresolved
	}
	b.done.Store(true)
	return b
}

// Name is the symbol the binding resolves.
func (b *Binding) Name() string {
	return b.name
}

// Resolve returns the original address, running the resolver on first use.
func (b *Binding) Resolve() (uintptr, error) {
	if b.done.Load() {
		return b.result()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done.Load() {
		return b.addr.Load(), b.err
	}

	b.resolutions.Add(1)
	addr, err := b.lookup()
	if err != nil {
		b.err = &ResolutionError{Symbol: b.name, Err: err}
	} else {
		b.addr.Store(addr)
	}
	b.done.Store(true)
	return addr, b.err
}

func (b *Binding) lookup() (uintptr, error) {
	if b.resolver == nil {
		return 0, ErrUnresolved
	}
	addr, err := b.resolver(b.name)
	switch {
	case err != nil:
		return 0, err
	case addr == 0:
		return 0, ErrUnresolved
	case b.self != 0 && addr == b.self:
		return 0, ErrSelfReference
	}
	return addr, nil
}

func (b *Binding) result() (uintptr, error) {
	if addr := b.addr.Load(); addr != 0 {
		return addr, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return 0, b.err
}

// Address returns the resolved address. Forwarding through an unresolvable
// binding has no safe fallback, so Address panics with a *ResolutionError.
func (b *Binding) Address() uintptr {
	addr, err := b.Resolve()
	if err != nil {
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			rerr = &ResolutionError{Symbol: b.name, Err: err}
		}
		panic(rerr)
	}
	return addr
}

// Resolved reports whether a lookup has completed successfully.
func (b *Binding) Resolved() bool {
	return b.done.Load() && b.addr.Load() != 0
}

// Resolutions is the number of times the resolver ran. It never exceeds 1.
func (b *Binding) Resolutions() int64 {
	return b.resolutions.Load()
}
