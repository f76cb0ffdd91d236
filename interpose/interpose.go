//go:build linux && cgo

// Package interpose replaces pthread_create by symbol interposition.
//
// Linking this package defines a C pthread_create in the final binary. In a
// c-shared object loaded with LD_PRELOAD the dynamic loader binds every
// pthread_create reference in the process to it; in an ordinary executable
// the static linker does the same for the executable's own references. On
// its first call the wrapper looks up the next definition of pthread_create
// after its own module exactly once (pthread_once around
// dlsym(RTLD_NEXT)), then runs the hooks and forwards every call to it
// unchanged. A failed lookup aborts the process.
//
// Never link this package together with package wrap.
package interpose

/*
#cgo CFLAGS: -I${SRCDIR} -I${SRCDIR}/../internal/hook
#cgo LDFLAGS: -ldl
#include "interpose.h"
*/
import "C"

import (
	"fmt"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/binding"
	"github.com/sliverarmory/callshim/internal/hook"
	"github.com/sliverarmory/callshim/symbol"
)

var original = binding.New(callshim.Symbol, func(string) (uintptr, error) {
	return uintptr(C.callshim_interpose_original()), nil
}, binding.WithSelf(Wrapper()))

// Wrapper returns the address of the interposing pthread_create.
func Wrapper() uintptr {
	return uintptr(C.callshim_interpose_wrapper())
}

// Original returns the genuine pthread_create, resolving it if no
// intercepted call has happened yet.
func Original() (uintptr, error) {
	return original.Resolve()
}

// Resolved reports whether the wrapper has looked up the original, without
// triggering the lookup.
func Resolved() bool {
	return C.callshim_interpose_peek() != 0
}

// Lookups is the number of times the wrapper ran its next-definition
// lookup. It is 0 before the first intercepted call and 1 forever after.
func Lookups() uint64 {
	return uint64(C.callshim_interpose_lookups())
}

// Verify checks that the original lives in a different module than the
// wrapper, i.e. the binding never points back into the interposer.
func Verify() error {
	addr, err := Original()
	if err != nil {
		return fmt.Errorf("interpose: %w", err)
	}
	self, err := symbol.Owner(Wrapper())
	if err != nil {
		return fmt.Errorf("interpose: locate wrapper: %w", err)
	}
	owner, err := symbol.Owner(addr)
	if err != nil {
		return fmt.Errorf("interpose: locate original: %w", err)
	}
	if owner == self {
		return fmt.Errorf("interpose: original %#x resolved inside the interposer %s", addr, self)
	}
	return nil
}

// Stats reports the hook counters and the resolved original of this process.
func Stats() callshim.Stats {
	addr := uintptr(C.callshim_interpose_peek())
	return callshim.Stats{
		Symbol:   callshim.Symbol,
		Strategy: callshim.StrategyInterpose,
		Original: addr,
		Resolved: addr != 0,
		Counters: hook.Snapshot(),
	}
}

type target struct{}

// Target returns the interposition strategy as a callshim.Target.
func Target() callshim.Target {
	return target{}
}

func (target) Symbol() string { return callshim.Symbol }

func (target) Strategy() callshim.Strategy { return callshim.StrategyInterpose }

func (target) Original() (uintptr, error) { return Original() }

func (target) Stats() callshim.Stats { return Stats() }
