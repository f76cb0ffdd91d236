//go:build linux && cgo

package callshim

/*
#cgo CFLAGS: -I${SRCDIR}/internal/hook
#include <stdint.h>
#include "callshim_hook.h"

typedef void (*callshim_counters_fn)(callshim_counters *);

static void callshim_read_counters(uintptr_t fn, callshim_counters *out) {
	((callshim_counters_fn)fn)(out);
}
*/
import "C"

import (
	"errors"
	"fmt"

	"github.com/sliverarmory/callshim/binding"
	"github.com/sliverarmory/callshim/symbol"
)

type preloaded struct {
	counters uintptr
	peek     uintptr
	original *binding.Binding
}

// Preloaded locates an interposer loaded into this process with LD_PRELOAD
// and returns it as a Target. The process must not link package interpose
// or package wrap itself.
func Preloaded() (Target, error) {
	counters, err := symbol.Default(countersSymbol)
	if err != nil {
		if errors.Is(err, symbol.ErrSymbolNotFound) {
			return nil, ErrNotPreloaded
		}
		return nil, fmt.Errorf("callshim: %w", err)
	}
	resolve, err := symbol.Default(originalSymbol)
	if err != nil {
		return nil, fmt.Errorf("callshim: preloaded object without %s: %w", originalSymbol, err)
	}
	peek, err := symbol.Default(peekSymbol)
	if err != nil {
		return nil, fmt.Errorf("callshim: preloaded object without %s: %w", peekSymbol, err)
	}

	wrapper, err := symbol.Default(Symbol)
	if err != nil {
		return nil, fmt.Errorf("callshim: %w", err)
	}

	return &preloaded{
		counters: counters,
		peek:     peek,
		original: binding.New(Symbol, func(string) (uintptr, error) {
			return symbol.Call0(resolve), nil
		}, binding.WithSelf(wrapper)),
	}, nil
}

func (p *preloaded) Symbol() string { return Symbol }

func (p *preloaded) Strategy() Strategy { return StrategyInterpose }

func (p *preloaded) Original() (uintptr, error) {
	return p.original.Resolve()
}

func (p *preloaded) Stats() Stats {
	var c C.callshim_counters
	C.callshim_read_counters(C.uintptr_t(p.counters), &c)

	addr := symbol.Call0(p.peek)
	return Stats{
		Symbol:   Symbol,
		Strategy: StrategyInterpose,
		Original: addr,
		Resolved: addr != 0,
		Counters: Counters{
			Calls:       uint64(c.calls),
			Completed:   uint64(c.completed),
			Failures:    uint64(c.failures),
			Nested:      uint64(c.nested),
			Resolutions: uint64(c.resolutions),
		},
	}
}
