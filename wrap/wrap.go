//go:build linux && cgo

// Package wrap replaces pthread_create through link-time symbol renaming.
//
// The package's LDFLAGS apply to the whole final link: every undefined
// reference to pthread_create, including those in the Go runtime's cgo
// thread start code, is renamed to __wrap_pthread_create, and
// __real_pthread_create is bound to the genuine implementation. There is no
// lookup at runtime. A link that does not honor --wrap fails to resolve
// __real_pthread_create and never produces a binary.
//
// Never link this package together with package interpose.
package wrap

/*
#cgo CFLAGS: -I${SRCDIR} -I${SRCDIR}/../internal/hook
#cgo LDFLAGS: -Wl,--wrap=pthread_create
#include "wrap.h"
*/
import "C"

import (
	"errors"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/binding"
	"github.com/sliverarmory/callshim/internal/hook"
)

var original = binding.Static("__real_"+callshim.Symbol, uintptr(C.callshim_wrap_original()))

// Wrapper returns the address of __wrap_pthread_create.
func Wrapper() uintptr {
	return uintptr(C.callshim_wrap_wrapper())
}

// Original returns the address bound to __real_pthread_create.
func Original() (uintptr, error) {
	return original.Resolve()
}

// Real is the outcome of CallReal.
type Real struct {
	Ran int
	// TID is the OS thread that made the calls.
	TID int
	// Since and Until bracket the hook sequence numbers that were current
	// while the calls ran. Any event TID recorded in (Since, Until] came
	// from those calls.
	Since uint64
	Until uint64
}

// CallReal creates and joins n threads through __real_pthread_create
// directly. Calls made this way bypass the wrapper entirely.
func CallReal(n int) (Real, error) {
	if n <= 0 {
		return Real{}, errors.New("wrap: thread count must be positive")
	}
	var (
		tid          C.int64_t
		since, until C.uint64_t
	)
	ran := int(C.callshim_wrap_call_real(C.int(n), &tid, &since, &until))
	res := Real{Ran: ran, TID: int(tid), Since: uint64(since), Until: uint64(until)}
	if ran < 0 {
		res.Ran = 0
		return res, errors.New("wrap: __real_pthread_create failed")
	}
	return res, nil
}

// Stats reports the hook counters and the __real_ alias of this process.
func Stats() callshim.Stats {
	addr, _ := original.Resolve()
	return callshim.Stats{
		Symbol:   callshim.Symbol,
		Strategy: callshim.StrategyWrap,
		Original: addr,
		Resolved: addr != 0,
		Counters: hook.Snapshot(),
	}
}

type target struct{}

// Target returns the wrap strategy as a callshim.Target.
func Target() callshim.Target {
	return target{}
}

func (target) Symbol() string { return callshim.Symbol }

func (target) Strategy() callshim.Strategy { return callshim.StrategyWrap }

func (target) Original() (uintptr, error) { return Original() }

func (target) Stats() callshim.Stats { return Stats() }
