//go:build linux && cgo

// Package hooktest calls the C hook entry points directly, in the order an
// intercepted call would, so hook behavior can be checked without creating
// threads.
package hooktest

/*
#cgo CFLAGS: -I${SRCDIR}/..
#include <errno.h>
#include <stdint.h>
#include <stdlib.h>
#include "callshim_hook.h"

#define CALLSHIM_HOOKTEST_MASK 0x5bd1e995ULL

static void callshim_hooktest_calls(int n) {
	for (int i = 0; i < n; i++) {
		if (!callshim_hook_enter()) {
			callshim_hook_leave();
			continue;
		}
		uint64_t call = callshim_hook_pre("hooktest", "hooktest");
		callshim_hook_post("hooktest", call, (int)(call % 97), call ^ CALLSHIM_HOOKTEST_MASK);
		callshim_hook_leave();
	}
}

// An intercepted call whose original intercepts the same symbol again on
// the same thread.
static void callshim_hooktest_nested(int *outer, int *inner) {
	*outer = callshim_hook_enter();
	uint64_t call = callshim_hook_pre("hooktest", "hooktest");
	*inner = callshim_hook_enter();
	callshim_hook_leave();
	callshim_hook_post("hooktest", call, (int)(call % 97), call ^ CALLSHIM_HOOKTEST_MASK);
	callshim_hook_leave();
}

static int callshim_hooktest_errno(int sentinel, int result) {
	errno = sentinel;
	callshim_hook_enter();
	uint64_t call = callshim_hook_pre("hooktest", "hooktest");
	callshim_hook_post("hooktest", call, result, 0);
	callshim_hook_leave();
	callshim_hook_resolved("hooktest", NULL);
	return errno;
}
*/
import "C"

import (
	"unsafe"

	// Links the hook implementation.
	_ "github.com/sliverarmory/callshim/internal/hook"
)

// Mask relates a post event's Thread to its Call: Thread == Call ^ Mask.
const Mask = 0x5bd1e995

// Result is the result code Calls records for call.
func Result(call uint64) int {
	return int(call % 97)
}

// Calls runs n complete pre/post hook pairs on the calling thread.
func Calls(n int) {
	C.callshim_hooktest_calls(C.int(n))
}

// Nested runs one hooked call that re-enters the hooks before returning and
// reports what each enter returned.
func Nested() (outer, inner bool) {
	var o, i C.int
	C.callshim_hooktest_nested(&o, &i)
	return o != 0, i != 0
}

// ErrnoAfterHooks sets errno to sentinel, runs the pre, post and resolve
// hooks (post with result) and returns errno afterwards.
func ErrnoAfterHooks(sentinel, result int) int {
	return int(C.callshim_hooktest_errno(C.int(sentinel), C.int(result)))
}

// Switch applies the C hooks' on/off rule to value.
func Switch(value string) bool {
	cs := C.CString(value)
	defer C.free(unsafe.Pointer(cs))
	return C.callshim_hook_switch(cs) != 0
}
