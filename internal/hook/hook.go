//go:build linux && cgo

// Package hook is the C hook logic shared by both interception strategies.
//
// Hooks never call the intercepted symbol and never enter Go: they may run
// on threads the Go runtime is still creating. A per-thread depth counter
// turns nested intercepted calls into plain forwards.
package hook

/*
#cgo CFLAGS: -I${SRCDIR}
#include "callshim_hook.h"
*/
import "C"

import (
	"github.com/sliverarmory/callshim"
)

// Configure enables or disables the diagnostic notice and, when fd >= 0,
// redirects it. It overrides CALLSHIM_NOTICE and CALLSHIM_NOTICE_FD.
func Configure(notice bool, fd int) {
	on := C.int(0)
	if notice {
		on = 1
	}
	C.callshim_hook_configure(on, C.int(fd))
}

// NoticeEnabled reports whether intercepted calls currently write the
// notice line.
func NoticeEnabled() bool {
	return C.callshim_hook_notice_enabled() != 0
}

// Snapshot returns the current hook counters.
func Snapshot() callshim.Counters {
	var c C.callshim_counters
	C.callshim_hook_counters(&c)
	return callshim.Counters{
		Calls:       uint64(c.calls),
		Completed:   uint64(c.completed),
		Failures:    uint64(c.failures),
		Nested:      uint64(c.nested),
		Resolutions: uint64(c.resolutions),
	}
}

// Events returns the retained hook events ordered by sequence number.
// Only the most recent 1024 events are kept.
func Events() []callshim.Event {
	buf := make([]C.callshim_event, C.CALLSHIM_EVENT_RING)
	n := int(C.callshim_hook_events(&buf[0], C.size_t(len(buf))))

	events := make([]callshim.Event, 0, n)
	for _, ev := range buf[:n] {
		events = append(events, callshim.Event{
			Seq:    uint64(ev.seq),
			Call:   uint64(ev.call),
			Kind:   callshim.EventKind(ev.kind),
			Result: int(ev.result),
			Thread: uint64(ev.thread),
			TID:    int(ev.tid),
		})
	}
	callshim.SortEvents(events)
	return events
}

// Sequence returns the sequence number of the most recent event, 0 before
// any hook ran.
func Sequence() uint64 {
	return uint64(C.callshim_hook_sequence())
}
