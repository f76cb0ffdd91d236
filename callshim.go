// Package callshim intercepts calls to a library function, runs hook logic
// around them and forwards to the original implementation.
//
// Two strategies implement the same contract and are chosen when a binary
// is built, never at runtime:
//
//   - interpose: a preloaded shared object defines the target symbol and
//     finds the original with a one-time RTLD_NEXT lookup.
//   - wrap: the linker renames every reference to the target symbol to
//     __wrap_<symbol> and exposes the original as __real_<symbol>.
//
// Both report their state through the Target interface defined here.
package callshim

import (
	"errors"
	"fmt"
	"sort"
)

// Symbol is the intercepted library function.
const Symbol = "pthread_create"

const (
	countersSymbol = "callshim_hook_counters"
	originalSymbol = "callshim_interpose_original"
	peekSymbol     = "callshim_interpose_peek"
)

// Exports are the dynamic symbols an interposer object must export.
var Exports = []string{Symbol, countersSymbol, originalSymbol, peekSymbol}

var (
	ErrNotPreloaded = errors.New("callshim: no preloaded interposer in this process")
	ErrNoTarget     = errors.New("callshim: binary was built without an interception strategy")
)

// Strategy identifies the mechanism that put the wrapper in place.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyInterpose
	StrategyWrap
)

func (s Strategy) String() string {
	switch s {
	case StrategyInterpose:
		return "interpose"
	case StrategyWrap:
		return "wrap"
	default:
		return "none"
	}
}

// Counters are cumulative hook statistics for the whole process.
type Counters struct {
	Calls       uint64 `json:"calls"`
	Completed   uint64 `json:"completed"`
	Failures    uint64 `json:"failures"`
	Nested      uint64 `json:"nested"`
	Resolutions uint64 `json:"resolutions"`
}

// Sub returns the per-field difference c - prev.
func (c Counters) Sub(prev Counters) Counters {
	return Counters{
		Calls:       c.Calls - prev.Calls,
		Completed:   c.Completed - prev.Completed,
		Failures:    c.Failures - prev.Failures,
		Nested:      c.Nested - prev.Nested,
		Resolutions: c.Resolutions - prev.Resolutions,
	}
}

type EventKind uint32

const (
	EventResolve EventKind = iota + 1
	EventPre
	EventPost
)

func (k EventKind) String() string {
	switch k {
	case EventResolve:
		return "resolve"
	case EventPre:
		return "pre"
	case EventPost:
		return "post"
	default:
		return fmt.Sprintf("EventKind(%d)", uint32(k))
	}
}

// Event is one hook invocation. Seq is a process-wide, strictly increasing
// sequence number. For post events Thread is the handle the original wrote
// for the caller; for resolve events it is the resolved address.
type Event struct {
	Seq    uint64
	Call   uint64
	Kind   EventKind
	Result int
	Thread uint64
	TID    int
}

// SortEvents orders events by sequence number.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
}

// Stats describes a target at a point in time.
type Stats struct {
	Symbol   string
	Strategy Strategy
	Original uintptr
	Resolved bool
	Counters Counters
}

// Target is an intercepted call target: something that can produce the
// original implementation's address and report hook activity.
type Target interface {
	Symbol() string
	Strategy() Strategy
	Original() (uintptr, error)
	Stats() Stats
}
