//go:build !linux || !cgo || (!callshim_interpose && !callshim_wrap)

package cli

import (
	"errors"
	"fmt"

	"github.com/sliverarmory/callshim"
)

// Without a linked strategy the only possible target is an interposer
// preloaded into this process.
const linkedStrategy = callshim.StrategyNone

func linkedTarget() (callshim.Target, error) {
	target, err := callshim.Preloaded()
	if errors.Is(err, callshim.ErrNotPreloaded) {
		return nil, fmt.Errorf("%w: %w", callshim.ErrNoTarget, err)
	}
	return target, err
}

// A preloaded interposer reads CALLSHIM_NOTICE and CALLSHIM_NOTICE_FD
// itself when it starts.
func linkedConfigure(notice bool, fd int) {}
