//go:build callshim_interpose && linux && cgo

package cli

import (
	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/internal/hook"
	"github.com/sliverarmory/callshim/interpose"
)

const linkedStrategy = callshim.StrategyInterpose

func linkedTarget() (callshim.Target, error) {
	if err := interpose.Verify(); err != nil {
		return nil, err
	}
	return interpose.Target(), nil
}

func linkedConfigure(notice bool, fd int) {
	hook.Configure(notice, fd)
}
