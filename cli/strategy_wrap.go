//go:build callshim_wrap && linux && cgo

package cli

import (
	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/internal/hook"
	"github.com/sliverarmory/callshim/wrap"
)

const linkedStrategy = callshim.StrategyWrap

func linkedTarget() (callshim.Target, error) {
	return wrap.Target(), nil
}

func linkedConfigure(notice bool, fd int) {
	hook.Configure(notice, fd)
}
