//go:build linux && cgo

// Command callshim-preload is the interposer object. Build it with
//
//	go build -buildmode=c-shared -o libcallshim.so ./cmd/callshim-preload
//
// and load it with LD_PRELOAD. The object defines pthread_create and the
// callshim_* helpers; the Go runtime it carries only configures the hooks
// and logs.
package main

import "C"

import (
	"os"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/internal/config"
	"github.com/sliverarmory/callshim/internal/hook"
	"github.com/sliverarmory/callshim/internal/logging"
	"github.com/sliverarmory/callshim/interpose"
)

func init() {
	log := logging.NewWithComponent(logging.Config{
		Level:  "info",
		Output: os.Stderr,
	}, "preload")

	cfg, err := config.FromEnv()
	if err != nil {
		// The hooks already applied their own reading of the environment.
		log.Error().Err(err).Msg("invalid configuration, keeping hook defaults")
		return
	}
	log = logging.NewWithComponent(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	}, "preload")

	hook.Configure(cfg.Notice, cfg.NoticeFD)
	log.Debug().
		Int("pid", os.Getpid()).
		Str("symbol", callshim.Symbol).
		Str("strategy", interpose.Target().Strategy().String()).
		Bool("notice", cfg.Notice).
		Int("notice_fd", cfg.NoticeFD).
		Bool("resolved", interpose.Resolved()).
		Msg("interposer loaded")
}

func main() {}
