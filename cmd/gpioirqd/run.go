// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rfctl/gpioirq"
	"github.com/rfctl/gpioirq/pinmux"
	"github.com/rfctl/gpioirq/uio"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func init() {
	runCmd.Flags().StringVarP(&runOpts.DevDir, "dev-dir", "d", uio.DefaultDevDir, "the directory containing the uio devices")
	runCmd.Flags().DurationVarP(&runOpts.Settle, "settle", "s", 0, "wait up to this long for uio devices to appear")
	runCmd.Flags().StringVarP(&runOpts.Pinmux, "pinmux", "p", "", "command setting a pin to GPIO, e.g. \"pinmux {group} {offset} {mode}\"")
	runCmd.Flags().UintVarP(&runOpts.NumEvents, "num-events", "n", 0, "exit after n interrupts")
	runCmd.Flags().BoolVarP(&runOpts.Quiet, "quiet", "q", false, "don't log interrupt details")
	runCmd.SetHelpTemplate(runCmd.HelpTemplate() + extendedRunHelp)
	rootCmd.AddCommand(runCmd)
}

var extendedRunHelp = `
Signals:
  SIGINT, SIGTERM: stop monitoring and exit
  SIGUSR1:         toggle trace logging
`

var (
	runCmd = &cobra.Command{
		Use:                   "run [flags]",
		Short:                 "Monitor the configured interrupts",
		Long:                  `Acquire the configured channels and log each interrupt until terminated.`,
		Args:                  cobra.NoArgs,
		RunE:                  run,
		DisableFlagsInUseLine: true,
	}
	runOpts = struct {
		DevDir    string
		Settle    time.Duration
		Pinmux    string
		NumEvents uint
		Quiet     bool
	}{}
)

type event struct {
	channel int
	level   int
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()
	opts := []gpioirq.Option{
		gpioirq.WithLogger(log),
		gpioirq.WithDevDir(runOpts.DevDir),
		gpioirq.WithDeviceSettle(runOpts.Settle),
		gpioirq.TraceOption(rootOpts.Trace),
	}
	if runOpts.Pinmux != "" {
		pm, err := pinmux.NewCommand(runOpts.Pinmux)
		if err != nil {
			return err
		}
		opts = append(opts, gpioirq.WithPinmux(pm))
	}
	s := gpioirq.NewSystem(newLoader(cmd), opts...)
	gpioirq.SetDefault(s)
	if err := gpioirq.Init(); err != nil {
		return err
	}
	defer gpioirq.Deinit()

	evtchan := make(chan event)
	done := make(chan struct{})
	defer close(done)
	cb := func(channel, level int) {
		select {
		case evtchan <- event{channel, level}:
		case <-done:
		}
	}
	ctx := s.Context()
	for i := range ctx.Channels {
		if !ctx.Enabled(i) {
			continue
		}
		if err := gpioirq.RegisterCallback(i, cb); err != nil {
			return err
		}
	}
	runWait(s, log, evtchan)
	return nil
}

func runWait(s *gpioirq.System, log zerolog.Logger, evtchan <-chan event) {
	sigdone := make(chan os.Signal, 1)
	signal.Notify(sigdone, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigdone)
	sigtrace := make(chan os.Signal, 1)
	signal.Notify(sigtrace, syscall.SIGUSR1)
	defer signal.Stop(sigtrace)
	count := uint(0)
	for {
		select {
		case evt := <-evtchan:
			if !runOpts.Quiet {
				log.Info().
					Int("channel", evt.channel).
					Int("level", evt.level).
					Msg("interrupt")
			}
			count++
			if runOpts.NumEvents > 0 && count >= runOpts.NumEvents {
				return
			}
		case <-sigtrace:
			trace := !s.TraceEnabled()
			gpioirq.SetTraceEnabled(trace)
			log.Info().Bool("trace", trace).Msg("trace toggled")
		case <-sigdone:
			return
		}
	}
}
