// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

// A daemon delivering GPIO interrupts from UIO devices.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rfctl/gpioirq"
	"github.com/rfctl/gpioirq/cfgstore"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warthog618/config/dict"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootOpts.ConfigFile, "config-file", "c", "gpioirq.json", "the JSON config file")
	pf.StringVar(&rootOpts.Region, "region", gpioirq.DefaultRegion, "the config region holding the channels")
	pf.StringVar(&rootOpts.Base, "base", gpioirq.DefaultBase, "the path of the channels within the region")
	pf.BoolVarP(&rootOpts.Trace, "trace", "t", false, "enable trace logging")
}

var (
	rootCmd = &cobra.Command{
		Use:   "gpioirqd",
		Short: "gpioirqd delivers GPIO interrupts",
		Long:  "gpioirqd monitors the GPIO interrupts raised through Linux UIO devices",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootOpts = struct {
		ConfigFile string
		Region     string
		Base       string
		Trace      bool
	}{}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// newStore returns the config store selected by the root flags.
//
// An explicit --config-file takes precedence over GPIOIRQ_CONFIG_FILE.
func newStore(cmd *cobra.Command) *cfgstore.Store {
	opts := []cfgstore.Option{cfgstore.WithConfigFile(rootOpts.ConfigFile)}
	if cmd.Flags().Changed("config-file") {
		opts = append(opts, cfgstore.WithOverride(dict.New(dict.WithMap(
			map[string]interface{}{
				"config": map[string]interface{}{
					"file": rootOpts.ConfigFile,
				},
			}))))
	}
	return cfgstore.New(opts...)
}

func newLoader(cmd *cobra.Command) gpioirq.StoreLoader {
	return gpioirq.StoreLoader{
		Store:  newStore(cmd),
		Region: rootOpts.Region,
		Base:   rootOpts.Base,
	}
}

func logErr(cmd *cobra.Command, err error) {
	fmt.Fprintf(os.Stderr, "gpioirqd %s: %s\n", cmd.Name(), err)
}
