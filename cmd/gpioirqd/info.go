// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

//go:build linux
// +build linux

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rfctl/gpioirq"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:                   "info [flags]",
	Short:                 "Info about the configured channels",
	Long:                  `Load the channel configuration and print the pin, device and consumer of each channel.`,
	Args:                  cobra.NoArgs,
	RunE:                  info,
	DisableFlagsInUseLine: true,
}

func info(cmd *cobra.Command, args []string) error {
	ctx, err := newLoader(cmd).LoadContext()
	if err != nil {
		return err
	}
	printContext(os.Stdout, ctx)
	if err := ctx.Validate(); err != nil {
		logErr(cmd, err)
		os.Exit(1)
	}
	return nil
}

func printContext(w io.Writer, ctx *gpioirq.Context) {
	fmt.Fprintf(w, "%d channels, %d enabled:\n", len(ctx.Channels), ctx.EnabledCount())
	for i, ch := range ctx.Channels {
		state := "enabled"
		if !ch.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "\tchannel %d: %-12s %-8s uio%-3d %q\n",
			i,
			fmt.Sprintf("%s:%d", gpioirq.ChipName(ch.Group), ch.Offset),
			state,
			ch.Device,
			ch.Consumer)
	}
}
