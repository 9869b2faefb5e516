// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Resinstat - Anycubic Resin Printer Client
//
// A CLI tool for querying, controlling and monitoring Anycubic resin
// printers over their TCP protocol.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/resinstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
