// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Bastion derives printable password grids from a passphrase, fully
// offline. The same passphrase, card id and label parameters always
// reproduce the same grids; nothing is stored.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bastionpass/bastion/log"
)

func main() {
	root := &cobra.Command{
		Use:           "bastion",
		Short:         "deterministic password grid derivation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		if verbose {
			log.SetLevel(log.Debug)
		}
	}
	root.AddCommand(
		newGenerateCmd(),
		newProbeCmd(),
		newEntropyCmd(),
		newLabelCmd(),
	)
	if err := root.Execute(); err != nil {
		log.Error.Print(err)
		os.Exit(1)
	}
}
