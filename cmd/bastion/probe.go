// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastionpass/bastion/capability"
	"github.com/bastionpass/bastion/errors"
)

func newProbeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "report how much memory the stretcher can use here",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cap := capability.Probe(cmd.Context(), capability.Config{
				ProbeTimeout: timeout,
			})
			if cap.Broken {
				return errors.E(errors.Broken, errors.Fatal,
					"no memory tier works on this machine")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "max memory:         %d MB\n", cap.MaxMemoryMb)
			fmt.Fprintf(cmd.OutOrStdout(), "concurrent workers: %v\n", cap.ConcurrentWorkers)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-candidate probe timeout; 0 uses the default")
	return cmd
}
