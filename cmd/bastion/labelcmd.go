// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionpass/bastion/label"
)

func newLabelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "parse and verify printed labels",
	}
	cmd.AddCommand(newLabelParseCmd(), newLabelCheckCmd())
	return cmd
}

func newLabelParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <label>",
		Short: "parse a card or token label and print its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if card, err := label.ParseCard(args[0]); err == nil {
				fmt.Fprintf(out, "kind:        card\n")
				fmt.Fprintf(out, "seed type:   %s\n", card.SeedType)
				fmt.Fprintf(out, "kdf:         %s\n", card.KDF)
				fmt.Fprintf(out, "card id:     %s\n", card.CardID)
				fmt.Fprintf(out, "index:       %s\n", card.Index)
				if !card.Date.IsZero() {
					fmt.Fprintf(out, "date:        %s\n", card.Date.Format(label.DateLayout))
				}
				fmt.Fprintf(out, "time:        %d\n", card.Params.Time)
				fmt.Fprintf(out, "memory:      %d MB\n", card.Params.MemoryMb)
				fmt.Fprintf(out, "parallelism: %d\n", card.Params.Parallelism)
				fmt.Fprintf(out, "nonce:       %s\n", card.Nonce)
				fmt.Fprintf(out, "encoding:    base %d\n", card.Base)
				return nil
			}
			token, err := label.ParseToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "kind:       token\n")
			fmt.Fprintf(out, "card index: %s\n", token.CardIndex)
			fmt.Fprintf(out, "cell:       %s\n", token.Cell)
			return nil
		},
	}
}

func newLabelCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <label>",
		Short: "verify a label's check digit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := label.Validate(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
