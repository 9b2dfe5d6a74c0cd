// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bastionpass/bastion/entropy"
)

func newEntropyCmd() *cobra.Command {
	var (
		p              entropy.Params
		c              entropy.Compromise
		tokenReduction float64
	)
	cmd := &cobra.Command{
		Use:   "entropy",
		Short: "estimate password strength under compromise scenarios",
		Long: `Entropy itemizes the bits of security of a password assembled from
grid tokens, under a chosen compromise scenario. The estimates are
design-time guidance, not a formal proof of strength.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := entropy.Model{TokenReduction: tokenReduction}
			r := m.Estimate(p, c)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "seed\t%.1f bits\n", r.SeedBits)
			fmt.Fprintf(w, "label\t%.1f bits\n", r.LabelBits)
			fmt.Fprintf(w, "card selection\t%.1f bits\n", r.CardSelectionBits)
			fmt.Fprintf(w, "coordinates\t%.1f bits\n", r.CoordinateBits)
			fmt.Fprintf(w, "tokens\t%.1f bits\n", r.TokenBits)
			fmt.Fprintf(w, "memorized\t%.1f bits\n", r.MemorizedBits)
			fmt.Fprintf(w, "total\t%.1f bits\n", r.Total)
			return w.Flush()
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&p.AlphabetSize, "base", 90, "token alphabet size: 10, 62 or 90")
	flags.Float64Var(&p.SeedBits, "seed-bits", 77, "entropy of the seed material")
	flags.Float64Var(&p.DateBits, "date-bits", 0, "entropy of the label date")
	flags.Float64Var(&p.CardIDBits, "cardid-bits", 0, "entropy of the card id")
	flags.Float64Var(&p.MemorizedBits, "memorized-bits", 0, "bits the user appends from memory")
	flags.IntVar(&p.Coordinates, "coordinates", 4, "grid positions per password")
	flags.BoolVar(&c.GridKnown, "grid-known", false, "attacker holds the physical card")
	flags.BoolVar(&c.SeedKnown, "seed-known", false, "seed material leaked")
	flags.BoolVar(&c.LabelKnown, "label-known", false, "full label text leaked")
	flags.BoolVar(&c.CardIDKnown, "cardid-known", false, "card id leaked")
	flags.Float64Var(&tokenReduction, "token-reduction", 0,
		"override the label-known token reduction factor; 0 uses the default")
	return cmd
}
