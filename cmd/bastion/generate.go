// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bastionpass/bastion/capability"
	"github.com/bastionpass/bastion/errors"
	"github.com/bastionpass/bastion/grid"
	"github.com/bastionpass/bastion/kdf"
	"github.com/bastionpass/bastion/label"
	"github.com/bastionpass/bastion/log"
	"github.com/bastionpass/bastion/must"
	"github.com/bastionpass/bastion/schedule"
)

func newGenerateCmd() *cobra.Command {
	var (
		cardID       string
		seedType     string
		base         int
		timeCost     int
		memoryMb     int
		parallelism  int
		count        int
		dateStr      string
		budgetMb     int
		defaultsPath string
		phraseFile   string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "derive a batch of password cards from a passphrase",
		Long: `Generate reads a passphrase and derives a batch of password cards
from it. Output is deterministic: re-running with the same passphrase
and the same label (including its nonce) reproduces the cards exactly,
so re-derivation is the only backup a card needs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if defaultsPath != "" {
				d, err := loadDefaults(defaultsPath)
				if err != nil {
					return err
				}
				d.apply(cmd.Flags(), &cardID, &seedType, &base, &timeCost,
					&memoryMb, &parallelism, &count, &budgetMb)
			}
			if cardID == "" {
				cardID = uuid.NewString()
			}
			var date time.Time
			if dateStr != "" {
				var err error
				if date, err = time.Parse(label.DateLayout, dateStr); err != nil {
					return errors.E(errors.Invalid, "parse date", err)
				}
			}
			phrase, err := readPhrase(phraseFile)
			if err != nil {
				return err
			}
			defer kdf.Zero(phrase)

			cap := capability.Probe(cmd.Context(), capability.Config{})
			if cap.Broken {
				return errors.E(errors.Broken, errors.Fatal,
					"no memory tier works on this machine")
			}
			log.Debug.Printf("generate: capability %d MB, concurrent=%v",
				cap.MaxMemoryMb, cap.ConcurrentWorkers)

			sched := schedule.New(cap, schedule.Options{
				MemoryBudgetMb: budgetMb,
				Reporter:       progress{os.Stderr},
			})
			result, err := sched.Batch(cmd.Context(), phrase, schedule.Spec{
				SeedType: label.SeedType(strings.ToUpper(seedType)),
				CardID:   cardID,
				Base:     base,
				Date:     date,
				Params: label.Params{
					Time:        timeCost,
					MemoryMb:    memoryMb,
					Parallelism: parallelism,
				},
				Count: count,
			})
			if err != nil {
				return err
			}
			for i, jobErr := range result.Errs {
				log.Error.Printf("card %s: %v", label.MustCoordAt(i), jobErr)
			}

			// Rendering is independent per card; do it in parallel and
			// print in batch order.
			rendered := make([]string, len(result.Records))
			var g errgroup.Group
			for i, rec := range result.Records {
				i, rec := i, rec
				g.Go(func() error {
					rendered[i] = renderRecord(rec)
					return nil
				})
			}
			must.Nil(g.Wait())
			for _, s := range rendered {
				fmt.Fprint(cmd.OutOrStdout(), s)
			}
			if len(result.Errs) > 0 {
				return errors.E(fmt.Sprintf("%d of %d cards failed",
					len(result.Errs), len(result.Errs)+len(result.Records)))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cardID, "card-id", "", "card id; a fresh uuid if empty")
	flags.StringVar(&seedType, "seed-type", "phrase", "seed material kind: phrase, bip39 or shares")
	flags.IntVar(&base, "base", 90, "token alphabet size: 10, 62 or 90")
	flags.IntVar(&timeCost, "time", 3, "stretch pass count")
	flags.IntVar(&memoryMb, "memory", 512, "stretch memory in MB")
	flags.IntVar(&parallelism, "parallelism", 1, "stretch lane count")
	flags.IntVar(&count, "count", schedule.BatchSize, "cards per batch")
	flags.StringVar(&dateStr, "date", time.Now().Format(label.DateLayout),
		"label date (YYYY-MM-DD); empty omits it")
	flags.IntVar(&budgetMb, "budget", 0, "aggregate memory budget in MB; 0 auto-sizes")
	flags.StringVar(&defaultsPath, "defaults", "", "yaml file with flag defaults")
	flags.StringVar(&phraseFile, "phrase-file", "",
		"read the passphrase from this file instead of stdin")
	return cmd
}

// readPhrase reads the passphrase from the named file, or the first
// line of stdin. The returned buffer is the caller's to wipe.
func readPhrase(path string) ([]byte, error) {
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.E("read phrase file", err)
		}
		return bytes.TrimRight(b, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, "passphrase: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, errors.E("read passphrase", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// progress writes a coarse batch counter to its writer.
type progress struct {
	w *os.File
}

func (p progress) Init(n int) {
	fmt.Fprintf(p.w, "deriving %d cards\n", n)
}

func (p progress) Complete() {
	fmt.Fprintln(p.w, "done")
}

func (progress) Begin(int) {}

func (p progress) End(i int, st schedule.State) {
	if st != schedule.Complete {
		fmt.Fprintf(p.w, "card %s: %s\n", label.MustCoordAt(i), st)
	}
}

// renderRecord lays one card out for printing: id and label on top,
// then the grid with row letters and column digits.
func renderRecord(rec grid.Record) string {
	var b strings.Builder
	text, err := label.Build(rec.Label)
	must.Nilf(err, "record %s carries an unbuildable label", rec.ID)
	fmt.Fprintf(&b, "%s  (digest %s)\n%s\n\n", rec.ID, rec.Digest, text)
	b.WriteString("   ")
	for c := 0; c < grid.Size; c++ {
		fmt.Fprintf(&b, "%-5d", c)
	}
	b.WriteByte('\n')
	for r := 0; r < grid.Size; r++ {
		fmt.Fprintf(&b, "%c  ", 'A'+r)
		for c := 0; c < grid.Size; c++ {
			fmt.Fprintf(&b, "%-5s", rec.Matrix[r][c])
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
