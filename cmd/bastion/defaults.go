// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bastionpass/bastion/errors"
)

// defaults are flag defaults loaded from a yaml file. A flag set
// explicitly on the command line always wins over the file.
type defaults struct {
	CardID      string `yaml:"card_id"`
	SeedType    string `yaml:"seed_type"`
	Base        int    `yaml:"base"`
	Time        int    `yaml:"time"`
	MemoryMb    int    `yaml:"memory_mb"`
	Parallelism int    `yaml:"parallelism"`
	Count       int    `yaml:"count"`
	BudgetMb    int    `yaml:"budget_mb"`
}

func loadDefaults(path string) (defaults, error) {
	var d defaults
	b, err := os.ReadFile(path)
	if err != nil {
		return d, errors.E("read defaults", err)
	}
	if err := yaml.Unmarshal(b, &d); err != nil {
		return d, errors.E(errors.Invalid, "parse defaults", err)
	}
	return d, nil
}

func (d defaults) apply(flags *pflag.FlagSet, cardID, seedType *string,
	base, timeCost, memoryMb, parallelism, count, budgetMb *int) {
	setStr := func(name string, dst *string, v string) {
		if v != "" && !flags.Changed(name) {
			*dst = v
		}
	}
	setInt := func(name string, dst *int, v int) {
		if v != 0 && !flags.Changed(name) {
			*dst = v
		}
	}
	setStr("card-id", cardID, d.CardID)
	setStr("seed-type", seedType, d.SeedType)
	setInt("base", base, d.Base)
	setInt("time", timeCost, d.Time)
	setInt("memory", memoryMb, d.MemoryMb)
	setInt("parallelism", parallelism, d.Parallelism)
	setInt("count", count, d.Count)
	setInt("budget", budgetMb, d.BudgetMb)
}
