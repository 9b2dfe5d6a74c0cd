// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build !linux

package capability

// totalMemoryMb reports total system memory, or zero if it cannot be
// determined. Platforms without a sysinfo equivalent report zero,
// which selects the unconstrained default.
func totalMemoryMb() int {
	return 0
}
