// Copyright 2024 the Bastion Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build linux

package capability

import "golang.org/x/sys/unix"

// totalMemoryMb reports total system memory, or zero if it cannot be
// determined.
func totalMemoryMb() int {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int(uint64(info.Totalram) * uint64(info.Unit) >> 20)
}
