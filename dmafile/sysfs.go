/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dmafile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultMaxSectorsSize and defaultMaxSegmentSize are used when the
// backing device has no sysfs queue directory (tmpfs, overlayfs, a device
// mapper target that doesn't expose queue/, a CI container with a
// restricted /sys). 1 MiB single-request and 128 KiB per-segment are
// conservative values seen on common virtio-blk/NVMe queues.
const (
	defaultMaxSectorsSize   = 1 << 20
	defaultMaxSegmentSize   = 128 << 10
	defaultLogicalBlockSize = 512
)

// blockLimits holds the device queue limits a DmaFile needs to plan
// aligned, amplification-bounded I/O.
type blockLimits struct {
	maxSectorsSize   int
	maxSegmentSize   int
	logicalBlockSize int
}

// readBlockLimits reads /sys/dev/block/<major>:<minor>/queue/* for the
// device hosting an open file. Falls back to conservative defaults for
// any attribute that can't be read, rather than failing the open — a
// missing queue/ directory is routine for virtual/overlay filesystems and
// must not prevent Direct I/O from working at a (safe) default alignment.
func readBlockLimits(major, minor uint32) blockLimits {
	dir := fmt.Sprintf("/sys/dev/block/%d:%d/queue", major, minor)

	limits := blockLimits{
		maxSectorsSize:   defaultMaxSectorsSize,
		maxSegmentSize:   defaultMaxSegmentSize,
		logicalBlockSize: defaultLogicalBlockSize,
	}

	if kb, ok := readSysfsInt(dir + "/max_sectors_kb"); ok {
		limits.maxSectorsSize = kb * 1024
	}
	if lbs, ok := readSysfsInt(dir + "/logical_block_size"); ok && lbs > 0 {
		limits.logicalBlockSize = lbs
	}
	if segs, ok := readSysfsInt(dir + "/max_segments"); ok {
		// sysfs exposes a segment *count*, not a byte size; the device's
		// segment byte limit is count * logical_block_size, not the host
		// page size (logical_block_size is what the block layer actually
		// merges segments against).
		limits.maxSegmentSize = segs * limits.logicalBlockSize
	}
	return limits
}

func readSysfsInt(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false
	}
	return n, true
}
