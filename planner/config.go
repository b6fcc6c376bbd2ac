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

package planner

import "github.com/cloudwego/iocore/dmafile"

// IoVec is a logical read request: a position and a size, in the file's
// own (unaligned) coordinate space.
type IoVec struct {
	Pos  uint64
	Size int
}

type mergeKind int

const (
	mergeNone mergeKind = iota
	mergeDeviceMax
	mergeCustom
)

// MergedBufferLimit bounds how large a single coalesced system read may
// grow. Build one with NoMerging, DeviceMaxSingleRequest, or
// CustomMergedBufferLimit.
type MergedBufferLimit struct {
	kind mergeKind
	n    int
}

// NoMerging disables coalescing entirely: every iovec gets its own
// block-aligned system read, even if adjacent or overlapping ones exist.
var NoMerging = MergedBufferLimit{kind: mergeNone}

// DeviceMaxSingleRequest resolves M to the device's max single-request
// size (DmaFile.MaxSectorsSize()).
var DeviceMaxSingleRequest = MergedBufferLimit{kind: mergeDeviceMax}

// CustomMergedBufferLimit resolves M to align_down(min(n,
// DmaFile.MaxSegmentSize())).
func CustomMergedBufferLimit(n int) MergedBufferLimit {
	return MergedBufferLimit{kind: mergeCustom, n: n}
}

func (m MergedBufferLimit) resolve(f *dmafile.DmaFile) int {
	switch m.kind {
	case mergeNone:
		return 0
	case mergeDeviceMax:
		return f.MaxSectorsSize()
	default:
		n := m.n
		if max := f.MaxSegmentSize(); n > max {
			n = max
		}
		return int(f.AlignDown(uint64(n)))
	}
}

type ampKind int

const (
	ampNone ampKind = iota
	ampCustom
	ampNoLimit
)

// ReadAmplificationLimit bounds how many bytes beyond what the user
// actually asked for a merged request may pull in. Build one with
// NoAmplification, CustomReadAmplificationLimit, or NoLimit.
type ReadAmplificationLimit struct {
	kind ampKind
	a    int
}

// NoAmplification rejects any merge whose system read would be larger than
// the sum of its members' own block-aligned read sizes (see planGroups for
// how overlapping members are counted).
var NoAmplification = ReadAmplificationLimit{kind: ampNone}

// NoLimit allows merges regardless of wasted bytes, bounded only by
// MergedBufferLimit.
var NoLimit = ReadAmplificationLimit{kind: ampNoLimit}

// CustomReadAmplificationLimit allows up to a wasted bytes per merged
// request.
func CustomReadAmplificationLimit(a int) ReadAmplificationLimit {
	return ReadAmplificationLimit{kind: ampCustom, a: a}
}

// resolve returns the cap and whether one applies (false == no cap).
func (a ReadAmplificationLimit) resolve() (cap int, hasCap bool) {
	switch a.kind {
	case ampNone:
		return 0, true
	case ampCustom:
		return a.a, true
	default:
		return 0, false
	}
}

// Config controls how aggressively ReadMany coalesces iovecs.
type Config struct {
	MergedBufferLimit      MergedBufferLimit
	ReadAmplificationLimit ReadAmplificationLimit
}

// DefaultConfig merges up to the device's single-request limit with no cap
// on wasted bytes — the most aggressive coalescing setting, suitable when
// minimizing request count matters more than exact byte accounting.
func DefaultConfig() Config {
	return Config{
		MergedBufferLimit:      DeviceMaxSingleRequest,
		ReadAmplificationLimit: NoLimit,
	}
}
