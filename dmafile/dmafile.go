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

// Package dmafile presents a file as a Direct I/O (O_DIRECT) source/sink:
// fixed-size, block-aligned reads and writes submitted through a
// reactor.Reactor, with helpers that translate unaligned user requests to
// aligned kernel I/O, durability, and allocation-hint operations.
package dmafile

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cloudwego/iocore/reactor"
)

// Pollability records whether a file's fd can use IORING_SETUP_IOPOLL-class
// completion polling, decided once at open and never changed afterward.
type Pollability int

const (
	// Pollable files were opened with Direct I/O and passed the reactor's
	// iopoll probe.
	Pollable Pollability = iota
	// NonPollableDirectIOEnabled files have O_DIRECT set but didn't pass
	// the iopoll probe (the common case for most block devices).
	NonPollableDirectIOEnabled
	// NonPollableDirectIODisabled files live on a filesystem (tmpfs or
	// equivalent) where Direct I/O was never enabled.
	NonPollableDirectIODisabled
)

// DmaFile is an open Direct I/O file: a raw descriptor, the alignment
// Direct I/O requires on it, the device's request-size limits, and its
// pollability.
type DmaFile struct {
	react *reactor.Reactor
	fd    int
	path  string

	alignment      int64
	maxSectorsSize int
	maxSegmentSize int
	pollable       Pollability

	dev uint64
	ino uint64

	bufPool *bufferPool

	closedOnce atomic.Bool
}

// OpenOptions mirrors the access/creation-mode flags a DmaFile open needs,
// generalizing os.OpenFile's int-flags surface to a struct so Create/Open
// can build on a shared OpenWithOptions the way the original's OpenOptions
// collaborator does.
type OpenOptions struct {
	Read        bool
	Write       bool
	Create      bool
	Truncate    bool
	Append      bool
	Exclusive   bool
	CustomFlags int // additional O_* bits ORed in verbatim
	Mode        os.FileMode
}

func (o *OpenOptions) flags() int {
	flags := 0
	switch {
	case o.Read && o.Write:
		flags |= unix.O_RDWR
	case o.Write:
		flags |= unix.O_WRONLY
	default:
		flags |= unix.O_RDONLY
	}
	if o.Create {
		flags |= unix.O_CREAT
	}
	if o.Truncate {
		flags |= unix.O_TRUNC
	}
	if o.Append {
		flags |= unix.O_APPEND
	}
	if o.Exclusive {
		flags |= unix.O_EXCL
	}
	return flags | o.CustomFlags
}

// Create opens path for reading and writing, creating and truncating it if
// needed — equivalent to Create() in the standard library but returning a
// DmaFile.
func Create(react *reactor.Reactor, path string) (*DmaFile, error) {
	return OpenWithOptions(react, path, &OpenOptions{
		Read: true, Write: true, Create: true, Truncate: true, Mode: 0o644,
	})
}

// Open opens path for reading — equivalent to Open() in the standard
// library but returning a DmaFile.
func Open(react *reactor.Reactor, path string) (*DmaFile, error) {
	return OpenWithOptions(react, path, &OpenOptions{Read: true})
}

// OpenWithOptions opens path under the given options via the reactor
// asynchronously (so the opening goroutine parks, but the owning OS thread
// never blocks in open(2)), discovers the backing device's block-alignment
// and queue limits, and decides pollability: tmpfs (or equivalent) disables
// Direct I/O outright; everything else gets O_DIRECT plus an iopoll probe
// on react.
func OpenWithOptions(react *reactor.Reactor, path string, opts *OpenOptions) (*DmaFile, error) {
	flags := unix.O_CLOEXEC | opts.flags()
	fd, err := react.OpenDMA(unix.AT_FDCWD, path, flags, uint32(opts.Mode))
	if err != nil {
		return nil, fmt.Errorf("dmafile: open %s: %w", path, err)
	}

	f, err := newDmaFile(react, fd, path)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return f, nil
}

func newDmaFile(react *reactor.Reactor, fd int, path string) (*DmaFile, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("dmafile: fstat %s: %w", path, err)
	}

	var fsStat unix.Statfs_t
	if err := unix.Fstatfs(fd, &fsStat); err != nil {
		return nil, fmt.Errorf("dmafile: fstatfs %s: %w", path, err)
	}

	major, minor := unix.Major(uint64(st.Dev)), unix.Minor(uint64(st.Dev))
	limits := readBlockLimits(major, minor)
	alignment := limits.logicalBlockSize
	if alignment < 512 {
		alignment = 512
	}

	isTmpfs := int64(fsStat.Type) == unix.TMPFS_MAGIC

	var pollable Pollability
	if isTmpfs {
		pollable = NonPollableDirectIODisabled
	} else {
		if err := setDirectIO(fd); err != nil {
			return nil, fmt.Errorf("dmafile: enabling O_DIRECT on %s: %w", path, err)
		}
		if react.ProbeIOPollSupport(fd, alignment) {
			pollable = Pollable
		} else {
			pollable = NonPollableDirectIOEnabled
		}
	}

	return &DmaFile{
		react:          react,
		fd:             fd,
		path:           path,
		alignment:      int64(alignment),
		maxSectorsSize: limits.maxSectorsSize,
		maxSegmentSize: limits.maxSegmentSize,
		pollable:       pollable,
		dev:            uint64(st.Dev),
		ino:            st.Ino,
		bufPool:        newBufferPool(alignment),
	}, nil
}

func setDirectIO(fd int) error {
	cur, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, cur|unix.O_DIRECT)
	return err
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }
func alignDown(v, align uint64) uint64 { return v &^ (align - 1) }

// AlignUp rounds v up to this file's o_direct_alignment. Correct for any v
// in [0, 2^63).
func (f *DmaFile) AlignUp(v uint64) uint64 { return alignUp(v, uint64(f.alignment)) }

// AlignDown rounds v down to this file's o_direct_alignment.
func (f *DmaFile) AlignDown(v uint64) uint64 { return alignDown(v, uint64(f.alignment)) }

// Alignment returns the enforced O_DIRECT alignment: max(logical block
// size, 512), a power of two fixed at open.
func (f *DmaFile) Alignment() int64 { return f.alignment }

// MaxSectorsSize returns the device's max single-request size, used by the
// planner to bound merged reads.
func (f *DmaFile) MaxSectorsSize() int { return f.maxSectorsSize }

// MaxSegmentSize returns the device's max segment size, which the planner
// uses to cap a CustomMergedBufferLimit.
func (f *DmaFile) MaxSegmentSize() int { return f.maxSegmentSize }

// Pollable reports this file's pollability, decided once at open.
func (f *DmaFile) Pollable() Pollability { return f.pollable }

// RingDepth returns the owning reactor's in-flight submission window size,
// which bounds how many concurrent system reads the planner may keep
// outstanding for this file.
func (f *DmaFile) RingDepth() int { return f.react.RingDepth() }

// AllocDmaBuffer allocates a buffer suitable for writing to (or receiving
// reads from) this file.
func (f *DmaFile) AllocDmaBuffer(size int) (*AlignedBuffer, error) {
	return f.bufPool.Alloc(size)
}

// AsRawFd returns the underlying file descriptor.
func (f *DmaFile) AsRawFd() int { return f.fd }

// Path returns the path this file was opened with.
func (f *DmaFile) Path() string { return f.path }

// IsSame reports whether f and other refer to the same (device, inode)
// pair — true for two opens of one file, including through hard links or
// repeated opens of the same path, false for a copy with identical
// contents on a different inode.
func (f *DmaFile) IsSame(other *DmaFile) bool {
	return f.dev == other.dev && f.ino == other.ino
}
