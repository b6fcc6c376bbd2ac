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

package reactor

import (
	"unsafe"

	"github.com/cloudwego/iocore/internal/iouring"
)

// Fallocate mode bits, mirroring linux/falloc.h. dmafile needs these to
// drive PreAllocate/Deallocate through FallocateDMA.
const (
	FallocFLKeepSize  = 0x01
	FallocFLPunchHole = 0x02
)

// OpenDMA submits an openat(2) through the reactor's io_uring instance and
// blocks the calling goroutine (not the OS thread) until it completes,
// returning the new file descriptor. dirfd is normally unix.AT_FDCWD.
func (r *Reactor) OpenDMA(dirfd int, path string, flags int, mode uint32) (int, error) {
	return r.loop.SubmitOpenAt(int32(dirfd), path, flags, mode)
}

// ReadDMA submits a preadv at off and blocks the calling goroutine (not the
// OS thread) until the read completes. buf's address, length, and off must
// all be a multiple of the file's o_direct_alignment for files opened with
// O_DIRECT; this method does not pre-check that contract, matching "the
// library does not pre-check" in the alignment contract.
func (r *Reactor) ReadDMA(fd int, buf []byte, off int64) (int, error) {
	return r.loop.SubmitReadAt(int32(fd), off, buf)
}

// WriteDMA submits a pwritev at off and blocks until the write completes
// (including the event loop's own short-write retry loop).
func (r *Reactor) WriteDMA(fd int, buf []byte, off int64) (int, error) {
	return r.loop.SubmitWriteAt(int32(fd), off, buf)
}

// FsyncDMA submits an fsync/fdatasync and blocks until it completes.
func (r *Reactor) FsyncDMA(fd int, dataSyncOnly bool) error {
	return r.loop.SubmitFsync(int32(fd), dataSyncOnly)
}

// FallocateDMA submits a fallocate(2) call and blocks until it completes.
func (r *Reactor) FallocateDMA(fd int, mode uint32, off, length int64) error {
	return r.loop.SubmitFallocate(int32(fd), mode, off, length)
}

// CloseDMA submits an asynchronous close(2) and blocks until it completes.
func (r *Reactor) CloseDMA(fd int) error {
	return r.loop.SubmitClose(int32(fd))
}

// ProbeIOPollSupport reports whether fd can use IORING_SETUP_IOPOLL-class
// kernel polling for Direct I/O completions at the given alignment. Exact
// probing semantics are reactor-internal (open question in the design
// notes); this implementation stands up a throwaway IOPOLL-flagged ring,
// attempts a minimal aligned read, and reports whether the kernel accepted
// it. Most filesystem-backed regular files on non-NVMe block devices
// legitimately fail this probe — that is the expected common case, not an
// error.
func (r *Reactor) ProbeIOPollSupport(fd int, alignment int) bool {
	probeRing, err := iouring.NewIOUringWithFlags(2, iouring.IORING_SETUP_IOPOLL)
	if err != nil {
		return false
	}
	defer probeRing.Close()

	buf := make([]byte, alignment)
	sqe := probeRing.PeekSQE(true)
	if sqe == nil {
		return false
	}
	sqe.Opcode = iouring.IORING_OP_READ
	sqe.Fd = int32(fd)
	sqe.Off = 0
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	sqe.Len = uint32(len(buf))
	probeRing.AdvanceSQ()

	if _, errno := probeRing.Submit(); errno != 0 {
		return false
	}
	cqe, err := probeRing.WaitCQE()
	if err != nil {
		return false
	}
	probeRing.AdvanceCQ()
	return cqe.Res >= 0
}
