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
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cloudwego/iocore/ioerr"
	"github.com/cloudwego/iocore/reactor"
)

// Deallocate erases [offset, offset+size) from the file without changing
// its reported size: whole blocks are unmapped, partial blocks zeroed.
func (f *DmaFile) Deallocate(offset, size int64) error {
	mode := uint32(reactor.FallocFLPunchHole | reactor.FallocFLKeepSize)
	if err := f.react.FallocateDMA(f.fd, mode, offset, size); err != nil {
		return fmt.Errorf("dmafile: deallocate %s [%d,%d): %w", f.path, offset, offset+size, err)
	}
	return nil
}

// PreAllocate pre-allocates filesystem space to hold a file at least size
// bytes long. If keepSize is true, the file's reported length is
// unchanged; otherwise it becomes size with the newly covered range
// reading as zeros until overwritten. size == 0 is a caller error, not a
// no-op.
func (f *DmaFile) PreAllocate(size int64, keepSize bool) error {
	if size == 0 {
		return fmt.Errorf("dmafile: pre-allocate %s: %w", f.path, ioerr.ErrInvalidArgument)
	}
	var mode uint32
	if keepSize {
		mode = reactor.FallocFLKeepSize
	}
	if err := f.react.FallocateDMA(f.fd, mode, 0, size); err != nil {
		return fmt.Errorf("dmafile: pre-allocate %s to %d bytes: %w", f.path, size, err)
	}
	return nil
}

// fsxattr mirrors struct fsxattr from linux/fs.h, the payload for the
// FS_IOC_FSSETXATTR/FS_IOC_FSGETXATTR ioctls XFS (and some other
// filesystems) use to carry the per-file extent-size hint.
type fsxattr struct {
	fsxXFlags     uint32
	fsxExtsize    uint32
	fsxNextents   uint32
	fsxProjid     uint32
	fsxCowextsize uint32
	fsxPad        [8]byte
}

// FS_IOC_FSGETXATTR / FS_IOC_FSSETXATTR, hand-rolled the same way the
// io_uring engine hand-rolls its own syscall numbers rather than pulling
// them from golang.org/x/sys/unix: these XFS-flavored ioctls aren't part
// of the stable unix package surface.
const (
	fsIOCFSGetXAttr = 0x801c581f
	fsIOCFSSetXAttr = 0x401c5820
)

// HintExtentSize hints to the filesystem that this file is expected to
// grow in extents of roughly size bytes, allowing it to batch block
// allocation instead of doing it synchronously on every write. This is
// the FS_IOC_FSSETXATTR extent-size-hint ioctl (XFS and a handful of
// other filesystems honor it); on filesystems that don't, the ioctl
// fails with ENOTTY and callers should treat that as "hint ignored", not
// a fatal error.
func (f *DmaFile) HintExtentSize(size int) error {
	var attr fsxattr
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(f.fd), uintptr(fsIOCFSGetXAttr), uintptr(unsafe.Pointer(&attr))); errno != 0 {
		return fmt.Errorf("dmafile: get extent-size hint state for %s: %w", f.path, errno)
	}
	attr.fsxExtsize = uint32(size)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(f.fd), uintptr(fsIOCFSSetXAttr), uintptr(unsafe.Pointer(&attr))); errno != 0 {
		return fmt.Errorf("dmafile: set extent-size hint for %s: %w", f.path, errno)
	}
	return nil
}

// Truncate truncates the file to size bytes. Issued as a direct syscall
// rather than through the reactor: truncate(2) isn't one of the io_uring
// opcodes this engine wires (see internal/iouring/userdata.go), and unlike
// read/write it never blocks on device I/O in practice.
func (f *DmaFile) Truncate(size int64) error {
	if err := unix.Ftruncate(f.fd, size); err != nil {
		return fmt.Errorf("dmafile: truncate %s to %d: %w", f.path, size, err)
	}
	return nil
}

// Rename renames the file to newPath.
func (f *DmaFile) Rename(newPath string) error {
	if err := unix.Rename(f.path, newPath); err != nil {
		return fmt.Errorf("dmafile: rename %s to %s: %w", f.path, newPath, err)
	}
	f.path = newPath
	return nil
}

// Remove unlinks the file. The file does not need to be closed first —
// removing only drops the name from the filesystem; the open descriptor
// stays valid until Close.
func (f *DmaFile) Remove() error {
	if err := unix.Unlink(f.path); err != nil {
		return fmt.Errorf("dmafile: remove %s: %w", f.path, err)
	}
	return nil
}

// FileSize returns the file's current size in bytes.
func (f *DmaFile) FileSize() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, fmt.Errorf("dmafile: stat %s: %w", f.path, err)
	}
	return st.Size, nil
}

// Stat returns filesystem metadata for the file, including the allocated
// size on disk (which may differ from FileSize for a sparse file).
type Stat struct {
	Size      int64
	Blocks    int64
	BlockSize int64
}

// Stat returns the file's current metadata.
func (f *DmaFile) Stat() (Stat, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return Stat{}, fmt.Errorf("dmafile: stat %s: %w", f.path, err)
	}
	return Stat{
		Size:      st.Size,
		Blocks:    st.Blocks,
		BlockSize: int64(st.Blksize),
	}, nil
}

// Close closes the file asynchronously through the reactor. Safe to call
// more than once (and concurrently); only the first call submits the
// close(2).
func (f *DmaFile) Close() error {
	if !f.closedOnce.CompareAndSwap(false, true) {
		return nil
	}
	if err := f.react.CloseDMA(f.fd); err != nil {
		return fmt.Errorf("dmafile: close %s: %w", f.path, err)
	}
	return nil
}
