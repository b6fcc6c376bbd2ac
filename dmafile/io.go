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

import "fmt"

// WriteAt submits a Direct I/O write of buf at pos. Both buf's address and
// pos must be aligned to f.Alignment(); this is not checked here (the
// alignment contract is enforced by convention, not by a runtime check —
// AllocDmaBuffer always returns an aligned buffer, so the common path
// can't violate it). The returned count may be less than len(buf.Bytes())
// on an ENOSPC-like short write.
func (f *DmaFile) WriteAt(buf *AlignedBuffer, pos int64) (int, error) {
	n, err := f.react.WriteDMA(f.fd, buf.Bytes(), pos)
	if err != nil {
		return n, fmt.Errorf("dmafile: write %s at %d: %w", f.path, pos, err)
	}
	return n, nil
}

// WriteRcAt is identical to WriteAt except by convention the caller may
// keep reading buf concurrently with the write (and may submit the same
// buffer to other files concurrently) since neither WriteAt nor WriteRcAt
// ever mutates buf — Go's garbage collector keeps buf's backing memory
// alive for as long as any goroutine holds a reference to it, so there is
// no Rc-style reference count to manage here.
func (f *DmaFile) WriteRcAt(buf *AlignedBuffer, pos int64) (int, error) {
	return f.WriteAt(buf, pos)
}

// ReadAtAligned reads size bytes starting at pos, both of which must
// already be aligned to f.Alignment(). The returned ReadResult's length
// may be less than size on a short read at EOF or a device limit; callers
// must Release the result once done with it.
func (f *DmaFile) ReadAtAligned(pos int64, size int) (*ReadResult, error) {
	buf, err := f.AllocDmaBuffer(size)
	if err != nil {
		return nil, fmt.Errorf("dmafile: allocating read buffer for %s: %w", f.path, err)
	}
	n, err := f.react.ReadDMA(f.fd, buf.Bytes(), pos)
	if err != nil {
		buf.Release()
		return nil, fmt.Errorf("dmafile: read %s at %d: %w", f.path, pos, err)
	}
	return &ReadResult{buf: buf, start: 0, length: n}, nil
}

// ReadAt reads size bytes logically starting at pos without requiring
// either to be pre-aligned: it expands the request down to the enclosing
// aligned window, issues one aligned system read, and returns a
// ReadResult windowed back down to [pos, pos+size).
func (f *DmaFile) ReadAt(pos int64, size int) (*ReadResult, error) {
	effPos := f.AlignDown(uint64(pos))
	lead := int(uint64(pos) - effPos)
	effSize := int(f.AlignUp(uint64(size + lead)))

	res, err := f.ReadAtAligned(int64(effPos), effSize)
	if err != nil {
		return nil, err
	}

	n := res.length - lead
	if n < 0 {
		n = 0
	}
	if n > size {
		n = size
	}
	res.start = lead
	res.length = n
	return res, nil
}

// Fdatasync instructs the OS to flush all writes made to this file so far
// to the device, providing durability across a crash or reboot. As this is
// a Direct I/O file the OS page cache is bypassed already; the drive
// itself may still cache writes until this completes.
func (f *DmaFile) Fdatasync() error {
	if err := f.react.FsyncDMA(f.fd, true); err != nil {
		return fmt.Errorf("dmafile: fdatasync %s: %w", f.path, err)
	}
	return nil
}
