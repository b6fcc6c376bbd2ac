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
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// AlignedBuffer is a page-aligned byte buffer suitable for Direct I/O.
// Go's runtime allocator gives no alignment guarantee beyond what the size
// class happens to produce, so AlignedBuffer is backed by an anonymous
// mmap region instead of make([]byte, ...); mmap always returns
// page-aligned memory, which satisfies any o_direct_alignment a device can
// report (alignment is always <= the page size in practice).
type AlignedBuffer struct {
	data  []byte // usable view, len == the size the caller asked for
	full  []byte // the whole mmap'd region, rounded up to this buffer's size class
	pool  *bufferPool
	class int

	// refcount starts at 1. The planner bumps it with Retain when one
	// system read's buffer backs several user-visible ReadResults, so the
	// buffer is only returned to its pool once every view of it has been
	// released.
	refcount atomic.Int32
}

// Bytes returns the buffer's usable byte slice.
func (b *AlignedBuffer) Bytes() []byte { return b.data }

// Len returns len(b.Bytes()).
func (b *AlignedBuffer) Len() int { return len(b.data) }

// Retain records an additional view over this buffer, deferring the next
// Release from actually returning it to the pool.
func (b *AlignedBuffer) Retain() { b.refcount.Add(1) }

// Release drops one view of the buffer. Once every Retain-ed view (plus
// the initial one from allocation) has been released, the buffer returns
// to its owning pool (or is munmapped, if it was allocated standalone). A
// finalizer calls Release on GC as a backstop against a leaked mmap region
// if the caller forgets — harmless even if every real view was already
// released, since the refcount going negative is treated as a no-op, not
// a second free.
func (b *AlignedBuffer) Release() {
	n := b.refcount.Add(-1)
	if n != 0 {
		return
	}
	if b.pool != nil {
		b.pool.put(b)
		return
	}
	unix.Munmap(b.full)
}

// bufferPool is a size-class pool of mmap'd regions, keyed by the
// alignment-rounded, power-of-two-rounded size of the region — the same
// size-class-bucketing idea as cache/mempool's sync.Pool-per-size-class,
// generalized here from make([]byte,...) buffers to mmap'd ones.
type bufferPool struct {
	alignment int

	mu      sync.Mutex
	classes map[int]*sync.Pool
}

func newBufferPool(alignment int) *bufferPool {
	if alignment < 1 {
		alignment = defaultLogicalBlockSize
	}
	return &bufferPool{
		alignment: alignment,
		classes:   make(map[int]*sync.Pool),
	}
}

// classSize rounds size up to the buffer's alignment, then up again to the
// next power of two (floored at the alignment itself), so a given
// requested size always lands in the same reusable bucket.
func (p *bufferPool) classSize(size int) int {
	aligned := int(alignUp(uint64(size), uint64(p.alignment)))
	if aligned < p.alignment {
		aligned = p.alignment
	}
	n := p.alignment
	for n < aligned {
		n <<= 1
	}
	return n
}

func (p *bufferPool) poolFor(class int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.classes[class]
	if !ok {
		cls := class
		sp = &sync.Pool{New: func() interface{} {
			region, err := unix.Mmap(-1, 0, cls, unix.PROT_READ|unix.PROT_WRITE,
				unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
			if err != nil {
				return err
			}
			return region
		}}
		p.classes[class] = sp
	}
	return sp
}

// Alloc returns a buffer of exactly size usable bytes, backed by a region
// rounded up to size's class.
func (p *bufferPool) Alloc(size int) (*AlignedBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("dmafile: negative buffer size %d", size)
	}
	if size == 0 {
		buf := &AlignedBuffer{data: []byte{}}
		buf.refcount.Store(1)
		return buf, nil
	}
	class := p.classSize(size)
	sp := p.poolFor(class)
	v := sp.Get()
	region, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("dmafile: mmap aligned buffer of %d bytes: %w", class, v.(error))
	}
	buf := &AlignedBuffer{data: region[:size], full: region, pool: p, class: class}
	buf.refcount.Store(1)
	runtime.SetFinalizer(buf, (*AlignedBuffer).Release)
	return buf, nil
}

func (p *bufferPool) put(b *AlignedBuffer) {
	sp := p.poolFor(b.class)
	// Zero only the usable prefix so a reused buffer never leaks a
	// previous caller's bytes past its new length; the rest was never
	// exposed to that caller and doesn't need clearing.
	for i := range b.data {
		b.data[i] = 0
	}
	sp.Put(b.full)
}
