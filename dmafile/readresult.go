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

// ReadResult is a view over a kernel-delivered buffer: an owning reference
// to the buffer the reactor read into, plus a [start, start+length) window
// the caller actually asked for. length may be less than originally
// requested on a short read at EOF or against a device limit.
type ReadResult struct {
	buf    *AlignedBuffer
	start  int
	length int
}

// Bytes returns the caller's view of the read data.
func (r *ReadResult) Bytes() []byte {
	return r.buf.data[r.start : r.start+r.length]
}

// Len returns the number of bytes actually read into the caller's window.
func (r *ReadResult) Len() int { return r.length }

// Release returns the backing buffer to its pool. Callers must call this
// (or let the finalizer eventually reclaim it) once done reading.
func (r *ReadResult) Release() { r.buf.Release() }

// Sub returns a new ReadResult viewing [offset, offset+length) of r's
// window, sharing (and retaining) the same underlying buffer. Used when one
// system read's buffer is split across several user-visible results — each
// one must be Released independently; the buffer itself only returns to
// its pool once every Sub view and the parent have been released.
func (r *ReadResult) Sub(offset, length int) *ReadResult {
	r.buf.Retain()
	return &ReadResult{buf: r.buf, start: r.start + offset, length: length}
}
