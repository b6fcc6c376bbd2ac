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

import (
	"context"

	"github.com/cloudwego/iocore/container/ring"
	"github.com/cloudwego/iocore/dmafile"
)

// ReadManyResult streams the results of a ReadMany call back out in the
// same order the caller's iovecs were given, regardless of what order (or
// how coalesced) the underlying system reads completed in.
type ReadManyResult struct {
	reads  []*systemRead
	slots  *ring.Ring[*systemRead] // kept alive for the duration of the stream
	gIdx   int
	mIdx   int
}

// Entry is one delivered iovec result: the caller's original IoVec and the
// bytes read for it. Res must be Released once the caller is done with it.
type Entry struct {
	IoVec IoVec
	Res   *dmafile.ReadResult
}

// Next blocks until the next iovec (in original request order) is ready,
// returning ok=false once every iovec has been delivered. An error from the
// underlying system read is returned for every iovec that group would have
// covered.
func (r *ReadManyResult) Next(ctx context.Context) (Entry, bool, error) {
	for r.gIdx < len(r.reads) {
		sr := r.reads[r.gIdx]

		select {
		case <-sr.done:
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		}

		if sr.err != nil {
			m := sr.group.members[r.mIdx]
			r.advance(sr)
			return Entry{IoVec: m.iov}, true, sr.err
		}

		g := sr.group
		m := g.members[r.mIdx]
		offset := int(m.iov.Pos - g.start)
		length := m.iov.Size
		delivered := sr.result.Len() - offset
		if delivered < 0 {
			delivered = 0
		}
		if length > delivered {
			length = delivered
		}

		sub := sr.result.Sub(offset, length)
		r.advance(sr)
		return Entry{IoVec: m.iov, Res: sub}, true, nil
	}

	return Entry{}, false, nil
}

// advance moves the cursor to the next member, releasing the group's own
// parent reference once every member has been delivered a Sub view of it —
// the buffer itself only actually returns to its pool once those Sub views
// are released too.
func (r *ReadManyResult) advance(sr *systemRead) {
	r.mIdx++
	if r.mIdx >= len(sr.group.members) {
		r.mIdx = 0
		r.gIdx++
		if sr.result != nil {
			sr.result.Release()
		}
	}
}
