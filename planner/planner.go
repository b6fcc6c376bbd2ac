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

// Package planner implements coalesced bulk reads: it turns a scattered
// batch of user iovecs into a minimal, bounded-amplification set of
// block-aligned system reads, submits them at most reactor.ring_depth() at
// a time, and streams results back out in the caller's original request
// order.
package planner

import (
	"context"

	"github.com/cloudwego/iocore/dmafile"
)

// ReadMany plans and executes a coalesced bulk read of iovecs against f.
// The returned ReadManyResult's Next delivers one Entry per input iovec, in
// the order iovecs was given, regardless of how many of them a single
// merged system read ended up covering.
//
// Callers that want read_many's degenerate single-iovec behavior (no
// coalescing at all) should pass cfg.MergedBufferLimit = NoMerging.
func ReadMany(ctx context.Context, f *dmafile.DmaFile, iovecs []IoVec, cfg Config) *ReadManyResult {
	groups := planGroups(f, iovecs, cfg)

	reads := make([]*systemRead, len(groups))
	for i, g := range groups {
		reads[i] = &systemRead{group: g, done: make(chan struct{})}
	}

	slots := submit(f, reads, f.RingDepth())

	return &ReadManyResult{reads: reads, slots: slots}
}
