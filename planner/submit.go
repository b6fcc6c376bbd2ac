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
	"github.com/cloudwego/iocore/container/ring"
	"github.com/cloudwego/iocore/dmafile"
)

// systemRead is one in-flight (or completed) aligned read backing a
// mergedGroup. done closes once result/err are set.
type systemRead struct {
	group  *mergedGroup
	result *dmafile.ReadResult
	err    error
	done   chan struct{}
}

// submit launches one goroutine per system read but keeps at most depth of
// them outstanding at a time, occupying a fixed slot in slots for the
// duration of the read — the bounded in-flight submission window a
// thread-per-core reactor needs so one read_many call can't flood the
// reactor's completion queue. The free-slot indices travel through a
// buffered channel acting as a counting semaphore with payload: acquiring
// an index both claims a concurrency slot and picks which ring slot to
// occupy.
func submit(f *dmafile.DmaFile, reads []*systemRead, depth int) *ring.Ring[*systemRead] {
	if depth < 1 {
		depth = 1
	}
	slots := ring.NewFromSlice(make([]*systemRead, depth))
	free := make(chan int, depth)
	for i := 0; i < depth; i++ {
		free <- i
	}

	go func() {
		for _, sr := range reads {
			slot := <-free
			item, _ := slots.Get(slot)
			*item.Pointer() = sr

			go func(sr *systemRead, slot int) {
				defer func() {
					item, _ := slots.Get(slot)
					*item.Pointer() = nil
					free <- slot
				}()
				sr.result, sr.err = f.ReadAtAligned(int64(sr.group.start), int(sr.group.end-sr.group.start))
				close(sr.done)
			}(sr, slot)
		}
	}()

	return slots
}
