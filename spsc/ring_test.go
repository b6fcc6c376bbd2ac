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

package spsc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingFIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		pushed, gone, _, _ := r.TryPush(i)
		require.True(t, pushed)
		require.False(t, gone)
	}
	for i := 0; i < 4; i++ {
		v, popped, gone, _, _ := r.TryPop()
		require.True(t, popped)
		require.False(t, gone)
		assert.Equal(t, i, v)
	}
}

func TestRingBoundedCapacity(t *testing.T) {
	r := NewRing[int](2)
	assert.Equal(t, 2, r.Capacity())

	ok, _, _, _ := r.TryPush(1)
	require.True(t, ok)
	ok, _, _, _ = r.TryPush(2)
	require.True(t, ok)
	assert.Equal(t, 2, r.Size())
	assert.Equal(t, 0, r.FreeSpace())

	ok, gone, _, _ := r.TryPush(3)
	assert.False(t, ok)
	assert.False(t, gone)
}

func TestRingNonPowerOfTwoCapacity(t *testing.T) {
	r := NewRing[int](3)
	assert.Equal(t, 3, r.Capacity())
	for i := 0; i < 3; i++ {
		ok, _, _, _ := r.TryPush(i)
		require.True(t, ok)
	}
	ok, _, _, _ := r.TryPush(99)
	assert.False(t, ok, "a ring of capacity 3 must reject a 4th item even though its backing array is rounded to 4")
}

func TestRingClosedPropagation(t *testing.T) {
	r := NewRing[int](1)
	r.DisconnectConsumer()

	ok, gone, _, _ := r.TryPush(1)
	assert.False(t, ok)
	assert.True(t, gone)

	r2 := NewRing[int](1)
	r2.DisconnectProducer()
	_, popped, gone, _, _ := r2.TryPop()
	assert.False(t, popped)
	assert.True(t, gone)
}

func TestRingNotifyOnEmptyToNonEmptyTransition(t *testing.T) {
	r := NewRing[int](4)
	r.ConnectConsumer(42)

	// First push on an empty ring should signal the consumer's fd.
	_, _, fd, notify := r.TryPush(1)
	require.True(t, notify)
	assert.Equal(t, 42, fd)

	// Second push (ring not empty before this push) should not re-signal.
	_, _, _, notify = r.TryPush(2)
	assert.False(t, notify)
}

func TestRingNotifyOnFullToNonFullTransition(t *testing.T) {
	r := NewRing[int](2)
	r.ConnectProducer(7)
	r.TryPush(1)
	r.TryPush(2)

	_, _, _, fd, notify := r.TryPop()
	require.True(t, notify)
	assert.Equal(t, 7, fd)

	_, _, _, _, notify = r.TryPop()
	assert.False(t, notify)
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	const n = 10000
	r := NewRing[int](16)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for {
				ok, _, _, _ := r.TryPush(i)
				if ok {
					break
				}
			}
		}
	}()

	got := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(got) < n {
			v, popped, _, _, _ := r.TryPop()
			if popped {
				got = append(got, v)
			}
		}
	}()

	wg.Wait()
	for i := 0; i < n; i++ {
		assert.Equal(t, i, got[i])
	}
}
