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

// Package spsc implements a fixed-capacity, lock-free single-producer/
// single-consumer ring buffer shared between exactly one producer
// goroutine and one consumer goroutine, each potentially pinned to a
// different OS thread.
//
// The head/tail/mask discipline mirrors internal/iouring's SubmissionQueue:
// a power-of-two backing array, a producer-owned tail, a consumer-owned
// head, both advanced with sync/atomic so the two sides never need a mutex.
package spsc

import (
	"math/bits"
	"sync/atomic"
)

// Ring is a bounded SPSC queue of T. T should be trivially copyable — Ring
// stores values directly in its backing array, not pointers to them.
type Ring[T any] struct {
	buf  []T
	mask uint64
	cap  uint64 // logical capacity, may be < len(buf) if cap isn't a power of two

	head uint64 // consumer-owned
	tail uint64 // producer-owned

	producerFd    atomic.Int32 // reactor fd to pulse when the producer may be parked
	consumerFd    atomic.Int32
	producerGone  atomic.Bool
	consumerGone  atomic.Bool
	producerHasFd atomic.Bool
	consumerHasFd atomic.Bool
}

// NewRing creates a ring able to hold up to capacity items. capacity must be
// ≥ 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("spsc: capacity must be >= 1")
	}
	size := 1 << bits.Len(uint(capacity-1))
	if size < capacity {
		size = capacity
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
		cap:  uint64(capacity),
	}
}

// Capacity returns the ring's fixed capacity.
func (r *Ring[T]) Capacity() int { return int(r.cap) }

// Size returns the number of items currently queued. Safe to call from
// either side; the result may be stale by the time the caller acts on it.
func (r *Ring[T]) Size() int {
	tail := atomic.LoadUint64(&r.tail)
	head := atomic.LoadUint64(&r.head)
	return int(tail - head)
}

// FreeSpace returns Capacity() - Size().
func (r *Ring[T]) FreeSpace() int {
	return int(r.cap) - r.Size()
}

// TryPush attempts to place v in the ring without blocking. It returns
// pushed=true on success. It returns consumerGone=true if the consumer had
// already disconnected — checked before the push attempt and again when the
// ring turns out to be full, so a full ring whose consumer has gone reports
// consumerGone rather than a plain full ring. A push that succeeds is not
// re-checked against a disconnect that races it. notifyFd/notify
// report the consumer's registered fd when the ring was empty before this
// push, i.e. the consumer may be parked waiting for an item; the caller
// (package channel) is responsible for pulsing it exactly once.
func (r *Ring[T]) TryPush(v T) (pushed bool, consumerGone bool, notifyFd int, notify bool) {
	if r.consumerGone.Load() {
		return false, true, 0, false
	}
	tail := atomic.LoadUint64(&r.tail)
	head := atomic.LoadUint64(&r.head)
	if tail-head >= r.cap {
		return false, r.consumerGone.Load(), 0, false
	}
	r.buf[tail&r.mask] = v
	atomic.StoreUint64(&r.tail, tail+1)
	if head == tail && r.consumerHasFd.Load() {
		return true, false, int(r.consumerFd.Load()), true
	}
	return true, false, 0, false
}

// TryPop attempts to remove the oldest item without blocking. popped=false
// with producerGone=false means the ring is simply empty right now.
// popped=false with producerGone=true means end-of-stream: the ring was
// empty and the producer has disconnected, so no more items will ever
// arrive. notifyFd/notify report the producer's registered fd when the ring
// was full before this pop, i.e. the producer may be parked waiting for
// room.
func (r *Ring[T]) TryPop() (v T, popped bool, producerGone bool, notifyFd int, notify bool) {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head == tail {
		return v, false, r.producerGone.Load(), 0, false
	}
	v = r.buf[head&r.mask]
	var zero T
	r.buf[head&r.mask] = zero // drop the reference so a pointer-ish T doesn't pin memory
	wasFull := tail-head >= r.cap
	atomic.StoreUint64(&r.head, head+1)
	if wasFull && r.producerHasFd.Load() {
		return v, true, false, int(r.producerFd.Load()), true
	}
	return v, true, false, 0, false
}

// ConnectProducer registers the producer-side reactor's notification fd.
// The consumer pulses this fd after a pop that may have unparked the
// producer (ring was full, now has room).
func (r *Ring[T]) ConnectProducer(fd int) {
	r.producerFd.Store(int32(fd))
	r.producerHasFd.Store(true)
}

// ConnectConsumer registers the consumer-side reactor's notification fd.
// The producer pulses this fd after a push that may have unparked the
// consumer (ring was empty, now has an item).
func (r *Ring[T]) ConnectConsumer(fd int) {
	r.consumerFd.Store(int32(fd))
	r.consumerHasFd.Store(true)
}

// DisconnectProducer marks the producer side gone. Idempotent. Returns the
// consumer's registered fd so the caller can wake a consumer parked waiting
// for items that will now never arrive (end-of-stream).
func (r *Ring[T]) DisconnectProducer() (notifyFd int, notify bool) {
	r.producerGone.Store(true)
	if r.consumerHasFd.Load() {
		return int(r.consumerFd.Load()), true
	}
	return 0, false
}

// DisconnectConsumer marks the consumer side gone. Idempotent. Returns the
// producer's registered fd so the caller can wake a producer parked waiting
// for room that will now never free up.
func (r *Ring[T]) DisconnectConsumer() (notifyFd int, notify bool) {
	r.consumerGone.Store(true)
	if r.producerHasFd.Load() {
		return int(r.producerFd.Load()), true
	}
	return 0, false
}

// ProducerDisconnected reports whether the producer side has disconnected.
func (r *Ring[T]) ProducerDisconnected() bool { return r.producerGone.Load() }

// ConsumerDisconnected reports whether the consumer side has disconnected.
func (r *Ring[T]) ConsumerDisconnected() bool { return r.consumerGone.Load() }

