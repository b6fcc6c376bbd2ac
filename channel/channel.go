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

// Package channel implements a bounded, cross-thread single-producer/
// single-consumer handoff channel on top of spsc.Ring, wired to a
// reactor.Reactor for wakeups once each side connects. A handle moves
// through two lifecycle stages: unbound (SharedSender/SharedReceiver, owns
// the ring endpoint but has no reactor) and connected (ConnectedSender/
// ConnectedReceiver, registered with exactly one reactor for its lifetime).
package channel

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/cloudwego/iocore/ioerr"
	"github.com/cloudwego/iocore/reactor"
	"github.com/cloudwego/iocore/spsc"
)

// SharedSender is the unbound producer handle. It must be moved to its
// owning goroutine/thread and connected before use.
type SharedSender[T any] struct {
	ring *spsc.Ring[T]
}

// SharedReceiver is the unbound consumer handle.
type SharedReceiver[T any] struct {
	ring *spsc.Ring[T]
}

// NewBounded allocates a ring of capacity n (n >= 1) and returns its two
// unbound endpoint handles.
func NewBounded[T any](n int) (*SharedSender[T], *SharedReceiver[T]) {
	r := spsc.NewRing[T](n)
	return &SharedSender[T]{ring: r}, &SharedReceiver[T]{ring: r}
}

// Connect binds the sender to react's thread: it hands react's eventfd to
// the ring so the consumer side can wake this producer, and registers this
// endpoint with react so it can receive wakers. The returned handle owns
// the registration id for its lifetime.
func (s *SharedSender[T]) Connect(react *reactor.Reactor) *ConnectedSender[T] {
	s.ring.ConnectProducer(react.Eventfd())
	id := react.RegisterSharedChannel()
	return &ConnectedSender[T]{ring: s.ring, react: react, id: id}
}

// Connect binds the receiver to react's thread, symmetric to
// SharedSender.Connect.
func (s *SharedReceiver[T]) Connect(react *reactor.Reactor) *ConnectedReceiver[T] {
	s.ring.ConnectConsumer(react.Eventfd())
	id := react.RegisterSharedChannel()
	return &ConnectedReceiver[T]{ring: s.ring, react: react, id: id}
}

// Close disconnects the producer side without ever having connected to a
// reactor. If the consumer has already connected, its reactor's eventfd is
// pulsed so a Recv parked on it observes end-of-stream.
func (s *SharedSender[T]) Close() {
	if notifyFd, notify := s.ring.DisconnectProducer(); notify {
		pulseEventfd(notifyFd)
	}
}

// Close disconnects the consumer side without ever having connected. If the
// producer has already connected, its reactor's eventfd is pulsed so a Send
// parked on it observes the disconnect.
func (s *SharedReceiver[T]) Close() {
	if notifyFd, notify := s.ring.DisconnectConsumer(); notify {
		pulseEventfd(notifyFd)
	}
}

// pulseEventfd writes the same eventfd increment reactor.Notify writes, for
// unbound handles that have no reactor of their own.
func pulseEventfd(fd int) {
	unix.Write(fd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
}

// ConnectedSender is a producer handle bound to a specific reactor.
type ConnectedSender[T any] struct {
	ring  *spsc.Ring[T]
	react *reactor.Reactor
	id    uint64
}

// ConnectedReceiver is a consumer handle bound to a specific reactor.
type ConnectedReceiver[T any] struct {
	ring  *spsc.Ring[T]
	react *reactor.Reactor
	id    uint64
}

// TrySend places item without blocking. It returns a *ioerr.Rejected[T]
// wrapping ioerr.ErrClosed if the consumer has disconnected, or
// ioerr.ErrWouldBlock if the ring is currently full.
func (s *ConnectedSender[T]) TrySend(item T) error {
	pushed, consumerGone, notifyFd, notify := s.ring.TryPush(item)
	if notify {
		s.react.Notify(notifyFd)
	}
	if pushed {
		return nil
	}
	if consumerGone {
		return ioerr.NewClosed(item)
	}
	return ioerr.NewWouldBlock(item)
}

// Send suspends the calling goroutine until item is placed, the consumer
// disconnects, or ctx is done. A wakeup that still finds the ring full with
// the consumer connected is treated as spurious (the reactor fires every
// installed waker on each pulse), and Send waits again.
func (s *ConnectedSender[T]) Send(ctx context.Context, item T) error {
	pushed, consumerGone, notifyFd, notify := s.ring.TryPush(item)
	if notify {
		s.react.Notify(notifyFd)
	}
	if pushed {
		return nil
	}
	if consumerGone {
		return ioerr.NewClosed(item)
	}

	for {
		waker := make(chan struct{}, 1)
		s.react.AddSharedChannelWaker(s.id, waker)
		// Re-check after installing the waker: room may have freed, or the
		// consumer may have disconnected, between the failed TryPush above
		// and the waker registration.
		if s.ring.FreeSpace() == 0 && !s.ring.ConsumerDisconnected() {
			select {
			case <-waker:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		pushed, consumerGone, notifyFd, notify = s.ring.TryPush(item)
		if notify {
			s.react.Notify(notifyFd)
		}
		if pushed {
			return nil
		}
		if consumerGone {
			return ioerr.NewClosed(item)
		}
		// Spurious wakeup with no room yet and no disconnect: go around again.
	}
}

// Close disconnects the producer side and unregisters its reactor
// registration, pulsing the consumer's fd if it may be parked waiting for
// items that will now never arrive.
func (s *ConnectedSender[T]) Close() {
	notifyFd, notify := s.ring.DisconnectProducer()
	if notify {
		s.react.Notify(notifyFd)
	}
	s.react.UnregisterSharedChannel(s.id)
}

// TryRecv removes the oldest item without blocking. ok=false just means the
// ring is empty right now; it does not distinguish that from end-of-stream.
// Callers that need to detect producer disconnection should use Recv.
func (s *ConnectedReceiver[T]) TryRecv() (item T, ok bool) {
	v, popped, _, notifyFd, notify := s.ring.TryPop()
	if notify {
		s.react.Notify(notifyFd)
	}
	return v, popped
}

// Recv suspends until an item is available, the producer disconnects
// (returning zero value, false, nil — end of stream), or ctx is done.
func (s *ConnectedReceiver[T]) Recv(ctx context.Context) (item T, ok bool, err error) {
	for {
		v, popped, producerGone, notifyFd, notify := s.ring.TryPop()
		if notify {
			s.react.Notify(notifyFd)
		}
		if popped {
			return v, true, nil
		}
		if producerGone {
			var zero T
			return zero, false, nil
		}

		waker := make(chan struct{}, 1)
		s.react.AddSharedChannelWaker(s.id, waker)
		// Re-check after installing the waker: an item may have arrived, or
		// the producer may have disconnected, between the empty TryPop above
		// and the waker registration.
		if s.ring.Size() > 0 || s.ring.ProducerDisconnected() {
			continue
		}
		select {
		case <-waker:
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
}

// Close disconnects the consumer side and unregisters its reactor
// registration, pulsing the producer's fd if it may be parked waiting for
// room that will now never free up.
func (s *ConnectedReceiver[T]) Close() {
	notifyFd, notify := s.ring.DisconnectConsumer()
	if notify {
		s.react.Notify(notifyFd)
	}
	s.react.UnregisterSharedChannel(s.id)
}
