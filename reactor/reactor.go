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

// Package reactor implements the per-thread event loop that channel and
// dmafile submit work to: one io_uring instance for Direct I/O operations,
// plus an eventfd used for cross-thread wakeups of parked shared-channel
// waiters. The reactor is meant to be owned by exactly one executor.Executor
// per OS thread — see that package's doc comment for the binding.
package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cloudwego/iocore/internal/iouring"
)

// Reactor owns one io_uring instance (for Direct I/O submission) and one
// eventfd (for shared-channel cross-thread wakeups, kept separate from the
// io_uring completion path so a channel poke never races a DMA completion).
type Reactor struct {
	loop *iouring.IOUringEventLoop

	eventfd int

	mu       sync.Mutex
	channels map[uint64]*channelReg
	nextID   uint64

	closeOnce sync.Once
	stopPoll  chan struct{}
}

type channelReg struct {
	waker chan<- struct{}
}

// New creates a Reactor with a default-sized io_uring ring and starts its
// background completion/wakeup loops.
func New() (*Reactor, error) {
	cfg := iouring.DefaultConfig()
	cfg.SQEBatchSize = 1 // submit each operation as soon as it is queued
	loop, err := iouring.NewIOUringEventLoop(cfg)
	if err != nil {
		return nil, fmt.Errorf("reactor: creating io_uring event loop: %w", err)
	}

	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}

	r := &Reactor{
		loop:     loop,
		eventfd:  fd,
		channels: make(map[uint64]*channelReg),
		stopPoll: make(chan struct{}),
	}
	go r.pollEventfd()
	return r, nil
}

// Eventfd returns this reactor's notification fd. Peers pulse it via
// Notify to wake a parked channel waiter.
func (r *Reactor) Eventfd() int {
	return r.eventfd
}

// Notify pulses the given fd (normally another reactor's Eventfd()) using
// the standard eventfd write-8-bytes protocol. Safe to call from any
// thread/goroutine.
func (r *Reactor) Notify(fd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: notify fd %d: %w", fd, err)
	}
	return nil
}

// RegisterSharedChannel installs a channel endpoint and returns a
// registration id unique for this reactor for the endpoint's lifetime.
//
// This reactor's wakeup model is deliberately coarse: every pulse of the
// eventfd fires every currently-installed waker (see fireWakers), instead of
// consulting each endpoint's own notion of free capacity or pending items
// before deciding whom to wake. A fired waker only ever causes its
// channel.Send/Recv caller to retry its TryPush/TryPop loop, which is cheap
// and always safe, so a spurious wake never produces a wrong result — it
// costs one extra uncontended ring check. This is why RegisterSharedChannel
// takes no capacity-reporting callback: there is no per-endpoint wakeup
// decision for one to inform.
func (r *Reactor) RegisterSharedChannel() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.channels[id] = &channelReg{}
	return id
}

// UnregisterSharedChannel removes a previously registered endpoint.
func (r *Reactor) UnregisterSharedChannel(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// AddSharedChannelWaker records the waker to fire the next time this
// reactor observes a wakeup pulse. Only the latest waker per id is kept:
// installing a new one before the previous fired silently replaces it,
// matching the "reactor stores only the latest waker per id" contract.
func (r *Reactor) AddSharedChannelWaker(id uint64, waker chan<- struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[id]; ok {
		c.waker = waker
	}
}

// pollEventfd blocks on the reactor's eventfd and, each time it is pulsed,
// fires every currently-installed channel waker. Wakeups are intentionally
// coarse: a spurious fire just sends an async Send/Recv back around its
// try-then-wait loop, which is cheap and always safe.
func (r *Reactor) pollEventfd() {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(r.eventfd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				// Non-blocking fd raced a concurrent drain; wait for the
				// next real wakeup via poll so we don't busy-loop.
				var pfd [1]unix.PollFd
				pfd[0].Fd = int32(r.eventfd)
				pfd[0].Events = unix.POLLIN
				_, perr := unix.Poll(pfd[:], -1)
				if perr != nil {
					select {
					case <-r.stopPoll:
						return
					default:
						continue
					}
				}
				continue
			}
			select {
			case <-r.stopPoll:
				return
			default:
				continue
			}
		}
		r.fireWakers()
		select {
		case <-r.stopPoll:
			return
		default:
		}
	}
}

func (r *Reactor) fireWakers() {
	r.mu.Lock()
	wakers := make([]chan<- struct{}, 0, len(r.channels))
	for _, c := range r.channels {
		if c.waker != nil {
			wakers = append(wakers, c.waker)
			c.waker = nil
		}
	}
	r.mu.Unlock()

	for _, w := range wakers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// RingDepth reports how many submission-queue slots this reactor's io_uring
// instance has, bounding how many system reads the coalesced read planner
// may keep in flight at once.
func (r *Reactor) RingDepth() int {
	return r.loop.RingDepth()
}

// Close stops the reactor's background wakeup loop and closes its eventfd.
// The io_uring event loop and its ring are not torn down: their goroutines
// and file descriptor stay open. Not part of the spec's external surface
// directly, but needed by executor.Shutdown.
func (r *Reactor) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopPoll)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 1)
		unix.Write(r.eventfd, buf[:]) // unblock a parked Read
		err = unix.Close(r.eventfd)
	})
	return err
}
