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

package channel

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudwego/iocore/ioerr"
	"github.com/cloudwego/iocore/reactor"
)

func newTestReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("channel requires Linux io_uring via reactor")
	}
	r, err := reactor.New()
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// TestTrySendWouldBlockThenDrop exercises the ShChan-1 style scenario: a
// capacity-1 ring, try_send fills it, a second try_send observes WouldBlock,
// then the receiver drops and the sender observes Closed.
func TestTrySendWouldBlockThenDrop(t *testing.T) {
	react := newTestReactor(t)

	sender, receiver := NewBounded[int](1)
	cs := sender.Connect(react)
	cr := receiver.Connect(react)

	require.NoError(t, cs.TrySend(1))

	err := cs.TrySend(2)
	require.Error(t, err)
	var rej *ioerr.Rejected[int]
	require.ErrorAs(t, err, &rej)
	require.ErrorIs(t, err, ioerr.ErrWouldBlock)
	require.Equal(t, 2, rej.Item)

	cr.Close()

	// Give the wakeup poll loop a moment, though TrySend doesn't need it.
	time.Sleep(10 * time.Millisecond)
	err = cs.TrySend(3)
	require.Error(t, err)
	require.ErrorIs(t, err, ioerr.ErrClosed)
}

// TestRecvEndOfStream exercises ShChan-2: consumer drains the one buffered
// item then observes end-of-stream once the producer disconnects.
func TestRecvEndOfStream(t *testing.T) {
	react := newTestReactor(t)

	sender, receiver := NewBounded[int](1)
	cs := sender.Connect(react)
	cr := receiver.Connect(react)

	require.NoError(t, cs.TrySend(42))
	cs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, ok, err := cr.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, v)

	v, ok, err = cr.Recv(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, v)
}

// TestSendBlocksUntilRoom exercises ShChan-3: an async Send blocks on a full
// ring until the consumer pops, then completes once woken.
func TestSendBlocksUntilRoom(t *testing.T) {
	react := newTestReactor(t)

	sender, receiver := NewBounded[int](1)
	cs := sender.Connect(react)
	cr := receiver.Connect(react)

	require.NoError(t, cs.TrySend(1))

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- cs.Send(ctx, 2)
	}()

	select {
	case err := <-done:
		t.Fatalf("Send returned early with a full ring: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, ok, err := cr.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after room freed")
	}

	v, ok, err = cr.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, v)
}

// TestRecvBlocksUntilItemThenWakes exercises the symmetric case: Recv blocks
// on an empty ring until the producer pushes.
func TestRecvBlocksUntilItemThenWakes(t *testing.T) {
	react := newTestReactor(t)

	sender, receiver := NewBounded[string](2)
	cs := sender.Connect(react)
	cr := receiver.Connect(react)

	type result struct {
		v   string
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		v, ok, err := cr.Recv(ctx)
		done <- result{v, ok, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("Recv returned early on an empty ring: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, cs.Send(context.Background(), "hello"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.True(t, r.ok)
		require.Equal(t, "hello", r.v)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after an item was sent")
	}
}

func TestUnboundCloseDoesNotPanic(t *testing.T) {
	sender, receiver := NewBounded[int](4)
	sender.Close()
	receiver.Close()
}
