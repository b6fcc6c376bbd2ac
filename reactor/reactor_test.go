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

package reactor

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func skipIfUnsupported(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("reactor requires Linux io_uring")
	}
	r, err := New()
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	r.Close()
}

func TestNewReactorHasWorkingEventfd(t *testing.T) {
	skipIfUnsupported(t)

	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	require.Greater(t, r.Eventfd(), 0)
	require.Greater(t, r.RingDepth(), 0)
}

func TestRegisterUnregisterSharedChannel(t *testing.T) {
	skipIfUnsupported(t)

	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	id := r.RegisterSharedChannel()
	require.NotZero(t, id)

	waker := make(chan struct{}, 1)
	r.AddSharedChannelWaker(id, waker)

	require.NoError(t, r.Notify(r.Eventfd()))

	select {
	case <-waker:
	case <-time.After(time.Second):
		t.Fatal("waker was not fired after Notify")
	}

	r.UnregisterSharedChannel(id)
}

func TestReadWriteDMARoundTrip(t *testing.T) {
	skipIfUnsupported(t)

	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	f, err := os.CreateTemp(t.TempDir(), "reactor-dma-*")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(42)
	}

	n, err := r.WriteDMA(int(f.Fd()), buf, 0)
	require.NoError(t, err)
	require.Equal(t, 4096, n)

	out := make([]byte, 4096)
	n, err = r.ReadDMA(int(f.Fd()), out, 0)
	require.NoError(t, err)
	require.Equal(t, 4096, n)
	for _, b := range out {
		require.Equal(t, byte(42), b)
	}

	require.NoError(t, r.FsyncDMA(int(f.Fd()), true))
}
