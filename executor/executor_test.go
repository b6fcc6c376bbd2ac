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

package executor

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("executor requires Linux io_uring via reactor")
	}
	e, err := NewExecutor(nil)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	go e.Run()
	t.Cleanup(func() { e.Shutdown() })
	return e
}

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	e := newTestExecutor(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make([]int, 0, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		e.Go(func() {
			defer wg.Done()
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete")
	}

	require.Len(t, seen, 10)
}

func TestExecutorPanicHandlerCalled(t *testing.T) {
	e := newTestExecutor(t)

	caught := make(chan interface{}, 1)
	e.SetPanicHandler(func(ctx context.Context, r interface{}) {
		caught <- r
	})

	e.Go(func() { panic("boom") })

	select {
	case r := <-caught:
		require.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler was not invoked")
	}
}

func TestExecutorShutdownClosesReactor(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("executor requires Linux io_uring via reactor")
	}
	e, err := NewExecutor(nil)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	go e.Run()

	require.NotNil(t, e.Reactor())
	require.NoError(t, e.Shutdown())
}
