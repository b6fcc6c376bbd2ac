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

// Package executor provides the thread-per-core bootstrap: one goroutine
// pinned to one OS thread, owning exactly one reactor.Reactor, draining a
// run-queue of tasks until shut down. channel.Connect and dmafile.Open both
// take a *reactor.Reactor obtained from an Executor, playing the role a
// thread-local "current reactor" accessor would play in a language with
// real thread-per-core semantics.
package executor

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/iocore/reactor"
)

// Option configures an Executor. Mirrors the shape of gopool.Option, scoped
// down to what a single pinned-thread run-queue needs.
type Option struct {
	// TaskChanBuffer is the size of the pending-task queue. A full queue
	// makes CtxGo block the caller instead of silently dropping work —
	// unlike a many-worker pool, there is exactly one OS thread to spill
	// overflow onto.
	TaskChanBuffer int
}

// DefaultOption returns the default Option.
func DefaultOption() *Option {
	return &Option{TaskChanBuffer: 1024}
}

type task struct {
	ctx context.Context
	f   func()
}

// Executor pins its Run goroutine to one OS thread and owns one Reactor for
// the lifetime of that thread.
type Executor struct {
	react *reactor.Reactor

	tasks chan task

	panicHandler func(ctx context.Context, r interface{})

	running   atomic.Bool
	shutdown  chan struct{}
	stopOnce  sync.Once
	doneOnce  sync.Once
	doneCh    chan struct{}
}

// NewExecutor constructs an Executor and its owned Reactor. It does not
// lock an OS thread or start running tasks yet — call Run (typically from
// its own goroutine) to do that.
func NewExecutor(o *Option) (*Executor, error) {
	if o == nil {
		o = DefaultOption()
	}
	react, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("executor: creating reactor: %w", err)
	}
	return &Executor{
		react:    react,
		tasks:    make(chan task, o.TaskChanBuffer),
		shutdown: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Reactor returns the Executor's owned reactor. channel.Connect and
// dmafile.Open take this value.
func (e *Executor) Reactor() *reactor.Reactor {
	return e.react
}

// SetPanicHandler sets a func for handling panics from submitted tasks.
// Defaults to logging via the standard logger, matching gopool's default.
func (e *Executor) SetPanicHandler(f func(ctx context.Context, r interface{})) {
	e.panicHandler = f
}

// Go submits f to run on the Executor's pinned thread. Blocks if the queue
// is full — there is only one thread to run tasks on, so there is no
// "fall back to a bare goroutine" escape hatch as there is in a multi-worker
// pool; that would defeat thread-per-core affinity.
func (e *Executor) Go(f func()) {
	e.CtxGo(context.Background(), f)
}

// CtxGo is Go with an explicit context passed to the panic handler.
func (e *Executor) CtxGo(ctx context.Context, f func()) {
	select {
	case e.tasks <- task{ctx: ctx, f: f}:
	case <-e.shutdown:
	}
}

// Run locks the calling goroutine to its current OS thread and drains the
// task queue until Shutdown is called. Callers should invoke Run from a
// freshly spawned goroutine dedicated to this Executor.
func (e *Executor) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !e.running.CompareAndSwap(false, true) {
		panic("executor: Run called more than once")
	}
	defer e.doneOnce.Do(func() { close(e.doneCh) })

	for {
		select {
		case t := <-e.tasks:
			e.runTask(t.ctx, t.f)
		case <-e.shutdown:
			// Drain whatever is already queued before exiting so a
			// Shutdown racing a burst of CtxGo calls doesn't drop work
			// that was already accepted into the channel.
			for {
				select {
				case t := <-e.tasks:
					e.runTask(t.ctx, t.f)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) runTask(ctx context.Context, f func()) {
	defer func() {
		if r := recover(); r != nil {
			if e.panicHandler != nil {
				e.panicHandler(ctx, r)
			} else {
				log.Printf("executor: panic: %v: %s", r, debug.Stack())
			}
		}
	}()
	f()
}

// Shutdown stops Run's loop after draining queued tasks and closes the
// owned reactor. Safe to call more than once and from any goroutine.
// Assumes Run has already been started; calling Shutdown before Run begins
// is a usage error since there would be no loop to drain the queue.
func (e *Executor) Shutdown() error {
	e.stopOnce.Do(func() { close(e.shutdown) })
	<-e.doneCh
	return e.react.Close()
}
