// Copyright (c) 2019 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-node
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Priority selects where a reducer is inserted relative to other pending
// (not yet running) reducers. A new reducer goes ahead of every pending
// entry of lower priority and behind pending entries of equal or higher
// priority, so equal priorities keep submission order; it never preempts
// the reducer currently running.
type Priority int

// Priority levels used by the engine.
const (
	PriorityValidateClaim Priority = 0
	PriorityClaimChannel  Priority = 1
)

// Reducer mutates channel state. On error, the prior state is kept and the
// error is surfaced only to the caller that submitted this reducer;
// subsequent reducers run against the unchanged state.
type Reducer func(ctx context.Context, prior *State) (*State, error)

// Result is delivered to the caller of Add once its reducer has run (or the
// queue rejected/drained before it could).
type Result struct {
	State *State
	Err   error
}

// ErrQueueClosed is returned by Add when the queue has begun (or finished)
// draining via Clear.
var ErrQueueClosed = errors.New("reducer queue closed")

// Queue is a single-cell, single-consumer FIFO serializer over *State, with
// two-level priority. Exactly one reducer runs at a time; reducers commit in
// submission order modulo priority. It emits a change callback after each
// successful commit.
type Queue struct {
	mu       sync.Mutex
	state    *State
	pending  []*pendingReducer
	running  bool
	closed   bool
	wake     chan struct{}
	drainCh  chan *State
	onChange []func(*State)
}

type pendingReducer struct {
	ctx      context.Context
	reducer  Reducer
	priority Priority
	done     chan Result
}

// NewQueue creates a queue seeded with the given initial state (nil means
// no channel yet) and starts its worker.
func NewQueue(initial *State) *Queue {
	q := &Queue{
		state:   initial,
		wake:    make(chan struct{}, 1),
		drainCh: make(chan *State, 1),
	}
	go q.run()
	return q
}

// State synchronously reads the latest committed value. It is a
// best-effort snapshot that does not participate in linearization.
func (q *Queue) State() *State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// OnChange registers a callback invoked after each successful commit. Not
// safe to call concurrently with itself, but safe alongside Add/Clear.
func (q *Queue) OnChange(fn func(*State)) {
	q.mu.Lock()
	q.onChange = append(q.onChange, fn)
	q.mu.Unlock()
}

// Add enqueues reducer at the given priority and returns a channel that
// will receive its result exactly once.
func (q *Queue) Add(ctx context.Context, reducer Reducer, priority Priority) <-chan Result {
	done := make(chan Result, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- Result{Err: ErrQueueClosed}
		return done
	}

	item := &pendingReducer{ctx: ctx, reducer: reducer, priority: priority, done: done}
	insertAt := len(q.pending)
	for i, p := range q.pending {
		if p.priority < priority {
			insertAt = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[insertAt+1:], q.pending[insertAt:])
	q.pending[insertAt] = item
	q.mu.Unlock()

	q.nudge()
	return done
}

// Clear rejects further Add calls, waits for all currently pending
// reducers (including the one in flight) to finish, and returns the final
// state.
func (q *Queue) Clear(ctx context.Context) (*State, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.closed = true
	q.mu.Unlock()

	q.nudge()

	select {
	case final := <-q.drainCh:
		return final, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			if q.closed {
				final := q.state
				q.mu.Unlock()
				q.drainCh <- final
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}

		next := q.pending[0]
		q.pending = q.pending[1:]
		q.running = true
		prior := q.state
		q.mu.Unlock()

		newState, err := next.reducer(next.ctx, prior)

		q.mu.Lock()
		q.running = false
		var callbacks []func(*State)
		if err == nil {
			q.state = newState
			callbacks = append(callbacks, q.onChange...)
		}
		q.mu.Unlock()

		if err == nil {
			for _, cb := range callbacks {
				cb(newState)
			}
			next.done <- Result{State: newState}
		} else {
			next.done <- Result{State: prior, Err: err}
		}
	}
}
