// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package merge tracks whether the local chain head has crossed the terminal
// total difficulty and carries the post-merge consensus context.
package merge

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

// ErrStateNotSeeded is the panic value raised when the transition state is
// queried before anyone has set it.
var ErrStateNotSeeded = errors.New("merge transition state queried before it was seeded")

var (
	postMergeGauge  = metrics.NewRegisteredGauge("merge/postmerge", nil)
	transitionMeter = metrics.NewRegisteredMeter("merge/transitions", nil)
	droppedCounter  = metrics.NewRegisteredCounter("merge/dropped", nil)
)

// State is the process wide record of whether the chain head is past the
// merge. Observers are notified synchronously on every SetPostMerge call,
// including calls that re-affirm the current value.
type State struct {
	setMu sync.Mutex // Serializes SetPostMerge fan-outs and initial deliveries

	mu        sync.RWMutex
	seeded    bool
	postMerge bool
	observers []*observer

	scope event.SubscriptionScope
}

// NewState creates an unseeded transition state.
func NewState() *State {
	return &State{}
}

// SetPostMerge records the new merge status and hands it to every registered
// observer before returning. Calls are totally ordered: the fan-out of one
// call completes before the next call's fan-out begins.
func (s *State) SetPostMerge(postMerge bool) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	changed := !s.seeded || s.postMerge != postMerge
	s.seeded, s.postMerge = true, postMerge
	observers := make([]*observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	if postMerge {
		postMergeGauge.Update(1)
	} else {
		postMergeGauge.Update(0)
	}
	if changed {
		transitionMeter.Mark(1)
		log.Info("Merge transition state updated", "postMerge", postMerge, "observers", len(observers))
	} else {
		log.Debug("Merge transition state re-affirmed", "postMerge", postMerge)
	}
	for _, o := range observers {
		o.deliver(postMerge)
	}
}

// IsPostMerge returns the last value given to SetPostMerge. Querying an
// unseeded state is a programming error and panics.
func (s *State) IsPostMerge() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.seeded {
		panic(ErrStateNotSeeded)
	}
	return s.postMerge
}

// Seeded reports whether SetPostMerge has been called at least once.
func (s *State) Seeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded
}

// Observe registers fn for merge status notifications. If the state is
// already seeded, fn receives the current value before Observe returns.
//
// Observers run on the goroutine calling SetPostMerge and must not call
// SetPostMerge or Observe themselves.
func (s *State) Observe(fn func(postMerge bool)) event.Subscription {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	o := &observer{fn: fn, state: s, err: make(chan error)}

	s.mu.Lock()
	s.observers = append(s.observers, o)
	seeded, postMerge := s.seeded, s.postMerge
	s.mu.Unlock()

	if seeded {
		o.deliver(postMerge)
	}
	if sub := s.scope.Track(o); sub != nil {
		return sub
	}
	return o
}

// Subscribe is the channel flavour of Observe. Delivery never blocks the
// notifying goroutine; values that do not fit into ch are dropped.
func (s *State) Subscribe(ch chan<- bool) event.Subscription {
	return s.Observe(func(postMerge bool) {
		select {
		case ch <- postMerge:
		default:
			droppedCounter.Inc(1)
			log.Debug("Dropped merge status notification", "postMerge", postMerge)
		}
	})
}

// Close unsubscribes every observer registered through Observe or Subscribe.
func (s *State) Close() {
	s.scope.Close()
}

func (s *State) remove(o *observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cand := range s.observers {
		if cand == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// observer is a registered callback. It satisfies event.Subscription so it
// can be tracked and torn down like any other geth subscription.
type observer struct {
	fn      func(bool)
	state   *State
	removed atomic.Bool
	once    sync.Once
	err     chan error
}

func (o *observer) deliver(postMerge bool) {
	if o.removed.Load() {
		return
	}
	o.fn(postMerge)
}

func (o *observer) Err() <-chan error {
	return o.err
}

func (o *observer) Unsubscribe() {
	o.once.Do(func() {
		o.removed.Store(true)
		o.state.remove(o)
		close(o.err)
	})
}
