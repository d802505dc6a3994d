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

// Package eth holds node-level chain synchronization bookkeeping shared by
// both consensus regimes.
package eth

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// SyncStatusEvent is posted whenever the node enters or leaves sync.
type SyncStatusEvent struct {
	InSync    bool
	ChainHead uint64
	BestKnown uint64
}

// SyncState tracks how far the local chain is behind the best known peer head.
type SyncState struct {
	mu        sync.RWMutex
	inSync    bool
	chainHead uint64
	bestKnown uint64
	tolerance uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

// NewSyncState creates a sync tracker that considers the node in sync while
// it is no more than tolerance blocks behind the best known head.
func NewSyncState(tolerance uint64) *SyncState {
	return &SyncState{tolerance: tolerance}
}

// UpdateChainHead records a new local head number.
func (s *SyncState) UpdateChainHead(number uint64) {
	s.mu.Lock()
	s.chainHead = number
	if number > s.bestKnown {
		s.bestKnown = number
	}
	ev, changed := s.recheck()
	s.mu.Unlock()

	if changed {
		s.feed.Send(ev)
	}
}

// UpdateBestKnown records the highest head advertised by peers.
func (s *SyncState) UpdateBestKnown(number uint64) {
	s.mu.Lock()
	if number > s.bestKnown {
		s.bestKnown = number
	}
	ev, changed := s.recheck()
	s.mu.Unlock()

	if changed {
		s.feed.Send(ev)
	}
}

// recheck recomputes the sync flag. Callers must hold the write lock.
func (s *SyncState) recheck() (SyncStatusEvent, bool) {
	inSync := s.bestKnown <= s.chainHead+s.tolerance
	if inSync == s.inSync {
		return SyncStatusEvent{}, false
	}
	s.inSync = inSync
	log.Info("Sync status changed", "inSync", inSync, "head", s.chainHead, "best", s.bestKnown)
	return SyncStatusEvent{InSync: inSync, ChainHead: s.chainHead, BestKnown: s.bestKnown}, true
}

// InSync reports whether the local head is within tolerance of the best known head.
func (s *SyncState) InSync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inSync
}

// ChainHead returns the last recorded local head number.
func (s *SyncState) ChainHead() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

// BestKnown returns the highest head number seen so far.
func (s *SyncState) BestKnown() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestKnown
}

// SubscribeSyncStatus delivers sync status changes to ch. Sends block until
// ch accepts the event, so consumers should drain promptly.
func (s *SyncState) SubscribeSyncStatus(ch chan<- SyncStatusEvent) event.Subscription {
	return s.scope.Track(s.feed.Subscribe(ch))
}

// Close terminates all sync status subscriptions.
func (s *SyncState) Close() {
	s.scope.Close()
}
