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

package miner

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dome-network/geth-transition/consensus/hybrid"
	"github.com/dome-network/geth-transition/consensus/merge"
	"github.com/dome-network/geth-transition/core"
	"github.com/dome-network/geth-transition/eth"
)

// chainHeadChanSize is the size of channel listening to ChainHeadEvent.
const chainHeadChanSize = 10

// ErrMissingTotalDifficulty is returned when the chain head has no recorded
// total difficulty. Every stored block has one, so this indicates corruption.
var ErrMissingTotalDifficulty = errors.New("chain head has no total difficulty")

// TerminalRecorder is told about the last proof-of-work block once the chain
// head crosses the terminal total difficulty.
type TerminalRecorder interface {
	SetTerminalPoWBlock(header *types.Header)
}

// Watcher keeps the merge transition state in line with the chain head and
// drives the dual coordinator from it.
type Watcher struct {
	chain core.ChainState
	ttd   *big.Int
	state *merge.State
	dual  *Dual

	observer  event.Subscription
	terminal  TerminalRecorder
	syncState *eth.SyncState

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher seeds state from the chain head's total difficulty and then
// subscribes dual to every subsequent transition. Seeding happens before
// the subscription, so dual's first notification already carries the
// correct regime and no pre-merge production starts on a merged chain.
func NewWatcher(chain core.ChainState, ttd *big.Int, state *merge.State, dual *Dual) (*Watcher, error) {
	if state == nil {
		return nil, ErrMissingState
	}
	if dual == nil {
		return nil, ErrMissingCoordinator
	}
	head := chain.HeadBlockHash()
	td, ok := chain.TotalDifficultyByHash(head)
	if !ok || td == nil {
		return nil, fmt.Errorf("%w: head %x", ErrMissingTotalDifficulty, head)
	}
	postMerge := hybrid.IsTerminalReached(td, ttd)
	log.Info("Seeding merge transition state from chain head",
		"head", head,
		"td", td,
		"ttd", ttd,
		"postMerge", postMerge)

	state.SetPostMerge(postMerge)

	w := &Watcher{
		chain: chain,
		ttd:   ttd,
		state: state,
		dual:  dual,
		quit:  make(chan struct{}),
	}
	w.observer = state.Observe(dual.OnTransition)
	return w, nil
}

// RecordTerminal makes the watcher report terminal proof-of-work blocks to r.
// It must be called before Start.
func (w *Watcher) RecordTerminal(r TerminalRecorder) {
	w.terminal = r
}

// TrackSync makes the watcher report the current and every new head number
// to s. It must be called before Start.
func (w *Watcher) TrackSync(s *eth.SyncState) {
	w.syncState = s
	if head := w.chain.HeadHeader(); head != nil {
		s.UpdateChainHead(head.Number.Uint64())
	}
}

// Start begins following chain head events. Every head re-affirms the
// transition state, so re-orgs below the terminal total difficulty switch
// production back to the pre-merge regime.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		heads := make(chan core.ChainHeadEvent, chainHeadChanSize)
		sub := w.chain.SubscribeChainHeadEvent(heads)

		w.wg.Add(1)
		go w.loop(heads, sub)
	})
}

func (w *Watcher) loop(heads <-chan core.ChainHeadEvent, sub event.Subscription) {
	defer w.wg.Done()
	defer sub.Unsubscribe()

	for {
		select {
		case head := <-heads:
			postMerge := hybrid.IsTerminalReached(head.TD, w.ttd)
			log.Debug("Chain head updated", "number", head.Header.Number, "hash", head.Header.Hash(), "td", head.TD, "postMerge", postMerge)
			if w.syncState != nil {
				w.syncState.UpdateChainHead(head.Header.Number.Uint64())
			}
			if postMerge {
				w.checkTerminal(head)
			}
			w.state.SetPostMerge(postMerge)
		case err := <-sub.Err():
			if err != nil {
				log.Warn("Chain head subscription failed", "err", err)
			}
			return
		case <-w.quit:
			return
		}
	}
}

// checkTerminal records head if it is the first block whose total
// difficulty reached the terminal total difficulty.
func (w *Watcher) checkTerminal(head core.ChainHeadEvent) {
	if w.terminal == nil {
		return
	}
	parentTD, ok := w.chain.TotalDifficultyByHash(head.Header.ParentHash)
	if !ok || hybrid.IsTerminalReached(parentTD, w.ttd) {
		return
	}
	log.Info("Reached terminal proof-of-work block", "number", head.Header.Number, "hash", head.Header.Hash(), "td", head.TD)
	w.terminal.SetTerminalPoWBlock(head.Header)
}

// Stop ends head tracking and detaches the coordinator from the state.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.wg.Wait()
		w.observer.Unsubscribe()
	})
}
