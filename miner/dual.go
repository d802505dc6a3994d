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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/dome-network/geth-transition/consensus/merge"
)

// DefaultStopTimeout bounds how long a transition waits for the outgoing
// coordinator to stop.
const DefaultStopTimeout = 5 * time.Second

var (
	ErrMissingCoordinator = errors.New("missing mining coordinator")
	ErrMissingState       = errors.New("missing merge transition state")
)

var (
	activeGauge        = metrics.NewRegisteredGauge("miner/transition/postmerge", nil)
	stopTimeoutCounter = metrics.NewRegisteredCounter("miner/transition/stoptimeout", nil)
)

// DualConfig tunes a Dual coordinator.
type DualConfig struct {
	StopTimeout time.Duration // Bound on waiting for the outgoing coordinator
}

// Dual is the coordinator facade the rest of the node talks to. It owns one
// coordinator per regime and delegates every call to the member selected by
// the merge transition state. Facade calls and transitions are serialized on
// one mutex, so callers never see a member switch half way.
type Dual struct {
	pre   Coordinator
	post  Coordinator
	state *merge.State

	stopTimeout time.Duration

	mu        sync.Mutex
	mining    bool // Whether block production was requested through the facade
	routed    bool // Whether OnTransition ran at least once
	postMerge bool // Regime of the last completed OnTransition
}

// NewDual combines the coordinators of both regimes. Until the first
// transition is delivered the active member is read from state.
func NewDual(pre, post Coordinator, state *merge.State, config DualConfig) (*Dual, error) {
	if pre == nil || post == nil {
		return nil, ErrMissingCoordinator
	}
	if state == nil {
		return nil, ErrMissingState
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	return &Dual{
		pre:         pre,
		post:        post,
		state:       state,
		stopTimeout: config.StopTimeout,
	}, nil
}

func regimeName(postMerge bool) string {
	if postMerge {
		return "post-merge"
	}
	return "pre-merge"
}

// active returns the member selected by the last completed transition.
// The state itself is updated before observers run, so routing on it would
// hand calls to a member that is not enabled yet. Callers must hold d.mu.
func (d *Dual) active() Coordinator {
	postMerge := d.postMerge
	if !d.routed {
		postMerge = d.state.IsPostMerge()
	}
	if postMerge {
		return d.post
	}
	return d.pre
}

// OnTransition moves block production to the regime given by postMerge. The
// outgoing member is disabled and stopped before the incoming one is
// enabled. It is safe to call repeatedly with the same value.
func (d *Dual) OnTransition(postMerge bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	outgoing, incoming := d.pre, d.post
	if !postMerge {
		outgoing, incoming = d.post, d.pre
	}
	outgoing.Disable()
	outgoing.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
	err := outgoing.AwaitStop(ctx)
	cancel()
	if err != nil {
		stopTimeoutCounter.Inc(1)
		log.Warn("Mining coordinator did not stop in time, switching anyway",
			"regime", regimeName(!postMerge),
			"timeout", d.stopTimeout,
			"err", err)
	}
	switched := !incoming.Enabled()
	incoming.Enable()
	if d.mining {
		incoming.Start()
	}
	d.routed, d.postMerge = true, postMerge
	if postMerge {
		activeGauge.Update(1)
	} else {
		activeGauge.Update(0)
	}
	if switched {
		log.Info("Switched mining coordinator",
			"from", regimeName(!postMerge),
			"to", regimeName(postMerge),
			"mining", d.mining)
	}
}

// Start requests block production from the active member.
func (d *Dual) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mining = true
	d.active().Start()
}

// Stop halts block production on the active member.
func (d *Dual) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mining = false
	d.active().Stop()
}

// AwaitStop waits for the active member to stop producing.
func (d *Dual) AwaitStop(ctx context.Context) error {
	d.mu.Lock()
	active := d.active()
	d.mu.Unlock()

	return active.AwaitStop(ctx)
}

// IsMining reports whether the active member is producing blocks.
func (d *Dual) IsMining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active().IsMining()
}

// SubmitWork forwards an external proof-of-work solution to the active member.
func (d *Dual) SubmitWork(nonce types.BlockNonce, powHash, mixDigest common.Hash) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active().SubmitWork(nonce, powHash, mixDigest)
}

// HashRate returns the active member's hash rate.
func (d *Dual) HashRate() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active().HashRate()
}

// SetCoinbase sets the reward recipient on both members so it survives a
// transition.
func (d *Dual) SetCoinbase(addr common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pre.SetCoinbase(addr)
	d.post.SetCoinbase(addr)
}

// Coinbase returns the active member's reward recipient.
func (d *Dual) Coinbase() common.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active().Coinbase()
}

// SetExtra sets the header extra data on both members.
func (d *Dual) SetExtra(extra []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.pre.SetExtra(extra); err != nil {
		return err
	}
	return d.post.SetExtra(extra)
}

// Active returns the member currently selected by the transition state.
func (d *Dual) Active() Coordinator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active()
}

// Pre returns the pre-merge member.
func (d *Dual) Pre() Coordinator { return d.pre }

// Post returns the post-merge member.
func (d *Dual) Post() Coordinator { return d.post }

// Close stops both members, waiting at most the stop timeout for each.
func (d *Dual) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mining = false
	var errs []error
	for _, member := range []Coordinator{d.pre, d.post} {
		member.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
		errs = append(errs, member.AwaitStop(ctx))
		cancel()
	}
	return errors.Join(errs...)
}
