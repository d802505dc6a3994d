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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/dome-network/geth-transition/consensus/merge"
)

// fakeCoordinator records the calls it receives. Start only takes effect
// while enabled, like every real coordinator.
type fakeCoordinator struct {
	name string

	mu       sync.Mutex
	enabled  bool
	mining   bool
	calls    []string
	hang     bool // AwaitStop blocks until its context is done
	coinbase common.Address
	extra    []byte
	hashrate uint64
	extraErr error
}

func newFakeCoordinator(name string) *fakeCoordinator {
	return &fakeCoordinator{name: name}
}

func (f *fakeCoordinator) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeCoordinator) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.enabled {
		f.mining = true
	}
}

func (f *fakeCoordinator) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	f.mining = false
}

func (f *fakeCoordinator) AwaitStop(ctx context.Context) error {
	f.mu.Lock()
	f.record("await")
	hang := f.hang
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeCoordinator) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enable")
	f.enabled = true
}

func (f *fakeCoordinator) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disable")
	f.enabled = false
}

func (f *fakeCoordinator) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeCoordinator) IsMining() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mining
}

func (f *fakeCoordinator) SubmitWork(nonce types.BlockNonce, powHash, mixDigest common.Hash) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("submit")
	return f.mining
}

func (f *fakeCoordinator) HashRate() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashrate
}

func (f *fakeCoordinator) SetCoinbase(addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coinbase = addr
}

func (f *fakeCoordinator) Coinbase() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coinbase
}

func (f *fakeCoordinator) SetExtra(extra []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extraErr != nil {
		return f.extraErr
	}
	f.extra = common.CopyBytes(extra)
	return nil
}

func (f *fakeCoordinator) setHang(hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = hang
}

func (f *fakeCoordinator) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

// newTestDual wires a dual coordinator to a seeded state the way the
// watcher does: seed first, observe second.
func newTestDual(t *testing.T, postMerge bool) (*Dual, *merge.State, *fakeCoordinator, *fakeCoordinator) {
	t.Helper()

	pre, post := newFakeCoordinator("pre"), newFakeCoordinator("post")
	state := merge.NewState()
	dual, err := NewDual(pre, post, state, DualConfig{StopTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	state.SetPostMerge(postMerge)
	sub := state.Observe(dual.OnTransition)
	t.Cleanup(sub.Unsubscribe)
	return dual, state, pre, post
}

func requireExactlyOneEnabled(t *testing.T, dual *Dual, state *merge.State) {
	t.Helper()

	pre, post := dual.Pre().Enabled(), dual.Post().Enabled()
	require.True(t, pre != post, "exactly one coordinator must be enabled: pre=%v post=%v", pre, post)
	require.Equal(t, state.IsPostMerge(), post)
}

func TestNewDualValidation(t *testing.T) {
	state := merge.NewState()
	_, err := NewDual(nil, newFakeCoordinator("post"), state, DualConfig{})
	require.ErrorIs(t, err, ErrMissingCoordinator)
	_, err = NewDual(newFakeCoordinator("pre"), nil, state, DualConfig{})
	require.ErrorIs(t, err, ErrMissingCoordinator)
	_, err = NewDual(newFakeCoordinator("pre"), newFakeCoordinator("post"), nil, DualConfig{})
	require.ErrorIs(t, err, ErrMissingState)

	dual, err := NewDual(newFakeCoordinator("pre"), newFakeCoordinator("post"), state, DualConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultStopTimeout, dual.stopTimeout)
}

// A node starting below the terminal total difficulty mines with the
// pre-merge coordinator only.
func TestDualStartsPreMerge(t *testing.T) {
	dual, state, pre, post := newTestDual(t, false)
	requireExactlyOneEnabled(t, dual, state)
	require.Same(t, Coordinator(pre), dual.Active())

	dual.Start()
	require.True(t, dual.IsMining())
	require.True(t, pre.IsMining())
	require.False(t, post.IsMining())
	require.NotContains(t, post.takeCalls(), "start")
}

// A node starting on a merged chain never starts pre-merge production.
func TestDualStartsPostMerge(t *testing.T) {
	dual, state, pre, post := newTestDual(t, true)
	requireExactlyOneEnabled(t, dual, state)

	dual.Start()
	require.True(t, post.IsMining())
	require.False(t, pre.IsMining())
	require.NotContains(t, pre.takeCalls(), "start")
}

// Crossing the terminal total difficulty disables and stops the pre-merge
// coordinator before the post-merge one is enabled and started.
func TestDualForwardTransition(t *testing.T) {
	dual, state, pre, post := newTestDual(t, false)
	dual.Start()
	pre.takeCalls()
	post.takeCalls()

	state.SetPostMerge(true)

	requireExactlyOneEnabled(t, dual, state)
	require.Equal(t, []string{"disable", "stop", "await"}, pre.takeCalls())
	require.Equal(t, []string{"enable", "start"}, post.takeCalls())
	require.False(t, pre.IsMining())
	require.True(t, post.IsMining())
	require.Same(t, Coordinator(post), dual.Active())
}

// A re-org below the terminal total difficulty hands production back.
func TestDualBackwardTransition(t *testing.T) {
	dual, state, pre, post := newTestDual(t, true)
	dual.Start()
	pre.takeCalls()
	post.takeCalls()

	state.SetPostMerge(false)

	requireExactlyOneEnabled(t, dual, state)
	require.Equal(t, []string{"disable", "stop", "await"}, post.takeCalls())
	require.Equal(t, []string{"enable", "start"}, pre.takeCalls())
	require.True(t, pre.IsMining())
	require.False(t, post.IsMining())
}

// Without a mining request a transition only moves the enabled flag.
func TestDualTransitionWithoutMining(t *testing.T) {
	dual, state, pre, post := newTestDual(t, false)
	pre.takeCalls()
	post.takeCalls()

	state.SetPostMerge(true)

	requireExactlyOneEnabled(t, dual, state)
	require.Equal(t, []string{"enable"}, post.takeCalls())
	require.False(t, post.IsMining())
	require.False(t, pre.IsMining())
}

// Re-affirming the current regime keeps exactly one member enabled and
// production running.
func TestDualReaffirm(t *testing.T) {
	dual, state, _, post := newTestDual(t, true)
	dual.Start()

	for i := 0; i < 3; i++ {
		state.SetPostMerge(true)
		requireExactlyOneEnabled(t, dual, state)
		require.True(t, post.IsMining())
	}
}

// Facade calls racing a transition reach the member that is still enabled
// until the switch completes.
func TestDualFacadeDuringTransition(t *testing.T) {
	pre, post := newFakeCoordinator("pre"), newFakeCoordinator("post")
	state := merge.NewState()
	dual, err := NewDual(pre, post, state, DualConfig{StopTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	state.SetPostMerge(false)

	var (
		active   Coordinator
		mining   bool
		accepted bool
	)
	// Registered first, so it runs before the coordinator sees the switch.
	early := state.Observe(func(postMerge bool) {
		if !postMerge {
			return
		}
		active = dual.Active()
		mining = dual.IsMining()
		accepted = dual.SubmitWork(types.EncodeNonce(1), common.Hash{1}, common.Hash{2})
	})
	defer early.Unsubscribe()
	sub := state.Observe(dual.OnTransition)
	defer sub.Unsubscribe()

	dual.Start()
	state.SetPostMerge(true)

	require.Same(t, Coordinator(pre), active)
	require.True(t, mining)
	require.True(t, accepted)
	require.Same(t, Coordinator(post), dual.Active())
	require.True(t, dual.IsMining())
}

func TestDualStopTimeout(t *testing.T) {
	dual, state, pre, post := newTestDual(t, false)
	dual.Start()
	pre.setHang(true)

	start := time.Now()
	state.SetPostMerge(true)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, 5*time.Second, "transition must not block on a stuck coordinator")
	requireExactlyOneEnabled(t, dual, state)
	require.True(t, post.IsMining())
}

func TestDualFacade(t *testing.T) {
	dual, state, pre, post := newTestDual(t, false)
	dual.Start()

	// Work goes to the active member only.
	require.True(t, dual.SubmitWork(types.EncodeNonce(1), common.Hash{1}, common.Hash{2}))
	require.Contains(t, pre.takeCalls(), "submit")
	require.NotContains(t, post.takeCalls(), "submit")

	// Reward and extra data settings survive a transition.
	addr := common.HexToAddress("0x1234")
	dual.SetCoinbase(addr)
	require.NoError(t, dual.SetExtra([]byte("dome")))
	state.SetPostMerge(true)
	require.Equal(t, addr, dual.Coinbase())
	require.Equal(t, []byte("dome"), post.extra)

	post.mu.Lock()
	post.hashrate = 7
	post.mu.Unlock()
	require.Equal(t, uint64(7), dual.HashRate())

	wantErr := errors.New("rejected")
	pre.extraErr = wantErr
	require.ErrorIs(t, dual.SetExtra([]byte("x")), wantErr)

	dual.Stop()
	require.False(t, dual.IsMining())
	require.NoError(t, dual.AwaitStop(context.Background()))
}

func TestDualClose(t *testing.T) {
	dual, _, pre, post := newTestDual(t, false)
	dual.Start()
	post.setHang(true)

	err := dual.Close()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, pre.IsMining())
	require.False(t, post.IsMining())
}

// Transitions racing with facade calls keep the invariant and never
// leave both members mining.
func TestDualConcurrentTransitions(t *testing.T) {
	dual, state, pre, post := newTestDual(t, false)
	dual.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(post bool) {
			defer wg.Done()
			state.SetPostMerge(post)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			dual.IsMining()
			dual.SubmitWork(types.BlockNonce{}, common.Hash{}, common.Hash{})
		}()
	}
	wg.Wait()

	requireExactlyOneEnabled(t, dual, state)
	require.False(t, pre.IsMining() && post.IsMining())
	require.True(t, dual.IsMining())
}
