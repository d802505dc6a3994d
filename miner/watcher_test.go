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
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/dome-network/geth-transition/consensus/merge"
	"github.com/dome-network/geth-transition/core"
	"github.com/dome-network/geth-transition/eth"
)

type terminalRecorder struct {
	mu      sync.Mutex
	headers []*types.Header
}

func (r *terminalRecorder) SetTerminalPoWBlock(header *types.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, header)
}

func (r *terminalRecorder) recorded() []*types.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Header(nil), r.headers...)
}

// testChain writes a chain whose block n carries difficulty diffs[n] and
// sets the head to its genesis.
func testChain(t *testing.T, diffs ...int64) (*core.RawChainState, []*types.Header) {
	t.Helper()

	chain := core.NewChainState(rawdb.NewMemoryDatabase())
	t.Cleanup(chain.Close)

	var (
		headers []*types.Header
		parent  common.Hash
		td      = new(big.Int)
	)
	for i, diff := range diffs {
		header := &types.Header{
			ParentHash: parent,
			Number:     big.NewInt(int64(i)),
			Difficulty: big.NewInt(diff),
			Time:       uint64(i) * 12,
		}
		td = new(big.Int).Add(td, header.Difficulty)
		require.NoError(t, chain.WriteHeader(header, td))
		headers = append(headers, header)
		parent = header.Hash()
	}
	require.NoError(t, chain.SetHead(headers[0].Hash()))
	return chain, headers
}

func newWatcherDual(t *testing.T, state *merge.State) (*Dual, *fakeCoordinator, *fakeCoordinator) {
	t.Helper()

	pre, post := newFakeCoordinator("pre"), newFakeCoordinator("post")
	dual, err := NewDual(pre, post, state, DualConfig{StopTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	return dual, pre, post
}

func TestNewWatcherValidation(t *testing.T) {
	chain, _ := testChain(t, 10)
	state := merge.NewState()
	dual, _, _ := newWatcherDual(t, state)

	_, err := NewWatcher(chain, big.NewInt(30), nil, dual)
	require.ErrorIs(t, err, ErrMissingState)
	_, err = NewWatcher(chain, big.NewInt(30), state, nil)
	require.ErrorIs(t, err, ErrMissingCoordinator)
	require.False(t, state.Seeded())
}

func TestNewWatcherMissingTotalDifficulty(t *testing.T) {
	chain := core.NewChainState(rawdb.NewMemoryDatabase())
	defer chain.Close()

	state := merge.NewState()
	dual, _, _ := newWatcherDual(t, state)

	_, err := NewWatcher(chain, big.NewInt(30), state, dual)
	require.ErrorIs(t, err, ErrMissingTotalDifficulty)
	require.False(t, state.Seeded())
}

func TestWatcherSeeding(t *testing.T) {
	tests := []struct {
		name      string
		ttd       *big.Int
		postMerge bool
	}{
		{"below ttd", big.NewInt(30), false},
		{"at ttd", big.NewInt(10), true},
		{"above ttd", big.NewInt(5), true},
		{"never merges", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, _ := testChain(t, 10)
			state := merge.NewState()
			dual, pre, post := newWatcherDual(t, state)

			w, err := NewWatcher(chain, tt.ttd, state, dual)
			require.NoError(t, err)
			defer w.Stop()

			require.Equal(t, tt.postMerge, state.IsPostMerge())
			require.Equal(t, tt.postMerge, post.Enabled())
			require.Equal(t, !tt.postMerge, pre.Enabled())
		})
	}
}

// Heads crossing the terminal total difficulty switch production to the
// post-merge coordinator, and a re-org below it switches back.
func TestWatcherFollowsHead(t *testing.T) {
	// Total difficulties: 10, 20, 30, 30.
	chain, headers := testChain(t, 10, 10, 10, 0)
	state := merge.NewState()
	dual, pre, post := newWatcherDual(t, state)

	w, err := NewWatcher(chain, big.NewInt(30), state, dual)
	require.NoError(t, err)
	recorder := new(terminalRecorder)
	w.RecordTerminal(recorder)
	syncState := eth.NewSyncState(0)
	defer syncState.Close()
	w.TrackSync(syncState)
	w.Start()
	defer w.Stop()

	dual.Start()
	require.True(t, pre.IsMining())

	require.NoError(t, chain.SetHead(headers[1].Hash()))
	require.NoError(t, chain.SetHead(headers[2].Hash()))
	require.Eventually(t, func() bool { return post.IsMining() }, time.Second, 5*time.Millisecond)
	require.True(t, state.IsPostMerge())
	require.False(t, pre.Enabled())
	require.False(t, pre.IsMining())

	require.NoError(t, chain.SetHead(headers[3].Hash()))
	require.Eventually(t, func() bool {
		return len(recorder.recorded()) == 1 && state.IsPostMerge()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, chain.SetHead(headers[1].Hash()))
	require.Eventually(t, func() bool { return pre.IsMining() }, time.Second, 5*time.Millisecond)
	require.False(t, state.IsPostMerge())
	require.False(t, post.Enabled())
	require.Equal(t, uint64(1), syncState.ChainHead())

	terminal := recorder.recorded()
	require.Len(t, terminal, 1)
	require.Equal(t, headers[2].Hash(), terminal[0].Hash())
}

// A node whose head already matches the best known head is in sync before
// the first head event arrives.
func TestWatcherTrackSyncSeedsHead(t *testing.T) {
	chain, headers := testChain(t, 10, 10, 10)
	require.NoError(t, chain.SetHead(headers[2].Hash()))

	state := merge.NewState()
	dual, _, _ := newWatcherDual(t, state)
	w, err := NewWatcher(chain, big.NewInt(100), state, dual)
	require.NoError(t, err)
	defer w.Stop()

	syncState := eth.NewSyncState(0)
	defer syncState.Close()
	mergeCtx := merge.NewContext(state)
	mergeCtx.SetSyncState(syncState)
	require.True(t, mergeCtx.IsSyncing())

	w.TrackSync(syncState)
	require.Equal(t, uint64(2), syncState.ChainHead())
	require.True(t, syncState.InSync())
	require.False(t, mergeCtx.IsSyncing())
}

func TestWatcherStop(t *testing.T) {
	chain, headers := testChain(t, 10, 10)
	state := merge.NewState()
	dual, pre, post := newWatcherDual(t, state)

	w, err := NewWatcher(chain, big.NewInt(20), state, dual)
	require.NoError(t, err)
	w.Start()
	w.Stop()
	w.Stop()

	// The coordinator no longer follows the state once detached.
	require.NoError(t, chain.SetHead(headers[1].Hash()))
	state.SetPostMerge(true)
	require.True(t, pre.Enabled())
	require.False(t, post.Enabled())
}
