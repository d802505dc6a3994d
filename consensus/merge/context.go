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

package merge

import (
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dome-network/geth-transition/consensus/hybrid"
	"github.com/dome-network/geth-transition/eth"
)

// Context is the post-merge consensus context. One instance is built per
// node and handed explicitly to whoever needs it.
type Context struct {
	state     *State
	syncState atomic.Pointer[eth.SyncState]
	terminal  atomic.Pointer[types.Header]
}

// NewContext wraps the node's transition state.
func NewContext(state *State) *Context {
	return &Context{state: state}
}

// Capabilities implements hybrid.ConsensusContext.
func (c *Context) Capabilities() mapset.Set[hybrid.Capability] {
	return mapset.NewSet(hybrid.CapabilityPostMerge, hybrid.CapabilityTransitionState)
}

// State returns the shared transition state.
func (c *Context) State() *State {
	return c.state
}

// IsPostMerge reports the head relative merge status.
func (c *Context) IsPostMerge() bool {
	return c.state.IsPostMerge()
}

// SetSyncState installs the node's synchronization state.
func (c *Context) SetSyncState(s *eth.SyncState) {
	c.syncState.Store(s)
}

// SyncState returns the installed synchronization state, or nil before the
// node finished assembly.
func (c *Context) SyncState() *eth.SyncState {
	return c.syncState.Load()
}

// IsSyncing reports whether the node is still catching up. Without a sync
// state the node is considered syncing.
func (c *Context) IsSyncing() bool {
	s := c.syncState.Load()
	return s == nil || !s.InSync()
}

// SetTerminalPoWBlock records the last proof-of-work block of the canonical chain.
func (c *Context) SetTerminalPoWBlock(header *types.Header) {
	c.terminal.Store(types.CopyHeader(header))
}

// TerminalPoWBlock returns the recorded terminal block, if any.
func (c *Context) TerminalPoWBlock() *types.Header {
	return c.terminal.Load()
}
