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

package builder

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/dome-network/geth-transition/consensus/hybrid"
	"github.com/dome-network/geth-transition/consensus/merge"
	"github.com/dome-network/geth-transition/core"
	"github.com/dome-network/geth-transition/eth"
	"github.com/dome-network/geth-transition/eth/catalyst"
	"github.com/dome-network/geth-transition/eth/ethconfig"
	"github.com/dome-network/geth-transition/miner"
)

// Node is an assembled transition node.
type Node struct {
	config    ethconfig.Config
	chain     *core.RawChainState
	state     *merge.State
	schedule  *hybrid.Schedule
	consensus *hybrid.Context
	merge     *merge.Context
	miner     *miner.Dual
	watcher   *miner.Watcher
	syncState *eth.SyncState
	api       *catalyst.ConsensusAPI

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Start follows the chain head and, if configured, requests block production.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.watcher.Start()
		if n.config.Miner.Enabled {
			n.miner.Start()
		}
		log.Info("Started transition node", "mining", n.config.Miner.Enabled, "postMerge", n.state.IsPostMerge())
	})
}

// Close stops block production and all background goroutines. The chain
// database is owned by the caller and stays open.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.watcher.Stop()
		err := n.miner.Close()
		n.syncState.Close()
		n.state.Close()
		n.chain.Close()
		if err != nil {
			n.closeErr = errors.Join(errors.New("failed to stop block production"), err)
		}
		log.Info("Closed transition node")
	})
	return n.closeErr
}

// Config returns the configuration the node was built with.
func (n *Node) Config() ethconfig.Config { return n.config }

// ChainState returns the chain head and total difficulty accessor.
func (n *Node) ChainState() *core.RawChainState { return n.chain }

// TransitionState returns the merge transition state.
func (n *Node) TransitionState() *merge.State { return n.state }

// Schedule returns the rule schedule.
func (n *Node) Schedule() *hybrid.Schedule { return n.schedule }

// ConsensusContext returns the combined consensus context.
func (n *Node) ConsensusContext() *hybrid.Context { return n.consensus }

// MergeContext returns the post-merge consensus context.
func (n *Node) MergeContext() *merge.Context { return n.merge }

// Miner returns the block production facade.
func (n *Node) Miner() *miner.Dual { return n.miner }

// SyncState returns the synchronization state.
func (n *Node) SyncState() *eth.SyncState { return n.syncState }

// APIs returns the RPC services offered by the node.
func (n *Node) APIs() []rpc.API {
	return catalyst.APIs(n.api)
}
