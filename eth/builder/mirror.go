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
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool/legacypool"
	"github.com/ethereum/go-ethereum/eth/downloader"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/dome-network/geth-transition/consensus/hybrid"
	"github.com/dome-network/geth-transition/consensus/merge"
	"github.com/dome-network/geth-transition/core"
	"github.com/dome-network/geth-transition/eth"
	"github.com/dome-network/geth-transition/eth/catalyst"
	"github.com/dome-network/geth-transition/eth/ethconfig"
	"github.com/dome-network/geth-transition/miner"
	"github.com/dome-network/geth-transition/params"
)

var (
	ErrBuilderSealed       = errors.New("builder configured after build")
	ErrMissingBuilder      = errors.New("missing regime builder")
	ErrMissingDatabase     = errors.New("missing chain database")
	ErrMissingMergeContext = errors.New("post-merge builder did not provide a merge context")
)

// Mirror builds a transition node out of a pre- and a post-merge builder.
// Every configuration option given to the mirror is applied to both
// sub-builders in the same order, so the two regimes never run with
// diverging configuration.
type Mirror struct {
	pre  Builder
	post Builder

	mu      sync.Mutex
	config  ethconfig.Config
	applied []string // Names of the options applied so far, in order
	sealed  bool
}

// NewMirror creates a mirror over pre and post.
func NewMirror(pre, post Builder) (*Mirror, error) {
	if pre == nil || post == nil {
		return nil, ErrMissingBuilder
	}
	return &Mirror{pre: pre, post: post, config: ethconfig.Defaults}, nil
}

// Configure applies opt to the mirror and both sub-builders. Configuring a
// built mirror is a programming error and panics with ErrBuilderSealed.
func (m *Mirror) Configure(opt ethconfig.Option) *Mirror {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		panic(fmt.Errorf("%w: %s", ErrBuilderSealed, opt.Name))
	}
	opt.Apply(&m.config)
	m.pre.Configure(opt)
	m.post.Configure(opt)
	m.applied = append(m.applied, opt.Name)
	return m
}

// Applied returns the names of the applied options in order.
func (m *Mirror) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

// NetworkID mirrors the network id.
func (m *Mirror) NetworkID(id uint64) *Mirror {
	return m.Configure(ethconfig.WithNetworkID(id))
}

// Genesis mirrors the genesis definition.
func (m *Mirror) Genesis(genesis *gethcore.Genesis) *Mirror {
	return m.Configure(ethconfig.WithGenesis(genesis))
}

// GenesisOverrides mirrors the genesis chain config overrides.
func (m *Mirror) GenesisOverrides(overrides map[string]string) *Mirror {
	return m.Configure(ethconfig.WithGenesisOverrides(overrides))
}

// DataDir mirrors the data directory.
func (m *Mirror) DataDir(dir string) *Mirror {
	return m.Configure(ethconfig.WithDataDir(dir))
}

// NodeKey mirrors the node identity key.
func (m *Mirror) NodeKey(key *ecdsa.PrivateKey) *Mirror {
	return m.Configure(ethconfig.WithNodeKey(key))
}

// Metrics mirrors the metrics registry.
func (m *Mirror) Metrics(registry metrics.Registry) *Mirror {
	return m.Configure(ethconfig.WithMetrics(registry))
}

// Pruning mirrors the state pruning switch.
func (m *Mirror) Pruning(enabled bool) *Mirror {
	return m.Configure(ethconfig.WithPruning(enabled))
}

// PrunerConfig mirrors the pruning parameters.
func (m *Mirror) PrunerConfig(pruner ethconfig.PrunerConfig) *Mirror {
	return m.Configure(ethconfig.WithPruner(pruner))
}

// TxPool mirrors the transaction pool policy.
func (m *Mirror) TxPool(pool legacypool.Config) *Mirror {
	return m.Configure(ethconfig.WithTxPool(pool))
}

// Synchronizer mirrors the synchronizer mode.
func (m *Mirror) Synchronizer(mode downloader.SyncMode) *Mirror {
	return m.Configure(ethconfig.WithSyncMode(mode))
}

// RequiredBlocks mirrors the required block checkpoints.
func (m *Mirror) RequiredBlocks(blocks map[uint64]common.Hash) *Mirror {
	return m.Configure(ethconfig.WithRequiredBlocks(blocks))
}

// ReorgLoggingThreshold mirrors the re-org logging depth.
func (m *Mirror) ReorgLoggingThreshold(depth uint64) *Mirror {
	return m.Configure(ethconfig.WithReorgLoggingThreshold(depth))
}

// StateScheme mirrors the trie storage scheme.
func (m *Mirror) StateScheme(scheme string) *Mirror {
	return m.Configure(ethconfig.WithStateScheme(scheme))
}

// MessagePermissioning mirrors the message permissioning providers.
func (m *Mirror) MessagePermissioning(providers []ethconfig.PermissioningProvider) *Mirror {
	return m.Configure(ethconfig.WithMessagePermissioning(providers))
}

// RevertReason mirrors the revert reason switch.
func (m *Mirror) RevertReason(enabled bool) *Mirror {
	return m.Configure(ethconfig.WithRevertReason(enabled))
}

// Mining mirrors the block production parameters.
func (m *Mirror) Mining(mining ethconfig.MiningConfig) *Mirror {
	return m.Configure(ethconfig.WithMining(mining))
}

// SyncTolerance mirrors the number of blocks the node may trail its peers
// while in sync.
func (m *Mirror) SyncTolerance(blocks uint64) *Mirror {
	return m.Configure(ethconfig.WithSyncTolerance(blocks))
}

// StopTimeout mirrors the transition stop timeout.
func (m *Mirror) StopTimeout(timeout time.Duration) *Mirror {
	return m.Configure(ethconfig.WithStopTimeout(timeout))
}

// Clock mirrors the block producers' time source.
func (m *Mirror) Clock(clock mclock.Clock) *Mirror {
	return m.Configure(ethconfig.WithClock(clock))
}

// Database mirrors the chain database.
func (m *Mirror) Database(db ethdb.Database) *Mirror {
	return m.Configure(ethconfig.WithDatabase(db))
}

// Extensions returns no services: regime specific extensions are suppressed
// on a transition node.
func (m *Mirror) Extensions() []Extension { return nil }

// Build composes the node. It may only be called once; afterwards the
// mirror rejects further configuration.
func (m *Mirror) Build() (*Node, error) {
	m.mu.Lock()
	if m.sealed {
		m.mu.Unlock()
		return nil, ErrBuilderSealed
	}
	m.sealed = true
	config := m.config
	m.mu.Unlock()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Database == nil {
		return nil, ErrMissingDatabase
	}
	var g errgroup.Group
	g.Go(m.pre.PrepareForBuild)
	g.Go(m.post.PrepareForBuild)
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to prepare regime builders: %w", err)
	}
	ttd, err := params.TerminalTotalDifficulty(config.Genesis, config.GenesisOverrides)
	if err != nil {
		return nil, err
	}
	var (
		chain = core.NewChainState(config.Database)
		state = merge.NewState()
	)
	schedule, err := m.createSchedule(ttd, chain)
	if err != nil {
		return nil, err
	}
	consensus, mergeCtx, err := m.createConsensusContext(chain, state)
	if err != nil {
		return nil, err
	}
	dual, err := m.createCoordinator(schedule, state, config)
	if err != nil {
		return nil, err
	}
	watcher, err := miner.NewWatcher(chain, ttd, state, dual)
	if err != nil {
		return nil, err
	}
	watcher.RecordTerminal(mergeCtx)

	syncState := eth.NewSyncState(config.SyncTolerance)
	mergeCtx.SetSyncState(syncState)
	watcher.TrackSync(syncState)

	if n := len(m.pre.Extensions()) + len(m.post.Extensions()); n > 0 {
		log.Debug("Suppressed regime extensions", "count", n)
	}
	log.Info("Built transition node",
		"network", config.NetworkId,
		"ttd", ttd,
		"postMerge", state.IsPostMerge(),
		"options", len(m.Applied()))

	return &Node{
		config:    config,
		chain:     chain,
		state:     state,
		schedule:  schedule,
		consensus: consensus,
		merge:     mergeCtx,
		miner:     dual,
		watcher:   watcher,
		syncState: syncState,
		api:       catalyst.NewConsensusAPI(mergeCtx, ttd),
	}, nil
}

func (m *Mirror) createSchedule(ttd *big.Int, chain *core.RawChainState) (*hybrid.Schedule, error) {
	pre, err := m.pre.CreateRuleSet()
	if err != nil {
		return nil, err
	}
	post, err := m.post.CreateRuleSet()
	if err != nil {
		return nil, err
	}
	return hybrid.New(pre, post, hybrid.TerminalPredicate(ttd, chain))
}

func (m *Mirror) createConsensusContext(chain core.ChainState, state *merge.State) (*hybrid.Context, *merge.Context, error) {
	pre, err := m.pre.CreateConsensusContext(chain, state)
	if err != nil {
		return nil, nil, err
	}
	post, err := m.post.CreateConsensusContext(chain, state)
	if err != nil {
		return nil, nil, err
	}
	consensus, err := hybrid.NewContext(pre, post)
	if err != nil {
		return nil, nil, err
	}
	mergeCtx, err := hybrid.As[*merge.Context](consensus)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingMergeContext, err)
	}
	return consensus, mergeCtx, nil
}

// createCoordinator builds both coordinators from the same mining
// configuration. Which of them produces blocks is decided by the transition
// state alone.
func (m *Mirror) createCoordinator(schedule hybrid.Selector, state *merge.State, config ethconfig.Config) (*miner.Dual, error) {
	pre, err := m.pre.CreateCoordinator(schedule.PreRuleSet(), config.Miner)
	if err != nil {
		return nil, err
	}
	post, err := m.post.CreateCoordinator(schedule.PostRuleSet(), config.Miner)
	if err != nil {
		return nil, err
	}
	return miner.NewDual(pre, post, state, miner.DualConfig{StopTimeout: config.StopTimeout})
}
