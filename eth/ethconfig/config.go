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

// Package ethconfig contains the configuration of the transition node.
package ethconfig

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/txpool/legacypool"
	"github.com/ethereum/go-ethereum/eth/downloader"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/params"
)

var (
	ErrMissingGenesis     = errors.New("missing genesis definition")
	ErrInvalidStateScheme = errors.New("invalid state scheme")
	ErrInvalidPruner      = errors.New("invalid pruner configuration")
	ErrExtraDataTooLong   = errors.New("miner extra data too long")
)

// PermissioningProvider decides whether a devp2p message from a peer may be
// processed.
type PermissioningProvider interface {
	IsMessagePermitted(peer enode.ID, code uint64) bool
}

// PrunerConfig controls world state pruning.
type PrunerConfig struct {
	BlockConfirmations uint64 // Blocks to wait before a state becomes prunable
	BlocksRetained     uint64 // Number of recent block states kept
}

// MiningConfig holds the block production parameters.
type MiningConfig struct {
	Enabled      bool           // Start block production on node start
	Etherbase    common.Address `toml:",omitempty"` // Public address for block mining rewards
	ExtraData    hexutil.Bytes  `toml:",omitempty"` // Block extra data set by the miner
	Recommit     time.Duration  // The time interval for miner to re-create mining work
	ExternalWork bool           // Accept externally found proof-of-work solutions
}

// Config contains the configuration options of the transition node. The same
// values must reach both consensus regimes.
type Config struct {
	// The genesis block, which is inserted if the database is empty.
	// If nil, the Ethereum main net block is used.
	Genesis *core.Genesis `toml:",omitempty" yaml:"-"`

	// Overrides applied to the genesis chain configuration, see params.ApplyOverrides.
	GenesisOverrides map[string]string `toml:",omitempty" yaml:"genesisOverrides,omitempty"`

	// Network ID separates blockchains on the peer-to-peer networking level.
	NetworkId uint64 `yaml:"networkId"`

	DataDir string `toml:",omitempty" yaml:"dataDir,omitempty"`

	// Node identity, never serialized.
	NodeKey *ecdsa.PrivateKey `toml:"-" yaml:"-"`

	// Metrics sink every component registers its meters with.
	Metrics metrics.Registry `toml:"-" yaml:"-"`

	NoPruning bool         `yaml:"noPruning"`
	Pruner    PrunerConfig `yaml:"pruner"`

	TxPool   legacypool.Config   `yaml:"-"`
	SyncMode downloader.SyncMode `yaml:"syncMode"`

	// RequiredBlocks is a set of block number -> hash mappings which must be in the
	// canonical chain of all remote peers. Setting the option makes geth verify the
	// presence of these blocks for every new peer connection.
	RequiredBlocks map[uint64]common.Hash `toml:"-" yaml:"-"`

	// Re-orgs deeper than this are logged at warning level.
	ReorgLoggingThreshold uint64 `yaml:"reorgLoggingThreshold"`

	// State scheme represents the scheme used to store ethereum states and trie
	// nodes on top. It can be 'hash', 'path', or none which means use the scheme
	// consistent with persistent state.
	StateScheme string `toml:",omitempty" yaml:"stateScheme,omitempty"`

	MessagePermissioning []PermissioningProvider `toml:"-" yaml:"-"`

	// Enables tracking of the revert reason of failed transactions.
	RevertReason bool `yaml:"revertReason"`

	Miner MiningConfig `yaml:"miner"`

	// Transition tuning.
	StopTimeout   time.Duration `yaml:"stopTimeout"`
	SyncTolerance uint64        `yaml:"syncTolerance"`

	Clock    mclock.Clock   `toml:"-" yaml:"-"`
	Database ethdb.Database `toml:"-" yaml:"-"`
}

// Defaults contains default settings for use on the Ethereum main net.
var Defaults = Config{
	NetworkId: 1,
	Pruner: PrunerConfig{
		BlockConfirmations: 10,
		BlocksRetained:     1024,
	},
	TxPool:                legacypool.DefaultConfig,
	SyncMode:              downloader.SnapSync,
	ReorgLoggingThreshold: 6,
	StateScheme:           rawdb.HashScheme,
	Miner: MiningConfig{
		Recommit: 2 * time.Second,
	},
	StopTimeout:   5 * time.Second,
	SyncTolerance: 5,
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Genesis == nil || c.Genesis.Config == nil {
		return ErrMissingGenesis
	}
	switch c.StateScheme {
	case "", rawdb.HashScheme, rawdb.PathScheme:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStateScheme, c.StateScheme)
	}
	if !c.NoPruning && c.Pruner.BlocksRetained == 0 {
		return fmt.Errorf("%w: pruning enabled without retained blocks", ErrInvalidPruner)
	}
	if uint64(len(c.Miner.ExtraData)) > params.MaximumExtraDataSize {
		return fmt.Errorf("%w: %d > %d", ErrExtraDataTooLong, len(c.Miner.ExtraData), params.MaximumExtraDataSize)
	}
	return nil
}

// Option is one named configuration mutation. Options are replayed in order
// onto every configuration that must stay identical.
type Option struct {
	Name  string
	Apply func(*Config)
}

// WithNetworkID sets the network id.
func WithNetworkID(id uint64) Option {
	return Option{"networkId", func(c *Config) { c.NetworkId = id }}
}

// WithGenesis sets the genesis definition. The genesis is shared, not copied.
func WithGenesis(genesis *core.Genesis) Option {
	return Option{"genesis", func(c *Config) { c.Genesis = genesis }}
}

// WithGenesisOverrides sets the genesis chain config overrides, see
// params.ApplyOverrides.
func WithGenesisOverrides(overrides map[string]string) Option {
	return Option{"genesisOverrides", func(c *Config) { c.GenesisOverrides = maps.Clone(overrides) }}
}

// WithDataDir sets the data directory.
func WithDataDir(dir string) Option {
	return Option{"dataDir", func(c *Config) { c.DataDir = dir }}
}

// WithNodeKey sets the node identity key.
func WithNodeKey(key *ecdsa.PrivateKey) Option {
	return Option{"nodeKey", func(c *Config) { c.NodeKey = key }}
}

// WithMetrics sets the registry components report their metrics to.
func WithMetrics(registry metrics.Registry) Option {
	return Option{"metrics", func(c *Config) { c.Metrics = registry }}
}

// WithPruning enables or disables state pruning.
func WithPruning(enabled bool) Option {
	return Option{"pruning", func(c *Config) { c.NoPruning = !enabled }}
}

// WithPruner sets the pruning parameters.
func WithPruner(pruner PrunerConfig) Option {
	return Option{"pruner", func(c *Config) { c.Pruner = pruner }}
}

// WithTxPool sets the transaction pool policy.
func WithTxPool(pool legacypool.Config) Option {
	return Option{"txPool", func(c *Config) {
		c.TxPool = pool
		c.TxPool.Locals = slices.Clone(pool.Locals)
	}}
}

// WithSyncMode sets the synchronizer mode.
func WithSyncMode(mode downloader.SyncMode) Option {
	return Option{"syncMode", func(c *Config) { c.SyncMode = mode }}
}

// WithRequiredBlocks sets the block number to hash checkpoints peers must
// carry.
func WithRequiredBlocks(blocks map[uint64]common.Hash) Option {
	return Option{"requiredBlocks", func(c *Config) { c.RequiredBlocks = maps.Clone(blocks) }}
}

// WithReorgLoggingThreshold sets the re-org depth logged at warning level.
func WithReorgLoggingThreshold(depth uint64) Option {
	return Option{"reorgLoggingThreshold", func(c *Config) { c.ReorgLoggingThreshold = depth }}
}

// WithStateScheme sets the trie storage scheme.
func WithStateScheme(scheme string) Option {
	return Option{"stateScheme", func(c *Config) { c.StateScheme = scheme }}
}

// WithMessagePermissioning sets the devp2p message permissioning providers.
func WithMessagePermissioning(providers []PermissioningProvider) Option {
	return Option{"messagePermissioning", func(c *Config) { c.MessagePermissioning = slices.Clone(providers) }}
}

// WithRevertReason toggles recording of transaction revert reasons.
func WithRevertReason(enabled bool) Option {
	return Option{"revertReason", func(c *Config) { c.RevertReason = enabled }}
}

// WithMining sets the block production parameters.
func WithMining(mining MiningConfig) Option {
	return Option{"mining", func(c *Config) {
		c.Miner = mining
		c.Miner.ExtraData = common.CopyBytes(mining.ExtraData)
	}}
}

// WithSyncTolerance sets how many blocks the local head may trail the best
// known head while the node still counts as in sync.
func WithSyncTolerance(blocks uint64) Option {
	return Option{"syncTolerance", func(c *Config) { c.SyncTolerance = blocks }}
}

// WithStopTimeout bounds how long a merge transition waits for the
// outgoing coordinator.
func WithStopTimeout(timeout time.Duration) Option {
	return Option{"stopTimeout", func(c *Config) { c.StopTimeout = timeout }}
}

// WithClock sets the time source of the block producers.
func WithClock(clock mclock.Clock) Option {
	return Option{"clock", func(c *Config) { c.Clock = clock }}
}

// WithDatabase sets the chain database. The database is owned by the caller.
func WithDatabase(db ethdb.Database) Option {
	return Option{"database", func(c *Config) { c.Database = db }}
}
