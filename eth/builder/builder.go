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

// Package builder assembles a node that runs two consensus regimes across
// the merge from a pair of regime specific builders.
package builder

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	gethparams "github.com/ethereum/go-ethereum/params"

	"github.com/dome-network/geth-transition/consensus/hybrid"
	"github.com/dome-network/geth-transition/consensus/merge"
	"github.com/dome-network/geth-transition/consensus/rules"
	"github.com/dome-network/geth-transition/core"
	"github.com/dome-network/geth-transition/eth/ethconfig"
	"github.com/dome-network/geth-transition/miner"
	"github.com/dome-network/geth-transition/params"
)

var errNotPrepared = errors.New("builder used before PrepareForBuild")

// Extension is an additional service a regime contributes to the node.
type Extension interface {
	Name() string
	Start() error
	Stop() error
}

// Builder creates the components of one consensus regime. Configure is
// called once per configuration option, PrepareForBuild once before any of
// the Create methods.
type Builder interface {
	Configure(opt ethconfig.Option)
	Config() *ethconfig.Config

	PrepareForBuild() error

	CreateRuleSet() (hybrid.RuleSet, error)
	CreateConsensusContext(chain core.ChainState, state *merge.State) (hybrid.ConsensusContext, error)
	CreateCoordinator(rules hybrid.RuleSet, mining ethconfig.MiningConfig) (miner.Coordinator, error)

	Extensions() []Extension
}

// base carries the configuration handling shared by the reference builders.
type base struct {
	name        string
	config      ethconfig.Config
	chainConfig *gethparams.ChainConfig
}

func newBase(name string) base {
	return base{name: name, config: ethconfig.Defaults}
}

func (b *base) Configure(opt ethconfig.Option) {
	opt.Apply(&b.config)
}

func (b *base) Config() *ethconfig.Config {
	return &b.config
}

// PrepareForBuild validates the configuration and resolves the chain
// configuration with all genesis overrides applied.
func (b *base) PrepareForBuild() error {
	if err := b.config.Validate(); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	cfg := *b.config.Genesis.Config
	if err := params.ApplyOverrides(&cfg, b.config.GenesisOverrides); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	b.chainConfig = &cfg

	log.Debug("Prepared consensus builder", "regime", b.name, "chainid", cfg.ChainID, "ttd", cfg.TerminalTotalDifficulty)
	return nil
}

func (b *base) Extensions() []Extension { return nil }

func (b *base) sealerConfig(mining ethconfig.MiningConfig, external bool) miner.SealerConfig {
	return miner.SealerConfig{
		Name:         b.name,
		Recommit:     mining.Recommit,
		Coinbase:     mining.Etherbase,
		ExtraData:    mining.ExtraData,
		ExternalWork: external && mining.ExternalWork,
		Clock:        b.config.Clock,
	}
}

// PoWBuilder builds the pre-merge proof-of-work regime.
type PoWBuilder struct {
	base
}

// NewPoWBuilder creates a proof-of-work builder with default configuration.
func NewPoWBuilder() *PoWBuilder {
	return &PoWBuilder{base: newBase("ethash")}
}

// CreateRuleSet implements Builder.
func (b *PoWBuilder) CreateRuleSet() (hybrid.RuleSet, error) {
	if b.chainConfig == nil {
		return nil, errNotPrepared
	}
	return rules.NewPoW(b.chainConfig), nil
}

// CreateConsensusContext implements Builder.
func (b *PoWBuilder) CreateConsensusContext(chain core.ChainState, state *merge.State) (hybrid.ConsensusContext, error) {
	if b.chainConfig == nil {
		return nil, errNotPrepared
	}
	return rules.NewPoWContext(b.chainConfig), nil
}

// CreateCoordinator implements Builder. The sealer starts disabled.
func (b *PoWBuilder) CreateCoordinator(rules hybrid.RuleSet, mining ethconfig.MiningConfig) (miner.Coordinator, error) {
	return miner.NewSealer(b.sealerConfig(mining, true)), nil
}

// BeaconBuilder builds the post-merge proof-of-stake regime.
type BeaconBuilder struct {
	base
}

// NewBeaconBuilder creates a beacon builder with default configuration.
func NewBeaconBuilder() *BeaconBuilder {
	return &BeaconBuilder{base: newBase("beacon")}
}

// CreateRuleSet implements Builder.
func (b *BeaconBuilder) CreateRuleSet() (hybrid.RuleSet, error) {
	if b.chainConfig == nil {
		return nil, errNotPrepared
	}
	return rules.NewBeacon(), nil
}

// CreateConsensusContext implements Builder. The returned merge context
// shares state with the rest of the node.
func (b *BeaconBuilder) CreateConsensusContext(chain core.ChainState, state *merge.State) (hybrid.ConsensusContext, error) {
	if b.chainConfig == nil {
		return nil, errNotPrepared
	}
	return merge.NewContext(state), nil
}

// CreateCoordinator implements Builder. Beacon blocks carry no proof-of-work,
// so external work is never accepted.
func (b *BeaconBuilder) CreateCoordinator(rules hybrid.RuleSet, mining ethconfig.MiningConfig) (miner.Coordinator, error) {
	return miner.NewSealer(b.sealerConfig(mining, false)), nil
}
