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

package ethconfig

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/eth/downloader"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/params"
)

func testGenesis() *core.Genesis {
	return &core.Genesis{
		Config: &params.ChainConfig{
			ChainID:                 big.NewInt(1337),
			TerminalTotalDifficulty: big.NewInt(100),
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults with genesis", func(c *Config) {}, nil},
		{"missing genesis", func(c *Config) { c.Genesis = nil }, ErrMissingGenesis},
		{"genesis without chain config", func(c *Config) { c.Genesis = &core.Genesis{} }, ErrMissingGenesis},
		{"path scheme", func(c *Config) { c.StateScheme = rawdb.PathScheme }, nil},
		{"empty scheme", func(c *Config) { c.StateScheme = "" }, nil},
		{"unknown scheme", func(c *Config) { c.StateScheme = "bonsai" }, ErrInvalidStateScheme},
		{"pruning without retention", func(c *Config) { c.Pruner.BlocksRetained = 0 }, ErrInvalidPruner},
		{"no pruning without retention", func(c *Config) {
			c.NoPruning = true
			c.Pruner.BlocksRetained = 0
		}, nil},
		{"oversized extra data", func(c *Config) { c.Miner.ExtraData = make([]byte, params.MaximumExtraDataSize+1) }, ErrExtraDataTooLong},
		{"maximum extra data", func(c *Config) { c.Miner.ExtraData = make([]byte, params.MaximumExtraDataSize) }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults
			cfg.Genesis = testGenesis()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type denyAll struct{}

func (denyAll) IsMessagePermitted(enode.ID, uint64) bool { return false }

func TestOptionsApply(t *testing.T) {
	var (
		genesis   = testGenesis()
		overrides = map[string]string{"terminalTotalDifficulty": "5"}
		required  = map[uint64]common.Hash{7: common.HexToHash("0x07")}
		providers = []PermissioningProvider{denyAll{}}
		mining    = MiningConfig{Enabled: true, Etherbase: common.HexToAddress("0x01"), ExtraData: []byte("dome"), Recommit: time.Second}
		db        = rawdb.NewMemoryDatabase()
	)
	options := []Option{
		WithNetworkID(99),
		WithGenesis(genesis),
		WithGenesisOverrides(overrides),
		WithDataDir("/tmp/transition"),
		WithPruning(false),
		WithPruner(PrunerConfig{BlockConfirmations: 1, BlocksRetained: 2}),
		WithSyncMode(downloader.FullSync),
		WithRequiredBlocks(required),
		WithReorgLoggingThreshold(12),
		WithStateScheme(rawdb.PathScheme),
		WithMessagePermissioning(providers),
		WithRevertReason(true),
		WithMining(mining),
		WithSyncTolerance(9),
		WithStopTimeout(time.Minute),
		WithDatabase(db),
	}
	cfg := Defaults
	for _, opt := range options {
		if opt.Name == "" {
			t.Fatalf("option without name")
		}
		opt.Apply(&cfg)
	}
	if cfg.NetworkId != 99 {
		t.Errorf("network id mismatch: have %d, want 99", cfg.NetworkId)
	}
	if cfg.Genesis != genesis {
		t.Errorf("genesis not applied")
	}
	if cfg.DataDir != "/tmp/transition" {
		t.Errorf("datadir mismatch: %q", cfg.DataDir)
	}
	if !cfg.NoPruning || cfg.Pruner.BlocksRetained != 2 {
		t.Errorf("pruning mismatch: noPruning=%v pruner=%+v", cfg.NoPruning, cfg.Pruner)
	}
	if cfg.SyncMode != downloader.FullSync {
		t.Errorf("sync mode mismatch: %v", cfg.SyncMode)
	}
	if cfg.ReorgLoggingThreshold != 12 || cfg.StateScheme != rawdb.PathScheme || !cfg.RevertReason {
		t.Errorf("scalar options not applied: %+v", cfg)
	}
	if len(cfg.MessagePermissioning) != 1 {
		t.Errorf("permissioning providers mismatch: %d", len(cfg.MessagePermissioning))
	}
	if !cfg.Miner.Enabled || cfg.Miner.Etherbase != mining.Etherbase || string(cfg.Miner.ExtraData) != "dome" {
		t.Errorf("mining config mismatch: %+v", cfg.Miner)
	}
	if cfg.SyncTolerance != 9 {
		t.Errorf("sync tolerance mismatch: have %d, want 9", cfg.SyncTolerance)
	}
	if cfg.StopTimeout != time.Minute {
		t.Errorf("stop timeout mismatch: %v", cfg.StopTimeout)
	}
	if cfg.Database != db {
		t.Errorf("database not applied")
	}

	// Reference typed inputs are copied so two configs never share them.
	overrides["chainId"] = "1"
	required[8] = common.Hash{}
	providers[0] = nil
	mining.ExtraData[0] = 'x'
	if len(cfg.GenesisOverrides) != 1 {
		t.Errorf("genesis overrides alias the caller's map")
	}
	if len(cfg.RequiredBlocks) != 1 {
		t.Errorf("required blocks alias the caller's map")
	}
	if cfg.MessagePermissioning[0] == nil {
		t.Errorf("permissioning providers alias the caller's slice")
	}
	if string(cfg.Miner.ExtraData) != "dome" {
		t.Errorf("extra data aliases the caller's slice")
	}
}

func TestDefaults(t *testing.T) {
	if Defaults.Miner.Enabled {
		t.Error("mining must be disabled by default")
	}
	if Defaults.StopTimeout <= 0 {
		t.Errorf("invalid default stop timeout %v", Defaults.StopTimeout)
	}
	if Defaults.StateScheme != rawdb.HashScheme {
		t.Errorf("default state scheme mismatch: %q", Defaults.StateScheme)
	}
	if Defaults.SyncMode != downloader.SnapSync {
		t.Errorf("default sync mode mismatch: %v", Defaults.SyncMode)
	}
}
