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

// Package rules contains the reference rule sets of the two consensus regimes
// joined by the merge: difficulty based proof-of-work and beacon driven
// proof-of-stake.
package rules

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/ethash"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/dome-network/geth-transition/consensus/hybrid"
)

// Various error messages to mark blocks invalid. These should be private to
// prevent engine specific errors from being referenced in the remainder of the
// codebase, inherently breaking if the engine is swapped out.
var (
	errInvalidNumber     = errors.New("invalid block number")
	errUnknownAncestor   = errors.New("parent hash mismatch")
	errOlderBlockTime    = errors.New("timestamp older than parent")
	errInvalidDifficulty = errors.New("invalid difficulty")
	errInvalidNonce      = errors.New("invalid nonce")
	errInvalidUncleHash  = errors.New("invalid uncle hash")
)

var (
	_ hybrid.RuleSet = (*PoW)(nil)
	_ hybrid.RuleSet = (*Beacon)(nil)
)

// verifyLineage checks the fields both regimes agree on.
func verifyLineage(header, parent *types.Header) error {
	if header.Number == nil || parent.Number == nil {
		return errInvalidNumber
	}
	if diff := new(big.Int).Sub(header.Number, parent.Number); diff.Cmp(common.Big1) != 0 {
		return fmt.Errorf("%w: have %v, parent %v", errInvalidNumber, header.Number, parent.Number)
	}
	if header.ParentHash != parent.Hash() {
		return errUnknownAncestor
	}
	if header.Time <= parent.Time {
		return errOlderBlockTime
	}
	return nil
}

// PoW is the pre-merge rule set: difficulty must follow the ethash
// adjustment algorithm of the configured chain.
type PoW struct {
	config *params.ChainConfig
}

// NewPoW creates the proof-of-work rule set. A nil config selects every
// ethash protocol change from genesis.
func NewPoW(config *params.ChainConfig) *PoW {
	if config == nil {
		config = params.AllEthashProtocolChanges
	}
	return &PoW{config: config}
}

func (p *PoW) Name() string { return "ethash" }

// VerifyHeader implements hybrid.RuleSet.
func (p *PoW) VerifyHeader(header, parent *types.Header) error {
	if err := verifyLineage(header, parent); err != nil {
		return err
	}
	if header.Difficulty == nil || header.Difficulty.Sign() <= 0 {
		return fmt.Errorf("%w: proof-of-work block with difficulty %v", errInvalidDifficulty, header.Difficulty)
	}
	if want := p.CalcDifficulty(header.Time, parent); want.Cmp(header.Difficulty) != 0 {
		return fmt.Errorf("%w: have %v, want %v", errInvalidDifficulty, header.Difficulty, want)
	}
	return nil
}

// CalcDifficulty implements hybrid.RuleSet.
func (p *PoW) CalcDifficulty(time uint64, parent *types.Header) *big.Int {
	return ethash.CalcDifficulty(p.config, time, parent)
}

// Beacon is the post-merge rule set. Block production is driven by the
// consensus layer, so the header must not carry any proof-of-work.
type Beacon struct{}

// NewBeacon creates the proof-of-stake rule set.
func NewBeacon() *Beacon {
	return &Beacon{}
}

func (b *Beacon) Name() string { return "beacon" }

// VerifyHeader implements hybrid.RuleSet.
func (b *Beacon) VerifyHeader(header, parent *types.Header) error {
	if err := verifyLineage(header, parent); err != nil {
		return err
	}
	if header.Difficulty == nil || header.Difficulty.Sign() != 0 {
		return fmt.Errorf("%w: beacon block with difficulty %v", errInvalidDifficulty, header.Difficulty)
	}
	if header.Nonce != (types.BlockNonce{}) {
		return errInvalidNonce
	}
	if header.UncleHash != types.EmptyUncleHash {
		return errInvalidUncleHash
	}
	return nil
}

// CalcDifficulty implements hybrid.RuleSet. Post-merge difficulty is always zero.
func (b *Beacon) CalcDifficulty(time uint64, parent *types.Header) *big.Int {
	return new(big.Int)
}
