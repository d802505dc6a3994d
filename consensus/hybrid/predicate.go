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

package hybrid

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Predicate reports whether header belongs to the post-merge regime. It must
// be a pure function of the header and immutable chain data.
type Predicate func(header *types.Header) bool

// TDReader retrieves the total difficulty of a block already in the chain.
type TDReader interface {
	GetTd(hash common.Hash, number uint64) *big.Int
}

// DifficultyPredicate classifies headers carrying a zero difficulty as
// post-merge, the way beacon headers are recognised.
func DifficultyPredicate(header *types.Header) bool {
	return header.Difficulty != nil && header.Difficulty.Sign() == 0
}

// TerminalPredicate classifies a header as post-merge when its parent's total
// difficulty reached ttd. When the parent's total difficulty is unknown, for
// example for the genesis block, the header's own difficulty decides. A nil
// ttd denotes a chain that never merges.
func TerminalPredicate(ttd *big.Int, reader TDReader) Predicate {
	if ttd == nil {
		return func(*types.Header) bool { return false }
	}
	ttd = new(big.Int).Set(ttd)

	return func(header *types.Header) bool {
		if reader != nil && header.Number != nil && header.Number.Sign() > 0 {
			if td := reader.GetTd(header.ParentHash, header.Number.Uint64()-1); td != nil {
				return IsTerminalReached(td, ttd)
			}
		}
		return DifficultyPredicate(header)
	}
}

// IsTerminalReached reports whether td is at or past the terminal total
// difficulty ttd. Reaching the threshold exactly counts as post-merge.
func IsTerminalReached(td, ttd *big.Int) bool {
	if td == nil || ttd == nil {
		return false
	}
	return td.Cmp(ttd) >= 0
}
