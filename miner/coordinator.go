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

// Package miner coordinates block production across the merge: one
// coordinator per consensus regime, exactly one of which is enabled at a time.
package miner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Coordinator is the block production component of one consensus regime.
//
// Stop must be idempotent and safe on a coordinator that never started.
// Start on a disabled coordinator does nothing.
type Coordinator interface {
	Start()
	Stop()

	// AwaitStop blocks until background production has fully exited or ctx
	// is done, in which case ctx.Err() is returned.
	AwaitStop(ctx context.Context) error

	Enable()
	Disable()
	Enabled() bool

	IsMining() bool

	// SubmitWork hands in an externally found proof-of-work solution. It
	// reports whether the solution was accepted.
	SubmitWork(nonce types.BlockNonce, powHash, mixDigest common.Hash) bool

	// HashRate returns the current sealing hash rate in hashes per second.
	HashRate() uint64

	SetCoinbase(addr common.Address)
	Coinbase() common.Address
	SetExtra(extra []byte) error
}
