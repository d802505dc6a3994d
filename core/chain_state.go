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

// Package core exposes the slice of chain state the merge transition
// machinery consults: the canonical head and per-block total difficulty.
package core

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrUnknownBlock           = errors.New("unknown block")
	ErrMissingTotalDifficulty = errors.New("missing total difficulty")
	ErrNilHeader              = errors.New("nil header")
)

// ChainHeadEvent is posted when the canonical head changes, including
// re-orgs to a lower total difficulty.
type ChainHeadEvent struct {
	Header *types.Header
	TD     *big.Int
}

// ChainState is the chain data the transition watcher needs.
type ChainState interface {
	// HeadBlockHash returns the hash of the canonical head block.
	HeadBlockHash() common.Hash

	// HeadHeader returns the canonical head header, or nil on an empty chain.
	HeadHeader() *types.Header

	// TotalDifficultyByHash returns the accumulated difficulty of a block.
	TotalDifficultyByHash(hash common.Hash) (*big.Int, bool)

	// SubscribeChainHeadEvent delivers head changes to ch.
	SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription
}

// RawChainState implements ChainState on top of a rawdb key-value store.
type RawChainState struct {
	db ethdb.Database

	mu       sync.Mutex // Serializes head updates
	headFeed event.Feed
	scope    event.SubscriptionScope
}

// NewChainState wraps db.
func NewChainState(db ethdb.Database) *RawChainState {
	return &RawChainState{db: db}
}

// HeadBlockHash implements ChainState.
func (c *RawChainState) HeadBlockHash() common.Hash {
	return rawdb.ReadHeadBlockHash(c.db)
}

// TotalDifficultyByHash implements ChainState.
func (c *RawChainState) TotalDifficultyByHash(hash common.Hash) (*big.Int, bool) {
	number := rawdb.ReadHeaderNumber(c.db, hash)
	if number == nil {
		return nil, false
	}
	td := rawdb.ReadTd(c.db, hash, *number)
	return td, td != nil
}

// GetTd returns the total difficulty of the block with the given hash and
// number, or nil if unknown. It makes the chain state usable as a
// hybrid.TDReader.
func (c *RawChainState) GetTd(hash common.Hash, number uint64) *big.Int {
	return rawdb.ReadTd(c.db, hash, number)
}

// HeadHeader returns the canonical head header, or nil for an empty database.
func (c *RawChainState) HeadHeader() *types.Header {
	hash := c.HeadBlockHash()
	number := rawdb.ReadHeaderNumber(c.db, hash)
	if number == nil {
		return nil
	}
	return rawdb.ReadHeader(c.db, hash, *number)
}

// WriteHeader stores header together with its total difficulty.
func (c *RawChainState) WriteHeader(header *types.Header, td *big.Int) error {
	if header == nil {
		return ErrNilHeader
	}
	if td == nil {
		return ErrMissingTotalDifficulty
	}
	batch := c.db.NewBatch()
	rawdb.WriteHeader(batch, header)
	rawdb.WriteTd(batch, header.Hash(), header.Number.Uint64(), td)
	return batch.Write()
}

// SetHead marks a stored block as the canonical head and notifies
// subscribers. Moving the head to a block with less total difficulty models
// a re-org.
func (c *RawChainState) SetHead(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	number := rawdb.ReadHeaderNumber(c.db, hash)
	if number == nil {
		return ErrUnknownBlock
	}
	header := rawdb.ReadHeader(c.db, hash, *number)
	if header == nil {
		return ErrUnknownBlock
	}
	td := rawdb.ReadTd(c.db, hash, *number)
	if td == nil {
		return ErrMissingTotalDifficulty
	}
	batch := c.db.NewBatch()
	rawdb.WriteHeadHeaderHash(batch, hash)
	rawdb.WriteHeadBlockHash(batch, hash)
	if err := batch.Write(); err != nil {
		return err
	}
	log.Debug("Updated chain head", "number", *number, "hash", hash, "td", td)

	c.headFeed.Send(ChainHeadEvent{Header: header, TD: td})
	return nil
}

// SubscribeChainHeadEvent implements ChainState.
func (c *RawChainState) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return c.scope.Track(c.headFeed.Subscribe(ch))
}

// Close terminates all head subscriptions.
func (c *RawChainState) Close() {
	c.scope.Close()
}
