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

package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
)

// DefaultRecommit is the sealing round interval used when none is configured.
const DefaultRecommit = 2 * time.Second

var errExtraTooLong = errors.New("extra data too long")

// SealerConfig configures a Sealer.
type SealerConfig struct {
	Name         string         // Regime name used in logs
	Recommit     time.Duration  // Interval between sealing rounds
	Coinbase     common.Address // Block reward recipient
	ExtraData    []byte         // Header extra data
	ExternalWork bool           // Whether SubmitWork solutions are accepted
	Clock        mclock.Clock   // Time source, mclock.System if nil

	// OnRound, if set, runs on the sealing goroutine for every round.
	OnRound func(round uint64)
}

// Sealer is the reference Coordinator: a background loop that runs one
// sealing round per recommit interval while enabled and started.
type Sealer struct {
	config SealerConfig
	clock  mclock.Clock

	enabled atomic.Bool
	rounds  atomic.Uint64
	solved  atomic.Uint64

	mu       sync.Mutex
	coinbase common.Address
	extra    []byte
	rates    map[common.Hash]uint64 // Hash rates reported by remote sealers
	quit     chan struct{}          // Non-nil while mining
	done     chan struct{}          // Closed when the last started loop exited
}

// NewSealer creates a disabled, stopped sealer.
func NewSealer(config SealerConfig) *Sealer {
	if config.Recommit <= 0 {
		config.Recommit = DefaultRecommit
	}
	clock := config.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	return &Sealer{
		config:   config,
		clock:    clock,
		coinbase: config.Coinbase,
		extra:    common.CopyBytes(config.ExtraData),
		rates:    make(map[common.Hash]uint64),
	}
}

// Start implements Coordinator.
func (s *Sealer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled.Load() {
		log.Debug("Ignoring start of disabled sealer", "regime", s.config.Name)
		return
	}
	if s.quit != nil {
		return
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.quit, s.done)

	log.Info("Started sealing", "regime", s.config.Name, "coinbase", s.coinbase, "recommit", s.config.Recommit)
}

// Stop implements Coordinator.
func (s *Sealer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quit == nil {
		return
	}
	close(s.quit)
	s.quit = nil
	clear(s.rates)
	log.Info("Stopped sealing", "regime", s.config.Name, "rounds", s.rounds.Load())
}

// AwaitStop implements Coordinator.
func (s *Sealer) AwaitStop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enable implements Coordinator.
func (s *Sealer) Enable() {
	if !s.enabled.Swap(true) {
		log.Debug("Enabled sealer", "regime", s.config.Name)
	}
}

// Disable implements Coordinator.
func (s *Sealer) Disable() {
	if s.enabled.Swap(false) {
		log.Debug("Disabled sealer", "regime", s.config.Name)
	}
}

// Enabled implements Coordinator.
func (s *Sealer) Enabled() bool {
	return s.enabled.Load()
}

// IsMining implements Coordinator.
func (s *Sealer) IsMining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit != nil
}

// Rounds returns the number of sealing rounds run so far.
func (s *Sealer) Rounds() uint64 {
	return s.rounds.Load()
}

// SubmitWork implements Coordinator.
func (s *Sealer) SubmitWork(nonce types.BlockNonce, powHash, mixDigest common.Hash) bool {
	if !s.config.ExternalWork || !s.IsMining() {
		log.Debug("Rejected submitted work", "regime", s.config.Name, "hash", powHash)
		return false
	}
	s.solved.Add(1)
	log.Debug("Accepted submitted work", "regime", s.config.Name, "nonce", nonce.Uint64(), "hash", powHash, "mix", mixDigest)
	return true
}

// SubmitHashrate records the hash rate reported by the remote sealer id. It
// reports whether the sealer is mining and accepted the report.
func (s *Sealer) SubmitHashrate(id common.Hash, rate uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.ExternalWork || s.quit == nil {
		return false
	}
	s.rates[id] = rate
	return true
}

// HashRate implements Coordinator.
func (s *Sealer) HashRate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint64
	for _, rate := range s.rates {
		total += rate
	}
	return total
}

// SetCoinbase implements Coordinator.
func (s *Sealer) SetCoinbase(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coinbase = addr
}

// Coinbase implements Coordinator.
func (s *Sealer) Coinbase() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coinbase
}

// SetExtra implements Coordinator.
func (s *Sealer) SetExtra(extra []byte) error {
	if uint64(len(extra)) > params.MaximumExtraDataSize {
		return fmt.Errorf("%w: %d > %v", errExtraTooLong, len(extra), params.MaximumExtraDataSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = common.CopyBytes(extra)
	return nil
}

func (s *Sealer) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := s.clock.NewTimer(s.config.Recommit)
	defer timer.Stop()

	for {
		select {
		case <-timer.C():
			round := s.rounds.Add(1)
			if s.config.OnRound != nil {
				s.config.OnRound(round)
			}
			timer.Reset(s.config.Recommit)
		case <-quit:
			return
		}
	}
}
