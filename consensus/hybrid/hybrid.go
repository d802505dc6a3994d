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
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// Various error messages to mark invalid configurations.
var (
	ErrMissingRuleSet   = errors.New("missing consensus rule set")
	ErrMissingPredicate = errors.New("missing merge transition predicate")
	ErrUnknownParent    = errors.New("unknown parent header")
)

// selectionLogInterval rate limits the debug line emitted on rule selection.
const selectionLogInterval = 10 * time.Second

// RuleSet is the validation and block building behaviour of one consensus
// regime. Implementations are immutable after construction.
type RuleSet interface {
	// Name identifies the regime in logs.
	Name() string

	// VerifyHeader checks whether header conforms to the regime's rules given
	// its parent.
	VerifyHeader(header, parent *types.Header) error

	// CalcDifficulty returns the difficulty a child of parent created at time
	// must carry.
	CalcDifficulty(time uint64, parent *types.Header) *big.Int
}

// Selector is the public contract of a dual rule schedule. Callers needing
// one specific regime use the accessors instead of inspecting the concrete type.
type Selector interface {
	RuleSetFor(header *types.Header) RuleSet
	PreRuleSet() RuleSet
	PostRuleSet() RuleSet
}

// Schedule picks the pre- or post-merge rule set for a header.
type Schedule struct {
	pre         RuleSet   // Rules used before the terminal total difficulty
	post        RuleSet   // Rules used after the terminal total difficulty
	isPostMerge Predicate // Header intrinsic transition check

	logMu            sync.Mutex // Protects the rate limiting fields below
	lastLoggedRules  string     // Tracks last logged regime to avoid spam
	lastLogTime      time.Time  // Tracks last log time for rate limiting
	transitionLogged bool       // Tracks if the first post-merge header was logged
}

// New creates a rule schedule that routes headers matched by predicate to
// post and everything else to pre.
func New(pre, post RuleSet, predicate Predicate) (*Schedule, error) {
	if pre == nil || post == nil {
		return nil, ErrMissingRuleSet
	}
	if predicate == nil {
		return nil, ErrMissingPredicate
	}
	log.Info("Created merge rule schedule", "pre", pre.Name(), "post", post.Name())

	return &Schedule{
		pre:         pre,
		post:        post,
		isPostMerge: predicate,
	}, nil
}

// PreRuleSet returns the rules used before the merge.
func (s *Schedule) PreRuleSet() RuleSet { return s.pre }

// PostRuleSet returns the rules used after the merge.
func (s *Schedule) PostRuleSet() RuleSet { return s.post }

// RuleSetFor returns the rule set that governs header. The decision depends
// only on the header and the predicate, so it is identical for every call.
func (s *Schedule) RuleSetFor(header *types.Header) RuleSet {
	postMerge := s.isPostMerge(header)
	s.logSelection(header, postMerge)

	if postMerge {
		return s.post
	}
	return s.pre
}

// logSelection reports regime changes at info level and otherwise emits a
// rate limited debug line.
func (s *Schedule) logSelection(header *types.Header, postMerge bool) {
	rules := s.pre
	if postMerge {
		rules = s.post
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()

	if postMerge && !s.transitionLogged {
		s.transitionLogged = true
		log.Info("Selected post-merge consensus rules",
			"number", header.Number,
			"difficulty", header.Difficulty,
			"rules", rules.Name())
	}
	now := time.Now()
	if s.lastLoggedRules != rules.Name() || now.Sub(s.lastLogTime) > selectionLogInterval {
		s.lastLoggedRules = rules.Name()
		s.lastLogTime = now

		log.Debug("Using consensus rules",
			"number", header.Number,
			"rules", rules.Name(),
			"postMerge", postMerge)
	}
}

// VerifyHeader checks header against the rules of its own regime.
func (s *Schedule) VerifyHeader(header, parent *types.Header) error {
	if parent == nil {
		return ErrUnknownParent
	}
	rules := s.RuleSetFor(header)
	err := rules.VerifyHeader(header, parent)
	if err != nil {
		log.Error("Header verification failed",
			"number", header.Number,
			"hash", header.Hash(),
			"rules", rules.Name(),
			"difficulty", header.Difficulty,
			"error", err)
	}
	return err
}

// VerifyHeaders verifies a contiguous batch of headers, the first of which
// is a child of parent. Headers on both sides of the transition are checked
// against their own rule set. The returned abort channel stops verification
// early; results carries one error per header, in order.
func (s *Schedule) VerifyHeaders(parent *types.Header, headers []*types.Header) (chan<- struct{}, <-chan error) {
	abort := make(chan struct{})
	results := make(chan error, len(headers))

	if len(headers) == 0 {
		close(results)
		return abort, results
	}
	go func() {
		defer close(results)

		prev := parent
		for _, header := range headers {
			select {
			case <-abort:
				return
			default:
			}
			err := s.VerifyHeader(header, prev)
			select {
			case results <- err:
			case <-abort:
				return
			}
			prev = header
		}
	}()
	return abort, results
}

// CalcDifficulty returns the difficulty of the child of parent. The child
// inherits the regime decision from its parent's difficulty and, when the
// predicate consults chain data, from the parent's total difficulty.
func (s *Schedule) CalcDifficulty(time uint64, parent *types.Header) *big.Int {
	child := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		Time:       time,
		Difficulty: parent.Difficulty,
	}
	return s.RuleSetFor(child).CalcDifficulty(time, parent)
}
