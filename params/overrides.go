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

// Package params resolves the chain parameters the merge transition depends on.
package params

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core"
	gethparams "github.com/ethereum/go-ethereum/params"
)

// Genesis override keys.
const (
	OverrideTerminalTotalDifficulty = "terminalTotalDifficulty"
	OverrideChainID                 = "chainId"
)

var (
	ErrMissingGenesis  = errors.New("missing genesis chain configuration")
	ErrUnknownOverride = errors.New("unknown genesis override")
	ErrInvalidOverride = errors.New("invalid genesis override value")
)

// TerminalTotalDifficulty returns the terminal total difficulty of genesis
// after applying overrides. A nil result means the chain never merges.
// The genesis configuration itself is left untouched.
func TerminalTotalDifficulty(genesis *core.Genesis, overrides map[string]string) (*big.Int, error) {
	if genesis == nil || genesis.Config == nil {
		return nil, ErrMissingGenesis
	}
	cfg := *genesis.Config
	if err := ApplyOverrides(&cfg, overrides); err != nil {
		return nil, err
	}
	if cfg.TerminalTotalDifficulty == nil {
		return nil, nil
	}
	return new(big.Int).Set(cfg.TerminalTotalDifficulty), nil
}

// ApplyOverrides sets the overridden fields of cfg. Keys are matched case
// insensitively; values are decimal or 0x prefixed hex integers. Nothing is
// modified if any key or value is rejected.
func ApplyOverrides(cfg *gethparams.ChainConfig, overrides map[string]string) error {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var ttd, chainID *big.Int
	for _, key := range keys {
		var target **big.Int
		switch {
		case strings.EqualFold(key, OverrideTerminalTotalDifficulty):
			target = &ttd
		case strings.EqualFold(key, OverrideChainID):
			target = &chainID
		default:
			return fmt.Errorf("%w: %q", ErrUnknownOverride, key)
		}
		value, err := parseOverride(key, overrides[key])
		if err != nil {
			return err
		}
		*target = value
	}
	if ttd != nil {
		cfg.TerminalTotalDifficulty = ttd
	}
	if chainID != nil {
		cfg.ChainID = chainID
	}
	return nil
}

func parseOverride(key, raw string) (*big.Int, error) {
	value, ok := math.ParseBig256(strings.TrimSpace(raw))
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidOverride, key, raw)
	}
	return value, nil
}
