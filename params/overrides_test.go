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

package params

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core"
	gethparams "github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		wantTTD   *big.Int
		wantChain *big.Int
		wantErr   error
	}{
		{
			name:      "no overrides",
			wantTTD:   big.NewInt(100),
			wantChain: big.NewInt(1337),
		},
		{
			name:      "decimal terminal total difficulty",
			overrides: map[string]string{"terminalTotalDifficulty": "500"},
			wantTTD:   big.NewInt(500),
			wantChain: big.NewInt(1337),
		},
		{
			name:      "hex value and mixed case key",
			overrides: map[string]string{"TERMINALTOTALDIFFICULTY": "0x20", "chainid": " 7 "},
			wantTTD:   big.NewInt(32),
			wantChain: big.NewInt(7),
		},
		{
			name:      "unknown key",
			overrides: map[string]string{"londonBlock": "1"},
			wantErr:   ErrUnknownOverride,
		},
		{
			name:      "unknown key with unparsable value",
			overrides: map[string]string{"shanghaiTime": "soon"},
			wantErr:   ErrUnknownOverride,
		},
		{
			name:      "unparsable value",
			overrides: map[string]string{"chainId": "seven"},
			wantErr:   ErrInvalidOverride,
		},
		{
			name:      "negative value",
			overrides: map[string]string{"terminalTotalDifficulty": "-1"},
			wantErr:   ErrInvalidOverride,
		},
		{
			name:      "rejected key leaves config untouched",
			overrides: map[string]string{"chainId": "9", "bogus": "1"},
			wantErr:   ErrUnknownOverride,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &gethparams.ChainConfig{
				ChainID:                 big.NewInt(1337),
				TerminalTotalDifficulty: big.NewInt(100),
			}
			err := ApplyOverrides(cfg, tt.overrides)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, big.NewInt(1337), cfg.ChainID)
				require.Equal(t, big.NewInt(100), cfg.TerminalTotalDifficulty)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 0, tt.wantTTD.Cmp(cfg.TerminalTotalDifficulty))
			require.Equal(t, 0, tt.wantChain.Cmp(cfg.ChainID))
		})
	}
}

func TestTerminalTotalDifficulty(t *testing.T) {
	genesis := &core.Genesis{
		Config: &gethparams.ChainConfig{
			ChainID:                 big.NewInt(1337),
			TerminalTotalDifficulty: big.NewInt(1000),
		},
	}

	ttd, err := TerminalTotalDifficulty(genesis, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1000), ttd.Int64())

	// The returned value must not alias the genesis configuration.
	ttd.SetInt64(1)
	require.Equal(t, int64(1000), genesis.Config.TerminalTotalDifficulty.Int64())

	ttd, err = TerminalTotalDifficulty(genesis, map[string]string{OverrideTerminalTotalDifficulty: "42"})
	require.NoError(t, err)
	require.Equal(t, int64(42), ttd.Int64())
	require.Equal(t, int64(1000), genesis.Config.TerminalTotalDifficulty.Int64(), "overrides must not touch the genesis")

	_, err = TerminalTotalDifficulty(nil, nil)
	require.ErrorIs(t, err, ErrMissingGenesis)
	_, err = TerminalTotalDifficulty(&core.Genesis{}, nil)
	require.ErrorIs(t, err, ErrMissingGenesis)
}

func TestTerminalTotalDifficultyUnset(t *testing.T) {
	genesis := &core.Genesis{Config: &gethparams.ChainConfig{ChainID: big.NewInt(1)}}

	ttd, err := TerminalTotalDifficulty(genesis, nil)
	require.NoError(t, err)
	require.Nil(t, ttd, "a chain without terminal total difficulty never merges")
}
