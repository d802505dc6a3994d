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

package rules

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/params"

	"github.com/dome-network/geth-transition/consensus/hybrid"
)

// PoWContext is the pre-merge consensus context.
type PoWContext struct {
	config *params.ChainConfig
}

// NewPoWContext creates the proof-of-work context for config.
func NewPoWContext(config *params.ChainConfig) *PoWContext {
	return &PoWContext{config: config}
}

// Capabilities implements hybrid.ConsensusContext.
func (c *PoWContext) Capabilities() mapset.Set[hybrid.Capability] {
	return mapset.NewSet(hybrid.CapabilityPoW)
}

// Config returns the chain configuration the context was built for.
func (c *PoWContext) Config() *params.ChainConfig {
	return c.config
}
