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

// Package catalyst implements the engine API the consensus layer drives the
// post-merge chain with.
package catalyst

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/dome-network/geth-transition/consensus/merge"
)

// Namespace is the RPC namespace the engine API is served under.
const Namespace = "engine"

// PreparePayloadResponse acknowledges a payload preparation request.
type PreparePayloadResponse struct{}

// ConsensusAPI is the engine API service.
type ConsensusAPI struct {
	merge *merge.Context
	ttd   *big.Int
}

// NewConsensusAPI creates the engine API for a node with the given merge
// context and terminal total difficulty.
func NewConsensusAPI(mergeCtx *merge.Context, ttd *big.Int) *ConsensusAPI {
	return &ConsensusAPI{merge: mergeCtx, ttd: ttd}
}

// APIs returns the collection of RPC services the engine API offers.
func APIs(api *ConsensusAPI) []rpc.API {
	return []rpc.API{{
		Namespace:     Namespace,
		Service:       api,
		Authenticated: true,
	}}
}

// Register serves api on server under the engine namespace.
func Register(server *rpc.Server, api *ConsensusAPI) error {
	for _, service := range APIs(api) {
		if err := server.RegisterName(service.Namespace, service.Service); err != nil {
			return err
		}
	}
	return nil
}

// PreparePayload acknowledges the request without assembling anything.
//
// TODO: build payloads once the payload building protocol is settled.
func (api *ConsensusAPI) PreparePayload(ctx context.Context, attrs engine.PayloadAttributes) (*PreparePayloadResponse, error) {
	log.Trace("Engine API request received", "method", "PreparePayload", "timestamp", attrs.Timestamp, "feeRecipient", attrs.SuggestedFeeRecipient)
	return &PreparePayloadResponse{}, nil
}

// ExchangeTransitionConfigurationV1 checks the given configuration against
// the configuration of the node.
func (api *ConsensusAPI) ExchangeTransitionConfigurationV1(config engine.TransitionConfigurationV1) (*engine.TransitionConfigurationV1, error) {
	log.Trace("Engine API request received", "method", "ExchangeTransitionConfiguration", "ttd", config.TerminalTotalDifficulty)
	if config.TerminalTotalDifficulty == nil {
		return nil, errors.New("invalid terminal total difficulty")
	}
	if api.ttd == nil || api.ttd.Cmp(config.TerminalTotalDifficulty.ToInt()) != 0 {
		log.Warn("Invalid TTD configured", "execution", api.ttd, "beacon", config.TerminalTotalDifficulty)
		return nil, fmt.Errorf("invalid ttd: execution %v consensus %v", api.ttd, config.TerminalTotalDifficulty)
	}
	result := &engine.TransitionConfigurationV1{
		TerminalTotalDifficulty: (*hexutil.Big)(new(big.Int).Set(api.ttd)),
	}
	if terminal := api.merge.TerminalPoWBlock(); terminal != nil {
		if config.TerminalBlockHash != (common.Hash{}) && config.TerminalBlockHash != terminal.Hash() {
			return nil, fmt.Errorf("invalid terminal block hash: execution %x consensus %x", terminal.Hash(), config.TerminalBlockHash)
		}
		result.TerminalBlockHash = terminal.Hash()
		result.TerminalBlockNumber = hexutil.Uint64(terminal.Number.Uint64())
	}
	return result, nil
}
