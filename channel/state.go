// Copyright (c) 2019 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-node
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package channel holds the per-channel state tracked by an account (both
// directions share one shape) and the two primitives that serialize and
// dedupe mutation of that state: the reducer Queue and the channel-ID
// uniqueness Registry.
package channel

import (
	"math/big"

	"github.com/ilp-go/channel-settle/settle"
)

// State is the cached view of a channel, shared by both the outgoing
// (signed by us) and incoming (signed by the peer) directions.
type State struct {
	ChannelID       settle.ChannelID
	ContractAddress settle.Address
	Sender          settle.Address
	Receiver        settle.Address
	Value           *big.Int // total deposited, wei
	DisputePeriod   uint64   // blocks
	DisputedUntil   *uint64  // nil when not disputed

	Spent     *big.Int // wei paid/claimed via the latest signed claim
	Signature [65]byte // flat signature over the latest claim
}

// Clone returns a deep copy of the state, safe to mutate independently of
// the original.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Value != nil {
		clone.Value = new(big.Int).Set(s.Value)
	}
	if s.Spent != nil {
		clone.Spent = new(big.Int).Set(s.Spent)
	}
	if s.DisputedUntil != nil {
		v := *s.DisputedUntil
		clone.DisputedUntil = &v
	}
	return &clone
}

// Remaining returns value - spent, the unclaimed capacity of the channel.
func (s *State) Remaining() *big.Int {
	if s == nil || s.Value == nil {
		return big.NewInt(0)
	}
	spent := s.Spent
	if spent == nil {
		spent = big.NewInt(0)
	}
	return new(big.Int).Sub(s.Value, spent)
}

// Disputed reports whether the channel is currently in dispute.
func (s *State) Disputed() bool {
	return s != nil && s.DisputedUntil != nil
}

// FromOnChain builds a State from a freshly fetched on-chain snapshot,
// carrying over the spent/signature fields from the prior cached state (if
// any), since on-chain reads never reveal the claim that is only known
// off-chain.
func FromOnChain(onChain settle.OnChainChannel, prior *State) *State {
	s := &State{
		ChannelID:       onChain.ChannelID,
		ContractAddress: onChain.ContractAddress,
		Sender:          onChain.Sender,
		Receiver:        onChain.Receiver,
		Value:           onChain.Value,
		DisputePeriod:   onChain.DisputePeriod,
		DisputedUntil:   onChain.DisputedUntil,
		Spent:           big.NewInt(0),
	}
	if prior != nil {
		s.Spent = prior.Spent
		s.Signature = prior.Signature
	}
	return s
}
