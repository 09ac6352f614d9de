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

package settletest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ilp-go/channel-settle/settle"
)

// FakeChain is an in-memory stand-in for both settle.ChainReader and
// settle.ChainWriter: Submit mutates the same map ReadChannel serves from,
// so tests can drive "on-chain" confirmation directly.
type FakeChain struct {
	Fee *big.Int // returned by EstimateFee; defaults to zero if nil

	mu          sync.Mutex
	channels    map[settle.ChannelID]settle.OnChainChannel
	submissions []settle.TxRequest
}

// NewFakeChain returns an empty FakeChain.
func NewFakeChain() *FakeChain {
	return &FakeChain{channels: make(map[settle.ChannelID]settle.OnChainChannel)}
}

// ReadChannel implements settle.ChainReader.
func (c *FakeChain) ReadChannel(_ context.Context, id settle.ChannelID) (settle.OnChainChannel, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	return ch, ok, nil
}

// EstimateFee implements settle.ChainWriter.
func (c *FakeChain) EstimateFee(_ context.Context, _ settle.TxRequest) (*big.Int, error) {
	if c.Fee != nil {
		return new(big.Int).Set(c.Fee), nil
	}
	return big.NewInt(0), nil
}

// Submit implements settle.ChainWriter, applying req to the fake ledger
// per its Method ("open", "deposit", "claim").
func (c *FakeChain) Submit(_ context.Context, req settle.TxRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submissions = append(c.submissions, req)
	switch req.Method {
	case "open":
		c.channels[req.ChannelID] = settle.OnChainChannel{
			ChannelID:       req.ChannelID,
			ContractAddress: settle.Address{},
			Sender:          req.Sender,
			Receiver:        req.Receiver,
			Value:           new(big.Int).Set(req.Value),
			DisputePeriod:   req.DisputePeriod,
		}
	case "deposit":
		ch := c.channels[req.ChannelID]
		ch.Value = new(big.Int).Add(ch.Value, req.Value)
		c.channels[req.ChannelID] = ch
	case "claim":
		delete(c.channels, req.ChannelID)
	}
	return nil
}

// SeedChannel installs ch directly, bypassing Submit, for tests that start
// from an already-open channel.
func (c *FakeChain) SeedChannel(ch settle.OnChainChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.ChannelID] = ch
}

// Submissions returns every transaction request submitted so far.
func (c *FakeChain) Submissions() []settle.TxRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]settle.TxRequest, len(c.submissions))
	copy(out, c.submissions)
	return out
}

// Dispute marks id as disputed as of disputedUntil.
func (c *FakeChain) Dispute(id settle.ChannelID, disputedUntil uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[id]
	ch.DisputedUntil = &disputedUntil
	c.channels[id] = ch
}
