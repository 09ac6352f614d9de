// Copyright (c) 2020 - for information on the respective copyright owner
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

package account_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilp-go/channel-settle/account"
	"github.com/ilp-go/channel-settle/ethsign"
	"github.com/ilp-go/channel-settle/settle"
)

func TestValidateClaim_NewChannelZeroValueAccepted(t *testing.T) {
	f := newFixture(t)
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethsign.NewSigner(senderKey)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	var id settle.ChannelID
	id[0] = 0x11
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_000_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	claim := account.IncomingClaim{ChannelID: id, ContractAddress: f.cfg.ContractAddress, Value: big.NewInt(0)}
	digest := ethsign.Digest(f.cfg.ContractAddress, id, big.NewInt(0))
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	claim.Signature = sig

	a := account.New("peer-4", f.cfg, f.deps(t))
	res := <-a.ValidateClaim(context.Background(), claim)
	require.NoError(t, res.Err)
	require.NotNil(t, res.State)
	assert.Equal(t, 0, res.State.Spent.Cmp(big.NewInt(0)))
}

func TestValidateClaim_ZeroValueOnExistingChannelRejected(t *testing.T) {
	f := newFixture(t)
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethsign.NewSigner(senderKey)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	var id settle.ChannelID
	id[0] = 0x22
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_000_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	a := account.New("peer-5", f.cfg, f.deps(t))
	first := makeClaim(t, signer, id, f.cfg.ContractAddress, big.NewInt(100))
	res := <-a.ValidateClaim(context.Background(), first)
	require.NoError(t, res.Err)
	require.NotNil(t, res.State)

	zero := makeClaim(t, signer, id, f.cfg.ContractAddress, big.NewInt(0))
	res2 := <-a.ValidateClaim(context.Background(), zero)
	require.NoError(t, res2.Err)
	require.NotNil(t, res2.State)
	assert.Equal(t, 0, res2.State.Spent.Cmp(big.NewInt(100)), "rejected claim must not regress cached spent")
}

func TestValidateClaim_CapacityRetryAcrossDeposit(t *testing.T) {
	f := newFixture(t)
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethsign.NewSigner(senderKey)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	var id settle.ChannelID
	id[0] = 0x33
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_000_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	a := account.New("peer-6", f.cfg, f.deps(t))
	first := makeClaim(t, signer, id, f.cfg.ContractAddress, big.NewInt(1_000_000_000))
	res := <-a.ValidateClaim(context.Background(), first)
	require.NoError(t, res.Err)
	require.NotNil(t, res.State)
	assert.Equal(t, 0, res.State.Spent.Cmp(big.NewInt(1_000_000_000)))

	// Peer deposits on-chain, bumping channel value, before sending the
	// bigger claim — validation must observe the new value, not reject
	// outright for exceeding the stale cached value.
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_500_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	bigger := makeClaim(t, signer, id, f.cfg.ContractAddress, big.NewInt(1_500_000_000))
	res2 := <-a.ValidateClaim(context.Background(), bigger)
	require.NoError(t, res2.Err)
	require.NotNil(t, res2.State)
	assert.Equal(t, 0, res2.State.Spent.Cmp(big.NewInt(1_500_000_000)))
	assert.Equal(t, 0, res2.State.Value.Cmp(big.NewInt(1_500_000_000)))
}

func TestValidateClaim_UniquenessCollisionRejected(t *testing.T) {
	f := newFixture(t)
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethsign.NewSigner(senderKey)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	var id settle.ChannelID
	id[0] = 0x44
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_000_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	owner := account.New("peer-owner", f.cfg, f.deps(t))
	claim := makeClaim(t, signer, id, f.cfg.ContractAddress, big.NewInt(100))
	res := <-owner.ValidateClaim(context.Background(), claim)
	require.NoError(t, res.Err)
	require.NotNil(t, res.State)

	rival := account.New("peer-rival", f.cfg, f.deps(t))
	res2 := <-rival.ValidateClaim(context.Background(), claim)
	require.NoError(t, res2.Err)
	assert.Nil(t, res2.State, "a channel already bound to another account must be rejected")
}

func TestValidateClaim_RejectsWrongContractAddress(t *testing.T) {
	f := newFixture(t)
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethsign.NewSigner(senderKey)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	var id settle.ChannelID
	id[0] = 0x55
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_000_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	wrongContract := settle.Address{0xff}
	claim := makeClaim(t, signer, id, wrongContract, big.NewInt(100))

	a := account.New("peer-7", f.cfg, f.deps(t))
	res := <-a.ValidateClaim(context.Background(), claim)
	require.NoError(t, res.Err)
	assert.Nil(t, res.State)
}

func makeClaim(t *testing.T, signer *ethsign.Signer, id settle.ChannelID, contract settle.Address, value *big.Int) account.IncomingClaim {
	t.Helper()
	digest := ethsign.Digest(contract, id, value)
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	return account.IncomingClaim{ChannelID: id, ContractAddress: contract, Value: value, Signature: sig}
}
