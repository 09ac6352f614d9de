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
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilp-go/channel-settle/account"
	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/ethsign"
	"github.com/ilp-go/channel-settle/settle"
)

func TestHandleEnvelope_InfoLinksPeerAddressOnce(t *testing.T) {
	f := newFixture(t)
	a := account.New("peer-16", f.cfg, f.deps(t))

	peerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	peerAddr := crypto.PubkeyToAddress(peerKey.PublicKey)

	data, err := json.Marshal(map[string]string{"address": peerAddr.Hex()})
	require.NoError(t, err)
	env := settle.Envelope{RequestID: "r1", Messages: []settle.SubMessage{{Protocol: "info", ContentType: "application/json", Data: data}}}

	resp, err := a.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "info", resp.Messages[0].Protocol)

	linked, ok := a.PeerAddress()
	require.True(t, ok)
	assert.Equal(t, peerAddr, linked)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherAddr := crypto.PubkeyToAddress(otherKey.PublicKey)
	data2, err := json.Marshal(map[string]string{"address": otherAddr.Hex()})
	require.NoError(t, err)
	env2 := settle.Envelope{RequestID: "r2", Messages: []settle.SubMessage{{Protocol: "info", ContentType: "application/json", Data: data2}}}
	_, err = a.HandleEnvelope(context.Background(), env2)
	require.NoError(t, err)

	stillLinked, ok := a.PeerAddress()
	require.True(t, ok)
	assert.Equal(t, peerAddr, stillLinked, "peerAddress must be immutable once set")
}

func TestHandleEnvelope_MachinomyClaimValidates(t *testing.T) {
	f := newFixture(t)
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethsign.NewSigner(senderKey)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)

	var id settle.ChannelID
	id[0] = 0x81
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Sender:          sender,
		Receiver:        f.cfg.OurAddress,
		Value:           big.NewInt(1_000_000_000),
		DisputePeriod:   f.cfg.MinIncomingDisputePeriod,
	})

	a := account.New("peer-17", f.cfg, f.deps(t))
	claim := makeClaim(t, signer, id, f.cfg.ContractAddress, big.NewInt(250_000_000))

	payload := map[string]string{
		"channelId":       hex.EncodeToString(id[:]),
		"signature":       hex.EncodeToString(claim.Signature[:]),
		"value":           claim.Value.String(),
		"contractAddress": f.cfg.ContractAddress.Hex(),
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	env := settle.Envelope{RequestID: "r3", Messages: []settle.SubMessage{{Protocol: "machinomy", Data: data}}}

	_, err = a.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	waitFor(t, timeoutShort, func() bool {
		st := a.IncomingState()
		return st != nil && st.Spent.Cmp(big.NewInt(250_000_000)) == 0
	})
}

func TestHandleEnvelope_RequestCloseDeclinesWhenUnprofitable(t *testing.T) {
	f := newFixture(t)
	f.chain.Fee = big.NewInt(20_000_000) // fee 2e7 >= spent 1e7, unprofitable
	var id settle.ChannelID
	id[0] = 0x82
	f.chain.SeedChannel(settle.OnChainChannel{
		ChannelID:       id,
		ContractAddress: f.cfg.ContractAddress,
		Value:           big.NewInt(1_000_000_000),
	})

	snap := account.Snapshot{
		Name:              "peer-18",
		ReceivableBalance: big.NewInt(0),
		PayableBalance:    big.NewInt(0),
		PayoutAmount:      big.NewInt(0),
		Incoming: &channel.State{
			ChannelID:       id,
			ContractAddress: f.cfg.ContractAddress,
			Value:           big.NewInt(1_000_000_000),
			Spent:           big.NewInt(10_000_000),
		},
	}
	a := account.Hydrate(snap, f.cfg, f.deps(t))

	env := settle.Envelope{RequestID: "r4", Messages: []settle.SubMessage{{Protocol: "requestClose"}}}
	_, err := a.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond) // let the enqueued reducer run; no real I/O latency to wait on
	assert.Empty(t, f.chain.Submissions(), "unprofitable close request must not submit a transaction")
	assert.NotNil(t, a.IncomingState(), "cached channel must be unchanged")
}
