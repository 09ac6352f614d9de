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

package engine_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilp-go/channel-settle/account"
	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/engine"
	"github.com/ilp-go/channel-settle/ethsign"
	"github.com/ilp-go/channel-settle/settle"
	"github.com/ilp-go/channel-settle/settletest"
)

func newTestEngine(t *testing.T) (*engine.Engine, *settletest.MemStore) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	store := settletest.NewMemStore()
	deps := account.Deps{
		Store:       store,
		Registry:    channel.NewRegistry(store),
		ChainReader: settletest.NewFakeChain(),
		ChainWriter: settletest.NewFakeChain(),
		Signer:      ethsign.NewSigner(key),
		Verifier:    ethsign.NewVerifier(),
		Transport:   &settletest.FakeTransport{},
		DataHandler: func(_ context.Context, _ *big.Int, _ []byte) (settle.ILPResponse, error) {
			return settle.ILPResponse{Kind: settle.ILPFulfill}, nil
		},
		MoneyHandler: func(_ context.Context, _ *big.Int) error { return nil },
	}
	cfg := settle.Config{
		OutgoingChannelAmount:    big.NewInt(1),
		MinIncomingChannelAmount: big.NewInt(1),
		MaxPacketAmount:          big.NewInt(1_000),
		MaxBalance:               big.NewInt(1_000_000),
	}
	return engine.New(cfg, deps), store
}

func TestEngine_OpenAccountCreatesThenReturnsSameInstance(t *testing.T) {
	e, _ := newTestEngine(t)

	a1, apiErr := e.OpenAccount(context.Background(), "alice")
	require.Nil(t, apiErr)
	require.NotNil(t, a1)

	a2, apiErr := e.OpenAccount(context.Background(), "alice")
	require.Nil(t, apiErr)
	assert.Same(t, a1, a2)

	assert.Contains(t, e.Accounts(), "alice")
}

func TestEngine_OpenAccountHydratesFromStore(t *testing.T) {
	e, store := newTestEngine(t)
	snap := account.Snapshot{
		Name:              "bob",
		ReceivableBalance: big.NewInt(42),
		PayableBalance:    big.NewInt(0),
		PayoutAmount:      big.NewInt(0),
	}
	raw, err := account.MarshalSnapshot(snap)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "bob:account", raw))

	a, apiErr := e.OpenAccount(context.Background(), "bob")
	require.Nil(t, apiErr)
	require.NotNil(t, a)
	assert.Equal(t, 0, a.ReceivableBalance().Cmp(big.NewInt(42)))
}

func TestEngine_GetAccountNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	a, apiErr := e.GetAccount("ghost")
	assert.Nil(t, a)
	require.NotNil(t, apiErr)
}

func TestEngine_CloseAccountRemovesIt(t *testing.T) {
	e, _ := newTestEngine(t)
	_, apiErr := e.OpenAccount(context.Background(), "carol")
	require.Nil(t, apiErr)

	apiErr = e.CloseAccount(context.Background(), "carol")
	require.Nil(t, apiErr)

	_, apiErr = e.GetAccount("carol")
	assert.NotNil(t, apiErr)
}

func TestEngine_CloseAccountNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	apiErr := e.CloseAccount(context.Background(), "nobody")
	assert.NotNil(t, apiErr)
}
