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
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ilp-go/channel-settle/account"
	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/ethsign"
	"github.com/ilp-go/channel-settle/settle"
	"github.com/ilp-go/channel-settle/settletest"
)

// testFixture bundles everything a test needs to build and drive an
// Account against an in-memory chain, store and transport.
type testFixture struct {
	cfg       settle.Config
	chain     *settletest.FakeChain
	transport *settletest.FakeTransport
	store     *settletest.MemStore
	registry  *channel.Registry

	mu       sync.Mutex
	credited []*big.Int
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	store := settletest.NewMemStore()
	return &testFixture{
		cfg: settle.Config{
			OutgoingChannelAmount:    big.NewInt(1_000_000_000),
			MinIncomingChannelAmount: big.NewInt(1),
			OutgoingDisputePeriod:    100,
			MinIncomingDisputePeriod: 10,
			ChannelWatcherInterval:   10 * time.Millisecond,
			MaxPacketAmount:          big.NewInt(1_000),
			MaxBalance:               big.NewInt(1_000_000),
			ContractAddress:          settle.Address{0x01},
			OurAddress:               settle.Address{0x02},
		},
		chain:     settletest.NewFakeChain(),
		transport: &settletest.FakeTransport{},
		store:     store,
		registry:  channel.NewRegistry(store),
	}
}

func (f *testFixture) deps(t *testing.T) account.Deps {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return account.Deps{
		Store:       f.store,
		Registry:    f.registry,
		ChainReader: f.chain,
		ChainWriter: f.chain,
		Signer:      ethsign.NewSigner(key),
		Verifier:    ethsign.NewVerifier(),
		Transport:   f.transport,
		DataHandler: func(_ context.Context, _ *big.Int, _ []byte) (settle.ILPResponse, error) {
			return settle.ILPResponse{Kind: settle.ILPFulfill}, nil
		},
		MoneyHandler: func(_ context.Context, amountGwei *big.Int) error {
			f.mu.Lock()
			f.credited = append(f.credited, new(big.Int).Set(amountGwei))
			f.mu.Unlock()
			return nil
		},
	}
}

func (f *testFixture) creditedTotal() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := big.NewInt(0)
	for _, c := range f.credited {
		total.Add(total, c)
	}
	return total
}

const timeoutShort = time.Second

func acceptAuthorize(_ context.Context, _ *big.Int) error { return nil }

func rejectAuthorize(_ context.Context, _ *big.Int) error { return errRejectedAuthorize }

var errRejectedAuthorize = &authErr{"authorization refused"}

type authErr struct{ msg string }

func (e *authErr) Error() string { return e.msg }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
