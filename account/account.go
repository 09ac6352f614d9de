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

// Package account implements the per-peer settlement state machine: credit
// accounting, outgoing settlement, incoming claim validation and channel
// lifecycle management, coordinated through two serialized reducer queues.
package account

import (
	"context"
	"math/big"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/log"
	"github.com/ilp-go/channel-settle/settle"
)

// Deps bundles the external collaborators an Account needs, all supplied
// by the embedding plugin (see settle.go).
type Deps struct {
	Store        settle.Store
	Registry     *channel.Registry
	ChainReader  settle.ChainReader
	ChainWriter  settle.ChainWriter
	GasPricer    settle.GasPricer
	Signer       settle.Signer
	Verifier     settle.Verifier
	Transport    settle.Transport
	DataHandler  settle.DataHandler
	MoneyHandler settle.MoneyHandler
}

// Account is the durable per-peer record: balances, payout backlog, peer
// address, and the two channels tracked via serialized reducer queues.
type Account struct {
	log.Logger
	cfg  settle.Config
	deps Deps
	name string

	mu                sync.Mutex
	receivableBalance *big.Int
	payableBalance    *big.Int
	payoutAmount      *big.Int
	peerAddress       *settle.Address
	peerConn          string // transport-level peer identifier

	incoming *channel.Queue
	outgoing *channel.Queue

	// depositSide is the transient side-queue used while a deposit is in
	// flight; new sendMoney calls route here instead of to outgoing, and
	// no other reducer may be enqueued directly to outgoing while it
	// exists.
	depositSide *channel.Queue

	watcherCancel context.CancelFunc

	// autoFundGroup collapses concurrent autoFund triggers (one fires
	// after every incoming claim) into a single in-flight evaluation, so
	// a burst of claims doesn't enqueue a burst of redundant top-up
	// reducers before the first one sets depositSide.
	autoFundGroup singleflight.Group
}

// New creates an account for accountName with empty balances and no
// channels, wiring deps and cfg. Callers that have a persisted snapshot
// should use Hydrate instead.
func New(name string, cfg settle.Config, deps Deps) *Account {
	a := &Account{
		Logger:            log.NewLoggerWithField("account", name),
		cfg:               cfg,
		deps:              deps,
		name:              name,
		receivableBalance: big.NewInt(0),
		payableBalance:    big.NewInt(0),
		payoutAmount:      big.NewInt(0),
		incoming:          channel.NewQueue(nil),
		outgoing:          channel.NewQueue(nil),
	}
	a.wireChangeEvents()
	return a
}

// Hydrate rebuilds an account from a persisted Snapshot (see persist.go).
func Hydrate(snap Snapshot, cfg settle.Config, deps Deps) *Account {
	a := &Account{
		Logger:            log.NewLoggerWithField("account", snap.Name),
		cfg:               cfg,
		deps:              deps,
		name:              snap.Name,
		receivableBalance: snap.ReceivableBalance,
		payableBalance:    snap.PayableBalance,
		payoutAmount:      snap.PayoutAmount,
		peerAddress:       snap.PeerAddress,
		incoming:          channel.NewQueue(snap.Incoming),
		outgoing:          channel.NewQueue(snap.Outgoing),
	}
	a.wireChangeEvents()
	if snap.Incoming != nil {
		a.ensureWatcher()
	}
	return a
}

func (a *Account) wireChangeEvents() {
	persist := func(*channel.State) { a.persist(context.Background()) }
	a.incoming.OnChange(persist)
	a.outgoing.OnChange(persist)
}

// Name returns the account's opaque identifier.
func (a *Account) Name() string { return a.name }

// ReceivableBalance returns a best-effort snapshot of the amount owed to us.
func (a *Account) ReceivableBalance() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.receivableBalance)
}

// PayableBalance returns a best-effort snapshot of the amount owed by us.
func (a *Account) PayableBalance() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.payableBalance)
}

// PayoutAmount returns a best-effort snapshot of the settlement backlog.
func (a *Account) PayoutAmount() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.payoutAmount)
}

// PeerAddress returns the peer's on-chain settlement address, if known.
func (a *Account) PeerAddress() (settle.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peerAddress == nil {
		return settle.Address{}, false
	}
	return *a.peerAddress, true
}

// setPeerAddress links the peer's on-chain address, if none is linked yet.
// Once set, it is immutable for the account's lifetime (data model
// invariant). Returns false if a different address was already linked.
func (a *Account) setPeerAddress(addr settle.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peerAddress != nil {
		return *a.peerAddress == addr
	}
	a.peerAddress = &addr
	a.persistLocked(context.Background())
	return true
}

// IncomingState returns a best-effort snapshot of the cached incoming claim.
func (a *Account) IncomingState() *channel.State { return a.incoming.State() }

// OutgoingState returns a best-effort snapshot of the latest outgoing claim.
func (a *Account) OutgoingState() *channel.State { return a.outgoing.State() }

// addReceivable adjusts receivableBalance by delta (may be negative), used
// by the forwarding hooks and incoming validation.
func (a *Account) addReceivable(ctx context.Context, delta *big.Int) {
	a.mu.Lock()
	a.receivableBalance = new(big.Int).Add(a.receivableBalance, delta)
	a.persistLocked(ctx)
	a.mu.Unlock()
}

// addPayable adjusts payableBalance by delta (may be negative).
func (a *Account) addPayable(ctx context.Context, delta *big.Int) {
	a.mu.Lock()
	a.payableBalance = new(big.Int).Add(a.payableBalance, delta)
	a.persistLocked(ctx)
	a.mu.Unlock()
}

// addPayout adjusts payoutAmount by delta.
func (a *Account) addPayout(ctx context.Context, delta *big.Int) {
	a.mu.Lock()
	a.payoutAmount = new(big.Int).Add(a.payoutAmount, delta)
	a.persistLocked(ctx)
	a.mu.Unlock()
}

// clampPayout replaces payoutAmount with f(payoutAmount).
func (a *Account) clampPayout(ctx context.Context, f func(*big.Int) *big.Int) {
	a.mu.Lock()
	a.payoutAmount = f(a.payoutAmount)
	a.persistLocked(ctx)
	a.mu.Unlock()
}

// Unload tears down the account's queues and stops its watcher. It is the
// only way an account is destroyed.
func (a *Account) Unload(ctx context.Context) error {
	a.mu.Lock()
	if a.watcherCancel != nil {
		a.watcherCancel()
	}
	a.mu.Unlock()

	if _, err := a.incoming.Clear(ctx); err != nil && !errors.Is(err, channel.ErrQueueClosed) {
		return errors.WithMessage(err, "draining incoming queue")
	}
	if _, err := a.outgoing.Clear(ctx); err != nil && !errors.Is(err, channel.ErrQueueClosed) {
		return errors.WithMessage(err, "draining outgoing queue")
	}
	return errors.WithMessage(a.deps.Store.Unload(ctx, accountKey(a.name)), "unloading account record")
}

func accountKey(name string) string { return name + ":account" }
