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

package account

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/ethsign"
	"github.com/ilp-go/channel-settle/settle"
	"github.com/ilp-go/channel-settle/unit"
)

// FundOutgoingChannel opens a new outgoing channel if none exists, else
// tops one up by value. authorize may reject the on-chain transaction; on
// rejection the reducer returns the prior state and no transaction is sent.
func (a *Account) FundOutgoingChannel(ctx context.Context, value *big.Int, authorize settle.Authorize) <-chan channel.Result {
	return a.outgoing.Add(ctx, func(ctx context.Context, prior *channel.State) (*channel.State, error) {
		if prior == nil {
			return a.openChannel(ctx, value, authorize)
		}
		return a.depositToChannel(ctx, prior, value, authorize)
	}, channel.PriorityValidateClaim)
}

// autoFund is enqueued opportunistically after each incoming claim and at
// startup. It opens or tops up the outgoing channel by
// cfg.OutgoingChannelAmount when remaining capacity is low and the
// solvency gate (incoming channel value) is satisfied. It never blocks on
// the outcome.
func (a *Account) autoFund(ctx context.Context) {
	// Collapse a burst of triggers (one per incoming claim) into a single
	// evaluation with singleflight.Group, which dedups concurrent
	// identical calls.
	_, _, _ = a.autoFundGroup.Do("evaluate", func() (interface{}, error) {
		a.evaluateAutoFund(ctx)
		return nil, nil
	})
}

func (a *Account) evaluateAutoFund(ctx context.Context) {
	a.mu.Lock()
	depositInFlight := a.depositSide != nil
	a.mu.Unlock()
	if depositInFlight {
		return
	}

	in := a.incoming.State()
	if in == nil || in.Value == nil || in.Value.Cmp(a.cfg.MinIncomingChannelAmount) < 0 {
		return
	}

	out := a.outgoing.State()
	half := new(big.Int).Div(a.cfg.OutgoingChannelAmount, big.NewInt(2))
	needsFunding := out == nil || out.Remaining().Cmp(half) < 0
	if !needsFunding {
		return
	}

	noop := func(context.Context, *big.Int) error { return nil }
	a.FundOutgoingChannel(ctx, a.cfg.OutgoingChannelAmount, noop)
}

// openChannel is the reducer body for opening a fresh outgoing channel.
func (a *Account) openChannel(ctx context.Context, value *big.Int, authorize settle.Authorize) (*channel.State, error) {
	peerAddr, ok := a.PeerAddress()
	if !ok {
		var exchangeErr error
		peerAddr, ok, exchangeErr = a.exchangeInfo(ctx)
		if exchangeErr != nil {
			a.WithField("error", exchangeErr).Debug("exchanging info to learn peer address")
		}
		if !ok {
			return nil, nil // abort silently: peer address still unknown
		}
	}

	var id settle.ChannelID
	if _, err := rand.Read(id[:]); err != nil {
		return nil, err
	}

	req := settle.TxRequest{
		Method:        "open",
		ChannelID:     id,
		Sender:        a.selfAddress(),
		Receiver:      peerAddr,
		DisputePeriod: a.cfg.OutgoingDisputePeriod,
		Value:         value,
	}
	fee, err := a.deps.ChainWriter.EstimateFee(ctx, req)
	if err != nil {
		a.WithField("error", err).Error("estimating open-channel fee")
		return nil, err
	}
	if err := authorize(ctx, fee); err != nil {
		a.WithField("reason", err).Debug("open-channel not authorized")
		return nil, nil
	}
	if err := a.deps.ChainWriter.Submit(ctx, req); err != nil {
		a.WithField("error", err).Error("submitting open-channel transaction")
		return nil, err
	}

	onChain, exists, err := a.refreshUntil(ctx, id, func(_ settle.OnChainChannel, ok bool) bool { return ok })
	if err != nil {
		a.WithField("error", err).Error("waiting for opened channel to appear on chain")
		return nil, err
	}
	if !exists {
		return nil, ErrRefreshTimedOut
	}

	newState := channel.FromOnChain(onChain, nil)
	a.signAndAttach(newState, big.NewInt(0))
	a.sendClaim(newState) // proof-of-channel, fire-and-forget

	return newState, nil
}

// depositToChannel deposits value into an existing outgoing channel. While
// the deposit transaction is in flight, claim creation continues to make
// progress via a transient side-queue; the main outgoing
// queue is blocked on this reducer for the duration, so reducers added
// to it directly meanwhile wait until the merged state is committed.
func (a *Account) depositToChannel(ctx context.Context, prior *channel.State, value *big.Int, authorize settle.Authorize) (*channel.State, error) {
	side := channel.NewQueue(prior.Clone())
	a.mu.Lock()
	a.depositSide = side
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.depositSide = nil
		a.mu.Unlock()
	}()

	// Drain any just-arrived settlement request immediately.
	side.Add(ctx, a.createClaimReducer(), channel.PriorityValidateClaim)

	req := settle.TxRequest{Method: "deposit", ChannelID: prior.ChannelID, Value: value}
	deposited := false
	fee, err := a.deps.ChainWriter.EstimateFee(ctx, req)
	switch {
	case err != nil:
		a.WithField("error", err).Error("estimating deposit fee")
	default:
		if authErr := authorize(ctx, fee); authErr != nil {
			a.WithField("reason", authErr).Debug("deposit not authorized")
		} else if submitErr := a.deps.ChainWriter.Submit(ctx, req); submitErr != nil {
			a.WithField("error", submitErr).Error("submitting deposit transaction")
		} else {
			deposited = true
		}
	}

	onChain := prior
	if deposited {
		target := new(big.Int).Add(prior.Value, value)
		fresh, exists, refreshErr := a.refreshUntil(ctx, prior.ChannelID, func(ch settle.OnChainChannel, ok bool) bool {
			return ok && ch.Value.Cmp(target) >= 0
		})
		if refreshErr != nil {
			a.WithField("error", refreshErr).Error("waiting for deposit to confirm on chain")
		} else if exists {
			onChain = channel.FromOnChain(fresh, prior)
		}
		a.notifyChannelDeposit(ctx)
	}

	sideFinal, clearErr := side.Clear(ctx)
	if clearErr != nil {
		a.WithField("error", clearErr).Error("draining deposit side-queue")
		sideFinal = prior
	}

	// Merge: channel identity/value from the fresh on-chain snapshot (or
	// prior, if the transaction never landed); spent/signature from
	// whatever the side-queue reached, so concurrently produced claims
	// are never lost, even if the deposit transaction failed.
	merged := onChain.Clone()
	merged.Spent = sideFinal.Spent
	merged.Signature = sideFinal.Signature
	return merged, nil
}

// SendMoney increments the settlement backlog by amount (or by
// max(0, payableBalance) when amount is nil) and enqueues a claim-creation
// reducer on the deposit side-queue if one exists, else on the outgoing
// queue.
func (a *Account) SendMoney(ctx context.Context, amount *big.Int) <-chan channel.Result {
	if amount == nil {
		payable := a.PayableBalance()
		if payable.Sign() > 0 {
			amount = payable
		} else {
			amount = big.NewInt(0)
		}
	}
	a.addPayout(ctx, amount)
	return a.enqueueOutgoing(ctx, a.createClaimReducer(), channel.PriorityValidateClaim)
}

// enqueueOutgoing routes reducer to the deposit side-queue when one is
// active, else to the main outgoing queue.
func (a *Account) enqueueOutgoing(ctx context.Context, reducer channel.Reducer, priority channel.Priority) <-chan channel.Result {
	a.mu.Lock()
	side := a.depositSide
	a.mu.Unlock()
	if side != nil {
		return side.Add(ctx, reducer, priority)
	}
	return a.outgoing.Add(ctx, reducer, priority)
}

// createClaimReducer returns the claim-producing reducer: it signs a claim
// for as much of the outstanding payout backlog as remaining channel
// capacity allows. The backlog is then clamped to min(0, ...), so any part
// of a positive backlog beyond that capacity is cleared, not carried over
// to the next settlement.
func (a *Account) createClaimReducer() channel.Reducer {
	return func(ctx context.Context, prior *channel.State) (*channel.State, error) {
		a.autoFund(ctx) // opportunistic, never blocks on the outcome

		budgetWei := unit.GweiToWei(a.PayoutAmount())
		if prior == nil || !unit.IsPositive(budgetWei) {
			return prior, nil
		}
		remaining := prior.Remaining()
		if !unit.IsPositive(remaining) {
			return prior, nil
		}

		increment := unit.Min(budgetWei, remaining)
		if !unit.IsPositive(increment) {
			return prior, nil
		}
		newSpent := new(big.Int).Add(prior.Spent, increment)

		newState := prior.Clone()
		a.signAndAttach(newState, newSpent)
		a.sendClaim(newState) // fire-and-forget

		incrementGwei := unit.WeiToGwei(increment)
		a.addPayable(ctx, new(big.Int).Neg(incrementGwei))
		// Deliberate one-sided clamp: payoutAmount is capped at zero from
		// above, min(0, payoutAmount-increment) rather than max(0, ...);
		// kept as literally specified — see DESIGN.md.
		a.clampPayout(ctx, func(p *big.Int) *big.Int {
			return unit.Min(big.NewInt(0), new(big.Int).Sub(p, incrementGwei))
		})

		return newState, nil
	}
}

// signAndAttach signs the claim digest for newSpent and attaches the
// signature and spent amount to state.
func (a *Account) signAndAttach(state *channel.State, newSpent *big.Int) {
	digest := ethsign.Digest(state.ContractAddress, state.ChannelID, newSpent)
	sig, err := a.deps.Signer.Sign(digest)
	if err != nil {
		a.WithField("error", err).Error("signing outgoing claim")
		return
	}
	state.Spent = newSpent
	state.Signature = sig
}

// selfAddress returns the address this account signs claims with.
func (a *Account) selfAddress() settle.Address {
	return a.cfg.OurAddress
}
