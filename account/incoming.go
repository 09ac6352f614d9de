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
	"math/big"
	"strings"
	"time"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/ethsign"
	"github.com/ilp-go/channel-settle/settle"
	"github.com/ilp-go/channel-settle/unit"
)

// validationRetryInterval and maxValidationAttempts bound the two retry
// points inside validateClaim: waiting for a brand-new channel to appear,
// and waiting for a deposit to catch up with a claimed value.
const (
	validationRetryInterval = 250 * time.Millisecond
	maxValidationAttempts   = 20
)

// IncomingClaim is a peer-signed payment claim as received over the
// machinomy sub-protocol.
type IncomingClaim struct {
	ChannelID       settle.ChannelID
	ContractAddress settle.Address
	Value           *big.Int
	Signature       [65]byte
}

// ValidateClaim enqueues claim for validation on the incoming queue at
// normal priority, so a concurrently enqueued channel claim is never
// blocked behind a backlog of validations.
func (a *Account) ValidateClaim(ctx context.Context, claim IncomingClaim) <-chan channel.Result {
	return a.incoming.Add(ctx, a.validateClaimReducer(claim), channel.PriorityValidateClaim)
}

// validateClaimReducer is the multi-stage claim acceptance algorithm.
// Every rejection path returns the unchanged prior state and a nil error:
// a rejected claim is not a reducer failure.
func (a *Account) validateClaimReducer(claim IncomingClaim) channel.Reducer {
	return func(ctx context.Context, prior *channel.State) (*channel.State, error) {
		fetchID := claim.ChannelID
		if prior != nil {
			fetchID = prior.ChannelID
		}

		needFetch := prior == nil || claim.Value.Cmp(prior.Value) > 0
		var state *channel.State
		var exists bool
		if needFetch {
			var err error
			state, exists, err = a.fetchChannelState(ctx, fetchID, prior)
			if err != nil {
				a.WithField("error", err).Debug("fetching channel state during claim validation")
				return prior, nil
			}
		} else {
			state, exists = prior, true
		}

		if prior == nil {
			for attempts := 0; !exists; attempts++ {
				if attempts >= maxValidationAttempts {
					a.Debug("new incoming channel never appeared on chain")
					return prior, nil
				}
				if err := sleep(ctx, validationRetryInterval); err != nil {
					return prior, nil
				}
				var err error
				state, exists, err = a.fetchChannelState(ctx, fetchID, prior)
				if err != nil {
					a.WithField("error", err).Debug("fetching channel state during claim validation")
					return prior, nil
				}
			}
			if !strings.EqualFold(state.Receiver.Hex(), a.cfg.OurAddress.Hex()) {
				a.Debug("rejecting incoming channel: receiver is not us")
				return prior, nil
			}
			if state.DisputePeriod < a.cfg.MinIncomingDisputePeriod {
				a.Debug("rejecting incoming channel: dispute period too short")
				return prior, nil
			}
		} else {
			if !exists {
				a.Debug("rejecting claim: cached channel has vanished on chain")
				return prior, nil
			}
			if claim.ChannelID != prior.ChannelID {
				a.Debug("rejecting claim: channel id does not match cached channel")
				return prior, nil
			}
		}

		if claim.Value.Sign() < 0 {
			a.Debug("rejecting claim: negative value")
			return prior, nil
		}
		if claim.ContractAddress != a.cfg.ContractAddress {
			a.Debug("rejecting claim: wrong contract address")
			return prior, nil
		}
		digest := ethsign.Digest(claim.ContractAddress, claim.ChannelID, claim.Value)
		verified, err := a.deps.Verifier.Verify(digest, claim.Signature, state.Sender)
		if err != nil {
			a.WithField("error", err).Debug("verifying claim signature")
			return prior, nil
		}
		if !verified {
			a.Debug("rejecting claim: signature does not verify")
			return prior, nil
		}

		for attempts := 0; state.Value.Cmp(claim.Value) < 0; attempts++ {
			if attempts >= maxValidationAttempts {
				a.Debug("rejecting claim: on-chain value never caught up")
				return prior, nil
			}
			if err := sleep(ctx, validationRetryInterval); err != nil {
				return prior, nil
			}
			var fetchErr error
			state, exists, fetchErr = a.fetchChannelState(ctx, fetchID, prior)
			if fetchErr != nil {
				a.WithField("error", fetchErr).Debug("fetching channel state during claim validation")
				return prior, nil
			}
			if !exists {
				a.Debug("rejecting claim: channel vanished while waiting for deposit")
				return prior, nil
			}
		}

		if prior == nil {
			bound, err := a.deps.Registry.Bind(ctx, claim.ChannelID, a.name)
			if err != nil {
				a.WithField("error", err).Debug("binding channel registry")
				return prior, nil
			}
			if !bound {
				a.Debug("rejecting claim: channel id already claimed by another account")
				return prior, nil
			}
		}

		cachedSpent := big.NewInt(0)
		if prior != nil && prior.Spent != nil {
			cachedSpent = prior.Spent
		}
		increment := new(big.Int).Sub(unit.Min(claim.Value, state.Value), cachedSpent)
		if !unit.IsPositive(increment) {
			if prior != nil {
				a.Debug("rejecting claim: not an improvement over the cached claim")
				return prior, nil
			}
			increment = big.NewInt(0) // zero accepted as proof-of-channel on a new channel
		}

		incrementGwei := unit.WeiToGwei(increment)
		if unit.IsPositive(incrementGwei) && a.deps.MoneyHandler != nil {
			if err := a.deps.MoneyHandler(ctx, incrementGwei); err != nil {
				a.WithField("error", err).Error("money handler rejected incoming claim credit")
			}
		}
		a.addReceivable(ctx, new(big.Int).Neg(incrementGwei))

		newState := state.Clone()
		newState.Spent = new(big.Int).Set(claim.Value)
		newState.Signature = claim.Signature

		a.ensureWatcher()
		return newState, nil
	}
}
