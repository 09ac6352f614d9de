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
	"time"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/settle"
)

// ensureWatcher starts the periodic channel watcher if it is not already
// running. Safe to call repeatedly; a cached incoming claim is required
// for the watcher to do anything, so it self-terminates once one no
// longer exists.
func (a *Account) ensureWatcher() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watcherCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.watcherCancel = cancel
	go a.runWatcher(ctx)
}

// runWatcher polls the incoming channel's on-chain state every
// cfg.ChannelWatcherInterval, enqueuing a disputed-claim reducer when a
// dispute is observed, and stops once there is no cached incoming claim
// left to watch.
func (a *Account) runWatcher(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ChannelWatcherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cached := a.incoming.State()
		if cached == nil {
			a.mu.Lock()
			if a.watcherCancel != nil {
				a.watcherCancel()
				a.watcherCancel = nil
			}
			a.mu.Unlock()
			return
		}

		onChain, exists, err := a.deps.ChainReader.ReadChannel(ctx, cached.ChannelID)
		if err != nil {
			a.WithField("error", err).Debug("watcher: reading incoming channel from chain")
			continue
		}
		if !exists || onChain.DisputedUntil != nil {
			a.incoming.Add(ctx, a.claimIfProfitableReducer(true, nil), channel.PriorityClaimChannel)
		}
	}
}

// claimIfProfitableReducer builds the settle-if-profitable reducer. When
// authorize is nil, the default policy submits the claim transaction only
// when its estimated fee is smaller than the amount being claimed.
func (a *Account) claimIfProfitableReducer(requireDisputed bool, authorize settle.Authorize) channel.Reducer {
	return func(ctx context.Context, prior *channel.State) (*channel.State, error) {
		if prior == nil {
			return prior, nil
		}
		fresh, exists, err := a.fetchChannelState(ctx, prior.ChannelID, prior)
		if err != nil {
			a.WithField("error", err).Debug("claimIfProfitable: refreshing channel state")
			return prior, nil
		}
		if !exists {
			return nil, nil
		}
		if requireDisputed && !fresh.Disputed() {
			return prior, nil
		}

		req := settle.TxRequest{
			Method:    "claim",
			ChannelID: fresh.ChannelID,
			Spent:     fresh.Spent,
			Signature: fresh.Signature,
		}
		fee, err := a.deps.ChainWriter.EstimateFee(ctx, req)
		if err != nil {
			a.WithField("error", err).Error("estimating claim fee")
			return fresh, nil
		}

		if authorize != nil {
			if err := authorize(ctx, fee); err != nil {
				a.WithField("reason", err).Debug("claim not authorized")
				return fresh, nil
			}
		} else if fee.Cmp(fresh.Spent) >= 0 {
			a.Debug("skipping unprofitable channel claim")
			return fresh, nil
		}

		if err := a.deps.ChainWriter.Submit(ctx, req); err != nil {
			a.WithField("error", err).Error("submitting claim transaction")
			return fresh, err
		}

		_, _, err = a.refreshUntil(ctx, fresh.ChannelID, func(_ settle.OnChainChannel, ok bool) bool { return !ok })
		if err != nil {
			a.WithField("error", err).Error("waiting for claimed channel to vanish on chain")
			return fresh, err
		}

		if releaseErr := a.deps.Registry.Release(ctx, fresh.ChannelID); releaseErr != nil {
			a.WithField("error", releaseErr).Error("releasing channel registry entry")
		}
		return nil, nil
	}
}
