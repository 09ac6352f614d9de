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

	"github.com/pkg/errors"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/settle"
)

// refreshMaxAttempts and refreshInterval bound the generic on-chain
// refresh helper: poll every 1s, up to 20 attempts.
const (
	refreshMaxAttempts = 20
	refreshInterval    = time.Second
)

// ErrRefreshTimedOut is returned by refreshUntil when the predicate never
// held within refreshMaxAttempts.
var ErrRefreshTimedOut = errors.New("on-chain state did not satisfy predicate within refresh budget")

// refreshUntil repeatedly reads channel id from chain, every
// refreshInterval, until p holds for the fetched state (exists=false is
// passed through to p so callers can wait for absence). It returns the
// last fetched snapshot once p accepts it.
func (a *Account) refreshUntil(
	ctx context.Context,
	id settle.ChannelID,
	p func(ch settle.OnChainChannel, exists bool) bool,
) (settle.OnChainChannel, bool, error) {
	var last settle.OnChainChannel
	var exists bool
	for attempt := 0; attempt < refreshMaxAttempts; attempt++ {
		ch, ok, err := a.deps.ChainReader.ReadChannel(ctx, id)
		if err != nil {
			return settle.OnChainChannel{}, false, errors.WithMessage(err, "reading channel from chain")
		}
		last, exists = ch, ok
		if p(ch, ok) {
			return ch, ok, nil
		}
		if attempt < refreshMaxAttempts-1 {
			if err := sleep(ctx, refreshInterval); err != nil {
				return last, exists, err
			}
		}
	}
	return last, exists, ErrRefreshTimedOut
}

// sleep blocks for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchChannelState reads the on-chain snapshot for channel id and merges
// it with prior's off-chain-only fields (spent, signature); with a nil
// prior, spent starts at zero and the signature is empty.
func (a *Account) fetchChannelState(ctx context.Context, id settle.ChannelID, prior *channel.State) (*channel.State, bool, error) {
	ch, exists, err := a.deps.ChainReader.ReadChannel(ctx, id)
	if err != nil {
		return nil, false, errors.WithMessage(err, "reading channel from chain")
	}
	if !exists {
		return nil, false, nil
	}
	return channel.FromOnChain(ch, prior), true, nil
}
