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

	"github.com/ilp-go/channel-settle/settle"
)

// ILP error codes used by the forwarding hooks. F08 and T04
// follow the interledger error-code convention (amount-too-large and
// insufficient-liquidity respectively); F00 is the generic fallback for an
// unexpected handler failure.
const (
	ilpErrAmountTooLarge        = "F08"
	ilpErrInsufficientLiquidity = "T04"
	ilpErrHandlerFailed         = "F00"
)

// HandleInboundPrepare admits or rejects a forwarded PREPARE packet
// carrying amountGwei, per the per-packet size cap and receivable ceiling,
// then delegates to the plugin's data handler.
func (a *Account) HandleInboundPrepare(ctx context.Context, amountGwei *big.Int, packet []byte) (settle.ILPResponse, error) {
	if amountGwei.Cmp(a.cfg.MaxPacketAmount) > 0 {
		a.WithField("amount", amountGwei).Debug("rejecting prepare: amount too large")
		return settle.ILPResponse{Kind: settle.ILPReject, ErrorCode: ilpErrAmountTooLarge}, nil
	}

	newReceivable := new(big.Int).Add(a.ReceivableBalance(), amountGwei)
	if newReceivable.Cmp(a.cfg.MaxBalance) > 0 {
		a.WithField("newReceivable", newReceivable).Debug("rejecting prepare: insufficient liquidity")
		return settle.ILPResponse{Kind: settle.ILPReject, ErrorCode: ilpErrInsufficientLiquidity}, nil
	}

	a.addReceivable(ctx, amountGwei)

	resp, err := a.deps.DataHandler(ctx, amountGwei, packet)
	if err != nil {
		a.WithField("error", err).Debug("data handler failed, rejecting and rolling back")
		a.addReceivable(ctx, new(big.Int).Neg(amountGwei))
		return settle.ILPResponse{Kind: settle.ILPReject, ErrorCode: ilpErrHandlerFailed}, nil
	}
	if resp.Kind == settle.ILPReject {
		a.addReceivable(ctx, new(big.Int).Neg(amountGwei))
	}
	return resp, nil
}

// HandleOutboundResult processes the result of a PREPARE this account
// forwarded onward: on FULFILL it credits payableBalance and kicks off
// settlement; on REJECT with code T04 it re-transmits the latest outgoing
// claim, since the peer may simply have missed it.
func (a *Account) HandleOutboundResult(ctx context.Context, amountGwei *big.Int, resp settle.ILPResponse) {
	if resp.Kind == settle.ILPFulfill {
		a.addPayable(ctx, amountGwei)
		go a.SendMoney(context.Background(), nil)
		return
	}
	if resp.ErrorCode == ilpErrInsufficientLiquidity {
		if out := a.OutgoingState(); out != nil {
			a.sendClaim(out)
		}
	}
}
