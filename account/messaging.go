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
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/settle"
)

var errInvalidMachinomyPayload = errors.New("invalid machinomy claim payload")

// infoPayload is the wire shape of the info sub-protocol.
type infoPayload struct {
	Address string `json:"address"`
}

// machinomyPayload is the wire shape of a payment claim.
type machinomyPayload struct {
	ChannelID       string `json:"channelId"`
	Signature       string `json:"signature"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
}

// ilpPayload wraps a forwarded PREPARE packet together with the gwei
// amount the embedding ILP stack has already extracted from it; parsing
// the packet itself is out of this engine's scope.
type ilpPayload struct {
	AmountGwei string `json:"amountGwei"`
	Packet     []byte `json:"packet"`
}

type ilpResponsePayload struct {
	Kind      string `json:"kind"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// SetPeerConn records the transport-level identifier used to reach this
// account's peer. Set once by whatever wires the account up (e.g. on
// first contact, or on hydration from a persisted connection table).
func (a *Account) SetPeerConn(peerConn string) {
	a.mu.Lock()
	a.peerConn = peerConn
	a.mu.Unlock()
}

func newRequestID() string { return uuid.NewString() }

// exchangeInfo sends our address to the peer and links the address it
// returns, if none is linked yet.
func (a *Account) exchangeInfo(ctx context.Context) (settle.Address, bool, error) {
	data, err := json.Marshal(infoPayload{Address: a.selfAddress().Hex()})
	if err != nil {
		return settle.Address{}, false, err
	}
	env := settle.Envelope{
		RequestID: newRequestID(),
		Messages:  []settle.SubMessage{{Protocol: "info", ContentType: "application/json", Data: data}},
	}
	resp, err := a.deps.Transport.SendMessage(ctx, a.peerConnString(), env)
	if err != nil {
		return settle.Address{}, false, err
	}
	for _, msg := range resp.Messages {
		if msg.Protocol != "info" {
			continue
		}
		var payload infoPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return settle.Address{}, false, err
		}
		if !validChecksummedAddress(payload.Address) {
			a.Debug("ignoring info response: malformed or non-checksummed address")
			return settle.Address{}, false, nil
		}
		addr := common.HexToAddress(payload.Address)
		return addr, a.setPeerAddress(addr), nil
	}
	return settle.Address{}, false, nil
}

func (a *Account) peerConnString() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peerConn
}

func validChecksummedAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s).Hex() == s
}

// sendClaim transmits the machinomy claim for state, fire-and-forget.
func (a *Account) sendClaim(state *channel.State) {
	if state == nil {
		return
	}
	payload := machinomyPayload{
		ChannelID:       hex.EncodeToString(state.ChannelID[:]),
		Signature:       hex.EncodeToString(state.Signature[:]),
		Value:           bigIntString(state.Spent),
		ContractAddress: state.ContractAddress.Hex(),
	}
	go func() {
		data, err := json.Marshal(payload)
		if err != nil {
			a.WithField("error", err).Debug("marshaling outgoing claim")
			return
		}
		env := settle.Envelope{
			RequestID: newRequestID(),
			Messages:  []settle.SubMessage{{Protocol: "machinomy", ContentType: "application/json", Data: data}},
		}
		if _, err := a.deps.Transport.SendMessage(context.Background(), a.peerConnString(), env); err != nil {
			a.WithField("error", err).Debug("transmitting outgoing claim")
		}
	}()
}

// notifyChannelDeposit tells the peer a deposit transaction was sent,
// fire-and-forget; the peer is expected to poll on-chain to confirm.
func (a *Account) notifyChannelDeposit(ctx context.Context) {
	go func() {
		env := settle.Envelope{
			RequestID: newRequestID(),
			Messages:  []settle.SubMessage{{Protocol: "channelDeposit"}},
		}
		if _, err := a.deps.Transport.SendMessage(context.Background(), a.peerConnString(), env); err != nil {
			a.WithField("error", err).Debug("notifying peer of deposit")
		}
	}()
}

// HandleEnvelope dispatches each sub-message in env to its sub-protocol
// handler and assembles the response envelope.
func (a *Account) HandleEnvelope(ctx context.Context, env settle.Envelope) (settle.Envelope, error) {
	resp := settle.Envelope{RequestID: env.RequestID}
	for _, msg := range env.Messages {
		switch msg.Protocol {
		case "info":
			resp.Messages = append(resp.Messages, a.handleInfo(msg))
		case "channelDeposit":
			a.handleChannelDeposit(ctx)
			resp.Messages = append(resp.Messages, settle.SubMessage{Protocol: "channelDeposit"})
		case "requestClose":
			a.incoming.Add(ctx, a.claimIfProfitableReducer(false, nil), channel.PriorityClaimChannel)
			resp.Messages = append(resp.Messages, settle.SubMessage{Protocol: "requestClose"})
		case "machinomy":
			a.handleMachinomy(ctx, msg)
			resp.Messages = append(resp.Messages, settle.SubMessage{Protocol: "machinomy"})
		case "ilp":
			resp.Messages = append(resp.Messages, a.handleILP(ctx, msg))
		default:
			a.WithField("protocol", msg.Protocol).Debug("ignoring unknown sub-protocol message")
		}
	}
	return resp, nil
}

func (a *Account) handleInfo(msg settle.SubMessage) settle.SubMessage {
	var payload infoPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		a.WithField("error", err).Debug("ignoring malformed info message")
	} else if !validChecksummedAddress(payload.Address) {
		a.Debug("refusing info: malformed or non-checksummed address")
	} else if !a.setPeerAddress(common.HexToAddress(payload.Address)) {
		a.Debug("refusing info: peer address already linked to a different address")
	}

	data, err := json.Marshal(infoPayload{Address: a.selfAddress().Hex()})
	if err != nil {
		a.WithField("error", err).Error("marshaling info response")
		data = []byte(`{}`)
	}
	return settle.SubMessage{Protocol: "info", ContentType: "application/json", Data: data}
}

// handleChannelDeposit polls on-chain for the cached incoming channel's
// value to increase, then reconciles the cached claim inside the incoming
// queue, so long as the channel identity has not changed concurrently.
func (a *Account) handleChannelDeposit(ctx context.Context) {
	cached := a.incoming.State()
	if cached == nil {
		return
	}
	target := cached.Value
	id := cached.ChannelID
	_, exists, err := a.refreshUntil(ctx, id, func(ch settle.OnChainChannel, ok bool) bool {
		return ok && ch.Value.Cmp(target) > 0
	})
	if err != nil || !exists {
		if err != nil {
			a.WithField("error", err).Debug("waiting for peer deposit to confirm on chain")
		}
		return
	}

	a.incoming.Add(ctx, func(ctx context.Context, prior *channel.State) (*channel.State, error) {
		if prior == nil || prior.ChannelID != id {
			return prior, nil
		}
		fresh, exists, err := a.fetchChannelState(ctx, prior.ChannelID, prior)
		if err != nil || !exists {
			return prior, nil
		}
		return fresh, nil
	}, channel.PriorityValidateClaim)
}

func (a *Account) handleMachinomy(ctx context.Context, msg settle.SubMessage) {
	var payload machinomyPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		a.WithField("error", err).Debug("ignoring malformed machinomy message")
		return
	}
	claim, err := parseMachinomyPayload(payload)
	if err != nil {
		a.WithField("error", err).Debug("ignoring malformed machinomy message")
		return
	}
	a.ValidateClaim(ctx, claim)
}

func parseMachinomyPayload(payload machinomyPayload) (IncomingClaim, error) {
	var claim IncomingClaim
	idBytes, err := hex.DecodeString(payload.ChannelID)
	if err != nil || len(idBytes) != len(claim.ChannelID) {
		return claim, errInvalidMachinomyPayload
	}
	copy(claim.ChannelID[:], idBytes)

	sigBytes, err := hex.DecodeString(payload.Signature)
	if err != nil || len(sigBytes) != len(claim.Signature) {
		return claim, errInvalidMachinomyPayload
	}
	copy(claim.Signature[:], sigBytes)

	if !common.IsHexAddress(payload.ContractAddress) {
		return claim, errInvalidMachinomyPayload
	}
	claim.ContractAddress = common.HexToAddress(payload.ContractAddress)

	value, ok := new(big.Int).SetString(payload.Value, 10)
	if !ok {
		return claim, errInvalidMachinomyPayload
	}
	claim.Value = value
	return claim, nil
}

func (a *Account) handleILP(ctx context.Context, msg settle.SubMessage) settle.SubMessage {
	var payload ilpPayload
	respond := func(kind settle.ILPResponseKind, code string) settle.SubMessage {
		data, _ := json.Marshal(ilpResponsePayload{Kind: ilpKindString(kind), ErrorCode: code})
		return settle.SubMessage{Protocol: "ilp", ContentType: "application/json", Data: data}
	}

	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		a.WithField("error", err).Debug("ignoring malformed ilp message")
		return respond(settle.ILPReject, ilpErrHandlerFailed)
	}
	amountGwei, ok := new(big.Int).SetString(payload.AmountGwei, 10)
	if !ok {
		return respond(settle.ILPReject, ilpErrHandlerFailed)
	}

	resp, err := a.HandleInboundPrepare(ctx, amountGwei, payload.Packet)
	if err != nil {
		a.WithField("error", err).Error("handling inbound prepare")
		return respond(settle.ILPReject, ilpErrHandlerFailed)
	}
	return respond(resp.Kind, resp.ErrorCode)
}

func ilpKindString(kind settle.ILPResponseKind) string {
	if kind == settle.ILPFulfill {
		return "fulfill"
	}
	return "reject"
}
