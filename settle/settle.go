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

// Package settle defines the interfaces the bilateral settlement engine
// uses to reach its external collaborators (persistent store, message
// transport, on-chain adapter, signer) and the configuration it is wired
// with. Concrete collaborators are supplied by the embedding plugin; this
// package only names the contracts.
package settle

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address is an on-chain (Ethereum) address.
type Address = common.Address

// ChannelID uniquely identifies a channel on-chain.
type ChannelID [32]byte

// Config carries the ambient tunables: gates, amounts and timers the
// engine is wired with.
type Config struct {
	// OutgoingChannelAmount is the default channel value and top-up
	// increment, in wei.
	OutgoingChannelAmount *big.Int
	// MinIncomingChannelAmount is the gate for auto-funding, in wei.
	MinIncomingChannelAmount *big.Int
	// OutgoingDisputePeriod is committed to new outgoing channels, in blocks.
	OutgoingDisputePeriod uint64
	// MinIncomingDisputePeriod is the floor for accepting an incoming
	// channel, in blocks.
	MinIncomingDisputePeriod uint64
	// ChannelWatcherInterval is the on-chain polling period.
	ChannelWatcherInterval time.Duration
	// MaxPacketAmount is the per-packet size cap, in gwei.
	MaxPacketAmount *big.Int
	// MaxBalance is the receivable cap, in gwei.
	MaxBalance *big.Int
	// ContractAddress is the channel contract this engine settles against.
	ContractAddress Address
	// OurAddress is this node's on-chain settlement address; it must equal
	// the receiver of any accepted incoming channel.
	OurAddress Address
}

// Store is the persistent key-value store used for account and
// channel-registry persistence. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load hydrates any cached state needed to serve Get for key.
	Load(ctx context.Context, key string) error
	// Get returns the raw value for key, or ok=false if absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set writes value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Unload drops any cached state for key and removes it from the store.
	Unload(ctx context.Context, key string) error
}

// SubMessage is one of the five named sub-protocol records ("info",
// "channelDeposit", "requestClose", "machinomy", "ilp") carried inside an
// Envelope.
type SubMessage struct {
	Protocol    string
	ContentType string
	Data        []byte
}

// Envelope frames a request or response sent over the bilateral transport.
type Envelope struct {
	RequestID string
	Messages  []SubMessage
}

// Transport is the bilateral message transport. Framing, request/response
// correlation and connection lifecycle are the transport's concern; this
// engine only sends and receives Envelopes.
type Transport interface {
	SendMessage(ctx context.Context, peer string, req Envelope) (Envelope, error)
}

// OnChainChannel is the set of fields read back from chain for a channel.
// Channel absence (vanished or never opened) is reported by
// ChainReader.ReadChannel returning exists=false.
type OnChainChannel struct {
	ChannelID       ChannelID
	ContractAddress Address
	Sender          Address
	Receiver        Address
	Value           *big.Int
	DisputePeriod   uint64
	DisputedUntil   *uint64 // nil when not disputed
}

// ChainReader reads channel state from the shared ledger.
type ChainReader interface {
	ReadChannel(ctx context.Context, id ChannelID) (ch OnChainChannel, exists bool, err error)
}

// TxRequest describes a contract call to submit.
type TxRequest struct {
	Method          string // "open", "deposit", or "claim"
	ChannelID       ChannelID
	Sender          Address
	Receiver        Address
	DisputePeriod   uint64
	Value           *big.Int // wei attached to the call
	Spent           *big.Int // for "claim": the claimed amount
	Signature       [65]byte // for "claim": the signature authorizing it
}

// ChainWriter builds, estimates gas for, and submits contract calls. It is
// expected to block until the submitted transaction is confirmed, and to
// handle nonce management and gas-bumping retries internally.
type ChainWriter interface {
	EstimateFee(ctx context.Context, req TxRequest) (*big.Int, error)
	Submit(ctx context.Context, req TxRequest) error
}

// GasPricer reports the current gas price, in wei per gas unit.
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Signer produces a flat 65-byte recoverable secp256k1 signature over a
// digest, as described in the claim signing format: 32-byte r, 32-byte s,
// 1-byte v with v in {0x1b, 0x1c}.
type Signer interface {
	Sign(digest [32]byte) (signature [65]byte, err error)
}

// Verifier checks that a flat 65-byte signature over digest was produced by
// signer.
type Verifier interface {
	Verify(digest [32]byte, signature [65]byte, signer Address) (bool, error)
}

// DataHandler is the plugin-supplied hook invoked on each admitted inbound
// PREPARE packet; it returns the ILP response (FULFILL or REJECT) for the
// packet.
type DataHandler func(ctx context.Context, amountGwei *big.Int, packet []byte) (ILPResponse, error)

// MoneyHandler is the plugin-supplied hook invoked with the gwei amount
// credited by an accepted incoming claim.
type MoneyHandler func(ctx context.Context, amountGwei *big.Int) error

// ILPResponseKind distinguishes FULFILL from REJECT.
type ILPResponseKind int

// Kinds of ILP response to a forwarded PREPARE.
const (
	ILPFulfill ILPResponseKind = iota
	ILPReject
)

// ILPResponse is the minimal shape this engine needs from an ILP reply: the
// codec and full packet structure are the external collaborator's concern;
// this engine only needs to know which branch was taken and, for REJECT,
// the error code.
type ILPResponse struct {
	Kind      ILPResponseKind
	ErrorCode string // meaningful only when Kind == ILPReject, e.g. "T04"
}

// Authorize is called before an on-chain transaction is built, giving the
// caller a chance to approve or reject it based on the estimated fee. A
// rejection returns the prior state with no transaction sent.
type Authorize func(ctx context.Context, estimatedFee *big.Int) error
