// Copyright (c) 2019 - for information on the respective copyright owner
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

package settletest

import (
	"context"
	"sync"

	"github.com/ilp-go/channel-settle/settle"
)

// FakeTransport is an in-memory settle.Transport that records every
// envelope sent and optionally hands off to a Responder.
type FakeTransport struct {
	// Responder, if set, computes the response envelope for each send.
	Responder func(peer string, req settle.Envelope) (settle.Envelope, error)

	mu   sync.Mutex
	sent []sentEnvelope
}

type sentEnvelope struct {
	Peer string
	Env  settle.Envelope
}

// SendMessage implements settle.Transport.
func (t *FakeTransport) SendMessage(_ context.Context, peer string, req settle.Envelope) (settle.Envelope, error) {
	t.mu.Lock()
	t.sent = append(t.sent, sentEnvelope{Peer: peer, Env: req})
	t.mu.Unlock()

	if t.Responder != nil {
		return t.Responder(peer, req)
	}
	return settle.Envelope{RequestID: req.RequestID}, nil
}

// Sent returns the envelopes sent so far, in order.
func (t *FakeTransport) Sent() []settle.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	envs := make([]settle.Envelope, len(t.sent))
	for i, s := range t.sent {
		envs[i] = s.Env
	}
	return envs
}

// LastProtocol returns the protocol name of the most recently sent
// envelope's first sub-message, or "" if nothing was sent.
func (t *FakeTransport) LastProtocol() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 || len(t.sent[len(t.sent)-1].Env.Messages) == 0 {
		return ""
	}
	return t.sent[len(t.sent)-1].Env.Messages[0].Protocol
}
