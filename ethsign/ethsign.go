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

// Package ethsign implements the claim signing format used by the
// settlement engine: a flat 65-byte recoverable secp256k1 signature, with
// the recovery byte in Ethereum's yellow-paper 27/28 convention rather
// than the raw 0/1 many signer libraries return.
package ethsign

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/ilp-go/channel-settle/settle"
)

// Digest computes the hash a claim's signature is taken over: the
// contract-defined encoding of (contractAddress, channelId, value),
// prefixed and rehashed per the Ethereum personal-message convention so
// the signature is producible by standard Ethereum signing tooling.
func Digest(contractAddress settle.Address, channelID settle.ChannelID, value *big.Int) [32]byte {
	packed := make([]byte, 0, 20+32+32)
	packed = append(packed, contractAddress.Bytes()...)
	packed = append(packed, channelID[:]...)
	packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
	inner := crypto.Keccak256(packed)
	return rehashWithEthereumPrefix(inner)
}

// rehashWithEthereumPrefix prepends the standard Ethereum signed-message
// prefix to data and rehashes it, as required for ecrecover-compatible
// signatures.
func rehashWithEthereumPrefix(data []byte) [32]byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	var out [32]byte
	copy(out[:], crypto.Keccak256([]byte(msg)))
	return out
}

// Signer signs claim digests with a single Ethereum private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner wraps key as a settle.Signer.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Address returns the on-chain address corresponding to the wrapped key.
func (s *Signer) Address() settle.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign implements settle.Signer. The returned signature's final byte (v)
// is 0x1b or 0x1c, per the yellow paper, not the raw 0/1 recovery id.
func (s *Signer) Sign(digest [32]byte) ([65]byte, error) {
	var out [65]byte
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return out, errors.WithMessage(err, "signing claim digest")
	}
	sig[64] += 27
	copy(out[:], sig)
	return out, nil
}

// Verifier verifies signatures produced by Signer.
type Verifier struct{}

// NewVerifier returns a stateless settle.Verifier.
func NewVerifier() Verifier { return Verifier{} }

// Verify implements settle.Verifier.
func (Verifier) Verify(digest [32]byte, signature [65]byte, signer settle.Address) (bool, error) {
	if signature[64] != 27 && signature[64] != 28 {
		return false, errors.New("invalid signature: v is not 27 or 28")
	}
	sig := make([]byte, 65)
	copy(sig, signature[:])
	sig[64] -= 27

	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return false, errors.WithMessage(err, "recovering public key from signature")
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != signer {
		return false, nil
	}

	uncompressed := crypto.FromECDSAPub(pubKey)
	return crypto.VerifySignature(uncompressed, digest[:], sig[:64]), nil
}
