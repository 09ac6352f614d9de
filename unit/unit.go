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

// Package unit converts between the two denominations used by the
// settlement engine: gwei (packet amounts, account balances) and wei
// (on-chain channel values). 1 gwei = 1e9 wei.
package unit

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// GweiPerWei is the number of wei in one gwei.
const GweiPerWei = 1e9

var gweiMultiplier = decimal.NewFromInt(GweiPerWei)

// GweiToWei converts a gwei amount to its exact wei representation.
func GweiToWei(gwei *big.Int) *big.Int {
	amount := decimal.NewFromBigInt(gwei, 0)
	return amount.Mul(gweiMultiplier).BigInt()
}

// WeiToGwei converts a wei amount to gwei, rounding down (towards zero for
// non-negative inputs) per the engine's unit convention: conversions round
// down to an integer when crediting peers.
func WeiToGwei(wei *big.Int) *big.Int {
	amount := decimal.NewFromBigInt(wei, 0)
	return amount.DivRound(gweiMultiplier, int32(decimal.DivisionPrecision)).Floor().BigInt()
}

// Min returns the smaller of two big.Int values.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of two big.Int values.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// IsPositive reports whether v is strictly greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// IsNonNegative reports whether v is greater than or equal to zero.
func IsNonNegative(v *big.Int) bool {
	return v != nil && v.Sign() >= 0
}
