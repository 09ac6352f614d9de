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

package unit_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ilp-go/channel-settle/unit"
)

func Test_GweiToWei(t *testing.T) {
	tests := []struct {
		name string
		gwei *big.Int
		wei  *big.Int
	}{
		{"zero", big.NewInt(0), big.NewInt(0)},
		{"one_gwei", big.NewInt(1), big.NewInt(1e9)},
		{"large", big.NewInt(5_000_000), big.NewInt(5_000_000e9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wei, unit.GweiToWei(tt.gwei))
		})
	}
}

func Test_WeiToGwei_RoundsDown(t *testing.T) {
	tests := []struct {
		name string
		wei  *big.Int
		gwei *big.Int
	}{
		{"exact", big.NewInt(3e9), big.NewInt(3)},
		{"remainder_truncated", big.NewInt(3e9 + 999_999_999), big.NewInt(3)},
		{"less_than_one_gwei", big.NewInt(999_999_999), big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.gwei, unit.WeiToGwei(tt.wei))
		})
	}
}

func Test_MinMax(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(7)
	assert.Equal(t, a, unit.Min(a, b))
	assert.Equal(t, b, unit.Max(a, b))
}
