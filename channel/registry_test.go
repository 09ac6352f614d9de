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

package channel_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilp-go/channel-settle/channel"
	"github.com/ilp-go/channel-settle/settle"
	"github.com/ilp-go/channel-settle/settletest"
)

func Test_Registry_BindIsInjective(t *testing.T) {
	store := settletest.NewMemStore()
	reg := channel.NewRegistry(store)
	ctx := context.Background()

	var id settle.ChannelID
	id[0] = 0xbe
	id[1] = 0xef

	ok, err := reg.Bind(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Bind(ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok, "a second account must not be able to claim the same channel id")

	owner, found, err := reg.Owner(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", owner)
}

func Test_Registry_BindIsIdempotentForSameOwner(t *testing.T) {
	store := settletest.NewMemStore()
	reg := channel.NewRegistry(store)
	ctx := context.Background()

	var id settle.ChannelID
	id[0] = 0x01

	ok, err := reg.Bind(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Bind(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_Registry_ReleaseForgetsOwner(t *testing.T) {
	store := settletest.NewMemStore()
	reg := channel.NewRegistry(store)
	ctx := context.Background()

	var id settle.ChannelID
	id[0] = 0x02

	_, err := reg.Bind(ctx, id, "alice")
	require.NoError(t, err)

	require.NoError(t, reg.Release(ctx, id))

	_, found, err := reg.Owner(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := reg.Bind(ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_Registry_PicksUpExistingBindingFromStore(t *testing.T) {
	store := settletest.NewMemStore()
	ctx := context.Background()
	var id settle.ChannelID
	id[0] = 0x03
	key := hex.EncodeToString(id[:]) + ":incoming-channel"
	require.NoError(t, store.Set(ctx, key, []byte("alice")))

	reg := channel.NewRegistry(store)
	owner, found, err := reg.Owner(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", owner)
}
