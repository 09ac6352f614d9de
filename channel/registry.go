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

package channel

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"

	"github.com/ilp-go/channel-settle/settle"
)

// Registry is the persistent channelId -> accountName uniqueness map: no
// two accounts may ever claim the same incoming channel. It keeps an
// in-memory cache on top of the store so repeated lookups during
// validation don't round-trip to the backend, in the same shape as a
// local ID-provider cache.
type Registry struct {
	store settle.Store

	mu    sync.Mutex
	cache map[settle.ChannelID]string
}

// NewRegistry returns a registry backed by store. The cache starts empty
// and is populated lazily on first use of each key, since the full key
// space isn't enumerable without a scan the Store interface doesn't offer.
func NewRegistry(store settle.Store) *Registry {
	return &Registry{store: store, cache: make(map[settle.ChannelID]string)}
}

func registryKey(id settle.ChannelID) string {
	return hex.EncodeToString(id[:]) + ":incoming-channel"
}

// Owner returns the account name bound to id, if any.
func (r *Registry) Owner(ctx context.Context, id settle.ChannelID) (string, bool, error) {
	r.mu.Lock()
	if name, ok := r.cache[id]; ok {
		r.mu.Unlock()
		return name, true, nil
	}
	r.mu.Unlock()

	raw, ok, err := r.store.Get(ctx, registryKey(id))
	if err != nil {
		return "", false, errors.WithMessage(err, "reading channel registry")
	}
	if !ok {
		return "", false, nil
	}
	name := string(raw)

	r.mu.Lock()
	r.cache[id] = name
	r.mu.Unlock()
	return name, true, nil
}

// Bind atomically checks that id is unclaimed (or already claimed by
// accountName) and binds it to accountName, writing through to the store
// before returning. It returns false if id is already bound to a different
// account. Callers must hold this result happens-before any commit that
// relies on it.
func (r *Registry) Bind(ctx context.Context, id settle.ChannelID, accountName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.cache[id]; ok {
		return existing == accountName, nil
	}

	raw, ok, err := r.store.Get(ctx, registryKey(id))
	if err != nil {
		return false, errors.WithMessage(err, "reading channel registry")
	}
	if ok {
		existing := string(raw)
		r.cache[id] = existing
		return existing == accountName, nil
	}

	if err := r.store.Set(ctx, registryKey(id), []byte(accountName)); err != nil {
		return false, errors.WithMessage(err, "writing channel registry")
	}
	r.cache[id] = accountName
	return true, nil
}

// Release removes id from the registry, e.g. once the channel has been
// claimed on-chain and destroyed.
func (r *Registry) Release(ctx context.Context, id settle.ChannelID) error {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
	return errors.WithMessage(r.store.Unload(ctx, registryKey(id)), "removing channel registry entry")
}
