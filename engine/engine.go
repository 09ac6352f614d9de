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

// Package engine is the process-wide registry of accounts: it hydrates
// accounts from the store on demand, keeps exactly one live Account per
// name, and is the entrypoint the transport and CLI layers call into.
package engine

import (
	"context"
	"sync"

	"github.com/ilp-go/channel-settle/account"
	"github.com/ilp-go/channel-settle/log"
	"github.com/ilp-go/channel-settle/settle"
)

const resTypeAccount = "account"

// Engine owns every live Account for this process.
type Engine struct {
	log.Logger
	cfg  settle.Config
	deps account.Deps

	mu       sync.Mutex
	accounts map[string]*account.Account
}

// New returns an Engine wired with cfg and deps. Accounts are created
// lazily via OpenAccount.
func New(cfg settle.Config, deps account.Deps) *Engine {
	return &Engine{
		Logger:   log.NewLoggerWithField("engine", 1),
		cfg:      cfg,
		deps:     deps,
		accounts: make(map[string]*account.Account),
	}
}

// OpenAccount returns the live account for name, hydrating it from a
// persisted snapshot or creating a fresh one on first contact.
func (e *Engine) OpenAccount(ctx context.Context, name string) (*account.Account, settle.APIError) {
	e.WithField("method", "OpenAccount").Debugf("received request with params %+v", name)
	e.mu.Lock()
	defer e.mu.Unlock()

	if a, ok := e.accounts[name]; ok {
		return a, nil
	}

	snap, found, err := account.LoadSnapshot(ctx, e.deps.Store, name)
	if err != nil {
		apiErr := settle.NewErrUnknownInternal(err)
		e.WithFields(settle.APIErrAsMap("OpenAccount", apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}

	var a *account.Account
	if found {
		a = account.Hydrate(snap, e.cfg, e.deps)
	} else {
		a = account.New(name, e.cfg, e.deps)
	}
	e.accounts[name] = a
	return a, nil
}

// GetAccount returns the live account for name, without hydrating one
// that does not already exist in memory.
func (e *Engine) GetAccount(name string) (*account.Account, settle.APIError) {
	e.mu.Lock()
	a, ok := e.accounts[name]
	e.mu.Unlock()
	if !ok {
		apiErr := settle.NewErrResourceNotFound(resTypeAccount, name, "account not found")
		e.WithFields(settle.APIErrAsMap("GetAccount", apiErr)).Error(apiErr.Message())
		return nil, apiErr
	}
	return a, nil
}

// CloseAccount unloads and forgets the account for name.
func (e *Engine) CloseAccount(ctx context.Context, name string) settle.APIError {
	e.WithField("method", "CloseAccount").Debugf("received request with params %+v", name)
	e.mu.Lock()
	a, ok := e.accounts[name]
	delete(e.accounts, name)
	e.mu.Unlock()
	if !ok {
		apiErr := settle.NewErrResourceNotFound(resTypeAccount, name, "account not found")
		e.WithFields(settle.APIErrAsMap("CloseAccount", apiErr)).Error(apiErr.Message())
		return apiErr
	}
	if err := a.Unload(ctx); err != nil {
		apiErr := settle.NewErrUnknownInternal(err)
		e.WithFields(settle.APIErrAsMap("CloseAccount", apiErr)).Error(apiErr.Message())
		return apiErr
	}
	return nil
}

// Accounts returns the names of every live account, for diagnostics.
func (e *Engine) Accounts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.accounts))
	for name := range e.accounts {
		names = append(names, name)
	}
	return names
}
