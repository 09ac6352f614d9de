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

package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})
}

var rootCmd = &cobra.Command{
	Use:   "settled",
	Short: "A bilateral settlement engine for packet-switched credit with on-chain payment channels.",
	Long: `
settled pairs per-peer credit tracking with unidirectional on-chain payment
channels: it accepts signed claims, tops up and claims channels, and
forwards the balance deltas to the embedding ILP stack. The engine itself
is a library; this binary only parses and validates its configuration.`,
}
