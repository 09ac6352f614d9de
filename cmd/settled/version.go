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
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// version holds the version of the settled binary. Set via linker flags
	// when built from a tagged commit.
	version string
	// gitCommitID holds the git commit ID the binary was built from. Set via
	// linker flags.
	gitCommitID string
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information for settled",
	Long:  `Print the version information for settled`,
	Run:   versionFn,
}

func versionFn(_ *cobra.Command, _ []string) {
	fmt.Printf("%s Git revision: %s\n", version, gitCommitID)
}
