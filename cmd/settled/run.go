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
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ilp-go/channel-settle/log"
	"github.com/ilp-go/channel-settle/settle"
)

const (
	loglevelF                 = "loglevel"
	logfileF                  = "logfile"
	outgoingChannelAmountF    = "outgoingchannelamount"
	minIncomingChannelAmountF = "minincomingchannelamount"
	outgoingDisputePeriodF    = "outgoingdisputeperiod"
	minIncomingDisputePeriodF = "minincomingdisputeperiod"
	channelWatcherIntervalF   = "channelwatcherinterval"
	maxPacketAmountF          = "maxpacketamount"
	maxBalanceF               = "maxbalance"
	contractAddressF          = "contractaddress"
	ourAddressF               = "ouraddress"
	configfileF               = "configfile" // only settable via flag, not config file.

	defaultConfigFile = "settled.yaml"
)

var (
	engineCfgViper *viper.Viper

	engineCfgFlags = []string{
		loglevelF,
		logfileF,
		outgoingChannelAmountF,
		minIncomingChannelAmountF,
		outgoingDisputePeriodF,
		minIncomingDisputePeriodF,
		channelWatcherIntervalF,
		maxPacketAmountF,
		maxBalanceF,
		contractAddressF,
		ourAddressF,
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
	defineFlags()

	engineCfgViper = viper.New()
	for i := range engineCfgFlags {
		if err := engineCfgViper.BindPFlag(engineCfgFlags[i], runCmd.Flags().Lookup(engineCfgFlags[i])); err != nil {
			panic(err)
		}
	}
}

func defineFlags() {
	runCmd.Flags().String(configfileF, defaultConfigFile, "engine config file")

	runCmd.Flags().String(loglevelF, "", "Log level. Supported levels: debug, info, error")
	runCmd.Flags().String(logfileF, "", "Log file path. Use empty string for stdout")
	runCmd.Flags().String(outgoingChannelAmountF, "", "Default outgoing channel value and top-up increment, in wei")
	runCmd.Flags().String(minIncomingChannelAmountF, "", "Minimum incoming channel value that enables auto-funding, in wei")
	runCmd.Flags().Uint64(outgoingDisputePeriodF, 0, "Dispute period committed to new outgoing channels, in blocks")
	runCmd.Flags().Uint64(minIncomingDisputePeriodF, 0, "Minimum dispute period to accept an incoming channel, in blocks")
	runCmd.Flags().Duration(channelWatcherIntervalF, time.Duration(0), "Channel watcher polling period")
	runCmd.Flags().String(maxPacketAmountF, "", "Per-packet amount cap, in gwei")
	runCmd.Flags().String(maxBalanceF, "", "Receivable balance cap, in gwei")
	runCmd.Flags().String(contractAddressF, "", "Channel contract address, as a 0x-prefixed hex string")
	runCmd.Flags().String(ourAddressF, "", "This node's on-chain settlement address, as a 0x-prefixed hex string")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Parse and validate the engine configuration",
	Long: `Parse the engine configuration from file and/or flags (flags take
precedence), initialize logging and print the resulting configuration.

Concrete store, transport and on-chain collaborators are supplied by the
embedding plugin; this command is the configuration and lifecycle entrypoint,
not a standalone server.`,
	Run: run,
}

func run(cmd *cobra.Command, _ []string) {
	cfg, err := parseEngineConfig(cmd.Flags(), engineCfgViper)
	if err != nil {
		fmt.Printf("Error parsing engine config: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.logLevel
	if logLevel == "" {
		logLevel = "info"
	}
	if err := log.InitLogger(logLevel, cfg.logFile); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("settled configured:\n%+v\n\nSupply a Store, Transport and on-chain adapter to engine.New "+
		"to start serving accounts.\n", cfg.Config)
}

// runtimeConfig bundles the parsed settle.Config with the two fields
// (log level, log file) that configure the process but aren't part of the
// engine's own Config type.
type runtimeConfig struct {
	settle.Config
	logLevel string
	logFile  string
}

func parseEngineConfig(fs *pflag.FlagSet, v *viper.Viper) (runtimeConfig, error) {
	if !areAllFlagsSpecified(fs, engineCfgFlags...) {
		configFile, err := fs.GetString(configfileF)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("unknown flag %s", configfileF)
		}
		v.SetConfigFile(filepath.Clean(configFile))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return runtimeConfig{}, fmt.Errorf("reading engine config file: %w", err)
		}
		fmt.Printf("Using engine config file - %s\n", configFile)
	}

	outgoingChannelAmount, err := parseBigIntFlag(v, outgoingChannelAmountF)
	if err != nil {
		return runtimeConfig{}, err
	}
	minIncomingChannelAmount, err := parseBigIntFlag(v, minIncomingChannelAmountF)
	if err != nil {
		return runtimeConfig{}, err
	}
	maxPacketAmount, err := parseBigIntFlag(v, maxPacketAmountF)
	if err != nil {
		return runtimeConfig{}, err
	}
	maxBalance, err := parseBigIntFlag(v, maxBalanceF)
	if err != nil {
		return runtimeConfig{}, err
	}

	contractAddr := v.GetString(contractAddressF)
	ourAddr := v.GetString(ourAddressF)
	if contractAddr != "" && !common.IsHexAddress(contractAddr) {
		return runtimeConfig{}, fmt.Errorf("invalid %s: %q", contractAddressF, contractAddr)
	}
	if ourAddr != "" && !common.IsHexAddress(ourAddr) {
		return runtimeConfig{}, fmt.Errorf("invalid %s: %q", ourAddressF, ourAddr)
	}

	return runtimeConfig{
		Config: settle.Config{
			OutgoingChannelAmount:    outgoingChannelAmount,
			MinIncomingChannelAmount: minIncomingChannelAmount,
			OutgoingDisputePeriod:    v.GetUint64(outgoingDisputePeriodF),
			MinIncomingDisputePeriod: v.GetUint64(minIncomingDisputePeriodF),
			ChannelWatcherInterval:   v.GetDuration(channelWatcherIntervalF),
			MaxPacketAmount:          maxPacketAmount,
			MaxBalance:               maxBalance,
			ContractAddress:          common.HexToAddress(contractAddr),
			OurAddress:               common.HexToAddress(ourAddr),
		},
		logLevel: v.GetString(loglevelF),
		logFile:  v.GetString(logfileF),
	}, nil
}

func parseBigIntFlag(v *viper.Viper, name string) (*big.Int, error) {
	s := v.GetString(name)
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q is not a base-10 integer", name, s)
	}
	return n, nil
}
