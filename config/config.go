// SPDX-License-Identifier: Apache-2.0

// Package config resolves this engine's runtime settings from environment
// variables, using an env-var config loader with typed parse helpers
// (getenvDefault plus a parse-with-default per type).
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	envRPCURL                   = "ILPETH_RPC_URL"
	envPrivateKey               = "ILPETH_PRIVATE_KEY"
	envContractAddress          = "ILPETH_CONTRACT_ADDRESS"
	envChainID                  = "ILPETH_CHAIN_ID"
	envStorePath                = "ILPETH_STORE_PATH"
	envOutgoingChannelAmount    = "ILPETH_OUTGOING_CHANNEL_AMOUNT_GWEI"
	envOutgoingDisputePeriod    = "ILPETH_OUTGOING_DISPUTE_PERIOD"
	envMinIncomingDisputePeriod = "ILPETH_MIN_INCOMING_DISPUTE_PERIOD"
	envMaxPacketAmount          = "ILPETH_MAX_PACKET_AMOUNT_GWEI"
	envMaxBalance               = "ILPETH_MAX_BALANCE_GWEI"
	envChannelWatcherInterval   = "ILPETH_CHANNEL_WATCHER_INTERVAL"
	envConfirmations            = "ILPETH_CONFIRMATIONS"
	envGasPriceOverrideGwei     = "ILPETH_GAS_PRICE_GWEI"
)

// Config is this engine's resolved runtime configuration, per spec §6's
// configuration table plus the signing/transport settings the table
// implies but doesn't name.
type Config struct {
	RPCURL          string
	PrivateKey      *ecdsa.PrivateKey
	ContractAddress common.Address
	ChainID         *big.Int
	StorePath       string

	OutgoingChannelAmountGwei *big.Int
	OutgoingDisputePeriod     uint64
	MinIncomingDisputePeriod  uint64
	MaxPacketAmountGwei       *big.Int
	MaxBalanceGwei            *big.Int
	ChannelWatcherInterval    time.Duration
	Confirmations             uint64

	// GasPriceOverrideWei, if non-nil, is returned by GetGasPrice in place
	// of a live on-chain suggestion, matching spec §6's `getGasPrice()`
	// configuration hook.
	GasPriceOverrideWei *big.Int
}

// GetGasPrice implements spec §6's `getGasPrice()` hook: the configured
// override if one was set, otherwise nil to signal "ask the chain".
func (c *Config) GetGasPrice() *big.Int {
	if c.GasPriceOverrideWei == nil {
		return nil
	}
	return new(big.Int).Set(c.GasPriceOverrideWei)
}

// LoadFromEnv resolves a Config from the process environment, applying
// spec §6's defaults and rejecting a zero channelWatcherInterval (an Open
// Question this implementation resolves by failing fast rather than
// silently disabling the watcher; see DESIGN.md).
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		StorePath:                 getenvDefault(envStorePath, "ilp-plugin-ethereum-asym-server.json"),
		OutgoingChannelAmountGwei: parseBigIntDefault(envOutgoingChannelAmount, big.NewInt(10_000_000)),
		OutgoingDisputePeriod:     parseUint64Default(envOutgoingDisputePeriod, 6*60*24),
		MinIncomingDisputePeriod:  parseUint64Default(envMinIncomingDisputePeriod, 6*60*12),
		MaxPacketAmountGwei:       parseBigIntDefault(envMaxPacketAmount, big.NewInt(1_000_000)),
		MaxBalanceGwei:            parseBigIntDefault(envMaxBalance, big.NewInt(100_000_000)),
		ChannelWatcherInterval:    parseDurationDefault(envChannelWatcherInterval, time.Minute),
		Confirmations:             parseUint64Default(envConfirmations, 1),
		ChainID:                   parseBigIntDefault(envChainID, big.NewInt(1)),
	}

	cfg.RPCURL = strings.TrimSpace(os.Getenv(envRPCURL))
	if cfg.RPCURL == "" {
		return nil, errors.Errorf("%s is required", envRPCURL)
	}

	keyHex := strings.TrimSpace(os.Getenv(envPrivateKey))
	if keyHex == "" {
		return nil, errors.Errorf("%s is required", envPrivateKey)
	}
	keyHex = strings.TrimPrefix(keyHex, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid private key", envPrivateKey)
	}
	cfg.PrivateKey = key

	contractHex := strings.TrimSpace(os.Getenv(envContractAddress))
	if !common.IsHexAddress(contractHex) {
		return nil, errors.Errorf("%s: invalid or missing contract address", envContractAddress)
	}
	cfg.ContractAddress = common.HexToAddress(contractHex)

	if cfg.ChannelWatcherInterval <= 0 {
		return nil, errors.Errorf("%s must be positive, got %s", envChannelWatcherInterval, cfg.ChannelWatcherInterval)
	}
	if raw := strings.TrimSpace(os.Getenv(envGasPriceOverrideGwei)); raw != "" {
		gwei, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, errors.Errorf("%s: invalid integer %q", envGasPriceOverrideGwei, raw)
		}
		cfg.GasPriceOverrideWei = new(big.Int).Mul(gwei, big.NewInt(1_000_000_000))
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseUint64Default(key string, def uint64) uint64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func parseBigIntDefault(key string, def *big.Int) *big.Int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return def
	}
	return v
}

func parseDurationDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// String renders a config summary safe for logging: the private key is
// never included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{RPCURL:%s ContractAddress:%s ChainID:%s OutgoingChannelAmountGwei:%s "+
			"OutgoingDisputePeriod:%d MinIncomingDisputePeriod:%d MaxPacketAmountGwei:%s "+
			"MaxBalanceGwei:%s ChannelWatcherInterval:%s Confirmations:%d}",
		c.RPCURL, c.ContractAddress.Hex(), c.ChainID, c.OutgoingChannelAmountGwei,
		c.OutgoingDisputePeriod, c.MinIncomingDisputePeriod, c.MaxPacketAmountGwei,
		c.MaxBalanceGwei, c.ChannelWatcherInterval, c.Confirmations,
	)
}
