package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testPrivateKey = "4d5db4107d237df6a3d58ee5f70ae63d73d7658d4026f2eefd2f204c81682cb7"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envRPCURL, "http://localhost:8545")
	t.Setenv(envPrivateKey, testPrivateKey)
	t.Setenv(envContractAddress, "0x000000000000000000000000000000000000C0FF")
}

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8545", cfg.RPCURL)
	require.NotNil(t, cfg.PrivateKey)
	require.Equal(t, int64(10_000_000), cfg.OutgoingChannelAmountGwei.Int64())
	require.True(t, cfg.MinIncomingDisputePeriod < cfg.OutgoingDisputePeriod)
	require.Nil(t, cfg.GetGasPrice())
}

func TestLoadFromEnvRequiresRPCURL(t *testing.T) {
	t.Setenv(envPrivateKey, testPrivateKey)
	t.Setenv(envContractAddress, "0x000000000000000000000000000000000000C0FF")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvRequiresPrivateKey(t *testing.T) {
	t.Setenv(envRPCURL, "http://localhost:8545")
	t.Setenv(envContractAddress, "0x000000000000000000000000000000000000C0FF")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvRejectsMalformedContractAddress(t *testing.T) {
	t.Setenv(envRPCURL, "http://localhost:8545")
	t.Setenv(envPrivateKey, testPrivateKey)
	t.Setenv(envContractAddress, "not-an-address")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvRejectsZeroWatcherInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(envChannelWatcherInterval, "0s")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvParsesGasPriceOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(envGasPriceOverrideGwei, "5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, int64(5_000_000_000), cfg.GetGasPrice().Int64())
}
