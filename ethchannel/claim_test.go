package ethchannel

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	acc, err := ethwallet.GenerateAccount()
	require.NoError(t, err)

	var codec ClaimCodec
	channelID, err := ChannelIDFromHex("0x" + repeatHex("be", 32))
	require.NoError(t, err)

	claim := Claim{
		ChannelID:       channelID,
		ContractAddress: acc.Address(),
		Value:           big.NewInt(500000),
	}

	sig, err := codec.Sign(acc, claim)
	require.NoError(t, err)
	claim.Signature = sig

	signer, err := codec.Verify(claim)
	require.NoError(t, err)
	require.Equal(t, acc.Address(), signer)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	var codec ClaimCodec
	channelID, err := ChannelIDFromHex("0x" + repeatHex("ab", 32))
	require.NoError(t, err)

	claim := Claim{
		ChannelID:       channelID,
		ContractAddress: repeatAddress(),
		Value:           big.NewInt(1234567890),
		Signature:       make([]byte, 65),
	}

	data, err := codec.Marshal(claim)
	require.NoError(t, err)

	parsed, err := codec.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, claim.ChannelID, parsed.ChannelID)
	require.Equal(t, claim.ContractAddress, parsed.ContractAddress)
	require.Equal(t, 0, claim.Value.Cmp(parsed.Value))
	require.Equal(t, claim.Signature, parsed.Signature)
}

func TestUnmarshalRejectsNegativeValue(t *testing.T) {
	var codec ClaimCodec
	data := []byte(`{"channelId":"0x` + repeatHex("ab", 32) + `","contractAddress":"` + repeatAddress().Hex() + `","value":"-1","signature":"0x` + repeatHex("00", 65) + `"}`)
	_, err := codec.Unmarshal(data)
	require.ErrorIs(t, err, ErrNegativeValue)
}

func TestUnmarshalRejectsMalformedChannelID(t *testing.T) {
	var codec ClaimCodec
	data := []byte(`{"channelId":"0xdead","contractAddress":"` + repeatAddress().Hex() + `","value":"1","signature":"0x` + repeatHex("00", 65) + `"}`)
	_, err := codec.Unmarshal(data)
	require.ErrorIs(t, err, ErrMalformedClaim)
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

func repeatAddress() (a common.Address) {
	for i := range a {
		a[i] = 0xCC
	}
	return a
}
