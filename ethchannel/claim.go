// SPDX-License-Identifier: Apache-2.0

package ethchannel

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
)

// Claim is a signed statement redeemable by the channel's receiver, as
// exchanged over the machinomy sub-protocol.
type Claim struct {
	ChannelID       ChannelID
	ContractAddress common.Address
	Value           *big.Int // wei
	Signature       []byte   // 65 bytes, r||s||v, nil until signed
}

// wireClaim is the machinomy sub-protocol JSON payload: channelId as
// 0x+64hex, contractAddress as 0x+40hex, value as a decimal string,
// signature as 0x+130hex.
type wireClaim struct {
	ChannelID       string `json:"channelId"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	Signature       string `json:"signature"`
}

// ClaimCodec computes the channel-claim digest and marshals/unmarshals
// claims to and from their machinomy wire form.
type ClaimCodec struct{}

// Inner computes soliditySha3(contractAddress, channelId, value): the tight
// packing of a 20-byte address, a 32-byte word, and a 32-byte big-endian
// unsigned integer, then keccak256 of the concatenation.
func (ClaimCodec) Inner(contractAddress common.Address, channelID ChannelID, value *big.Int) [32]byte {
	buf := make([]byte, 0, 20+32+32)
	buf = append(buf, contractAddress.Bytes()...)
	buf = append(buf, channelID[:]...)
	buf = append(buf, common.LeftPadBytes(value.Bytes(), 32)...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// Sign produces a claim signature: Ethereum-signed-message digest over
// Inner(...), signed by acc.
func (c ClaimCodec) Sign(acc *ethwallet.Account, claim Claim) ([]byte, error) {
	if claim.Value == nil || claim.Value.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	inner := c.Inner(claim.ContractAddress, claim.ChannelID, claim.Value)
	sig, err := acc.SignHash(inner)
	if err != nil {
		return nil, errors.Wrap(err, "signing claim")
	}
	return sig, nil
}

// Verify recovers the address that signed claim and returns it. It does not
// by itself check that address against any on-chain channel state.
func (c ClaimCodec) Verify(claim Claim) (common.Address, error) {
	if len(claim.Signature) != 65 {
		return common.Address{}, ErrMalformedClaim
	}
	if claim.Value == nil || claim.Value.Sign() < 0 {
		return common.Address{}, ErrNegativeValue
	}
	inner := c.Inner(claim.ContractAddress, claim.ChannelID, claim.Value)
	return ethwallet.RecoverAddress(inner, claim.Signature)
}

// Marshal renders claim as its machinomy wire JSON.
func (ClaimCodec) Marshal(claim Claim) ([]byte, error) {
	if claim.Value == nil || claim.Value.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	w := wireClaim{
		ChannelID:       claim.ChannelID.String(),
		ContractAddress: claim.ContractAddress.Hex(),
		Value:           claim.Value.String(),
		Signature:       "0x" + hex.EncodeToString(claim.Signature),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling claim")
	}
	return data, nil
}

// Unmarshal parses a machinomy wire JSON payload into a Claim. It rejects
// structurally invalid payloads and negative values, matching the schema
// check the incoming claim validation pipeline performs before enqueuing.
func (ClaimCodec) Unmarshal(data []byte) (Claim, error) {
	var w wireClaim
	if err := json.Unmarshal(data, &w); err != nil {
		return Claim{}, errors.Wrap(ErrMalformedClaim, err.Error())
	}

	channelID, err := ChannelIDFromHex(w.ChannelID)
	if err != nil {
		return Claim{}, errors.Wrap(ErrMalformedClaim, err.Error())
	}
	if !common.IsHexAddress(w.ContractAddress) {
		return Claim{}, errors.Wrap(ErrMalformedClaim, "invalid contractAddress")
	}
	contractAddress := common.HexToAddress(w.ContractAddress)

	value, ok := new(big.Int).SetString(w.Value, 10)
	if !ok {
		return Claim{}, errors.Wrap(ErrMalformedClaim, "invalid value")
	}
	if value.Sign() < 0 {
		return Claim{}, ErrNegativeValue
	}

	sigHex := w.Signature
	if len(sigHex) < 2 || sigHex[0:2] != "0x" {
		return Claim{}, errors.Wrap(ErrMalformedClaim, "invalid signature encoding")
	}
	sig, err := hex.DecodeString(sigHex[2:])
	if err != nil || len(sig) != 65 {
		return Claim{}, errors.Wrap(ErrMalformedClaim, "invalid signature length")
	}

	return Claim{
		ChannelID:       channelID,
		ContractAddress: contractAddress,
		Value:           value,
		Signature:       sig,
	}, nil
}
