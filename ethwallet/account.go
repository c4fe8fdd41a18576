// SPDX-License-Identifier: Apache-2.0

// Package ethwallet manages the secp256k1 identity each peer account signs
// payment channel claims with.
package ethwallet

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Account is an unlocked secp256k1 key, usable to sign payment channel
// claims and settlement transactions.
type Account struct {
	key *ecdsa.PrivateKey
}

// NewAccount wraps an already-generated private key.
func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{key: key}
}

// GenerateAccount creates a fresh, unpersisted account.
func GenerateAccount() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generating secp256k1 key")
	}
	return &Account{key: key}, nil
}

// Address returns the Ethereum address derived from the account's public key.
func (a *Account) Address() common.Address {
	return crypto.PubkeyToAddress(a.key.PublicKey)
}

// PrivateKey exposes the underlying key for use with a TxExecutor signer.
func (a *Account) PrivateKey() *ecdsa.PrivateKey {
	return a.key
}

// SignHash produces an Ethereum-signed-message-prefixed signature (65 bytes,
// r||s||v with v in {27,28}) over a 32-byte digest, matching the format
// on-chain channel contracts expect from ecrecover.
func (a *Account) SignHash(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest[:]), a.key)
	if err != nil {
		return nil, errors.Wrap(err, "signing digest")
	}
	// crypto.Sign returns v in {0,1}; contracts and ecrecover expect {27,28}.
	sig[64] += 27
	return sig, nil
}

// RecoverAddress recovers the signer address from a SignHash signature over
// the given digest. Returns an error if the signature is malformed; it does
// not by itself prove the signer holds any particular channel.
func RecoverAddress(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest[:]), normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recovering public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
