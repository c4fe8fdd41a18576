// SPDX-License-Identifier: Apache-2.0

package ethwallet

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// KeyStore is a directory of Ethereum v3 keystore files, one per settlement
// account, guarded by a mutex like the upstream file-backed wallets this
// package is modeled on. Decrypted keys are cached in memory only for as
// long as the caller holds the returned *Account; nothing is kept unlocked
// across process restarts.
type KeyStore struct {
	mu  sync.Mutex
	dir string
}

// NewKeyStore opens (creating if necessary) a keystore directory.
func NewKeyStore(dir string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating keystore directory")
	}
	return &KeyStore{dir: dir}, nil
}

// CreateAccount generates a fresh account and persists it to the keystore,
// encrypted under passphrase. The returned Account is unlocked for
// immediate use.
func (k *KeyStore) CreateAccount(passphrase string) (*Account, error) {
	acc, err := GenerateAccount()
	if err != nil {
		return nil, err
	}
	if err := k.save(acc, passphrase); err != nil {
		return nil, err
	}
	return acc, nil
}

// Open decrypts and returns the account stored for addr.
func (k *KeyStore) Open(addr common.Address, passphrase string) (*Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	path := k.path(addr)
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading keystore file for %s", addr.Hex())
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting keystore file")
	}
	return &Account{key: decrypted.PrivateKey}, nil
}

// Has reports whether a keystore file exists for addr.
func (k *KeyStore) Has(addr common.Address) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, err := os.Stat(k.path(addr))
	return err == nil
}

// save writes an account to an Ethereum v3 keystore file, following the
// import-into-scratch-dir-then-rename discipline so a crash mid-write never
// leaves a half-written keystore file behind.
func (k *KeyStore) save(acc *Account, passphrase string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	tmpDir, err := os.MkdirTemp(k.dir, "keystore-")
	if err != nil {
		return errors.Wrap(err, "creating scratch keystore directory")
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(acc.key, passphrase); err != nil {
		return errors.Wrap(err, "importing key into keystore")
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("ethwallet: keystore import produced no file")
	}

	dst := k.path(acc.Address())
	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrap(err, "installing keystore file")
	}
	return os.Chmod(dst, 0o600)
}

func (k *KeyStore) path(addr common.Address) string {
	return filepath.Join(k.dir, fmt.Sprintf("%s.json", addr.Hex()))
}
