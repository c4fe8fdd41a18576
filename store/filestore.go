package store

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileStore is a single JSON document on disk guarded by a mutex, flushed
// on every mutation, following a simple load-whole-file/save-whole-file
// discipline.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string // hex-encoded values, so the document stays valid JSON/text
}

// Open loads path if it exists, or starts an empty store that will be
// created on the first Put.
func Open(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, errors.Wrapf(err, "reading store file %s", path)
	}
	if len(raw) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, errors.Wrapf(err, "parsing store file %s", path)
	}
	return fs, nil
}

// Get returns the value stored for key.
func (fs *FileStore) Get(key string) ([]byte, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	hexVal, ok := fs.data[key]
	if !ok {
		return nil, false, nil
	}
	val, err := hex.DecodeString(hexVal)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decoding stored value for %s", key)
	}
	return val, true, nil
}

// Put writes value for key and flushes the whole document to disk.
func (fs *FileStore) Put(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data[key] = hex.EncodeToString(value)
	return fs.flush()
}

// Delete removes key and flushes the whole document to disk.
func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.data, key)
	return fs.flush()
}

// flush writes the document to a scratch file in the same directory, then
// renames it over the real path, so a crash mid-write never corrupts the
// store.
func (fs *FileStore) flush() error {
	encoded, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling store document")
	}

	dir := filepath.Dir(fs.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "creating store directory")
		}
	}

	tmp, err := os.CreateTemp(dir, "store-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating scratch store file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing scratch store file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing scratch store file")
	}
	if err := os.Rename(tmpPath, fs.path); err != nil {
		return errors.Wrap(err, "installing store file")
	}
	return nil
}

