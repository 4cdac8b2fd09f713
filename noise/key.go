//
// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package noise

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/rand"
)

// ErrKeyIO is returned when the noise key cannot be read or persisted.
var ErrKeyIO = errors.New("noise key I/O error")

// LoadOrCreateKey returns the raw bytes of the key file at path. If no such
// file exists, it creates a fresh key, persists it at path and returns it.
//
// Creation uses an exclusive create, so at most one writer ever initializes a
// key file: if another process creates the file first, this call fails
// instead of overwriting it. Failures are not retried; two different keys for
// the same dataset would break noise consistency.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %q holds %d bytes, want %d: %w", path, len(key), KeySize, ErrKeyIO)
		}
		log.Infof("Loaded noise key from %q", path)
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("couldn't read key file %q: %v: %w", path, err, ErrKeyIO)
	}

	log.Infof("No noise key found at %q, generating a new one", path)
	raw, err := rand.Bytes(KeySize)
	if err != nil {
		return nil, fmt.Errorf("couldn't generate key: %v: %w", err, ErrKeyIO)
	}
	// Hash the raw bytes in case the system randomness is weak.
	sum := sha256.Sum256(raw)
	key = sum[:]

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("couldn't create key file %q: %v: %w", path, err, ErrKeyIO)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("couldn't write key file %q: %v: %w", path, err, ErrKeyIO)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("couldn't sync key file %q: %v: %w", path, err, ErrKeyIO)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("couldn't close key file %q: %v: %w", path, err, ErrKeyIO)
	}
	return key, nil
}

// LoadOrCreateSource is LoadOrCreateKey followed by NewSource.
func LoadOrCreateSource(path string) (*Source, error) {
	key, err := LoadOrCreateKey(path)
	if err != nil {
		return nil, err
	}
	return NewSource(key)
}
