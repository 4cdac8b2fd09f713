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

// Package rand provides cryptographically secure randomness for key material
// and for seeding evaluation runs.
//
// Noise itself is never drawn from this package: noise values are derived
// deterministically from a secret key, see package noise.
package rand

import (
	"bufio"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	log "github.com/golang/glog"
)

var (
	randBufLock sync.Mutex
	randBuf     io.Reader = bufio.NewReaderSize(cryptorand.Reader, 4096)
)

func readRandBuf(b []byte) (int, error) {
	randBufLock.Lock()
	defer randBufLock.Unlock()
	return io.ReadFull(randBuf, b)
}

// Bytes returns n uniformly random bytes.
func Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("rand.Bytes: n is %d, must be nonnegative", n)
	}
	b := make([]byte, n)
	if _, err := readRandBuf(b); err != nil {
		return nil, fmt.Errorf("rand.Bytes: couldn't read %d random bytes: %w", n, err)
	}
	return b, nil
}

// I64 returns a uniformly random int64. It is used to seed reproducible
// evaluation runs when the caller does not pick a seed.
func I64() int64 {
	var r [8]uint8
	if _, err := readRandBuf(r[:]); err != nil {
		log.Fatalf("out of randomness, should never happen: %v", err)
	}
	return int64(binary.LittleEndian.Uint64(r[:]))
}
