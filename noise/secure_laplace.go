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
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/tink/go/prf/subtle"
)

// KeySize is the size in bytes of the secret key of a Source.
const KeySize = 32

const (
	// uniformResolution is 2⁻⁵³, the spacing of the values returned by Uniform.
	uniformResolution = 0x1p-53
	// prfOutputSize is the number of PRF output bytes read per sample.
	prfOutputSize = 8
	// int64Size is the width of one encoded coordinate.
	int64Size = 8
)

// Source derives Laplace noise from the identity of a tree node with a keyed
// pseudorandom function (AES-CMAC).
//
// The same key and node always yield the same noise, so two overlapping
// queries see identical noise on the nodes they share. Without the key the
// noise is indistinguishable from random. Anyone holding the key can remove
// the noise, so the key must be kept secret.
//
// A Source holds no mutable state and is safe for concurrent use.
type Source struct {
	prf *subtle.AESCMACPRF
}

// NewSource returns a Source keyed with key, which must be KeySize bytes.
func NewSource(key []byte) (*Source, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("NewSource: key has %d bytes, want %d", len(key), KeySize)
	}
	prf, err := subtle.NewAESCMACPRF(key)
	if err != nil {
		return nil, fmt.Errorf("NewSource: couldn't initialize AES-CMAC: %w", err)
	}
	return &Source{prf: prf}, nil
}

// Uniform returns a value in [0, 1) that is a multiple of 2⁻⁵³, derived from
// the identity of node n of the given column.
//
// The identity is encoded as three big-endian 64 bit integers
// (column, left, right) on the stack of the caller.
func (s *Source) Uniform(column int64, n decomposition.Node) float64 {
	var block [3 * int64Size]byte
	putNode(block[:], column, n)
	return s.uniform(block[:])
}

// Uniform2D is Uniform for the node x × y of the two-dimensional tree. Both
// identities are encoded in a single message, so a two-dimensional node has
// its own identity, distinct from either of its projections.
func (s *Source) Uniform2D(xColumn int64, x decomposition.Node, yColumn int64, y decomposition.Node) float64 {
	var block [6 * int64Size]byte
	putNode(block[:3*int64Size], xColumn, x)
	putNode(block[3*int64Size:], yColumn, y)
	return s.uniform(block[:])
}

// Laplace returns a sample of Laplace(0, scale) derived from node n of the
// given column.
//
// Note that this implementation is vulnerable to the attack described in
// "On Significance of the Least Significant Bits For Differential Privacy",
// Mironov, CCS 2012: the sample is a floating point transform of a 53 bit
// uniform value, so not every float64 is reachable and the reachable set
// depends on the true count.
func (s *Source) Laplace(column int64, n decomposition.Node, scale float64) float64 {
	return inverseCDFLaplace(scale, s.Uniform(column, n))
}

// Laplace2D returns a sample of Laplace(0, scale) derived from the node x × y
// of the two-dimensional tree. It shares the limitation documented on Laplace.
func (s *Source) Laplace2D(xColumn int64, x decomposition.Node, yColumn int64, y decomposition.Node, scale float64) float64 {
	return inverseCDFLaplace(scale, s.Uniform2D(xColumn, x, yColumn, y))
}

func (s *Source) uniform(msg []byte) float64 {
	out, err := s.prf.ComputePRF(msg, prfOutputSize)
	if err != nil {
		log.Fatalf("AES-CMAC failed with a fixed output size, should never happen: %v", err)
	}
	// Keep the leading 53 bits of the leading 64.
	return float64(binary.BigEndian.Uint64(out)>>11) * uniformResolution
}

func putNode(b []byte, column int64, n decomposition.Node) {
	binary.BigEndian.PutUint64(b[0:], uint64(column))
	binary.BigEndian.PutUint64(b[int64Size:], uint64(n.Left))
	binary.BigEndian.PutUint64(b[2*int64Size:], uint64(n.Right))
}

// inverseCDFLaplace maps a uniform value u in [0, 1) to Laplace(0, scale).
//
// u is shifted by half a resolution step so that it lies strictly inside
// (0, 1): the transform is then symmetric around 0 and never takes the
// logarithm of 0. For multiples of 2⁻⁵³ both subtractions are exact, so
// |r| < 0.5; adding the shift to u first would round 1-2⁻⁵³ up to 1.
func inverseCDFLaplace(scale, u float64) float64 {
	r := (0.5 - u) - uniformResolution/2
	if r < 0 {
		return -scale * math.Log(1-2*(-r))
	}
	return scale * math.Log(1-2*r)
}
