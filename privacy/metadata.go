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

// Package privacy holds the per-column privacy metadata of a dataset: the
// privacy budget of every column and column pair, and how each column is
// quantized into leaves.
//
// Metadata is loaded once per dataset and treated as immutable afterwards.
package privacy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/differential-privacy/binarymech/checks"
)

var (
	// ErrInvalidMetadata is returned for metadata that violates its invariants,
	// e.g. a nonpositive epsilon or unsorted string boundaries.
	ErrInvalidMetadata = errors.New("invalid privacy metadata")
	// ErrMissingMetadata is returned when a column or column pair has no
	// metadata, or lacks a required field.
	ErrMissingMetadata = errors.New("missing privacy metadata")
)

// leafCountTolerance absorbs the rounding error of dividing a range by a
// granularity that is not a power of two, e.g. 0.3 / 0.1.
const leafCountTolerance = 1e-9

// NumericMetadata quantizes a numeric column into leaves of width
// Granularity. Leaf i covers [i·Granularity, (i+1)·Granularity), so leaf
// indices are centered at 0 and can be negative.
type NumericMetadata struct {
	Epsilon     float64
	Granularity float64
	GlobalMin   float64
	GlobalMax   float64
}

// NewNumericMetadata returns validated NumericMetadata.
func NewNumericMetadata(epsilon, granularity, globalMin, globalMax float64) (*NumericMetadata, error) {
	m := &NumericMetadata{
		Epsilon:     epsilon,
		Granularity: granularity,
		GlobalMin:   globalMin,
		GlobalMax:   globalMax,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate returns an error wrapping ErrInvalidMetadata if m violates its
// invariants.
func (m *NumericMetadata) Validate() error {
	if err := checks.CheckEpsilonStrict(m.Epsilon); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
	}
	if err := checks.CheckGranularity(m.Granularity); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
	}
	if err := checks.CheckBoundsFloat64(m.GlobalMin, m.GlobalMax); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
	}
	return nil
}

// LeafIndex returns the index of the leaf containing v.
func (m *NumericMetadata) LeafIndex(v float64) int64 {
	return int64(math.Floor(v / m.Granularity))
}

// LeavesBetween returns floor((max - min) / Granularity), the number of whole
// leaves that fit between min and max, and never less than one.
func (m *NumericMetadata) LeavesBetween(min, max float64) int64 {
	n := int64(math.Floor((max-min)/m.Granularity + leafCountTolerance))
	if n < 1 {
		return 1
	}
	return n
}

// NumLeaves returns the number of leaves of the unfiltered column, the unit
// of noise calibration.
func (m *NumericMetadata) NumLeaves() int64 {
	return m.LeavesBetween(m.GlobalMin, m.GlobalMax)
}

// RoundDown returns the largest leaf boundary that is not larger than v.
func (m *NumericMetadata) RoundDown(v float64) float64 {
	return math.Floor(v/m.Granularity) * m.Granularity
}

// RoundUp returns the smallest leaf boundary that is not smaller than v.
func (m *NumericMetadata) RoundUp(v float64) float64 {
	return math.Ceil(v/m.Granularity) * m.Granularity
}

// StringMetadata quantizes a string column into leaves with explicit,
// lexicographically sorted left boundaries. The last leaf ends at GlobalMax.
type StringMetadata struct {
	Epsilon            float64
	LeafLeftBoundaries []string
	GlobalMax          string
}

// NewStringMetadata returns validated StringMetadata. It does not copy
// boundaries, which must not be modified afterwards.
func NewStringMetadata(epsilon float64, boundaries []string, globalMax string) (*StringMetadata, error) {
	m := &StringMetadata{
		Epsilon:            epsilon,
		LeafLeftBoundaries: boundaries,
		GlobalMax:          globalMax,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate returns an error wrapping ErrInvalidMetadata if m violates its
// invariants.
func (m *StringMetadata) Validate() error {
	if err := checks.CheckEpsilonStrict(m.Epsilon); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
	}
	if err := checks.CheckLeafBoundaries(m.LeafLeftBoundaries, m.GlobalMax); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidMetadata)
	}
	return nil
}

// GlobalMin returns the left boundary of the first leaf.
func (m *StringMetadata) GlobalMin() string {
	return m.LeafLeftBoundaries[0]
}

// NumLeaves returns the number of leaves of the unfiltered column.
func (m *StringMetadata) NumLeaves() int64 {
	return int64(len(m.LeafLeftBoundaries))
}

// leafIndex returns the index of the greatest boundary that is not larger
// than v, or -1 if v precedes every boundary.
func (m *StringMetadata) leafIndex(v string) int {
	return sort.Search(len(m.LeafLeftBoundaries), func(i int) bool { return m.LeafLeftBoundaries[i] > v }) - 1
}

// RoundDown returns the left boundary of the leaf containing v. Values that
// precede the first leaf round to its boundary.
func (m *StringMetadata) RoundDown(v string) string {
	i := m.leafIndex(v)
	if i < 0 {
		return m.LeafLeftBoundaries[0]
	}
	return m.LeafLeftBoundaries[i]
}

// RoundUp returns the left boundary of the leaf that follows the one
// containing v, or GlobalMax if v lies in the last leaf or past it.
func (m *StringMetadata) RoundUp(v string) string {
	i := m.leafIndex(v) + 1
	if i >= len(m.LeafLeftBoundaries) {
		return m.GlobalMax
	}
	return m.LeafLeftBoundaries[i]
}
