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

package buckets

import (
	"fmt"

	"github.com/google/differential-privacy/binarymech/checks"
	"github.com/google/differential-privacy/binarymech/privacy"
)

// stringLeaves are the leaves of a string column: leaf i starts at the i-th
// boundary of the metadata, and the last leaf ends at its GlobalMax.
type stringLeaves struct {
	md *privacy.StringMetadata
}

func (l stringLeaves) LeafLeftBoundary(i int64) (string, bool) {
	n := int64(len(l.md.LeafLeftBoundaries))
	switch {
	case i >= 0 && i < n:
		return l.md.LeafLeftBoundaries[i], true
	case i == n:
		return l.md.GlobalMax, true
	}
	return "", false
}

func (l stringLeaves) LeafHint(string) int64 {
	return 0
}

// NewStringBuckets returns numBuckets buckets over the leaves of a string
// column whose left boundaries lie in [min, max), and at least the leaf
// containing min. min is snapped down to the boundary of its leaf.
func NewStringBuckets(min, max string, numBuckets int, md *privacy.StringMetadata) (*Buckets[string], error) {
	if err := checks.CheckBoundsString(min, max); err != nil {
		return nil, fmt.Errorf("NewStringBuckets: %w", err)
	}
	if min < md.GlobalMin() || max > md.GlobalMax {
		return nil, fmt.Errorf("NewStringBuckets: range [%q, %q] exceeds the global range [%q, %q]", min, max, md.GlobalMin(), md.GlobalMax)
	}
	lb := stringLeaves{md: md}
	minLeafIdx := ComputeMinLeafIdx[string](lb, min)
	if minLeafIdx >= md.NumLeaves() {
		minLeafIdx = md.NumLeaves() - 1
	}
	end := ComputeMinLeafIdx[string](lb, max)
	if b, _ := lb.LeafLeftBoundary(end); b < max {
		end++
	}
	numLeaves := end - minLeafIdx
	if numLeaves < 1 {
		numLeaves = 1
	}
	snappedMin, _ := lb.LeafLeftBoundary(minLeafIdx)
	snappedMax, _ := lb.LeafLeftBoundary(minLeafIdx + numLeaves)
	return New[string](lb, snappedMin, snappedMax, minLeafIdx, numLeaves, numBuckets)
}
