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

// numericLeaves are the leaves [i·granularity, (i+1)·granularity) of a
// numeric column, centered at 0.
type numericLeaves struct {
	md *privacy.NumericMetadata
}

func (l numericLeaves) LeafLeftBoundary(i int64) (float64, bool) {
	return float64(i) * l.md.Granularity, true
}

func (l numericLeaves) LeafHint(v float64) int64 {
	return l.md.LeafIndex(v)
}

// NewNumericBuckets returns numBuckets buckets over [min, max] of a numeric
// column. min is snapped down to the boundary of its leaf, and max is
// recomputed as min + numLeaves·granularity with
// numLeaves = floor((max-min)/granularity). Neither changes which leaves the
// buckets cover. [min, max] must lie within the global bounds of md.
func NewNumericBuckets(min, max float64, numBuckets int, md *privacy.NumericMetadata) (*Buckets[float64], error) {
	if err := checks.CheckBoundsFloat64(min, max); err != nil {
		return nil, fmt.Errorf("NewNumericBuckets: %w", err)
	}
	if min < md.GlobalMin || max > md.GlobalMax {
		return nil, fmt.Errorf("NewNumericBuckets: range [%f, %f] exceeds the global range [%f, %f]", min, max, md.GlobalMin, md.GlobalMax)
	}
	lb := numericLeaves{md: md}
	minLeafIdx := ComputeMinLeafIdx[float64](lb, min)
	numLeaves := md.LeavesBetween(min, max)
	snappedMin, _ := lb.LeafLeftBoundary(minLeafIdx)
	snappedMax := snappedMin + float64(numLeaves)*md.Granularity
	return New[float64](lb, snappedMin, snappedMax, minLeafIdx, numLeaves, numBuckets)
}
