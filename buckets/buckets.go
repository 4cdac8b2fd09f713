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

// Package buckets groups the quantization leaves of a column into display
// buckets, and binds the buckets to the interval tree that noises them.
//
// Leaves are the smallest unit of the mechanism. A histogram over the range
// [min, max] of a column covers numLeaves consecutive leaves starting at leaf
// minLeafIdx, and distributes them as evenly as possible over its buckets.
// Leaf indices are absolute: a filtered histogram covers a subrange of the
// leaves of the unfiltered one.
package buckets

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/checks"
)

// ErrInvalidBucketIndex is returned for a bucket index outside
// [0, NumBuckets).
var ErrInvalidBucketIndex = errors.New("invalid bucket index")

// LeafBoundaries describes the leaves of an ordered domain.
type LeafBoundaries[T cmp.Ordered] interface {
	// LeafLeftBoundary returns the smallest value of leaf i, and false if the
	// domain has no leaf i.
	LeafLeftBoundary(i int64) (T, bool)
	// LeafHint returns a leaf index close to the leaf containing v, where
	// the search for that leaf starts. Domains without arithmetic return 0,
	// the leaf anchored at their zero value.
	LeafHint(v T) int64
}

// ComputeMinLeafIdx returns the largest leaf index whose left boundary is
// not larger than v. It probes linearly from the hint of lb, so the result
// can be negative for domains centered at their zero value. It returns the
// lowest valid index minus one if v precedes every leaf.
func ComputeMinLeafIdx[T cmp.Ordered](lb LeafBoundaries[T], v T) int64 {
	i := lb.LeafHint(v)
	for {
		b, ok := lb.LeafLeftBoundary(i)
		if !ok || b <= v {
			break
		}
		i--
	}
	for {
		b, ok := lb.LeafLeftBoundary(i + 1)
		if !ok || b > v {
			break
		}
		i++
	}
	return i
}

// Buckets partitions numLeaves consecutive leaves into contiguous buckets.
type Buckets[T cmp.Ordered] struct {
	leaves     LeafBoundaries[T]
	min, max   T
	minLeafIdx int64
	numLeaves  int64
	numBuckets int
	// bucketLeftLeaves holds the first leaf of every bucket, relative to
	// minLeafIdx.
	bucketLeftLeaves []int64
	// bucketLeftBoundaries holds the left boundary value of every bucket,
	// for binary search.
	bucketLeftBoundaries []T
}

// New returns Buckets over the numLeaves leaves starting at minLeafIdx. The
// bucket count is clamped to the number of leaves, so no bucket is empty.
// min must be the left boundary of leaf minLeafIdx; values above max are
// outside the buckets.
func New[T cmp.Ordered](lb LeafBoundaries[T], min, max T, minLeafIdx, numLeaves int64, numBuckets int) (*Buckets[T], error) {
	if err := checks.CheckBucketCount(numBuckets); err != nil {
		return nil, fmt.Errorf("buckets.New: %w", err)
	}
	if numLeaves < 1 {
		return nil, fmt.Errorf("buckets.New: range [%v, %v] covers %d leaves, must cover at least one", min, max, numLeaves)
	}
	if int64(numBuckets) > numLeaves {
		log.Warningf("Requested %d buckets over only %d leaves, using %d buckets", numBuckets, numLeaves, numLeaves)
		numBuckets = int(numLeaves)
	}
	b := &Buckets[T]{
		leaves:     lb,
		min:        min,
		max:        max,
		minLeafIdx: minLeafIdx,
		numLeaves:  numLeaves,
		numBuckets: numBuckets,
	}
	if err := b.populateBucketBoundaries(); err != nil {
		return nil, err
	}
	return b, nil
}

// populateBucketBoundaries assigns leaves to buckets so that every bucket
// holds floor(numLeaves/numBuckets) leaves, and every overflow-th bucket one
// more. This spreads the remainder over the range instead of piling it onto
// the last bucket.
func (b *Buckets[T]) populateBucketBoundaries() error {
	nb := int64(b.numBuckets)
	defaultLeaves := b.numLeaves / nb
	// overflow = ceil(1 / (numLeaves/numBuckets - defaultLeaves)), or 0 if
	// the leaves divide evenly.
	var overflow int64
	if rem := b.numLeaves % nb; rem != 0 {
		overflow = (nb + rem - 1) / rem
	}

	b.bucketLeftLeaves = make([]int64, b.numBuckets)
	for i := int64(1); i < nb; i++ {
		size := defaultLeaves
		if overflow > 0 && i%overflow == 0 {
			size++
		}
		b.bucketLeftLeaves[i] = b.bucketLeftLeaves[i-1] + size
	}

	b.bucketLeftBoundaries = make([]T, b.numBuckets)
	for i, leaf := range b.bucketLeftLeaves {
		v, ok := b.leaves.LeafLeftBoundary(b.minLeafIdx + leaf)
		if !ok {
			return fmt.Errorf("buckets.New: leaf %d of bucket %d is outside the domain", b.minLeafIdx+leaf, i)
		}
		b.bucketLeftBoundaries[i] = v
	}
	return nil
}

// IndexOf returns the bucket containing v: the bucket whose left boundary is
// the greatest one not larger than v. It returns -1 if v is below the first
// boundary or above the maximum.
func (b *Buckets[T]) IndexOf(v T) int {
	if v < b.min || v > b.max {
		return -1
	}
	i, found := slices.BinarySearch(b.bucketLeftBoundaries, v)
	if found {
		return i
	}
	// i is the insertion point: the first boundary larger than v.
	return i - 1
}

// LeafIndexOf returns the index, relative to MinLeafIdx, of the leaf
// containing v, or -1 if v lies outside [Min, Max]. The maximum itself falls
// in the last leaf.
func (b *Buckets[T]) LeafIndexOf(v T) int64 {
	if v < b.min || v > b.max {
		return -1
	}
	i := ComputeMinLeafIdx(b.leaves, v) - b.minLeafIdx
	if i < 0 {
		return -1
	}
	if i >= b.numLeaves {
		return b.numLeaves - 1
	}
	return i
}

func (b *Buckets[T]) checkBucket(bucketIdx int) error {
	if bucketIdx < 0 || bucketIdx >= b.numBuckets {
		return fmt.Errorf("bucket %d of %d: %w", bucketIdx, b.numBuckets, ErrInvalidBucketIndex)
	}
	return nil
}

// NumLeavesInBucket returns the number of leaves of bucket bucketIdx.
func (b *Buckets[T]) NumLeavesInBucket(bucketIdx int) (int64, error) {
	left, right, err := b.BucketRange(bucketIdx, false)
	if err != nil {
		return 0, err
	}
	return right - left, nil
}

// BucketRange returns the leaves [left, right) of bucket bucketIdx, relative
// to MinLeafIdx. If cdf is true, left is 0: the range of a cumulative
// distribution query ending with the bucket.
func (b *Buckets[T]) BucketRange(bucketIdx int, cdf bool) (left, right int64, err error) {
	if err := b.checkBucket(bucketIdx); err != nil {
		return 0, 0, err
	}
	if !cdf {
		left = b.bucketLeftLeaves[bucketIdx]
	}
	if bucketIdx == b.numBuckets-1 {
		right = b.numLeaves
	} else {
		right = b.bucketLeftLeaves[bucketIdx+1]
	}
	return left, right, nil
}

// BucketLeafIdx returns the absolute index of the first leaf of bucket
// bucketIdx, or -1 for an invalid index.
func (b *Buckets[T]) BucketLeafIdx(bucketIdx int) int64 {
	if b.checkBucket(bucketIdx) != nil {
		return -1
	}
	return b.bucketLeftLeaves[bucketIdx] + b.minLeafIdx
}

// BucketLeftBoundary returns the smallest value of bucket bucketIdx.
func (b *Buckets[T]) BucketLeftBoundary(bucketIdx int) (T, error) {
	if err := b.checkBucket(bucketIdx); err != nil {
		var zero T
		return zero, err
	}
	return b.bucketLeftBoundaries[bucketIdx], nil
}

// Min returns the left boundary of the first leaf.
func (b *Buckets[T]) Min() T { return b.min }

// Max returns the largest value inside the buckets.
func (b *Buckets[T]) Max() T { return b.max }

// NumBuckets returns the number of buckets after clamping.
func (b *Buckets[T]) NumBuckets() int { return b.numBuckets }

// NumLeaves returns the number of leaves covered by the buckets.
func (b *Buckets[T]) NumLeaves() int64 { return b.numLeaves }

// MinLeafIdx returns the absolute index of the first leaf.
func (b *Buckets[T]) MinLeafIdx() int64 { return b.minLeafIdx }
