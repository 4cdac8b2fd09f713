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

	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/privacy"
)

// Decomposition binds the buckets of one histogram axis to the tree whose
// nodes receive noise.
//
// Leaf ranges passed to and returned by a Decomposition are relative to the
// first leaf of the buckets. The nodes it returns are in the tree over all
// leaves of the column, so a filtered histogram reuses the nodes, and hence
// the noise, of the unfiltered one.
type Decomposition interface {
	// NumBuckets returns the number of buckets.
	NumBuckets() int
	// NumLeaves returns the number of leaves covered by the buckets.
	NumLeaves() int64
	// BucketRange returns the leaves [left, right) of a bucket. If cdf is
	// true, left is 0.
	BucketRange(bucketIdx int, cdf bool) (left, right int64, err error)
	// BucketDecomposition returns the tree nodes covering BucketRange.
	BucketDecomposition(bucketIdx int, cdf bool) ([]decomposition.Node, error)
	// Decompose returns the tree nodes covering the leaves [left, right).
	Decompose(left, right int64) ([]decomposition.Node, error)
	// QuantizationIntervalCount returns the number of leaves of the
	// unfiltered column, the unit of noise calibration.
	QuantizationIntervalCount() int64
	// Tree returns the tree the nodes belong to.
	Tree() decomposition.Tree
}

func bucketDecomposition(d Decomposition, bucketIdx int, cdf bool) ([]decomposition.Node, error) {
	left, right, err := d.BucketRange(bucketIdx, cdf)
	if err != nil {
		return nil, err
	}
	return d.Decompose(left, right)
}

func checkLeafRange(left, right, numLeaves int64) error {
	if left < 0 || right < left || right > numLeaves {
		return fmt.Errorf("leaves [%d, %d) of %d: %w", left, right, numLeaves, decomposition.ErrInvalidRange)
	}
	return nil
}

func checkTree(tree decomposition.Tree) error {
	if tree.BranchingFactor() < 2 {
		return fmt.Errorf("tree has branching factor %d, must be created with decomposition.NewTree", tree.BranchingFactor())
	}
	return nil
}

// NumericDecomposition covers a leaf range with the canonical nodes of a
// k-adic tree.
type NumericDecomposition struct {
	*Buckets[float64]
	tree         decomposition.Tree
	leafOffset   int64
	globalLeaves int64
}

// NewNumericDecomposition returns the decomposition of numBuckets buckets
// over [min, max] of a numeric column.
func NewNumericDecomposition(min, max float64, numBuckets int, md *privacy.NumericMetadata, tree decomposition.Tree) (*NumericDecomposition, error) {
	if err := checkTree(tree); err != nil {
		return nil, fmt.Errorf("NewNumericDecomposition: %w", err)
	}
	b, err := NewNumericBuckets(min, max, numBuckets, md)
	if err != nil {
		return nil, err
	}
	globalMinLeafIdx := ComputeMinLeafIdx[float64](numericLeaves{md: md}, md.GlobalMin)
	return &NumericDecomposition{
		Buckets:      b,
		tree:         tree,
		leafOffset:   b.MinLeafIdx() - globalMinLeafIdx,
		globalLeaves: md.NumLeaves(),
	}, nil
}

// LeafOffset returns the tree index of the first leaf of the buckets.
func (d *NumericDecomposition) LeafOffset() int64 { return d.leafOffset }

// BucketDecomposition implements Decomposition.
func (d *NumericDecomposition) BucketDecomposition(bucketIdx int, cdf bool) ([]decomposition.Node, error) {
	return bucketDecomposition(d, bucketIdx, cdf)
}

// Decompose implements Decomposition.
func (d *NumericDecomposition) Decompose(left, right int64) ([]decomposition.Node, error) {
	if err := checkLeafRange(left, right, d.NumLeaves()); err != nil {
		return nil, err
	}
	return d.tree.Decompose(d.leafOffset+left, d.leafOffset+right)
}

// QuantizationIntervalCount implements Decomposition.
func (d *NumericDecomposition) QuantizationIntervalCount() int64 { return d.globalLeaves }

// Tree implements Decomposition.
func (d *NumericDecomposition) Tree() decomposition.Tree { return d.tree }

// StringDecomposition covers a leaf range with whole leaves. Lexicographic
// domains have no power-of-k structure, so their tree has a single level.
type StringDecomposition struct {
	*Buckets[string]
	tree         decomposition.Tree
	globalLeaves int64
}

// NewStringDecomposition returns the decomposition of numBuckets buckets
// over [min, max) of a string column. The tree only fixes the noise
// calibration; nodes are always single leaves.
func NewStringDecomposition(min, max string, numBuckets int, md *privacy.StringMetadata, tree decomposition.Tree) (*StringDecomposition, error) {
	if err := checkTree(tree); err != nil {
		return nil, fmt.Errorf("NewStringDecomposition: %w", err)
	}
	b, err := NewStringBuckets(min, max, numBuckets, md)
	if err != nil {
		return nil, err
	}
	return &StringDecomposition{
		Buckets:      b,
		tree:         tree,
		globalLeaves: md.NumLeaves(),
	}, nil
}

// LeafOffset returns the tree index of the first leaf of the buckets.
func (d *StringDecomposition) LeafOffset() int64 { return d.MinLeafIdx() }

// BucketDecomposition implements Decomposition.
func (d *StringDecomposition) BucketDecomposition(bucketIdx int, cdf bool) ([]decomposition.Node, error) {
	return bucketDecomposition(d, bucketIdx, cdf)
}

// Decompose implements Decomposition.
func (d *StringDecomposition) Decompose(left, right int64) ([]decomposition.Node, error) {
	if err := checkLeafRange(left, right, d.NumLeaves()); err != nil {
		return nil, err
	}
	offset := d.LeafOffset()
	nodes := make([]decomposition.Node, 0, right-left)
	for i := left; i < right; i++ {
		nodes = append(nodes, decomposition.Node{Left: offset + i, Right: offset + i + 1})
	}
	return nodes, nil
}

// QuantizationIntervalCount implements Decomposition.
func (d *StringDecomposition) QuantizationIntervalCount() int64 { return d.globalLeaves }

// Tree implements Decomposition.
func (d *StringDecomposition) Tree() decomposition.Tree { return d.tree }
