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

// Package decomposition computes canonical covers of leaf ranges in a k-adic
// interval tree, as used by the binary mechanism of Chan, Song and Shi
// (TISSEC '11, https://eprint.iacr.org/2010/076.pdf).
//
// Leaves are indexed from 0. Every node of the tree is a right-exclusive
// interval [Left, Right) whose length is a power of the branching factor k and
// whose left end is a multiple of that length. Any range [left, right) is
// covered exactly, with no overlaps, by a minimal set of such nodes.
package decomposition

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/differential-privacy/binarymech/checks"
)

// DefaultBranchingFactor is the branching factor of the classical dyadic tree.
const DefaultBranchingFactor = 2

// ErrInvalidRange is returned when a range has a negative left end or ends
// before it starts.
var ErrInvalidRange = errors.New("invalid interval range")

// Node is a canonical interval [Left, Right) of the tree. Its bounds are its
// identity: two nodes with the same bounds are the same node, and receive the
// same noise.
type Node struct {
	Left, Right int64
}

// Len returns the number of leaves covered by n.
func (n Node) Len() int64 {
	return n.Right - n.Left
}

func (n Node) String() string {
	return fmt.Sprintf("[%d, %d)", n.Left, n.Right)
}

// Rect is a canonical node of the two-dimensional tree: the cross product of
// one node per axis.
type Rect struct {
	X, Y Node
}

// Tree is a k-adic interval tree over leaves 0, 1, 2, ...
//
// The branching factor is fixed at construction. Changing it changes the
// identities of all nodes, so all noise released under one branching factor
// is unrelated to noise released under another.
type Tree struct {
	k int64
}

// NewTree returns a Tree with the given branching factor, which must be at
// least 2.
func NewTree(branchingFactor int) (Tree, error) {
	if err := checks.CheckBranchingFactor(branchingFactor); err != nil {
		return Tree{}, fmt.Errorf("NewTree: %w", err)
	}
	return Tree{k: int64(branchingFactor)}, nil
}

// BranchingFactor returns k.
func (t Tree) BranchingFactor() int {
	return int(t.k)
}

// Decompose returns the canonical cover of [left, right), ordered from left
// to right.
//
// At each step it takes the largest node that starts at left, is aligned to
// its own length, and does not extend past right.
func (t Tree) Decompose(left, right int64) ([]Node, error) {
	if t.k < 2 {
		return nil, fmt.Errorf("Decompose: tree has branching factor %d, must be created with NewTree", t.k)
	}
	if left < 0 || right < left {
		return nil, fmt.Errorf("Decompose: [%d, %d): %w", left, right, ErrInvalidRange)
	}
	var nodes []Node
	for left < right {
		size := t.largestNode(left, right-left)
		nodes = append(nodes, Node{Left: left, Right: left + size})
		left += size
	}
	return nodes, nil
}

// largestNode returns the largest power of k that divides left (any power
// divides 0) and does not exceed remaining.
func (t Tree) largestNode(left, remaining int64) int64 {
	size := int64(1)
	for size <= remaining/t.k {
		next := size * t.k
		if left%next != 0 {
			break
		}
		size = next
	}
	return size
}

// DecomposeRect returns the canonical cover of the rectangle
// [x0, x1) × [y0, y1): the cross product of the two axis covers.
func (t Tree) DecomposeRect(x0, x1, y0, y1 int64) ([]Rect, error) {
	xs, err := t.Decompose(x0, x1)
	if err != nil {
		return nil, err
	}
	ys, err := t.Decompose(y0, y1)
	if err != nil {
		return nil, err
	}
	return CrossProduct(xs, ys), nil
}

// CrossProduct returns every pair of one node from xs and one node from ys.
func CrossProduct(xs, ys []Node) []Rect {
	rects := make([]Rect, 0, len(xs)*len(ys))
	for _, x := range xs {
		for _, y := range ys {
			rects = append(rects, Rect{X: x, Y: y})
		}
	}
	return rects
}

// Levels returns log_k(totalLeaves), the number of tree levels a leaf
// contributes to, and never less than one.
func (t Tree) Levels(totalLeaves int64) float64 {
	if totalLeaves <= 1 {
		return 1
	}
	return math.Max(1, math.Log(float64(totalLeaves))/math.Log(float64(t.k)))
}

// Scale returns the scale of the Laplace noise added to every node so that
// the whole tree over totalLeaves leaves is epsilon-differentially private.
func (t Tree) Scale(epsilon float64, totalLeaves int64) (float64, error) {
	if err := checks.CheckEpsilonStrict(epsilon); err != nil {
		return 0, fmt.Errorf("Scale: %w", err)
	}
	return t.Levels(totalLeaves) / epsilon, nil
}

// TotalLeaves2D returns the number of leaves of the two-dimensional tree over
// nx × ny leaves. Each axis has one extra leaf reserved for missing values.
func TotalLeaves2D(nx, ny int64) int64 {
	return (1 + nx) * (1 + ny)
}
