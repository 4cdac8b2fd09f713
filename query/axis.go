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

package query

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/differential-privacy/binarymech/buckets"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/privacy"
)

// NumericRange filters a numeric column to [Min, Max]. Both ends are rounded
// outward to leaf boundaries and clamped to the global range of the column.
type NumericRange struct {
	Min, Max float64
}

// StringRange filters a string column to [Min, Max). Both ends are rounded
// outward to leaf boundaries and clamped to the global range of the column.
type StringRange struct {
	Min, Max string
}

// Axis is one bucketed column of a query: it maps the raw values of the
// column to the leaves its raw counts are gathered over.
type Axis struct {
	Column string
	// Tag identifies the column in the noise of its nodes.
	Tag int64

	kind privacy.Kind
	num  *buckets.NumericDecomposition
	nmd  *privacy.NumericMetadata
	str  *buckets.StringDecomposition
}

func newAxis(schema *privacy.Schema, tree decomposition.Tree, column string, numBuckets int, nr *NumericRange, sr *StringRange) (*Axis, error) {
	kind, err := schema.Kind(column)
	if err != nil {
		return nil, err
	}
	tag, err := schema.ColumnTag(column)
	if err != nil {
		return nil, err
	}
	a := &Axis{Column: column, Tag: tag, kind: kind}
	switch kind {
	case privacy.Numeric:
		if sr != nil {
			return nil, fmt.Errorf("column %q is numeric and cannot be filtered by a string range", column)
		}
		md, err := schema.NumericColumn(column)
		if err != nil {
			return nil, err
		}
		min, max := md.GlobalMin, md.GlobalMax
		if nr != nil {
			min = math.Max(md.RoundDown(nr.Min), md.GlobalMin)
			max = math.Min(md.RoundUp(nr.Max), md.GlobalMax)
		}
		a.nmd = md
		a.num, err = buckets.NewNumericDecomposition(min, max, numBuckets, md, tree)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", column, err)
		}
	case privacy.String:
		if nr != nil {
			return nil, fmt.Errorf("column %q is a string column and cannot be filtered by a numeric range", column)
		}
		md, err := schema.StringColumn(column)
		if err != nil {
			return nil, err
		}
		min, max := md.GlobalMin(), md.GlobalMax
		if sr != nil {
			if lo := md.RoundDown(sr.Min); lo > min {
				min = lo
			}
			if hi := md.RoundUp(sr.Max); hi < max {
				max = hi
			}
		}
		a.str, err = buckets.NewStringDecomposition(min, max, numBuckets, md, tree)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", column, err)
		}
	}
	return a, nil
}

// Kind returns the kind of the column.
func (a *Axis) Kind() privacy.Kind { return a.kind }

// Decomposition returns the buckets of the axis and their tree.
func (a *Axis) Decomposition() buckets.Decomposition {
	if a.kind == privacy.Numeric {
		return a.num
	}
	return a.str
}

// NumLeaves returns the number of leaves of the axis.
func (a *Axis) NumLeaves() int64 {
	return a.Decomposition().NumLeaves()
}

// LeafOf returns the leaf of the raw value s, relative to the first leaf of
// the axis, or -1 if s lies outside the leaves of the axis. Numeric values
// must parse as floats. A numeric value equal to the global maximum of its
// column falls in the last leaf.
func (a *Axis) LeafOf(s string) (int64, error) {
	if a.kind == privacy.String {
		if s < a.str.Min() || s >= a.str.Max() {
			return -1, nil
		}
		return a.str.LeafIndexOf(s), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return -1, fmt.Errorf("column %q: value %q is not a number: %v", a.Column, s, err)
	}
	if v < a.num.Min() || v > a.num.Max() || (v == a.num.Max() && v < a.nmd.GlobalMax) {
		return -1, nil
	}
	return a.num.LeafIndexOf(v), nil
}

// Labels returns the left boundary of every bucket.
func (a *Axis) Labels() []string {
	d := a.Decomposition()
	labels := make([]string, d.NumBuckets())
	for i := range labels {
		if a.kind == privacy.Numeric {
			v, _ := a.num.BucketLeftBoundary(i)
			labels[i] = strconv.FormatFloat(v, 'g', -1, 64)
		} else {
			labels[i], _ = a.str.BucketLeftBoundary(i)
		}
	}
	return labels
}
