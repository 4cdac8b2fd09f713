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

// Package query answers histogram and heatmap requests over a dataset with
// private results. It binds the privacy schema of the dataset, the noise key
// and an execution engine that computes raw counts.
package query

import (
	"context"
	"fmt"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/dphist"
	"github.com/google/differential-privacy/binarymech/noise"
	"github.com/google/differential-privacy/binarymech/privacy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Counter computes raw counts over the rows of a dataset.
type Counter interface {
	// CountLeaves returns the number of rows in each leaf of a: element i
	// counts the rows whose value v of a.Column has a.LeafOf(v) == i.
	CountLeaves(ctx context.Context, a *Axis) ([]int64, error)
	// CountLeafPairs returns the number of rows in each pair of leaves of x
	// and y, indexed [x leaf][y leaf].
	CountLeafPairs(ctx context.Context, x, y *Axis) ([][]int64, error)
}

// HistogramRequest is a request for the histogram of one column.
type HistogramRequest struct {
	Column     string
	NumBuckets int
	// At most one filter, matching the kind of the column. Without a filter
	// the buckets cover the global range of the column.
	NumericRange *NumericRange
	StringRange  *StringRange
	CDF          bool
}

// HeatmapRequest is a request for the heatmap of a column pair.
type HeatmapRequest struct {
	X, Y               string
	XBuckets, YBuckets int
	XNumeric, YNumeric *NumericRange
	XString, YString   *StringRange
	// Coarsen merges uncertain cells with their right neighbors.
	Coarsen bool
}

// HistogramRelease is a released histogram.
type HistogramRelease struct {
	// ID identifies the release in logs.
	ID     string
	Column string
	// Labels holds the left boundary of every bucket.
	Labels    []string
	Histogram *dphist.Result
	// CDF is only set by ComputeHistogramWithCDF.
	CDF *dphist.Result
}

// HeatmapRelease is a released heatmap.
type HeatmapRelease struct {
	ID               string
	X, Y             string
	XLabels, YLabels []string
	Heatmap          *dphist.Result2D
}

// Engine answers requests over one dataset.
type Engine struct {
	schema *privacy.Schema
	tree   decomposition.Tree
	noise  dphist.NoiseSource
	// z is the z-score of confidence intervals, 0 for noise.ConfidenceZ.
	z float64
}

// NewEngine returns an Engine releasing results under schema with noise from
// src.
func NewEngine(schema *privacy.Schema, src dphist.NoiseSource) (*Engine, error) {
	if schema == nil || src == nil {
		return nil, fmt.Errorf("NewEngine: schema and noise source are required")
	}
	tree, err := schema.Tree()
	if err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	return &Engine{schema: schema, tree: tree, noise: src}, nil
}

// WithNoise returns a copy of e that draws noise from src.
func (e *Engine) WithNoise(src dphist.NoiseSource) *Engine {
	c := *e
	c.noise = src
	return &c
}

// WithConfidenceLevel returns a copy of e whose confidence intervals hold
// the noise with probability level under a normal approximation.
func (e *Engine) WithConfidenceLevel(level float64) (*Engine, error) {
	z, err := noise.ZForConfidenceLevel(level)
	if err != nil {
		return nil, err
	}
	c := *e
	c.z = z
	return &c, nil
}

// Schema returns the privacy schema of the engine.
func (e *Engine) Schema() *privacy.Schema { return e.schema }

// Axis returns the axis of column with numBuckets buckets, filtered by at
// most one of nr and sr.
func (e *Engine) Axis(column string, numBuckets int, nr *NumericRange, sr *StringRange) (*Axis, error) {
	return newAxis(e.schema, e.tree, column, numBuckets, nr, sr)
}

// Histogram builds the private histogram of the column of a over leafCounts,
// the raw counts of the leaves of a.
func (e *Engine) Histogram(a *Axis, leafCounts []int64, cdf bool) (*dphist.Histogram, error) {
	epsilon, err := e.schema.Epsilon(a.Column)
	if err != nil {
		return nil, err
	}
	return dphist.NewHistogram(&dphist.HistogramOptions{
		Decomposition: a.Decomposition(),
		LeafCounts:    leafCounts,
		Epsilon:       epsilon,
		CDF:           cdf,
		Column:        a.Tag,
		Noise:         e.noise,
		ConfidenceZ:   e.z,
	})
}

func (e *Engine) histogramAxis(ctx context.Context, req HistogramRequest, c Counter) (*Axis, []int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	a, err := e.Axis(req.Column, req.NumBuckets, req.NumericRange, req.StringRange)
	if err != nil {
		return nil, nil, err
	}
	counts, err := c.CountLeaves(ctx, a)
	if err != nil {
		return nil, nil, fmt.Errorf("counting leaves of column %q: %w", req.Column, err)
	}
	return a, counts, nil
}

// ComputeHistogram releases the histogram of req.Column, or its cumulative
// distribution if req.CDF is set.
func (e *Engine) ComputeHistogram(ctx context.Context, req HistogramRequest, c Counter) (*HistogramRelease, error) {
	a, counts, err := e.histogramAxis(ctx, req, c)
	if err != nil {
		return nil, err
	}
	h, err := e.Histogram(a, counts, req.CDF)
	if err != nil {
		return nil, err
	}
	rel := &HistogramRelease{
		ID:        uuid.NewString(),
		Column:    req.Column,
		Labels:    a.Labels(),
		Histogram: h.Result(),
	}
	log.Infof("Release %s: histogram of %q, %d buckets, epsilon=%f, scale=%f, cdf=%t", rel.ID, req.Column, h.NumBuckets(), h.Epsilon(), h.Scale(), req.CDF)
	return rel, nil
}

// ComputeHistogramWithCDF releases the histogram of req.Column together with
// its cumulative distribution. Both are ranges of the same noisy tree, so the
// pair costs the budget of one histogram. req.CDF is ignored.
func (e *Engine) ComputeHistogramWithCDF(ctx context.Context, req HistogramRequest, c Counter) (*HistogramRelease, error) {
	a, counts, err := e.histogramAxis(ctx, req, c)
	if err != nil {
		return nil, err
	}
	var hist, cdf *dphist.Histogram
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hist, err = e.Histogram(a, counts, false)
		return err
	})
	g.Go(func() error {
		var err error
		cdf, err = e.Histogram(a, counts, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rel := &HistogramRelease{
		ID:        uuid.NewString(),
		Column:    req.Column,
		Labels:    a.Labels(),
		Histogram: hist.Result(),
		CDF:       cdf.Result(),
	}
	log.Infof("Release %s: histogram and cdf of %q, %d buckets, epsilon=%f, scale=%f", rel.ID, req.Column, hist.NumBuckets(), hist.Epsilon(), hist.Scale())
	return rel, nil
}

// HeatmapAxes returns the axes of req. It fails if the schema has no budget
// for the column pair.
func (e *Engine) HeatmapAxes(req HeatmapRequest) (x, y *Axis, err error) {
	if req.X == req.Y {
		return nil, nil, fmt.Errorf("heatmap of column %q with itself", req.X)
	}
	if _, err := e.schema.PairEpsilon(req.X, req.Y); err != nil {
		return nil, nil, err
	}
	x, err = e.Axis(req.X, req.XBuckets, req.XNumeric, req.XString)
	if err != nil {
		return nil, nil, err
	}
	y, err = e.Axis(req.Y, req.YBuckets, req.YNumeric, req.YString)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// Heatmap builds the private heatmap of the axes x and y over leafCounts,
// the raw counts of their leaf pairs.
func (e *Engine) Heatmap(x, y *Axis, leafCounts [][]int64) (*dphist.Heatmap, error) {
	epsilon, err := e.schema.PairEpsilon(x.Column, y.Column)
	if err != nil {
		return nil, err
	}
	return dphist.NewHeatmap(&dphist.HeatmapOptions{
		X:           x.Decomposition(),
		Y:           y.Decomposition(),
		XColumn:     x.Tag,
		YColumn:     y.Tag,
		LeafCounts:  leafCounts,
		Epsilon:     epsilon,
		Noise:       e.noise,
		ConfidenceZ: e.z,
	})
}

// ComputeHeatmap releases the heatmap of the column pair of req.
func (e *Engine) ComputeHeatmap(ctx context.Context, req HeatmapRequest, c Counter) (*HeatmapRelease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, y, err := e.HeatmapAxes(req)
	if err != nil {
		return nil, err
	}
	counts, err := c.CountLeafPairs(ctx, x, y)
	if err != nil {
		return nil, fmt.Errorf("counting leaf pairs of columns %q and %q: %w", req.X, req.Y, err)
	}
	h, err := e.Heatmap(x, y, counts)
	if err != nil {
		return nil, err
	}
	if req.Coarsen {
		if err := h.Coarsen(); err != nil {
			return nil, err
		}
	}
	rel := &HeatmapRelease{
		ID:      uuid.NewString(),
		X:       req.X,
		Y:       req.Y,
		XLabels: x.Labels(),
		YLabels: y.Labels(),
		Heatmap: h.Result(),
	}
	log.Infof("Release %s: heatmap of %q and %q, %d×%d cells, epsilon=%f, scale=%f, coarsen=%t", rel.ID, req.X, req.Y, x.Decomposition().NumBuckets(), y.Decomposition().NumBuckets(), rel.Heatmap.Epsilon, rel.Heatmap.Scale, req.Coarsen)
	return rel, nil
}
