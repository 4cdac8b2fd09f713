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

package dphist

import (
	"fmt"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/buckets"
	"github.com/google/differential-privacy/binarymech/checks"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/noise"
)

// Run is a horizontal run of cells of one heatmap row that were merged by
// coarsening. First and Last are x bucket indices, both inclusive.
type Run struct {
	Row         int
	First, Last int
}

// Len returns the number of cells in the run.
func (r Run) Len() int { return r.Last - r.First + 1 }

// Result2D is a released private heatmap. Cells are indexed [x][y].
type Result2D struct {
	Counts     [][]float64
	Confidence [][]float64
	Uncertain  [][]bool
	// Runs lists the cells merged by coarsening, by row then column.
	Runs    []Run
	Epsilon float64
	Scale   float64
}

// HeatmapOptions contains the options necessary to initialize a Heatmap.
type HeatmapOptions struct {
	X, Y             buckets.Decomposition // Buckets and trees of both axes. Required.
	XColumn, YColumn int64                 // Tags of the axes' noise.
	// LeafCounts[i][j] is the raw count of x leaf i and y leaf j. Required.
	LeafCounts  [][]int64
	Epsilon     float64     // Privacy budget of the column pair. Required.
	Noise       NoiseSource // Source of node noise. Required.
	ConfidenceZ float64     // z-score of confidence intervals. Defaults to noise.ConfidenceZ.
}

// Heatmap is a private two-dimensional histogram of a column pair. Each cell
// receives the noise of the cross product of its x and y covers.
//
// Not thread-safe.
type Heatmap struct {
	x, y             buckets.Decomposition
	xColumn, yColumn int64
	prefix           [][]int64 // prefix[i][j] is the raw count of leaves [0, i) × [0, j).
	epsilon          float64
	scale            float64
	baseVariance     float64
	z                float64
	noise            NoiseSource

	counts     [][]float64
	confidence [][]float64
	uncertain  [][]bool
	runs       []Run
	coarsened  bool
}

// NewHeatmap returns the private heatmap of the leaf counts in opt.
func NewHeatmap(opt *HeatmapOptions) (*Heatmap, error) {
	if opt == nil {
		return nil, fmt.Errorf("NewHeatmap: options are required")
	}
	if opt.X == nil || opt.Y == nil || opt.Noise == nil {
		return nil, fmt.Errorf("NewHeatmap: X, Y and Noise are required")
	}
	if kx, ky := opt.X.Tree().BranchingFactor(), opt.Y.Tree().BranchingFactor(); kx != ky {
		return nil, fmt.Errorf("NewHeatmap: axes have branching factors %d and %d, must be equal", kx, ky)
	}
	if int64(len(opt.LeafCounts)) != opt.X.NumLeaves() {
		return nil, fmt.Errorf("NewHeatmap: LeafCounts has %d rows, want %d x leaves", len(opt.LeafCounts), opt.X.NumLeaves())
	}
	for i, row := range opt.LeafCounts {
		if err := checks.CheckLeafCounts(row, opt.Y.NumLeaves()); err != nil {
			return nil, fmt.Errorf("NewHeatmap: x leaf %d: %w", i, err)
		}
	}
	totalLeaves := decomposition.TotalLeaves2D(opt.X.QuantizationIntervalCount(), opt.Y.QuantizationIntervalCount())
	scale, err := opt.X.Tree().Scale(opt.Epsilon, totalLeaves)
	if err != nil {
		return nil, fmt.Errorf("NewHeatmap: %w", err)
	}
	z := opt.ConfidenceZ
	if z == 0 {
		z = noise.ConfidenceZ
	}
	h := &Heatmap{
		x:            opt.X,
		y:            opt.Y,
		xColumn:      opt.XColumn,
		yColumn:      opt.YColumn,
		prefix:       prefixSums2D(opt.LeafCounts, opt.Y.NumLeaves()),
		epsilon:      opt.Epsilon,
		scale:        scale,
		baseVariance: noise.LaplaceVariance(scale),
		z:            z,
		noise:        opt.Noise,
	}
	log.Infof("Adding binary mechanism noise to heatmap: epsilon=%f, scale=%f, %d×%d cells", h.epsilon, h.scale, h.x.NumBuckets(), h.y.NumBuckets())
	if err := h.addNoise(); err != nil {
		return nil, err
	}
	return h, nil
}

func prefixSums2D(counts [][]int64, ny int64) [][]int64 {
	prefix := make([][]int64, len(counts)+1)
	prefix[0] = make([]int64, ny+1)
	for i, row := range counts {
		prefix[i+1] = make([]int64, ny+1)
		for j, c := range row {
			prefix[i+1][j+1] = prefix[i][j+1] + prefix[i+1][j] - prefix[i][j] + c
		}
	}
	return prefix
}

func newGrid[T any](nx, ny int) [][]T {
	g := make([][]T, nx)
	for i := range g {
		g[i] = make([]T, ny)
	}
	return g
}

func (h *Heatmap) addNoise() error {
	nx, ny := h.x.NumBuckets(), h.y.NumBuckets()
	h.counts = newGrid[float64](nx, ny)
	h.confidence = newGrid[float64](nx, ny)
	h.uncertain = newGrid[bool](nx, ny)
	for i := 0; i < nx; i++ {
		x0, x1, err := h.x.BucketRange(i, false)
		if err != nil {
			return err
		}
		for j := 0; j < ny; j++ {
			y0, y1, err := h.y.BucketRange(j, false)
			if err != nil {
				return err
			}
			count, confidence, err := h.noisyCount(x0, x1, y0, y1)
			if err != nil {
				return err
			}
			h.counts[i][j] = count
			h.confidence[i][j] = confidence
			h.uncertain[i][j] = count < confidence
		}
	}
	return nil
}

func (h *Heatmap) noisyCount(x0, x1, y0, y1 int64) (count, confidence float64, err error) {
	n, _, err := h.NoiseForRange(x0, x1, y0, y1)
	if err != nil {
		return 0, 0, err
	}
	raw, err := h.RawCount(x0, x1, y0, y1)
	if err != nil {
		return 0, 0, err
	}
	return float64(raw) + n.Mean, n.ConfidenceAt(h.z), nil
}

// NoiseForRange returns the noise of the leaves [x0, x1) × [y0, y1): one
// Laplace sample per pair of an x node and a y node covering the ranges. It
// also returns the number of node pairs.
func (h *Heatmap) NoiseForRange(x0, x1, y0, y1 int64) (noise.Noise, int, error) {
	var n noise.Noise
	xs, err := h.x.Decompose(x0, x1)
	if err != nil {
		return n, 0, fmt.Errorf("NoiseForRange: x: %w", err)
	}
	ys, err := h.y.Decompose(y0, y1)
	if err != nil {
		return n, 0, fmt.Errorf("NoiseForRange: y: %w", err)
	}
	rects := decomposition.CrossProduct(xs, ys)
	for _, r := range rects {
		n.Add(h.noise.Laplace2D(h.xColumn, r.X, h.yColumn, r.Y, h.scale), h.baseVariance)
	}
	return n, len(rects), nil
}

// RawCount returns the raw count of the leaves [x0, x1) × [y0, y1).
func (h *Heatmap) RawCount(x0, x1, y0, y1 int64) (int64, error) {
	nx, ny := int64(len(h.prefix))-1, int64(len(h.prefix[0]))-1
	if x0 < 0 || x1 < x0 || x1 > nx || y0 < 0 || y1 < y0 || y1 > ny {
		return 0, fmt.Errorf("RawCount: leaves [%d, %d) × [%d, %d) of %d × %d: %w", x0, x1, y0, y1, nx, ny, decomposition.ErrInvalidRange)
	}
	p := h.prefix
	return p[x1][y1] - p[x0][y1] - p[x1][y0] + p[x0][y0], nil
}

// Coarsen greedily merges uncertain cells with their right neighbors.
//
// Each row is scanned from left to right. A run starts at the current cell
// and, while its count is uncertain, absorbs the next cell; the count of the
// merged rectangle is computed again from its own cover. Every cell of a run
// holds the run's count divided by its length, and the run's confidence.
// Merged rectangles are ranges of leaves like any other, so coarsening spends
// no privacy budget. Calling Coarsen again has no effect.
func (h *Heatmap) Coarsen() error {
	if h.coarsened {
		log.Warning("Coarsen called on an already coarsened heatmap, ignoring")
		return nil
	}
	nx, ny := h.x.NumBuckets(), h.y.NumBuckets()
	for j := 0; j < ny; j++ {
		y0, y1, err := h.y.BucketRange(j, false)
		if err != nil {
			return err
		}
		for i := 0; i < nx; {
			end := i
			uncertain := h.uncertain[i][j]
			for uncertain && end+1 < nx {
				end++
				x0, _, err := h.x.BucketRange(i, false)
				if err != nil {
					return err
				}
				_, x1, err := h.x.BucketRange(end, false)
				if err != nil {
					return err
				}
				count, confidence, err := h.noisyCount(x0, x1, y0, y1)
				if err != nil {
					return err
				}
				uncertain = count < confidence
				perCell := count / float64(end-i+1)
				for k := i; k <= end; k++ {
					h.counts[k][j] = perCell
					h.confidence[k][j] = confidence
					h.uncertain[k][j] = uncertain
				}
			}
			if end > i {
				h.runs = append(h.runs, Run{Row: j, First: i, Last: end})
			}
			i = end + 1
		}
	}
	h.coarsened = true
	log.Infof("Coarsened heatmap into %d runs", len(h.runs))
	return nil
}

// Cell returns the private count of the cell of x bucket i and y bucket j.
func (h *Heatmap) Cell(i, j int) (BucketResult, error) {
	if i < 0 || i >= len(h.counts) || j < 0 || j >= h.y.NumBuckets() {
		return BucketResult{}, fmt.Errorf("Cell: cell (%d, %d) of %d × %d: %w", i, j, len(h.counts), h.y.NumBuckets(), buckets.ErrInvalidBucketIndex)
	}
	return BucketResult{
		Count:      h.counts[i][j],
		Confidence: h.confidence[i][j],
		Uncertain:  h.uncertain[i][j],
	}, nil
}

// Runs returns the runs merged by Coarsen.
func (h *Heatmap) Runs() []Run {
	return append([]Run(nil), h.runs...)
}

// NumLeaves returns the number of leaves of the x and y axes.
func (h *Heatmap) NumLeaves() (nx, ny int64) {
	return h.x.NumLeaves(), h.y.NumLeaves()
}

// Scale returns the scale of the Laplace noise of every node pair.
func (h *Heatmap) Scale() float64 { return h.scale }

func copyGrid[T any](g [][]T) [][]T {
	c := make([][]T, len(g))
	for i, row := range g {
		c[i] = append([]T(nil), row...)
	}
	return c
}

// Result returns a copy of the released heatmap.
func (h *Heatmap) Result() *Result2D {
	return &Result2D{
		Counts:     copyGrid(h.counts),
		Confidence: copyGrid(h.confidence),
		Uncertain:  copyGrid(h.uncertain),
		Runs:       h.Runs(),
		Epsilon:    h.epsilon,
		Scale:      h.scale,
	}
}
