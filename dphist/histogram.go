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

// Package dphist releases differentially private histograms and heatmaps
// with the binary mechanism.
//
// Every node of the interval tree over the leaves of a column receives
// Laplace noise derived from the node's identity. The private count of a
// range of leaves is its raw count plus the noise of the nodes covering the
// range. Since the noise of a node never changes, every range of leaves has
// effectively been released once the tree has, and any post-processing of
// those ranges (cumulative counts, coarsening) is free.
//
// For general details, see "Private and Continual Release of Statistics",
// Chan, Shi and Song, https://eprint.iacr.org/2010/076.pdf.
package dphist

import (
	"fmt"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/buckets"
	"github.com/google/differential-privacy/binarymech/checks"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/noise"
)

// NoiseSource derives Laplace noise from tree node identities. It is
// implemented by *noise.Source.
type NoiseSource interface {
	Laplace(column int64, n decomposition.Node, scale float64) float64
	Laplace2D(xColumn int64, x decomposition.Node, yColumn int64, y decomposition.Node, scale float64) float64
}

var _ NoiseSource = (*noise.Source)(nil)

// BucketResult is the private count of one bucket.
type BucketResult struct {
	// Count is the raw count plus noise. It may be negative.
	Count float64
	// Confidence is the half-width of the confidence interval around Count.
	Confidence float64
	// Uncertain is true if Count is smaller than Confidence, i.e. if the
	// bucket may well be empty.
	Uncertain bool
}

// Result is a released private histogram.
type Result struct {
	Buckets []BucketResult
	// CDF is true if the count of bucket i is the count of buckets 0..i.
	CDF     bool
	Epsilon float64
	// Scale is the scale of the Laplace noise of every tree node.
	Scale float64
}

// HistogramOptions contains the options necessary to initialize a Histogram.
type HistogramOptions struct {
	Decomposition buckets.Decomposition // Buckets and tree of the column. Required.
	LeafCounts    []int64               // Raw count of every leaf of Decomposition. Required.
	Epsilon       float64               // Privacy budget of the column. Required.
	CDF           bool                  // Release cumulative counts.
	Column        int64                 // Tag of the column's noise.
	Noise         NoiseSource           // Source of node noise. Required.
	ConfidenceZ   float64               // z-score of confidence intervals. Defaults to noise.ConfidenceZ.
}

// Histogram is a private histogram of one column. It is computed once at
// construction and not modified afterwards.
type Histogram struct {
	d            buckets.Decomposition
	prefix       []int64 // prefix[i] is the raw count of leaves [0, i).
	epsilon      float64
	scale        float64
	baseVariance float64
	z            float64
	cdf          bool
	column       int64
	noise        NoiseSource
	buckets      []BucketResult
}

// NewHistogram returns the private histogram of the leaf counts in opt.
func NewHistogram(opt *HistogramOptions) (*Histogram, error) {
	if opt == nil {
		return nil, fmt.Errorf("NewHistogram: options are required")
	}
	if opt.Decomposition == nil || opt.Noise == nil {
		return nil, fmt.Errorf("NewHistogram: Decomposition and Noise are required")
	}
	if err := checks.CheckLeafCounts(opt.LeafCounts, opt.Decomposition.NumLeaves()); err != nil {
		return nil, fmt.Errorf("NewHistogram: %w", err)
	}
	scale, err := opt.Decomposition.Tree().Scale(opt.Epsilon, opt.Decomposition.QuantizationIntervalCount())
	if err != nil {
		return nil, fmt.Errorf("NewHistogram: %w", err)
	}
	z := opt.ConfidenceZ
	if z == 0 {
		z = noise.ConfidenceZ
	}
	prefix := make([]int64, len(opt.LeafCounts)+1)
	for i, c := range opt.LeafCounts {
		prefix[i+1] = prefix[i] + c
	}
	h := &Histogram{
		d:            opt.Decomposition,
		prefix:       prefix,
		epsilon:      opt.Epsilon,
		scale:        scale,
		baseVariance: noise.LaplaceVariance(scale),
		z:            z,
		cdf:          opt.CDF,
		column:       opt.Column,
		noise:        opt.Noise,
	}
	log.Infof("Adding binary mechanism noise to histogram: epsilon=%f, scale=%f, %d buckets, cdf=%t", h.epsilon, h.scale, h.d.NumBuckets(), h.cdf)
	if err := h.addNoise(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Histogram) addNoise() error {
	h.buckets = make([]BucketResult, h.d.NumBuckets())
	for i := range h.buckets {
		left, right, err := h.d.BucketRange(i, h.cdf)
		if err != nil {
			return err
		}
		n, _, err := h.NoiseForRange(left, right, h.scale, h.baseVariance)
		if err != nil {
			return err
		}
		count := float64(h.prefix[right]-h.prefix[left]) + n.Mean
		confidence := n.ConfidenceAt(h.z)
		h.buckets[i] = BucketResult{
			Count:      count,
			Confidence: confidence,
			Uncertain:  count < confidence,
		}
	}
	return nil
}

// NoiseForRange returns the noise of the leaves [left, right): the sum of
// one Laplace(scale) sample per node covering the range, with baseVariance
// per node. It also returns the number of nodes.
func (h *Histogram) NoiseForRange(left, right int64, scale, baseVariance float64) (noise.Noise, int, error) {
	var n noise.Noise
	nodes, err := h.d.Decompose(left, right)
	if err != nil {
		return n, 0, err
	}
	for _, node := range nodes {
		n.Add(h.noise.Laplace(h.column, node, scale), baseVariance)
	}
	return n, len(nodes), nil
}

// RawCount returns the raw count of the leaves [left, right).
func (h *Histogram) RawCount(left, right int64) (int64, error) {
	if left < 0 || right < left || right >= int64(len(h.prefix)) {
		return 0, fmt.Errorf("RawCount: leaves [%d, %d) of %d: %w", left, right, len(h.prefix)-1, decomposition.ErrInvalidRange)
	}
	return h.prefix[right] - h.prefix[left], nil
}

// Bucket returns the private count of bucket i.
func (h *Histogram) Bucket(i int) (BucketResult, error) {
	if i < 0 || i >= len(h.buckets) {
		return BucketResult{}, fmt.Errorf("Bucket: bucket %d of %d: %w", i, len(h.buckets), buckets.ErrInvalidBucketIndex)
	}
	return h.buckets[i], nil
}

// NumBuckets returns the number of buckets.
func (h *Histogram) NumBuckets() int { return len(h.buckets) }

// NumLeaves returns the number of leaves covered by the buckets.
func (h *Histogram) NumLeaves() int64 { return h.d.NumLeaves() }

// Epsilon returns the privacy budget of the histogram.
func (h *Histogram) Epsilon() float64 { return h.epsilon }

// Scale returns the scale of the Laplace noise of every tree node.
func (h *Histogram) Scale() float64 { return h.scale }

// Result returns a copy of the released histogram.
func (h *Histogram) Result() *Result {
	return &Result{
		Buckets: append([]BucketResult(nil), h.buckets...),
		CDF:     h.cdf,
		Epsilon: h.epsilon,
		Scale:   h.scale,
	}
}
