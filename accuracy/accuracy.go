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

// Package accuracy measures the error of private histograms and heatmaps over
// range queries. The error of a range is the noise of its cover, so no raw
// counts are needed.
package accuracy

import (
	"fmt"
	"math"
	"math/rand"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/dphist"
	"github.com/google/differential-privacy/binarymech/noise"
	securerand "github.com/google/differential-privacy/binarymech/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the error of a set of range queries.
type Stats struct {
	Ranges int
	// AvgNodes is the average number of tree nodes (or node pairs) per range.
	AvgNodes float64
	// AbsError is the average absolute error.
	AbsError float64
	// L2Error is the L2 norm of the errors divided by the number of ranges.
	L2Error  float64
	MaxError float64
}

func newStats(errs, nodes []float64) Stats {
	if len(errs) == 0 {
		return Stats{}
	}
	abs := make([]float64, len(errs))
	for i, e := range errs {
		abs[i] = math.Abs(e)
	}
	n := float64(len(errs))
	return Stats{
		Ranges:   len(errs),
		AvgNodes: stat.Mean(nodes, nil),
		AbsError: stat.Mean(abs, nil),
		L2Error:  floats.Norm(errs, 2) / n,
		MaxError: floats.Max(abs),
	}
}

func histogramRange(h *dphist.Histogram, left, right int64, errs, nodes []float64) ([]float64, []float64, error) {
	n, k, err := h.NoiseForRange(left, right, h.Scale(), noise.LaplaceVariance(h.Scale()))
	if err != nil {
		return nil, nil, err
	}
	return append(errs, n.Mean), append(nodes, float64(k)), nil
}

// Exhaustive returns the error of h over every nonempty range of its leaves.
func Exhaustive(h *dphist.Histogram) (Stats, error) {
	numLeaves := h.NumLeaves()
	var errs, nodes []float64
	var err error
	for left := int64(0); left < numLeaves; left++ {
		for right := left + 1; right <= numLeaves; right++ {
			if errs, nodes, err = histogramRange(h, left, right, errs, nodes); err != nil {
				return Stats{}, err
			}
		}
	}
	return newStats(errs, nodes), nil
}

// sampleRange returns a nonempty range of [0, n) with a uniform left end and
// a right end uniform over the rest.
func sampleRange(rng *rand.Rand, n int64) (left, right int64) {
	left = rng.Int63n(n)
	return left, left + 1 + rng.Int63n(n-left)
}

// Sampled returns the error of h over samples random ranges of its leaves.
func Sampled(h *dphist.Histogram, samples int, rng *rand.Rand) (Stats, error) {
	if samples <= 0 {
		return Stats{}, fmt.Errorf("Sampled: sample count is %d, must be strictly positive", samples)
	}
	numLeaves := h.NumLeaves()
	errs := make([]float64, 0, samples)
	nodes := make([]float64, 0, samples)
	var err error
	for i := 0; i < samples; i++ {
		left, right := sampleRange(rng, numLeaves)
		if errs, nodes, err = histogramRange(h, left, right, errs, nodes); err != nil {
			return Stats{}, err
		}
	}
	return newStats(errs, nodes), nil
}

// SampledHeatmap returns the error of h over samples random rectangles of
// its leaves.
func SampledHeatmap(h *dphist.Heatmap, samples int, rng *rand.Rand) (Stats, error) {
	if samples <= 0 {
		return Stats{}, fmt.Errorf("SampledHeatmap: sample count is %d, must be strictly positive", samples)
	}
	nx, ny := h.NumLeaves()
	errs := make([]float64, 0, samples)
	nodes := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		x0, x1 := sampleRange(rng, nx)
		y0, y1 := sampleRange(rng, ny)
		n, k, err := h.NoiseForRange(x0, x1, y0, y1)
		if err != nil {
			return Stats{}, err
		}
		errs = append(errs, n.Mean)
		nodes = append(nodes, float64(k))
	}
	return newStats(errs, nodes), nil
}

// Summary is the mean and standard deviation of Stats over repeated
// releases.
type Summary struct {
	Iterations   int
	Mean, StdDev Stats
}

// Summarize returns the mean and sample standard deviation of every field of
// runs. The standard deviation of a single run is 0.
func Summarize(runs []Stats) Summary {
	s := Summary{Iterations: len(runs)}
	if len(runs) == 0 {
		return s
	}
	field := func(f func(Stats) float64) (mean, std float64) {
		x := make([]float64, len(runs))
		for i, r := range runs {
			x[i] = f(r)
		}
		if len(x) == 1 {
			return x[0], 0
		}
		return stat.MeanStdDev(x, nil)
	}
	ranges, _ := field(func(r Stats) float64 { return float64(r.Ranges) })
	s.Mean.Ranges = int(math.Round(ranges))
	s.Mean.AvgNodes, s.StdDev.AvgNodes = field(func(r Stats) float64 { return r.AvgNodes })
	s.Mean.AbsError, s.StdDev.AbsError = field(func(r Stats) float64 { return r.AbsError })
	s.Mean.L2Error, s.StdDev.L2Error = field(func(r Stats) float64 { return r.L2Error })
	s.Mean.MaxError, s.StdDev.MaxError = field(func(r Stats) float64 { return r.MaxError })
	return s
}

// Repeat calls measure iterations times, each time with a Source under a
// fresh random key, and summarizes the results.
func Repeat(iterations int, measure func(iteration int, src *noise.Source) (Stats, error)) (Summary, error) {
	if iterations <= 0 {
		return Summary{}, fmt.Errorf("Repeat: iteration count is %d, must be strictly positive", iterations)
	}
	runs := make([]Stats, 0, iterations)
	for i := 0; i < iterations; i++ {
		key, err := securerand.Bytes(noise.KeySize)
		if err != nil {
			return Summary{}, fmt.Errorf("Repeat: generating key: %w", err)
		}
		src, err := noise.NewSource(key)
		if err != nil {
			return Summary{}, fmt.Errorf("Repeat: %w", err)
		}
		st, err := measure(i, src)
		if err != nil {
			return Summary{}, fmt.Errorf("Repeat: iteration %d: %w", i, err)
		}
		log.V(1).Infof("Iteration %d: average absolute error %f, L2 error %f, worst-case error %f", i, st.AbsError, st.L2Error, st.MaxError)
		runs = append(runs, st)
	}
	return Summarize(runs), nil
}
