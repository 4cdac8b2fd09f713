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

package accuracy

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/differential-privacy/binarymech/buckets"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/dphist"
	"github.com/google/differential-privacy/binarymech/noise"
	"github.com/google/differential-privacy/binarymech/privacy"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// unitNoise adds 1 to every node, so the error of a range is its node count.
type unitNoise struct{}

func (unitNoise) Laplace(int64, decomposition.Node, float64) float64 { return 1 }

func (unitNoise) Laplace2D(int64, decomposition.Node, int64, decomposition.Node, float64) float64 {
	return 1
}

func decompositionOf(t *testing.T, numLeaves int) *buckets.NumericDecomposition {
	t.Helper()
	md, err := privacy.NewNumericMetadata(1, 1, 0, float64(numLeaves))
	if err != nil {
		t.Fatalf("NewNumericMetadata: %v", err)
	}
	tree, err := decomposition.NewTree(2)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	d, err := buckets.NewNumericDecomposition(0, float64(numLeaves), numLeaves, md, tree)
	if err != nil {
		t.Fatalf("NewNumericDecomposition: %v", err)
	}
	return d
}

func histogram(t *testing.T, numLeaves int, src dphist.NoiseSource) *dphist.Histogram {
	t.Helper()
	h, err := dphist.NewHistogram(&dphist.HistogramOptions{
		Decomposition: decompositionOf(t, numLeaves),
		LeafCounts:    make([]int64, numLeaves),
		Epsilon:       1,
		Noise:         src,
	})
	if err != nil {
		t.Fatalf("NewHistogram: %v", err)
	}
	return h
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestExhaustive(t *testing.T) {
	got, err := Exhaustive(histogram(t, 4, unitNoise{}))
	if err != nil {
		t.Fatalf("Exhaustive: %v", err)
	}
	// The 10 ranges of 4 leaves are covered by 1, 1, 2, 1, 1, 2, 2, 1, 1 and
	// 1 nodes.
	want := Stats{
		Ranges:   10,
		AvgNodes: 1.3,
		AbsError: 1.3,
		L2Error:  math.Sqrt(19) / 10,
		MaxError: 2,
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Exhaustive: unexpected stats (-want +got):\n%s", diff)
	}
}

func TestSampled(t *testing.T) {
	h := histogram(t, 64, unitNoise{})
	got, err := Sampled(h, 1000, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Sampled: %v", err)
	}
	if got.Ranges != 1000 {
		t.Errorf("Sampled: got %d ranges, want 1000", got.Ranges)
	}
	if !cmp.Equal(got.AbsError, got.AvgNodes, approx) {
		t.Errorf("Sampled: got average error %f, want the average node count %f", got.AbsError, got.AvgNodes)
	}
	// A range of 64 leaves in a dyadic tree is covered by at most 2·log2(64)
	// nodes.
	if got.MaxError < 1 || got.MaxError > 12 {
		t.Errorf("Sampled: got worst-case error %f, want within [1, 12]", got.MaxError)
	}
	again, err := Sampled(h, 1000, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Sampled: %v", err)
	}
	if got != again {
		t.Errorf("Sampled: got %+v and %+v with the same seed, want identical", got, again)
	}
	if _, err := Sampled(h, 0, rand.New(rand.NewSource(7))); err == nil {
		t.Errorf("Sampled with no samples: got nil error, want error")
	}
}

func TestSampledHeatmap(t *testing.T) {
	x, y := decompositionOf(t, 16), decompositionOf(t, 8)
	counts := make([][]int64, 16)
	for i := range counts {
		counts[i] = make([]int64, 8)
	}
	h, err := dphist.NewHeatmap(&dphist.HeatmapOptions{X: x, Y: y, YColumn: 1, LeafCounts: counts, Epsilon: 1, Noise: unitNoise{}})
	if err != nil {
		t.Fatalf("NewHeatmap: %v", err)
	}
	got, err := SampledHeatmap(h, 500, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("SampledHeatmap: %v", err)
	}
	if got.Ranges != 500 {
		t.Errorf("SampledHeatmap: got %d ranges, want 500", got.Ranges)
	}
	if !cmp.Equal(got.AbsError, got.AvgNodes, approx) {
		t.Errorf("SampledHeatmap: got average error %f, want the average node pair count %f", got.AbsError, got.AvgNodes)
	}
}

// With real noise, the squared error of a range has the expectation of the
// variance of its cover.
func TestExhaustiveMatchesVariance(t *testing.T) {
	var runs []Stats
	var wantSquared float64
	for i := 0; i < 100; i++ {
		src, err := noise.NewSource(append(make([]byte, noise.KeySize-1), byte(i)))
		if err != nil {
			t.Fatalf("NewSource: %v", err)
		}
		h := histogram(t, 32, src)
		st, err := Exhaustive(h)
		if err != nil {
			t.Fatalf("Exhaustive: %v", err)
		}
		runs = append(runs, st)
		wantSquared = st.AvgNodes * noise.LaplaceVariance(h.Scale())
	}
	var gotSquared float64
	for _, r := range runs {
		gotSquared += math.Pow(r.L2Error*float64(r.Ranges), 2) / float64(r.Ranges)
	}
	gotSquared /= float64(len(runs))
	// Ranges of one key share nodes, so allow a generous 25% relative
	// deviation over 100 keys.
	if math.Abs(gotSquared-wantSquared) > 0.25*wantSquared {
		t.Errorf("Exhaustive: got mean squared error %f, want close to %f", gotSquared, wantSquared)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]Stats{
		{Ranges: 10, AvgNodes: 2, AbsError: 1, L2Error: 0.5, MaxError: 4},
		{Ranges: 10, AvgNodes: 2, AbsError: 3, L2Error: 1.5, MaxError: 6},
	})
	want := Summary{
		Iterations: 2,
		Mean:       Stats{Ranges: 10, AvgNodes: 2, AbsError: 2, L2Error: 1, MaxError: 5},
		StdDev:     Stats{AbsError: math.Sqrt2, L2Error: math.Sqrt(0.5), MaxError: math.Sqrt2},
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Summarize: unexpected summary (-want +got):\n%s", diff)
	}
	single := Summarize([]Stats{{Ranges: 1, AbsError: 3}})
	if single.StdDev.AbsError != 0 || single.Mean.AbsError != 3 {
		t.Errorf("Summarize of one run: got %+v, want mean 3 and standard deviation 0", single)
	}
}

func TestRepeat(t *testing.T) {
	seen := make(map[float64]bool)
	summary, err := Repeat(3, func(i int, src *noise.Source) (Stats, error) {
		st, err := Exhaustive(histogram(t, 8, src))
		if err == nil {
			seen[st.AbsError] = true
		}
		return st, err
	})
	if err != nil {
		t.Fatalf("Repeat: %v", err)
	}
	if summary.Iterations != 3 {
		t.Errorf("Repeat: got %d iterations, want 3", summary.Iterations)
	}
	if len(seen) != 3 {
		t.Errorf("Repeat: got %d distinct errors over 3 iterations, want 3 from fresh keys", len(seen))
	}
}

func TestRepeatErrors(t *testing.T) {
	if _, err := Repeat(0, func(int, *noise.Source) (Stats, error) { return Stats{}, nil }); err == nil {
		t.Errorf("Repeat(0): got nil error, want error")
	}
	errMeasure := errors.New("measure failed")
	_, err := Repeat(2, func(int, *noise.Source) (Stats, error) { return Stats{}, errMeasure })
	if !errors.Is(err, errMeasure) {
		t.Errorf("Repeat: got err %v, want %v", err, errMeasure)
	}
}
