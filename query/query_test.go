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
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/google/differential-privacy/binarymech/dphist"
	"github.com/google/differential-privacy/binarymech/noise"
	"github.com/google/differential-privacy/binarymech/privacy"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

type zeroNoise struct{}

func (zeroNoise) Laplace(int64, decomposition.Node, float64) float64 { return 0 }

func (zeroNoise) Laplace2D(int64, decomposition.Node, int64, decomposition.Node, float64) float64 {
	return 0
}

// rows is an in-memory Counter.
type rows []map[string]string

func (r rows) CountLeaves(ctx context.Context, a *Axis) ([]int64, error) {
	counts := make([]int64, a.NumLeaves())
	for _, row := range r {
		v, ok := row[a.Column]
		if !ok {
			continue
		}
		leaf, err := a.LeafOf(v)
		if err != nil {
			return nil, err
		}
		if leaf >= 0 {
			counts[leaf]++
		}
	}
	return counts, nil
}

func (r rows) CountLeafPairs(ctx context.Context, x, y *Axis) ([][]int64, error) {
	counts := make([][]int64, x.NumLeaves())
	for i := range counts {
		counts[i] = make([]int64, y.NumLeaves())
	}
	for _, row := range r {
		xv, xok := row[x.Column]
		yv, yok := row[y.Column]
		if !xok || !yok {
			continue
		}
		i, err := x.LeafOf(xv)
		if err != nil {
			return nil, err
		}
		j, err := y.LeafOf(yv)
		if err != nil {
			return nil, err
		}
		if i >= 0 && j >= 0 {
			counts[i][j]++
		}
	}
	return counts, nil
}

var testRows = rows{
	{"Delay": "-100", "Origin": "A"},
	{"Delay": "-95", "Origin": "Apple"},
	{"Delay": "0", "Origin": "B"},
	{"Delay": "5", "Origin": "C"},
	{"Delay": "99", "Origin": "Dz"},
	{"Delay": "100", "Origin": "E"},
}

func testSchema(t *testing.T) *privacy.Schema {
	t.Helper()
	s, err := privacy.NewSchema(2)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	delay, err := privacy.NewNumericMetadata(1, 10, -100, 100)
	if err != nil {
		t.Fatalf("NewNumericMetadata: %v", err)
	}
	origin, err := privacy.NewStringMetadata(1, []string{"A", "B", "C", "D"}, "E")
	if err != nil {
		t.Fatalf("NewStringMetadata: %v", err)
	}
	if err := s.SetNumeric("Delay", delay); err != nil {
		t.Fatalf("SetNumeric: %v", err)
	}
	if err := s.SetString("Origin", origin); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := s.SetPairEpsilon("Origin", "Delay", 2); err != nil {
		t.Fatalf("SetPairEpsilon: %v", err)
	}
	return s
}

func testEngine(t *testing.T, src dphist.NoiseSource) *Engine {
	t.Helper()
	e, err := NewEngine(testSchema(t), src)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func counts(r *dphist.Result) []float64 {
	var c []float64
	for _, b := range r.Buckets {
		c = append(c, b.Count)
	}
	return c
}

func TestComputeHistogram(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	for _, tc := range []struct {
		desc       string
		req        HistogramRequest
		want       []float64
		wantLabels []string
	}{
		{
			desc:       "numeric",
			req:        HistogramRequest{Column: "Delay", NumBuckets: 4},
			want:       []float64{2, 0, 2, 2},
			wantLabels: []string{"-100", "-50", "0", "50"},
		},
		{
			desc:       "numeric filtered",
			req:        HistogramRequest{Column: "Delay", NumBuckets: 4, NumericRange: &NumericRange{Min: -15, Max: 14}},
			want:       []float64{0, 0, 2, 0},
			wantLabels: []string{"-20", "-10", "0", "10"},
		},
		{
			desc:       "numeric cdf",
			req:        HistogramRequest{Column: "Delay", NumBuckets: 4, CDF: true},
			want:       []float64{2, 2, 4, 6},
			wantLabels: []string{"-100", "-50", "0", "50"},
		},
		{
			desc:       "string",
			req:        HistogramRequest{Column: "Origin", NumBuckets: 4},
			want:       []float64{2, 1, 1, 1},
			wantLabels: []string{"A", "B", "C", "D"},
		},
		{
			desc:       "string filtered",
			req:        HistogramRequest{Column: "Origin", NumBuckets: 4, StringRange: &StringRange{Min: "B1", Max: "C5"}},
			want:       []float64{1, 1},
			wantLabels: []string{"B", "C"},
		},
	} {
		rel, err := e.ComputeHistogram(context.Background(), tc.req, testRows)
		if err != nil {
			t.Fatalf("ComputeHistogram(%s): %v", tc.desc, err)
		}
		if diff := cmp.Diff(tc.want, counts(rel.Histogram)); diff != "" {
			t.Errorf("ComputeHistogram(%s): unexpected counts (-want +got):\n%s", tc.desc, diff)
		}
		if diff := cmp.Diff(tc.wantLabels, rel.Labels); diff != "" {
			t.Errorf("ComputeHistogram(%s): unexpected labels (-want +got):\n%s", tc.desc, diff)
		}
		if _, err := uuid.Parse(rel.ID); err != nil {
			t.Errorf("ComputeHistogram(%s): release ID %q is not a UUID: %v", tc.desc, rel.ID, err)
		}
		if rel.Histogram.CDF != tc.req.CDF {
			t.Errorf("ComputeHistogram(%s): got CDF=%t, want %t", tc.desc, rel.Histogram.CDF, tc.req.CDF)
		}
	}
}

// A filtered histogram is consistent with the unfiltered one: the buckets
// over the same leaves have the same raw counts and the same noise.
func TestFilteredHistogramIsConsistent(t *testing.T) {
	key := sha256.Sum256([]byte("query test key"))
	src, err := noise.NewSource(key[:])
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	e := testEngine(t, src)
	full, err := e.ComputeHistogram(context.Background(), HistogramRequest{Column: "Delay", NumBuckets: 20}, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}
	filtered, err := e.ComputeHistogram(context.Background(), HistogramRequest{Column: "Delay", NumBuckets: 4, NumericRange: &NumericRange{Min: -20, Max: 20}}, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}
	if diff := cmp.Diff(full.Histogram.Buckets[8:12], filtered.Histogram.Buckets); diff != "" {
		t.Errorf("Filtered buckets differ from unfiltered buckets 8 to 11 (-unfiltered +filtered):\n%s", diff)
	}
}

// The noise of a column does not depend on the other columns of the schema.
func TestHistogramNoiseIgnoresOtherColumns(t *testing.T) {
	key := sha256.Sum256([]byte("query test key"))
	src, err := noise.NewSource(key[:])
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	req := HistogramRequest{Column: "Origin", NumBuckets: 4}
	before, err := testEngine(t, src).ComputeHistogram(context.Background(), req, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}

	s := testSchema(t)
	arrival, err := privacy.NewNumericMetadata(1, 10, -100, 100)
	if err != nil {
		t.Fatalf("NewNumericMetadata: %v", err)
	}
	if err := s.SetNumeric("Arrival", arrival); err != nil {
		t.Fatalf("SetNumeric: %v", err)
	}
	e, err := NewEngine(s, src)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	after, err := e.ComputeHistogram(context.Background(), req, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}
	if diff := cmp.Diff(before.Histogram.Buckets, after.Histogram.Buckets); diff != "" {
		t.Errorf("Histogram of Origin changed after adding a column (-before +after):\n%s", diff)
	}
}

func TestComputeHistogramWithCDF(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	rel, err := e.ComputeHistogramWithCDF(context.Background(), HistogramRequest{Column: "Delay", NumBuckets: 4}, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogramWithCDF: %v", err)
	}
	if diff := cmp.Diff([]float64{2, 0, 2, 2}, counts(rel.Histogram)); diff != "" {
		t.Errorf("ComputeHistogramWithCDF: unexpected histogram (-want +got):\n%s", diff)
	}
	if rel.CDF == nil || !rel.CDF.CDF {
		t.Fatalf("ComputeHistogramWithCDF: got CDF %+v, want a cumulative result", rel.CDF)
	}
	if diff := cmp.Diff([]float64{2, 2, 4, 6}, counts(rel.CDF)); diff != "" {
		t.Errorf("ComputeHistogramWithCDF: unexpected cdf (-want +got):\n%s", diff)
	}
	if rel.Histogram.Epsilon != rel.CDF.Epsilon {
		t.Errorf("ComputeHistogramWithCDF: histogram epsilon %f differs from cdf epsilon %f", rel.Histogram.Epsilon, rel.CDF.Epsilon)
	}
}

func TestWithConfidenceLevel(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	e95, err := e.WithConfidenceLevel(0.95)
	if err != nil {
		t.Fatalf("WithConfidenceLevel: %v", err)
	}
	req := HistogramRequest{Column: "Delay", NumBuckets: 4}
	def, err := e.ComputeHistogram(context.Background(), req, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}
	got, err := e95.ComputeHistogram(context.Background(), req, testRows)
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}
	// The default intervals are 2 standard deviations, 95% ones are 1.96.
	for i, b := range got.Histogram.Buckets {
		want := def.Histogram.Buckets[i].Confidence * 1.959964 / noise.ConfidenceZ
		if !cmp.Equal(want, b.Confidence, cmpopts.EquateApprox(1e-6, 0)) {
			t.Errorf("Bucket %d: got confidence %f, want %f", i, b.Confidence, want)
		}
	}
	if _, err := e.WithConfidenceLevel(1); err == nil {
		t.Errorf("WithConfidenceLevel(1): got nil error, want error")
	}
}

func TestComputeHistogramErrors(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for _, tc := range []struct {
		desc    string
		ctx     context.Context
		req     HistogramRequest
		wantErr error
	}{
		{"unknown column", context.Background(), HistogramRequest{Column: "Dest", NumBuckets: 4}, privacy.ErrMissingMetadata},
		{"string range on numeric column", context.Background(), HistogramRequest{Column: "Delay", NumBuckets: 4, StringRange: &StringRange{Min: "A", Max: "B"}}, nil},
		{"numeric range on string column", context.Background(), HistogramRequest{Column: "Origin", NumBuckets: 4, NumericRange: &NumericRange{Min: 0, Max: 1}}, nil},
		{"range outside the column", context.Background(), HistogramRequest{Column: "Delay", NumBuckets: 4, NumericRange: &NumericRange{Min: 200, Max: 300}}, nil},
		{"no buckets", context.Background(), HistogramRequest{Column: "Delay"}, nil},
		{"canceled", canceled, HistogramRequest{Column: "Delay", NumBuckets: 4}, context.Canceled},
	} {
		_, err := e.ComputeHistogram(tc.ctx, tc.req, testRows)
		if err == nil {
			t.Errorf("ComputeHistogram(%s): got nil error, want error", tc.desc)
			continue
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Errorf("ComputeHistogram(%s): got err %v, want %v", tc.desc, err, tc.wantErr)
		}
	}
}

func TestComputeHeatmap(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	rel, err := e.ComputeHeatmap(context.Background(), HeatmapRequest{X: "Delay", Y: "Origin", XBuckets: 2, YBuckets: 2}, testRows)
	if err != nil {
		t.Fatalf("ComputeHeatmap: %v", err)
	}
	// Delay [-100, 0) holds A and Apple, Delay [0, 100] holds B, C and Dz.
	want := [][]float64{{2, 0}, {1, 2}}
	if diff := cmp.Diff(want, rel.Heatmap.Counts); diff != "" {
		t.Errorf("ComputeHeatmap: unexpected counts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-100", "0"}, rel.XLabels); diff != "" {
		t.Errorf("ComputeHeatmap: unexpected x labels (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "C"}, rel.YLabels); diff != "" {
		t.Errorf("ComputeHeatmap: unexpected y labels (-want +got):\n%s", diff)
	}
	if rel.Heatmap.Epsilon != 2 {
		t.Errorf("ComputeHeatmap: got epsilon %f, want the pair epsilon 2", rel.Heatmap.Epsilon)
	}
	if len(rel.Heatmap.Runs) != 0 {
		t.Errorf("ComputeHeatmap: got runs %v without coarsening, want none", rel.Heatmap.Runs)
	}
}

func TestComputeHeatmapCoarsen(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	rel, err := e.ComputeHeatmap(context.Background(), HeatmapRequest{X: "Delay", Y: "Origin", XBuckets: 4, YBuckets: 4, Coarsen: true}, testRows)
	if err != nil {
		t.Fatalf("ComputeHeatmap: %v", err)
	}
	// Every cell holds at most two rows, far below the confidence, so every
	// row of the heatmap merges into a single run.
	wantRuns := []dphist.Run{{Row: 0, First: 0, Last: 3}, {Row: 1, First: 0, Last: 3}, {Row: 2, First: 0, Last: 3}, {Row: 3, First: 0, Last: 3}}
	if diff := cmp.Diff(wantRuns, rel.Heatmap.Runs); diff != "" {
		t.Errorf("ComputeHeatmap: unexpected runs (-want +got):\n%s", diff)
	}
}

func TestComputeHeatmapClampsBuckets(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	rel, err := e.ComputeHeatmap(context.Background(), HeatmapRequest{X: "Delay", Y: "Origin", XBuckets: 1000, YBuckets: 100}, testRows)
	if err != nil {
		t.Fatalf("ComputeHeatmap: %v", err)
	}
	// Delay has 20 leaves and Origin 4, so there is at most one bucket per
	// leaf.
	if got := len(rel.XLabels); got != 20 {
		t.Errorf("ComputeHeatmap: got %d x buckets, want 20", got)
	}
	if got := len(rel.YLabels); got != 4 {
		t.Errorf("ComputeHeatmap: got %d y buckets, want 4", got)
	}
	if got := len(rel.Heatmap.Counts); got != 20 {
		t.Errorf("ComputeHeatmap: got %d count columns, want 20", got)
	}
}

func TestComputeHeatmapErrors(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	s := testSchema(t)
	dest, err := privacy.NewNumericMetadata(1, 1, 0, 10)
	if err != nil {
		t.Fatalf("NewNumericMetadata: %v", err)
	}
	if err := s.SetNumeric("Dest", dest); err != nil {
		t.Fatalf("SetNumeric: %v", err)
	}
	noPair, err := NewEngine(s, zeroNoise{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for _, tc := range []struct {
		desc    string
		e       *Engine
		req     HeatmapRequest
		wantErr error
	}{
		{"same column", e, HeatmapRequest{X: "Delay", Y: "Delay", XBuckets: 2, YBuckets: 2}, nil},
		{"unknown column", e, HeatmapRequest{X: "Delay", Y: "Dest", XBuckets: 2, YBuckets: 2}, privacy.ErrMissingMetadata},
		{"no pair epsilon", noPair, HeatmapRequest{X: "Delay", Y: "Dest", XBuckets: 2, YBuckets: 2}, privacy.ErrMissingMetadata},
	} {
		_, err := tc.e.ComputeHeatmap(context.Background(), tc.req, testRows)
		if err == nil {
			t.Errorf("ComputeHeatmap(%s): got nil error, want error", tc.desc)
			continue
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Errorf("ComputeHeatmap(%s): got err %v, want %v", tc.desc, err, tc.wantErr)
		}
	}
}

func TestAxisLeafOf(t *testing.T) {
	e := testEngine(t, zeroNoise{})
	delay, err := e.Axis("Delay", 4, &NumericRange{Min: -20, Max: 20}, nil)
	if err != nil {
		t.Fatalf("Axis: %v", err)
	}
	origin, err := e.Axis("Origin", 4, nil, nil)
	if err != nil {
		t.Fatalf("Axis: %v", err)
	}
	for _, tc := range []struct {
		a    *Axis
		v    string
		want int64
	}{
		{delay, "-20", 0},
		{delay, "-0.5", 1},
		{delay, "19.9", 3},
		{delay, "20", -1},
		{delay, "-21", -1},
		{origin, "A", 0},
		{origin, "Cat", 2},
		{origin, "Dzzz", 3},
		{origin, "E", -1},
		{origin, "0", -1},
	} {
		got, err := tc.a.LeafOf(tc.v)
		if err != nil {
			t.Fatalf("LeafOf(%q): %v", tc.v, err)
		}
		if got != tc.want {
			t.Errorf("LeafOf(%q) on column %q: got %d, want %d", tc.v, tc.a.Column, got, tc.want)
		}
	}
	if _, err := delay.LeafOf("late"); err == nil {
		t.Errorf("LeafOf(\"late\"): got nil error, want error")
	}
}
