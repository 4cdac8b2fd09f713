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

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"text/tabwriter"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/accuracy"
	"github.com/google/differential-privacy/binarymech/noise"
	"github.com/google/differential-privacy/binarymech/privacy"
	"github.com/google/differential-privacy/binarymech/query"
	securerand "github.com/google/differential-privacy/binarymech/rand"
	"github.com/google/differential-privacy/binarymech/table"
	"github.com/spf13/cobra"
)

type config struct {
	keyFile    string
	schemaFile string
	dataFile   string
	confidence float64
}

// load returns the engine and the table of cfg.
func (cfg *config) load() (*query.Engine, *table.Table, error) {
	if cfg.dataFile == "" {
		return nil, nil, fmt.Errorf("no input file was chosen, set --data")
	}
	schema, err := privacy.LoadSchema(cfg.schemaFile)
	if err != nil {
		return nil, nil, err
	}
	src, err := noise.LoadOrCreateSource(cfg.keyFile)
	if err != nil {
		return nil, nil, err
	}
	e, err := query.NewEngine(schema, src)
	if err != nil {
		return nil, nil, err
	}
	if cfg.confidence != 0 {
		if e, err = e.WithConfidenceLevel(cfg.confidence); err != nil {
			return nil, nil, err
		}
	}
	tbl, err := table.ReadCSV(cfg.dataFile)
	if err != nil {
		return nil, nil, err
	}
	return e, tbl, nil
}

// parseRange returns the filter of column for the flag values min and max.
// Both empty means no filter; one empty end defaults to the global bound.
func parseRange(schema *privacy.Schema, column, min, max string) (*query.NumericRange, *query.StringRange, error) {
	if min == "" && max == "" {
		return nil, nil, nil
	}
	kind, err := schema.Kind(column)
	if err != nil {
		return nil, nil, err
	}
	if kind == privacy.String {
		md, err := schema.StringColumn(column)
		if err != nil {
			return nil, nil, err
		}
		r := &query.StringRange{Min: md.GlobalMin(), Max: md.GlobalMax}
		if min != "" {
			r.Min = min
		}
		if max != "" {
			r.Max = max
		}
		return nil, r, nil
	}
	md, err := schema.NumericColumn(column)
	if err != nil {
		return nil, nil, err
	}
	r := &query.NumericRange{Min: md.GlobalMin, Max: md.GlobalMax}
	if min != "" {
		if r.Min, err = strconv.ParseFloat(min, 64); err != nil {
			return nil, nil, fmt.Errorf("lower bound %q of column %q is not a number: %v", min, column, err)
		}
	}
	if max != "" {
		if r.Max, err = strconv.ParseFloat(max, 64); err != nil {
			return nil, nil, fmt.Errorf("upper bound %q of column %q is not a number: %v", max, column, err)
		}
	}
	return r, nil, nil
}

func newHistogramCmd(cfg *config) *cobra.Command {
	var (
		column     string
		numBuckets int
		min, max   string
		cdf        bool
	)
	cmd := &cobra.Command{
		Use:   "histogram",
		Short: "Release the private histogram of one column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, tbl, err := cfg.load()
			if err != nil {
				return err
			}
			req := query.HistogramRequest{Column: column, NumBuckets: numBuckets}
			if req.NumericRange, req.StringRange, err = parseRange(e.Schema(), column, min, max); err != nil {
				return err
			}
			ctx := cmd.Context()
			var rel *query.HistogramRelease
			if cdf {
				rel, err = e.ComputeHistogramWithCDF(ctx, req, tbl)
			} else {
				rel, err = e.ComputeHistogram(ctx, req, tbl)
			}
			if err != nil {
				return err
			}
			return writeHistogram(cmd.OutOrStdout(), rel)
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Column to bucket.")
	cmd.Flags().IntVar(&numBuckets, "buckets", 10, "Number of buckets.")
	cmd.Flags().StringVar(&min, "min", "", "Lower bound of the range filter.")
	cmd.Flags().StringVar(&max, "max", "", "Upper bound of the range filter.")
	cmd.Flags().BoolVar(&cdf, "cdf", false, "Also release the cumulative distribution.")
	return cmd
}

func newHeatmapCmd(cfg *config) *cobra.Command {
	var (
		req                    query.HeatmapRequest
		xMin, xMax, yMin, yMax string
	)
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Release the private heatmap of a column pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, tbl, err := cfg.load()
			if err != nil {
				return err
			}
			if req.XNumeric, req.XString, err = parseRange(e.Schema(), req.X, xMin, xMax); err != nil {
				return err
			}
			if req.YNumeric, req.YString, err = parseRange(e.Schema(), req.Y, yMin, yMax); err != nil {
				return err
			}
			ctx := cmd.Context()
			rel, err := e.ComputeHeatmap(ctx, req, tbl)
			if err != nil {
				return err
			}
			return writeHeatmap(cmd.OutOrStdout(), rel)
		},
	}
	cmd.Flags().StringVar(&req.X, "x", "", "Column of the x axis.")
	cmd.Flags().StringVar(&req.Y, "y", "", "Column of the y axis.")
	cmd.Flags().IntVar(&req.XBuckets, "xbuckets", 10, "Number of x buckets.")
	cmd.Flags().IntVar(&req.YBuckets, "ybuckets", 10, "Number of y buckets.")
	cmd.Flags().StringVar(&xMin, "xmin", "", "Lower bound of the x range filter.")
	cmd.Flags().StringVar(&xMax, "xmax", "", "Upper bound of the x range filter.")
	cmd.Flags().StringVar(&yMin, "ymin", "", "Lower bound of the y range filter.")
	cmd.Flags().StringVar(&yMax, "ymax", "", "Upper bound of the y range filter.")
	cmd.Flags().BoolVar(&req.Coarsen, "coarsen", true, "Merge uncertain cells with their right neighbors.")
	return cmd
}

func newAccuracyCmd(cfg *config) *cobra.Command {
	var (
		column     string
		iterations int
		samples    int
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Measure the error of private range queries on one column",
		Long: `Measure the error of range queries over the leaves of one column, averaged
over releases under fresh random keys. The key file is not used.

With --samples=0 every range of leaves is measured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, tbl, err := cfg.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, counts, err := leafAxis(ctx, e, tbl, column)
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = securerand.I64()
			}
			log.Infof("Measuring accuracy of column %q over %d leaves: %d iterations, %d samples, seed %d", column, a.NumLeaves(), iterations, samples, seed)
			summary, err := accuracy.Repeat(iterations, func(i int, src *noise.Source) (accuracy.Stats, error) {
				h, err := e.WithNoise(src).Histogram(a, counts, false)
				if err != nil {
					return accuracy.Stats{}, err
				}
				if samples == 0 {
					return accuracy.Exhaustive(h)
				}
				return accuracy.Sampled(h, samples, rand.New(rand.NewSource(seed+int64(i))))
			})
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), column, summary)
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Column to measure.")
	cmd.Flags().IntVar(&iterations, "iterations", 10, "Number of releases under fresh keys.")
	cmd.Flags().IntVar(&samples, "samples", 500, "Number of random ranges per release, 0 for all ranges.")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed of the range sampler, 0 for a random seed.")
	return cmd
}

// leafAxis returns the axis of column with one bucket per leaf, and the raw
// counts of its leaves.
func leafAxis(ctx context.Context, e *query.Engine, tbl *table.Table, column string) (*query.Axis, []int64, error) {
	a, err := e.Axis(column, 1, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if a, err = e.Axis(column, int(a.NumLeaves()), nil, nil); err != nil {
		return nil, nil, err
	}
	counts, err := tbl.CountLeaves(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	return a, counts, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func uncertainMark(b bool) string {
	if b {
		return "?"
	}
	return ""
}

func writeHistogram(w io.Writer, rel *query.HistogramRelease) error {
	fmt.Fprintf(w, "# release %s: %s, epsilon %g\n", rel.ID, rel.Column, rel.Histogram.Epsilon)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	header := "bucket\tcount\t±"
	if rel.CDF != nil {
		header += "\tcdf\t±"
	}
	fmt.Fprintln(tw, header)
	for i, b := range rel.Histogram.Buckets {
		line := fmt.Sprintf("%s\t%s%s\t%s", rel.Labels[i], formatFloat(b.Count), uncertainMark(b.Uncertain), formatFloat(b.Confidence))
		if rel.CDF != nil {
			c := rel.CDF.Buckets[i]
			line += fmt.Sprintf("\t%s\t%s", formatFloat(c.Count), formatFloat(c.Confidence))
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

func writeHeatmap(w io.Writer, rel *query.HeatmapRelease) error {
	fmt.Fprintf(w, "# release %s: %s × %s, epsilon %g, %d merged runs\n", rel.ID, rel.X, rel.Y, rel.Heatmap.Epsilon, len(rel.Heatmap.Runs))
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s \\ %s\t", rel.Y, rel.X)
	for _, l := range rel.XLabels {
		fmt.Fprintf(tw, "%s\t", l)
	}
	fmt.Fprintln(tw)
	for j, yl := range rel.YLabels {
		fmt.Fprintf(tw, "%s\t", yl)
		for i := range rel.XLabels {
			fmt.Fprintf(tw, "%s%s\t", formatFloat(rel.Heatmap.Counts[i][j]), uncertainMark(rel.Heatmap.Uncertain[i][j]))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func writeSummary(w io.Writer, column string, s accuracy.Summary) error {
	fmt.Fprintf(w, "# accuracy of %s over %d releases of %d ranges\n", column, s.Iterations, s.Mean.Ranges)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "measure\tmean\tstddev")
	for _, row := range []struct {
		name      string
		mean, std float64
	}{
		{"nodes per range", s.Mean.AvgNodes, s.StdDev.AvgNodes},
		{"average absolute error", s.Mean.AbsError, s.StdDev.AbsError},
		{"average L2 error", s.Mean.L2Error, s.StdDev.L2Error},
		{"worst-case error", s.Mean.MaxError, s.StdDev.MaxError},
	} {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.name, formatFloat(row.mean), formatFloat(row.std))
	}
	return tw.Flush()
}
