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

// Package table holds a dataset in memory and computes the raw leaf counts
// of private queries over it.
package table

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/query"
)

// rowsPerCancelCheck is the number of rows scanned between two checks of
// the context.
const rowsPerCancelCheck = 4096

// Table is a dataset with named string columns. An empty cell is a missing
// value, which is never counted.
type Table struct {
	columns map[string]int
	header  []string
	rows    [][]string
}

// ReadCSV reads a table from a CSV file whose first line holds the column
// names.
func ReadCSV(inputFile string) (*Table, error) {
	csvFile, err := os.Open(inputFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the csv file = %q, err = %v", inputFile, err)
	}
	defer csvFile.Close()

	t, err := Parse(csvFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read the csv file = %q, err = %w", inputFile, err)
	}
	log.Infof("Read %d rows with columns %v from %q", len(t.rows), t.header, inputFile)
	return t, nil
}

// Parse reads a table in CSV format whose first line holds the column names.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no header line")
	}
	if err != nil {
		return nil, err
	}
	t := &Table{columns: make(map[string]int, len(header)), header: header}
	for i, name := range header {
		if _, ok := t.columns[name]; ok {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		t.columns[name] = i
	}
	// The reader checks that every record has as many fields as the header.
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

// Columns returns the column names in file order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.header...)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.rows) }

func (t *Table) column(name string) (int, error) {
	i, ok := t.columns[name]
	if !ok {
		return 0, fmt.Errorf("table has no column %q", name)
	}
	return i, nil
}

// leafOf returns the leaf of the value of row in column i of a, or -1 if the
// value is missing or outside the leaves of a.
func leafOf(a *query.Axis, row []string, i int) (int64, error) {
	if row[i] == "" {
		return -1, nil
	}
	return a.LeafOf(row[i])
}

// CountLeaves implements query.Counter.
func (t *Table) CountLeaves(ctx context.Context, a *query.Axis) ([]int64, error) {
	col, err := t.column(a.Column)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, a.NumLeaves())
	for n, row := range t.rows {
		if n%rowsPerCancelCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		leaf, err := leafOf(a, row, col)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+1, err)
		}
		if leaf >= 0 {
			counts[leaf]++
		}
	}
	return counts, nil
}

// CountLeafPairs implements query.Counter.
func (t *Table) CountLeafPairs(ctx context.Context, x, y *query.Axis) ([][]int64, error) {
	xCol, err := t.column(x.Column)
	if err != nil {
		return nil, err
	}
	yCol, err := t.column(y.Column)
	if err != nil {
		return nil, err
	}
	counts := make([][]int64, x.NumLeaves())
	for i := range counts {
		counts[i] = make([]int64, y.NumLeaves())
	}
	for n, row := range t.rows {
		if n%rowsPerCancelCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i, err := leafOf(x, row, xCol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+1, err)
		}
		j, err := leafOf(y, row, yCol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+1, err)
		}
		if i >= 0 && j >= 0 {
			counts[i][j]++
		}
	}
	return counts, nil
}
