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

package privacy

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/binarymech/checks"
	"github.com/google/differential-privacy/binarymech/decomposition"
	"github.com/ugorji/go/codec"
)

// Type tags of the entries of a schema file.
const (
	numericType = "DoubleColumnPrivacyMetadata"
	stringType  = "StringColumnPrivacyMetadata"
	pairType    = "ColumnPrivacyMetadata"
)

// pairSeparator joins the sorted names of a column pair into its key.
const pairSeparator = "+"

// Kind is the kind of quantization of a column.
type Kind int

const (
	// Numeric columns are quantized into leaves of fixed width.
	Numeric Kind = iota
	// String columns are quantized by explicit leaf boundaries.
	String
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case String:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// columnRecord is the serialized form of one entry of a schema file. Pointer
// fields distinguish missing fields from zero values.
type columnRecord struct {
	Type           string      `codec:"type"`
	Epsilon        *float64    `codec:"epsilon"`
	Granularity    *float64    `codec:"granularity"`
	GlobalMin      *float64    `codec:"globalMin"`
	GlobalMax      interface{} `codec:"globalMax"`
	LeftBoundaries []string    `codec:"leftBoundaries"`
}

type schemaRecord struct {
	BranchingFactor *int                     `codec:"branchingFactor"`
	Metadata        map[string]*columnRecord `codec:"metadata"`
}

// Schema is the privacy metadata of a dataset: the quantization and budget of
// every column, the budget of every column pair that can be queried as a
// heatmap, and the branching factor of the interval trees.
//
// An entry that fails validation does not invalidate the rest of the schema:
// queries on that column (or pair) fail with the recorded error.
type Schema struct {
	BranchingFactor int

	numeric map[string]*NumericMetadata
	strs    map[string]*StringMetadata
	pairs   map[string]float64
	invalid map[string]error
}

// NewSchema returns an empty Schema.
func NewSchema(branchingFactor int) (*Schema, error) {
	if err := checks.CheckBranchingFactor(branchingFactor); err != nil {
		return nil, fmt.Errorf("NewSchema: %v: %w", err, ErrInvalidMetadata)
	}
	return &Schema{
		BranchingFactor: branchingFactor,
		numeric:         make(map[string]*NumericMetadata),
		strs:            make(map[string]*StringMetadata),
		pairs:           make(map[string]float64),
		invalid:         make(map[string]error),
	}, nil
}

// PairKey returns the key of the column pair (a, b), which does not depend on
// the order of a and b.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + pairSeparator + b
}

// SetNumeric validates m and sets it as the metadata of column.
func (s *Schema) SetNumeric(column string, m *NumericMetadata) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("column %q: %w", column, err)
	}
	s.clear(column)
	s.numeric[column] = m
	return nil
}

// SetString validates m and sets it as the metadata of column.
func (s *Schema) SetString(column string, m *StringMetadata) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("column %q: %w", column, err)
	}
	s.clear(column)
	s.strs[column] = m
	return nil
}

// SetPairEpsilon sets the budget of heatmaps over columns a and b.
func (s *Schema) SetPairEpsilon(a, b string, epsilon float64) error {
	key := PairKey(a, b)
	if err := checks.CheckEpsilonStrict(epsilon); err != nil {
		return fmt.Errorf("column pair %q: %v: %w", key, err, ErrInvalidMetadata)
	}
	delete(s.invalid, key)
	s.pairs[key] = epsilon
	return nil
}

func (s *Schema) clear(column string) {
	delete(s.numeric, column)
	delete(s.strs, column)
	delete(s.invalid, column)
}

// Kind returns the kind of column.
func (s *Schema) Kind(column string) (Kind, error) {
	if err, ok := s.invalid[column]; ok {
		return 0, err
	}
	if _, ok := s.numeric[column]; ok {
		return Numeric, nil
	}
	if _, ok := s.strs[column]; ok {
		return String, nil
	}
	return 0, fmt.Errorf("column %q: %w", column, ErrMissingMetadata)
}

// NumericColumn returns the metadata of a numeric column.
func (s *Schema) NumericColumn(column string) (*NumericMetadata, error) {
	if err, ok := s.invalid[column]; ok {
		return nil, err
	}
	if m, ok := s.numeric[column]; ok {
		return m, nil
	}
	if _, ok := s.strs[column]; ok {
		return nil, fmt.Errorf("column %q is a string column, not numeric: %w", column, ErrInvalidMetadata)
	}
	return nil, fmt.Errorf("column %q: %w", column, ErrMissingMetadata)
}

// StringColumn returns the metadata of a string column.
func (s *Schema) StringColumn(column string) (*StringMetadata, error) {
	if err, ok := s.invalid[column]; ok {
		return nil, err
	}
	if m, ok := s.strs[column]; ok {
		return m, nil
	}
	if _, ok := s.numeric[column]; ok {
		return nil, fmt.Errorf("column %q is a numeric column, not string: %w", column, ErrInvalidMetadata)
	}
	return nil, fmt.Errorf("column %q: %w", column, ErrMissingMetadata)
}

// Epsilon returns the budget of column.
func (s *Schema) Epsilon(column string) (float64, error) {
	k, err := s.Kind(column)
	if err != nil {
		return 0, err
	}
	if k == Numeric {
		return s.numeric[column].Epsilon, nil
	}
	return s.strs[column].Epsilon, nil
}

// PairEpsilon returns the budget of heatmaps over columns a and b.
func (s *Schema) PairEpsilon(a, b string) (float64, error) {
	key := PairKey(a, b)
	if err, ok := s.invalid[key]; ok {
		return 0, err
	}
	eps, ok := s.pairs[key]
	if !ok {
		return 0, fmt.Errorf("column pair %q: %w", key, ErrMissingMetadata)
	}
	return eps, nil
}

// Columns returns the names of all quantized columns, sorted.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, len(s.numeric)+len(s.strs))
	for c := range s.numeric {
		cols = append(cols, c)
	}
	for c := range s.strs {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// ColumnTag returns the noise tag of column: the leading 64 bits of the
// SHA-256 hash of its name. Two columns of a dataset almost surely have
// distinct tags, and the tag of a column does not depend on the other
// columns of the schema.
func (s *Schema) ColumnTag(column string) (int64, error) {
	if _, err := s.Kind(column); err != nil {
		return 0, err
	}
	sum := sha256.Sum256([]byte(column))
	return int64(binary.BigEndian.Uint64(sum[:8])), nil
}

// Tree returns the interval tree of the schema's branching factor.
func (s *Schema) Tree() (decomposition.Tree, error) {
	return decomposition.NewTree(s.BranchingFactor)
}

func jsonHandle() *codec.JsonHandle {
	h := &codec.JsonHandle{}
	h.Indent = 2
	return h
}

// LoadSchema reads the schema file at path.
func LoadSchema(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open privacy schema %q: %w", path, err)
	}
	defer f.Close()
	s, err := DecodeSchema(f)
	if err != nil {
		return nil, fmt.Errorf("couldn't load privacy schema %q: %w", path, err)
	}
	log.Infof("Loaded privacy schema %q: %d columns, %d column pairs, branching factor %d",
		path, len(s.numeric)+len(s.strs), len(s.pairs), s.BranchingFactor)
	return s, nil
}

// DecodeSchema reads a JSON schema from r.
func DecodeSchema(r io.Reader) (*Schema, error) {
	var rec schemaRecord
	if err := codec.NewDecoder(r, jsonHandle()).Decode(&rec); err != nil {
		return nil, fmt.Errorf("couldn't decode privacy schema: %w", err)
	}
	k := decomposition.DefaultBranchingFactor
	if rec.BranchingFactor != nil {
		k = *rec.BranchingFactor
	}
	s, err := NewSchema(k)
	if err != nil {
		return nil, err
	}
	if rec.Metadata == nil {
		return nil, fmt.Errorf("privacy schema has no \"metadata\" entry: %w", ErrMissingMetadata)
	}
	for name, c := range rec.Metadata {
		if err := s.addRecord(name, c); err != nil {
			log.Warningf("Privacy metadata of %q is unusable: %v", name, err)
			s.clear(name)
			delete(s.pairs, name)
			s.invalid[name] = err
		}
	}
	return s, nil
}

func (s *Schema) addRecord(name string, c *columnRecord) error {
	if c == nil {
		return fmt.Errorf("entry %q is null: %w", name, ErrMissingMetadata)
	}
	if c.Epsilon == nil {
		return fmt.Errorf("entry %q has no epsilon: %w", name, ErrMissingMetadata)
	}
	switch c.Type {
	case numericType:
		if c.Granularity == nil || c.GlobalMin == nil || c.GlobalMax == nil {
			return fmt.Errorf("numeric column %q needs granularity, globalMin and globalMax: %w", name, ErrMissingMetadata)
		}
		max, ok := toFloat64(c.GlobalMax)
		if !ok {
			return fmt.Errorf("numeric column %q has non-numeric globalMax %v: %w", name, c.GlobalMax, ErrInvalidMetadata)
		}
		return s.SetNumeric(name, &NumericMetadata{
			Epsilon:     *c.Epsilon,
			Granularity: *c.Granularity,
			GlobalMin:   *c.GlobalMin,
			GlobalMax:   max,
		})
	case stringType:
		if c.LeftBoundaries == nil || c.GlobalMax == nil {
			return fmt.Errorf("string column %q needs leftBoundaries and globalMax: %w", name, ErrMissingMetadata)
		}
		max, ok := c.GlobalMax.(string)
		if !ok {
			return fmt.Errorf("string column %q has non-string globalMax %v: %w", name, c.GlobalMax, ErrInvalidMetadata)
		}
		return s.SetString(name, &StringMetadata{
			Epsilon:            *c.Epsilon,
			LeafLeftBoundaries: c.LeftBoundaries,
			GlobalMax:          max,
		})
	case pairType:
		cols := strings.Split(name, pairSeparator)
		if len(cols) != 2 {
			return fmt.Errorf("column pair key %q must be two column names joined by %q: %w", name, pairSeparator, ErrInvalidMetadata)
		}
		if PairKey(cols[0], cols[1]) != name {
			return fmt.Errorf("column pair key %q must list its columns in sorted order: %w", name, ErrInvalidMetadata)
		}
		return s.SetPairEpsilon(cols[0], cols[1], *c.Epsilon)
	}
	return fmt.Errorf("entry %q has unknown type %q: %w", name, c.Type, ErrInvalidMetadata)
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Encode writes s to w in the JSON schema format, with sorted keys. Invalid
// entries are dropped.
func (s *Schema) Encode(w io.Writer) error {
	md := make(map[string]map[string]interface{})
	for name, m := range s.numeric {
		md[name] = map[string]interface{}{
			"type":        numericType,
			"epsilon":     m.Epsilon,
			"granularity": m.Granularity,
			"globalMin":   m.GlobalMin,
			"globalMax":   m.GlobalMax,
		}
	}
	for name, m := range s.strs {
		md[name] = map[string]interface{}{
			"type":           stringType,
			"epsilon":        m.Epsilon,
			"leftBoundaries": m.LeafLeftBoundaries,
			"globalMax":      m.GlobalMax,
		}
	}
	for name, eps := range s.pairs {
		md[name] = map[string]interface{}{
			"type":    pairType,
			"epsilon": eps,
		}
	}
	rec := map[string]interface{}{
		"branchingFactor": s.BranchingFactor,
		"metadata":        md,
	}
	h := jsonHandle()
	h.Canonical = true
	if err := codec.NewEncoder(w, h).Encode(rec); err != nil {
		return fmt.Errorf("couldn't encode privacy schema: %w", err)
	}
	return nil
}

// Save writes s to the file at path, replacing any previous content.
func (s *Schema) Save(path string) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("couldn't save privacy schema %q: %w", path, err)
	}
	log.Infof("Saved privacy schema to %q", path)
	return nil
}
