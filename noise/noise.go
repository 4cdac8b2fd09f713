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

// Package noise generates the keyed, replayable Laplace noise of the binary
// mechanism and accumulates it over the nodes that answer a range query.
package noise

import (
	"fmt"
	"math"

	"github.com/google/differential-privacy/binarymech/checks"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConfidenceZ is the z-score used by Confidence. Two standard deviations
// cover roughly 95% of the noise mass.
const ConfidenceZ = 2.0

// Noise is the sum of independent Laplace samples drawn for the nodes of one
// range query, together with the sum of their variances.
type Noise struct {
	Mean     float64
	Variance float64
}

// Clear resets n to no samples.
func (n *Noise) Clear() {
	n.Mean = 0
	n.Variance = 0
}

// Add accumulates one sample with the given variance.
func (n *Noise) Add(sample, variance float64) {
	n.Mean += sample
	n.Variance += variance
}

// StdDev returns the standard deviation of the accumulated noise.
func (n Noise) StdDev() float64 {
	return math.Sqrt(n.Variance)
}

// Confidence returns ConfidenceZ standard deviations of the accumulated noise.
func (n Noise) Confidence() float64 {
	return n.ConfidenceAt(ConfidenceZ)
}

// ConfidenceAt returns z standard deviations of the accumulated noise.
func (n Noise) ConfidenceAt(z float64) float64 {
	return z * n.StdDev()
}

// LaplaceVariance returns the variance 2·scale² of Laplace(0, scale).
func LaplaceVariance(scale float64) float64 {
	return 2 * scale * scale
}

// ZForConfidenceLevel returns the two-sided z-score of a normal distribution
// for the given confidence level, e.g. 1.96 for 0.95.
func ZForConfidenceLevel(level float64) (float64, error) {
	if err := checks.CheckConfidenceLevel(level); err != nil {
		return 0, fmt.Errorf("ZForConfidenceLevel: %w", err)
	}
	return distuv.UnitNormal.Quantile(0.5 + level/2), nil
}
