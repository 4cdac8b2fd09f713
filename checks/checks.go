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

// Package checks contains checks for the parameters of the binary mechanism.
//
// All checks fail fast: privacy-relevant parameters are never clamped or
// defaulted silently.
package checks

import (
	"fmt"
	"math"

	log "github.com/golang/glog"
)

const (
	epsilonName     = "Epsilon"
	granularityName = "Granularity"
)

func verifyName(defaultName string, nameSlice []string) (string, error) {
	var name string
	switch len(nameSlice) {
	case 0:
		name = defaultName
	case 1:
		name = nameSlice[0]
	default:
		return "", fmt.Errorf("This should never happen. There should be 0 or 1 'name' parameter, got %d", len(nameSlice))
	}
	return name, nil
}

// CheckEpsilonStrict returns an error if ε is nonpositive, NaN or +∞.
func CheckEpsilonStrict(epsilon float64, name ...string) error {
	epsName, err := verifyName(epsilonName, name)
	if err != nil {
		return err
	}
	if epsilon <= 0 || math.IsInf(epsilon, 0) || math.IsNaN(epsilon) {
		return fmt.Errorf("%s is %f, must be strictly positive and finite", epsName, epsilon)
	}
	return nil
}

// CheckGranularity returns an error if the leaf width is nonpositive, NaN or +∞.
func CheckGranularity(granularity float64, name ...string) error {
	gName, err := verifyName(granularityName, name)
	if err != nil {
		return err
	}
	if granularity <= 0 || math.IsInf(granularity, 0) || math.IsNaN(granularity) {
		return fmt.Errorf("%s is %f, must be strictly positive and finite", gName, granularity)
	}
	return nil
}

// CheckBoundsFloat64 returns an error if lower is larger than upper, or if either parameter is NaN or ±∞.
func CheckBoundsFloat64(lower, upper float64) error {
	if math.IsNaN(lower) {
		return fmt.Errorf("Lower bound cannot be NaN")
	}
	if math.IsNaN(upper) {
		return fmt.Errorf("Upper bound cannot be NaN")
	}
	if math.IsInf(lower, 0) {
		return fmt.Errorf("Lower bound cannot be infinity")
	}
	if math.IsInf(upper, 0) {
		return fmt.Errorf("Upper bound cannot be infinity")
	}
	if lower > upper {
		return fmt.Errorf("Upper bound (%f) must be larger than lower bound (%f)", upper, lower)
	}
	if lower == upper {
		log.Warningf("Lower bound is equal to upper bound (%f): the domain is a single leaf", upper)
	}
	return nil
}

// CheckBoundsString returns an error if lower is lexicographically larger than upper.
func CheckBoundsString(lower, upper string) error {
	if lower > upper {
		return fmt.Errorf("Upper bound (%q) must not precede lower bound (%q)", upper, lower)
	}
	return nil
}

// CheckLeafBoundaries returns an error if the leaf boundaries are empty or not
// strictly increasing in lexicographic order, or if globalMax does not lie
// strictly after the last boundary.
func CheckLeafBoundaries(boundaries []string, globalMax string) error {
	if len(boundaries) == 0 {
		return fmt.Errorf("Leaf boundaries are empty, must contain at least one boundary")
	}
	for i := 0; i < len(boundaries)-1; i++ {
		if boundaries[i] >= boundaries[i+1] {
			return fmt.Errorf("Leaf boundaries must be strictly increasing in lexicographic order, got %q at index %d followed by %q", boundaries[i], i, boundaries[i+1])
		}
	}
	if last := boundaries[len(boundaries)-1]; globalMax <= last {
		return fmt.Errorf("GlobalMax (%q) must be strictly larger than the last leaf boundary (%q)", globalMax, last)
	}
	return nil
}

// CheckBucketCount returns an error if numBuckets is nonpositive.
func CheckBucketCount(numBuckets int) error {
	if numBuckets <= 0 {
		return fmt.Errorf("Bucket count is %d, must be strictly positive", numBuckets)
	}
	return nil
}

// CheckBranchingFactor returns an error if branchingFactor is less than 2.
func CheckBranchingFactor(branchingFactor int) error {
	if branchingFactor < 2 {
		return fmt.Errorf("Branching Factor is %d, must be at least 2", branchingFactor)
	}
	return nil
}

// CheckConfidenceLevel returns an error if the supplied level is not strictly between 0 and 1.
func CheckConfidenceLevel(level float64) error {
	if level <= 0 || level >= 1 || math.IsNaN(level) || math.IsInf(level, 0) {
		return fmt.Errorf("Confidence level is %f, must be within (0, 1) and finite", level)
	}
	return nil
}

// CheckLeafCounts returns an error if counts does not hold exactly want
// entries or if any of them is negative.
func CheckLeafCounts(counts []int64, want int64) error {
	if int64(len(counts)) != want {
		return fmt.Errorf("Leaf counts have %d entries, want %d", len(counts), want)
	}
	for i, c := range counts {
		if c < 0 {
			return fmt.Errorf("Leaf count at index %d is %d, must be nonnegative", i, c)
		}
	}
	return nil
}
