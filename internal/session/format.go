// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package session

import (
	"math"
	"strconv"
	"strings"
)

// ShortString formats a duration in seconds for the view event:
// magnitudes over 9999 switch to scientific notation with two decimals,
// magnitudes under 0.001 (including zero) collapse to "0", and
// everything in between keeps roughly four significant digits with at
// most two decimals, trailing zeros trimmed.
func ShortString(seconds float64) string {
	mag := math.Abs(seconds)
	if mag > 9999 {
		return strconv.FormatFloat(seconds, 'e', 2, 64)
	}
	if mag < 0.001 {
		return "0"
	}

	intDigits := 1
	if mag >= 1 {
		intDigits = int(math.Floor(math.Log10(mag))) + 1
	}
	decimals := 4 - intDigits
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 2 {
		decimals = 2
	}

	s := strconv.FormatFloat(seconds, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
