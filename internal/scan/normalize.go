package scan

import (
	"strings"
	"unicode/utf8"
)

// Raw inputs longer than this many characters are treated as wedge line
// noise or a concatenated payload rather than a plain code.
const noiseThreshold = 20

// Normalize turns raw scanner, camera or manual text into a canonical code.
//
// Inputs longer than 20 characters are assumed to be scanner noise; the first
// run of 6 to 10 consecutive digits is extracted. If no such run exists the
// raw text passes through unchanged. Shorter inputs are trimmed and used
// as-is. Pure and idempotent: normalizing a normalized code is a no-op.
func Normalize(raw string) string {
	if utf8.RuneCountInString(raw) > noiseThreshold {
		if run := firstDigitRun(raw, 6, 10); run != "" {
			return run
		}
		return raw
	}
	return strings.TrimSpace(raw)
}

// firstDigitRun returns the first maximal run of consecutive digits in s
// whose length is at least min, capped at max characters. Runs shorter than
// min are skipped.
func firstDigitRun(s string, min, max int) string {
	start := -1
	for i := 0; i <= len(s); i++ {
		digit := i < len(s) && s[i] >= '0' && s[i] <= '9'
		if digit {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if run := s[start:i]; len(run) >= min {
				if len(run) > max {
					run = run[:max]
				}
				return run
			}
			start = -1
		}
	}
	return ""
}
