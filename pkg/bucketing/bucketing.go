// Package bucketing implements deterministic, consistent-hash percentage
// rollouts: the same (key, salt, attribute value) always lands in the
// same bucket, independent of process or time.
package bucketing

import (
	"crypto/sha1" //nolint:gosec // not a security boundary; this is LD-style deterministic bucketing
	"encoding/hex"
	"strconv"
)

// longScale is the denominator used to turn the first 15 hex digits of a
// SHA-1 digest into a float in [0, 1).
const longScale = 0xFFFFFFFFFFFFFFF

// Bucket computes the deterministic bucket fraction in [0, 1) for
// (key, salt, bucketByValue, secondary). key is the owning flag or
// segment key; secondary, if non-empty, is appended to the hash input
// per spec §4.6.
func Bucket(key, salt, bucketByValue, secondary string) float64 {
	input := key + "." + salt + "." + bucketByValue
	if secondary != "" {
		input += "." + secondary
	}
	sum := sha1.Sum([]byte(input)) //nolint:gosec
	hexDigest := hex.EncodeToString(sum[:])
	first15 := hexDigest[:15]
	n, err := strconv.ParseUint(first15, 16, 64)
	if err != nil {
		return 0
	}
	return float64(n) / float64(longScale)
}

// VariationForBucket walks a weighted-variation table (weights summing
// to 100000) and returns the index into that table whose cumulative
// weight is the first to exceed bucket. If the weights don't reach bucket
// due to rounding, the last entry is returned (clamped); for an empty
// table the result is -1.
func VariationForBucket(bucket float64, cumulative []int) int {
	total := 0
	for i, w := range cumulative {
		total += w
		if bucket < float64(total)/100000.0 {
			return i
		}
	}
	return len(cumulative) - 1
}
