// Package safeconv provides safe integer type conversion functions that panic on overflow.
package safeconv

import "math"

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// MustIntToInt32 converts int to int32, panics on bounds violation.
// Use only when bounds violations are logically impossible.
func MustIntToInt32(v int) int32 {
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic("safeconv: int to int32 out of bounds")
	}

	return int32(v)
}

// MustUintToInt converts uint to int, panics on overflow.
// Use only when overflow is logically impossible.
func MustUintToInt(v uint) int {
	if v > uint(MaxInt) {
		panic("safeconv: uint to int overflow")
	}

	return int(v)
}

// MustInt64ToInt converts int64 to int, panics on overflow.
// Use only when overflow is logically impossible.
func MustInt64ToInt(v int64) int {
	if v > int64(MaxInt) || v < -int64(MaxInt)-1 {
		panic("safeconv: int64 to int overflow")
	}

	return int(v)
}
