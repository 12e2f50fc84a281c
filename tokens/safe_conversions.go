package tokens

import (
	"fmt"
	"math"
)

// safeUint64ToInt64 safely converts uint64 to int64, checking for overflow.
//
// CWE-190: Integer Overflow or Wraparound
func safeUint64ToInt64(val uint64) (int64, error) {
	if val > math.MaxInt64 {
		return 0, fmt.Errorf("uint64 value exceeds int64 max: %d", val)
	}
	return int64(val), nil
}

// safeInt64ToUint64 safely converts int64 to uint64, checking for negative
// values.
//
// CWE-190: Integer Overflow or Wraparound
func safeInt64ToUint64(val int64) (uint64, error) {
	if val < 0 {
		return 0, fmt.Errorf("cannot convert negative int64 to uint64: %d", val)
	}
	return uint64(val), nil
}
