package utils

import (
	"math"
	"time"
)

const Day = 24 * time.Hour

// CeilDays counts partial days as whole ones. Negative spans round toward zero.
func CeilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(Day)))
}

// DaysBetween is CeilDays(to - from).
func DaysBetween(from, to time.Time) int {
	return CeilDays(to.Sub(from))
}
