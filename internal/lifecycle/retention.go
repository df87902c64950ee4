// Package lifecycle manages how long moments live: emotion-weighted
// retention windows, decay of expired moments, hard cleanup, and
// reinforcement of recalled moments.
package lifecycle

import "math"

const (
	// minRetentionDays is the floor every moment gets regardless of
	// emotional weight.
	minRetentionDays = 7.0

	// maxRetentionDays caps retention for the most intense moments.
	maxRetentionDays = 90.0

	// retentionRange spans the floor-to-cap window scaled by intensity.
	retentionRange = 83.0

	// retentionExponent shapes the curve. Values above 1 make it
	// convex: only strongly emotional moments earn long retention.
	retentionExponent = 1.5
)

// RetentionDays returns the retention window in days for a moment with
// the given emotion intensity.
//
// The curve is:
//
//	TTL = 7 + 83 * intensity^1.5
//
// clamped to [7, 90]. TTL(0)=7, TTL(1)=90, monotonically increasing.
// A flat-affect moment is kept a week; a peak moment most of a season.
func RetentionDays(intensity float64) float64 {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}

	ttl := minRetentionDays + retentionRange*math.Pow(intensity, retentionExponent)
	if ttl < minRetentionDays {
		return minRetentionDays
	}
	if ttl > maxRetentionDays {
		return maxRetentionDays
	}
	return ttl
}
