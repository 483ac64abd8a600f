// Package warmup maps a campaign's age in days to its allowed daily volume,
// ramping send rates up gradually during a campaign's early life.
package warmup

import "time"

// Limit returns the allowed daily volume for a campaign that first started
// at startedAt. Day 1 is the day the campaign first ran; days beyond the
// tier table use the last tier's value.
func Limit(tiers []int, startedAt, now time.Time) int {
	if len(tiers) == 0 {
		return 0
	}
	daysActive := int(now.Sub(startedAt).Hours()/24) + 1
	if daysActive < 1 {
		daysActive = 1
	}
	if daysActive > len(tiers) {
		return tiers[len(tiers)-1]
	}
	return tiers[daysActive-1]
}
