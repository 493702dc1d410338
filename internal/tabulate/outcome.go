package tabulate

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// defaultMinHours applies when a release has no policy at all.
const defaultMinHours = 72

// Outcome evaluates whether the vote passes and renders the human-readable
// status sentence.
//
// A vote passes when there are at least three binding +1 votes and the
// binding +1 votes outnumber the binding -1 votes. While the configured
// minimum duration has not yet elapsed, the sentence reports what would
// happen if the vote closed now. A policy min_hours of zero means no
// minimum: the vote closes on outcome alone.
//
// startUnixtime zero means no message established a start time; duration
// is then treated as zero.
func Outcome(release *types.Release, startUnixtime int64, votes *Votes, now time.Time) (bool, string) {
	var durationHours float64
	if startUnixtime != 0 {
		durationHours = now.Sub(time.Unix(startUnixtime, 0)).Hours()
	}

	minHours := defaultMinHours
	hasMinimum := true
	if release.Project != nil && release.Project.ReleasePolicy != nil {
		minHours, hasMinimum = release.Project.ReleasePolicy.MinHoursOrNone()
	}

	var remaining float64
	if hasMinimum {
		remaining = float64(minHours) - durationHours
	}

	var bindingPlusOne, bindingMinusOne int
	for _, email := range votes.All() {
		if email.Status != StatusBinding {
			continue
		}
		switch email.Vote {
		case VoteYes:
			bindingPlusOne++
		case VoteNo:
			bindingMinusOne++
		}
	}

	passed := bindingPlusOne >= 3 && bindingPlusOne > bindingMinusOne
	if !passed {
		switch {
		case hasMinimum && remaining > 0:
			return false, fmt.Sprintf("The vote is still open for %s hours, but it would fail if closed now.", formatHours(remaining))
		case !hasMinimum:
			return false, "The vote would fail if closed now."
		default:
			return false, "The vote failed."
		}
	}
	if hasMinimum && remaining > 0 {
		return true, fmt.Sprintf("The vote is still open for %s hours, but it would pass if closed now.", formatHours(remaining))
	}
	return true, "The vote passed."
}

// formatHours rounds to two decimals and prints without trailing zeros,
// keeping at least one decimal place.
func formatHours(hours float64) string {
	rounded := math.Round(hours*100) / 100
	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	for _, r := range s {
		if r == '.' {
			return s
		}
	}
	return s + ".0"
}
