package tabulate

import "strings"

// Casting is one vote-bearing line extracted from a message body.
type Casting struct {
	Vote Vote
	Line string
}

// explanationIndicators appear in lines the [VOTE] OP writes to explain
// how to vote; such lines never count as castings.
var explanationIndicators = []string{
	"[ ] +1",
	"[ ] -1",
	"binding +1 votes",
	"binding -1 votes",
}

// voteContinue reports whether the line should be skipped without ending
// the scan.
func voteContinue(line string) bool {
	for _, indicator := range explanationIndicators {
		if strings.Contains(line, indicator) {
			return true
		}
	}
	// Quoted text from earlier emails.
	return strings.HasPrefix(line, ">")
}

// voteBreak reports whether the line starts a signature or a quoted email,
// after which nothing in the body can be a casting.
func voteBreak(line string) bool {
	if line == "-- " {
		return true
	}
	// "On Mon, ..." style quotation header.
	if strings.HasPrefix(line, "On ") && len(line) >= 8 && line[6:8] == ", " {
		return true
	}
	if strings.HasPrefix(line, "From: ") {
		return true
	}
	// Sometimes used as an "On " style quotation marker.
	return strings.HasPrefix(line, "________")
}

// voteCastings scans a message body line by line and extracts vote
// castings. A line matching more than one vote value is discarded as
// ambiguous.
func voteCastings(body string) []Casting {
	var castings []Casting
	for _, line := range strings.Split(body, "\n") {
		if voteContinue(line) {
			continue
		}
		if voteBreak(line) {
			break
		}

		plusOne := strings.HasPrefix(line, "+1") || strings.Contains(line, " +1")
		minusOne := strings.HasPrefix(line, "-1") || strings.Contains(line, " -1")
		// Zero votes need stricter matching; a bare "0" in a line proves
		// nothing.
		zero := line == "0" || line == "-0" || line == "+0" ||
			strings.HasPrefix(line, "0 ") || strings.HasPrefix(line, "+0 ") || strings.HasPrefix(line, "-0 ")

		if (plusOne && minusOne) || (plusOne && zero) || (minusOne && zero) {
			continue
		}
		switch {
		case plusOne:
			castings = append(castings, Casting{VoteYes, line})
		case minusOne:
			castings = append(castings, Casting{VoteNo, line})
		case zero:
			castings = append(castings, Casting{VoteAbstain, line})
		}
	}
	return castings
}
