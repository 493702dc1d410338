package tabulate

// Summary counts votes by status tier and vote value.
type Summary struct {
	BindingVotes   int
	BindingYes     int
	BindingNo      int
	BindingAbstain int

	NonBindingVotes   int
	NonBindingYes     int
	NonBindingNo      int
	NonBindingAbstain int

	UnknownVotes   int
	UnknownYes     int
	UnknownNo      int
	UnknownAbstain int
}

// Summarize counts the tabulated votes. Committer and contributor votes
// share the non-binding tier.
func Summarize(votes *Votes) Summary {
	var s Summary
	for _, email := range votes.All() {
		switch email.Status {
		case StatusBinding:
			s.BindingVotes++
			tally(email.Vote, &s.BindingYes, &s.BindingNo, &s.BindingAbstain)
		case StatusCommitter, StatusContributor:
			s.NonBindingVotes++
			tally(email.Vote, &s.NonBindingYes, &s.NonBindingNo, &s.NonBindingAbstain)
		default:
			s.UnknownVotes++
			tally(email.Vote, &s.UnknownYes, &s.UnknownNo, &s.UnknownAbstain)
		}
	}
	return s
}

func tally(vote Vote, yes, no, abstain *int) {
	switch vote {
	case VoteYes:
		*yes++
	case VoteNo:
		*no++
	case VoteAbstain:
		*abstain++
	}
}
