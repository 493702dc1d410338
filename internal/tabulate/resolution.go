package tabulate

import (
	"fmt"
	"strings"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/archive"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// Resolution renders the resolution email body for a tabulated vote.
//
// The salutation addresses the committee, overridden to "Incubator" when
// the release carries a podling thread id, since round two is held on the
// incubator-wide list. When a first round exists, both archive URLs are
// included.
func Resolution(committee *types.Committee, release *types.Release, votes *Votes, summary Summary, passed bool, fullName, asfUID, threadID, archiveBaseURL string) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	committeeName := committee.DisplayName()
	if release.PodlingThreadID != "" {
		committeeName = "Incubator"
	}
	line("Dear %s participants,", committeeName)
	line("")

	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	projectName := release.ProjectName
	if release.Project != nil {
		projectName = release.Project.Name
	}
	line("The vote on %s %s %s.", projectName, release.Version, outcome)
	line("")

	if release.PodlingThreadID != "" {
		line("The previous round of voting is archived at the following URL:")
		line("")
		line("%s", archive.ThreadURL(archiveBaseURL, release.PodlingThreadID))
		line("")
		line("The current vote thread is archived at the following URL:")
	} else {
		line("The vote thread is archived at the following URL:")
	}
	line("")
	line("%s", archive.ThreadURL(archiveBaseURL, threadID))
	line("")

	writeSection(&b, votes, "binding", StatusBinding)

	wereWord, votesWord := "were", "votes"
	if summary.BindingVotes == 1 {
		wereWord, votesWord = "was", "vote"
	}
	line("There %s %d binding %s.", wereWord, summary.BindingVotes, votesWord)
	line("")
	line("Of these binding votes, %d were +1, %d were -1, and %d were 0.",
		summary.BindingYes, summary.BindingNo, summary.BindingAbstain)
	line("")

	writeSection(&b, votes, "committer", StatusCommitter)
	writeSection(&b, votes, "contributor and unknown", StatusContributor, StatusUnknown)

	line("Thank you for your participation.")
	line("")
	line("Sincerely,")
	fmt.Fprintf(&b, "%s (%s)", fullName, asfUID)
	return b.String()
}

// writeSection emits one tier of voter lines. Nothing is written when no
// voter matches.
func writeSection(b *strings.Builder, votes *Votes, label string, statuses ...Status) {
	wrote := false
	for _, email := range votes.All() {
		match := false
		for _, status := range statuses {
			if email.Status == status {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if !wrote {
			fmt.Fprintf(b, "The %s votes were cast as follows:\n\n", label)
			wrote = true
		}
		status := strings.ToLower(string(email.Status))
		if email.Updated {
			status += ", updated"
		}
		fmt.Fprintf(b, "%s %s (%s)\n", email.Vote.Symbol(), email.ASFUIDOrEmail, status)
	}
	if wrote {
		b.WriteByte('\n')
	}
}
