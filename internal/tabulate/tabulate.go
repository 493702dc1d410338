// Package tabulate parses and tallies release votes from archived mailing
// list threads.
package tabulate

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/archive"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/directory"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// Vote is a single cast vote value.
type Vote string

const (
	VoteYes     Vote = "Yes"
	VoteNo      Vote = "No"
	VoteAbstain Vote = "-"
	VoteUnknown Vote = "?"
)

// Symbol returns the vote's email notation.
func (v Vote) Symbol() string {
	switch v {
	case VoteYes:
		return "+1"
	case VoteNo:
		return "-1"
	case VoteAbstain:
		return "0"
	}
	return "?"
}

// Status classifies a voter's relationship to the committee.
type Status string

const (
	StatusBinding     Status = "Binding"
	StatusCommitter   Status = "Committer"
	StatusContributor Status = "Contributor"
	StatusUnknown     Status = "Unknown"
)

// VoteEmail is the tabulated state of one voter, derived from their most
// recent message in the thread.
type VoteEmail struct {
	ASFUIDOrEmail string
	FromEmail     string
	Status        Status
	ASFEID        string
	ISODatetime   string
	Vote          Vote
	Quotation     string
	Updated       bool
}

// Votes is a voter-keyed collection preserving first-cast order. A voter
// who votes again keeps their original position but is marked updated.
type Votes struct {
	order   []string
	byVoter map[string]*VoteEmail
}

// NewVotes builds an empty collection.
func NewVotes() *Votes {
	return &Votes{byVoter: make(map[string]*VoteEmail)}
}

// Put records a vote, replacing any earlier vote from the same voter.
func (v *Votes) Put(email *VoteEmail) {
	if _, seen := v.byVoter[email.ASFUIDOrEmail]; !seen {
		v.order = append(v.order, email.ASFUIDOrEmail)
	}
	v.byVoter[email.ASFUIDOrEmail] = email
}

// Get returns the vote for one voter, or nil.
func (v *Votes) Get(voter string) *VoteEmail {
	return v.byVoter[voter]
}

// All returns votes in first-cast order.
func (v *Votes) All() []*VoteEmail {
	all := make([]*VoteEmail, 0, len(v.order))
	for _, voter := range v.order {
		all = append(all, v.byVoter[voter])
	}
	return all
}

// Len returns the number of distinct voters.
func (v *Votes) Len() int {
	return len(v.order)
}

// Tabulator reads a vote thread and produces the per-voter vote map.
type Tabulator struct {
	archive          archive.Client
	directory        directory.Service
	foundationDomain string
	logger           *zap.Logger
}

// New builds a Tabulator. foundationDomain is the email domain whose local
// parts are account uids, normally apache.org.
func New(archiveClient archive.Client, dir directory.Service, foundationDomain string, logger *zap.Logger) *Tabulator {
	return &Tabulator{
		archive:          archiveClient,
		directory:        dir,
		foundationDomain: foundationDomain,
		logger:           logger,
	}
}

// Votes tabulates a thread against the committee's role sets.
//
// Messages are processed in delivery order. The first processed message
// sets startUnixtime (zero when the thread is empty). A subject containing
// "[RESULT]" ends tabulation before that message contributes. Messages
// with an unparseable From header or an empty body are skipped. Within the
// thread, a voter's later message replaces their earlier one.
func (t *Tabulator) Votes(ctx context.Context, committee *types.Committee, threadID string) (int64, *Votes, error) {
	start := time.Now()
	emailToUID, err := t.directory.EmailToUID(ctx)
	if err != nil {
		return 0, nil, err
	}
	t.logger.Debug("directory snapshot taken", zap.Int("addresses", len(emailToUID)))

	votes := NewVotes()
	var startUnixtime int64

	err = t.archive.Messages(ctx, threadID, func(msg archive.Message) (bool, error) {
		ok, fromEmail, asfUID := identity(msg.FromRaw, emailToUID, t.foundationDomain)
		if !ok {
			return true, nil
		}

		var voter string
		var status Status
		if asfUID != "" {
			voter = asfUID
			status = voteStatus(asfUID, committee)
		} else {
			voter = fromEmail
			status = StatusUnknown
		}

		if startUnixtime == 0 && msg.Epoch != 0 {
			startUnixtime = msg.Epoch
		}

		if strings.Contains(msg.Subject, "[RESULT]") {
			return false, nil
		}
		if msg.Body == "" {
			return true, nil
		}

		castings := voteCastings(msg.Body)
		if len(castings) == 0 {
			return true, nil
		}

		cast := VoteUnknown
		if len(castings) == 1 {
			cast = castings[0].Vote
		}
		lines := make([]string, len(castings))
		for i, c := range castings {
			lines[i] = c.Line
		}

		votes.Put(&VoteEmail{
			ASFUIDOrEmail: voter,
			FromEmail:     fromEmail,
			Status:        status,
			ASFEID:        msg.MID,
			ISODatetime:   msg.Date,
			Vote:          cast,
			Quotation:     strings.Join(lines, " // "),
			Updated:       votes.Get(voter) != nil,
		})
		return true, nil
	})
	if err != nil {
		return 0, nil, err
	}

	t.logger.Info("tabulated votes",
		zap.String("thread_id", threadID),
		zap.Int("voters", votes.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return startUnixtime, votes, nil
}

// Committee resolves the committee whose role sets bind the thread. The
// release's committee is authoritative; in the dev environment it is
// overridden by the committee named in the thread's list id, so that test
// threads on other lists tabulate sensibly.
func (t *Tabulator) Committee(ctx context.Context, threadID string, release *types.Release, devEnvironment bool, lookup func(ctx context.Context, name string) (*types.Committee, error)) (*types.Committee, error) {
	committee := release.Committee()
	if !devEnvironment || lookup == nil {
		return committee, nil
	}

	var label string
	err := t.archive.Messages(ctx, threadID, func(msg archive.Message) (bool, error) {
		label = archive.CommitteeLabelFromList(msg.ListRaw)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if label == "" {
		return committee, nil
	}
	return lookup(ctx, label)
}

func voteStatus(asfUID string, committee *types.Committee) Status {
	if committee == nil {
		return StatusUnknown
	}
	if committee.HasMember(asfUID) {
		return StatusBinding
	}
	if committee.HasCommitter(asfUID) {
		return StatusCommitter
	}
	return StatusContributor
}
