package interaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/archive"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/directory"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/tabulate"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// TestMID, when set, replaces every vote thread message id lookup in the
// dev environment, so that resolution flows can be exercised against a
// fixed archived thread.
var TestMID = ""

// devThreadURLs maps known test message ids to their archive thread URLs.
// Only consulted in the dev environment.
var devThreadURLs = map[string]string{}

// Config carries the orchestrator's environment.
type Config struct {
	// DevEnvironment relaxes ongoing-task constraints and substitutes
	// TestMID for thread lookups.
	DevEnvironment bool

	// ArchiveBaseURL is the archive service root, normally
	// https://lists.apache.org.
	ArchiveBaseURL string

	// IncubatorList is the incubator-wide voting list address, used for
	// podling round-two votes.
	IncubatorList string

	// FoundationDomain is the account email domain, normally apache.org.
	FoundationDomain string

	// AutomatedReleaseCommittees are the committees allowed to use
	// trusted automation.
	AutomatedReleaseCommittees []string
}

// Session identifies the caller of an operation.
type Session struct {
	UID      string
	FullName string
}

// Orchestrator coordinates vote lifecycle operations over storage, the
// archive and the directory.
type Orchestrator struct {
	store     storage.Storage
	archive   archive.Client
	tabulator *tabulate.Tabulator
	platform  directory.PlatformService
	verifier  TokenVerifier
	cfg       Config
	logger    *zap.Logger
}

// New builds an Orchestrator. verifier and platform may be nil when the
// trusted automation surface is unused.
func New(store storage.Storage, archiveClient archive.Client, tabulator *tabulate.Tabulator, platform directory.PlatformService, verifier TokenVerifier, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		archive:   archiveClient,
		tabulator: tabulator,
		platform:  platform,
		verifier:  verifier,
		cfg:       cfg,
		logger:    logger,
	}
}

// Tabulator exposes the orchestrator's tabulator for query callers.
func (o *Orchestrator) Tabulator() *tabulate.Tabulator {
	return o.tabulator
}

// StartVoteRequest carries the inputs of StartVote.
type StartVoteRequest struct {
	ProjectName    string
	VersionName    string
	RevisionNumber string

	// EmailTo must be one of PermittedRecipients.
	EmailTo             string
	PermittedRecipients []string

	// VoteDuration is the announced duration in hours. It is advisory
	// metadata on the task; ReleasePolicy.MinHours bounds resolution.
	VoteDuration int

	Subject string
	Body    string

	// Promote moves the release from candidate draft to candidate. A
	// podling round-two vote runs with Promote false since the release
	// is already a candidate.
	Promote bool

	Session Session
}

// StartVote validates the request, optionally promotes the release, marks
// the vote as started, and queues a vote_initiate task, all in one
// transaction.
func (o *Orchestrator) StartVote(ctx context.Context, req StartVoteRequest) error {
	return o.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return o.startVote(ctx, tx, req)
	})
}

func (o *Orchestrator) startVote(ctx context.Context, tx storage.Transaction, req StartVoteRequest) error {
	releaseName := types.ReleaseName(req.ProjectName, req.VersionName)
	release, err := tx.GetRelease(ctx, releaseName)
	if err != nil {
		return err
	}
	if release.Committee() == nil {
		return interactionf("release %s has no associated committee", releaseName)
	}

	permitted := false
	for _, recipient := range req.PermittedRecipients {
		if recipient == req.EmailTo {
			permitted = true
			break
		}
	}
	if !permitted {
		return accessf("mailing list %s is not permitted for %s", req.EmailTo, releaseName)
	}

	// All checks must have completed before a vote starts. The dev
	// environment relaxes this so repeated test votes do not block each
	// other.
	if !o.cfg.DevEnvironment {
		ongoing, err := tx.TasksOngoing(ctx, req.ProjectName, req.VersionName, req.RevisionNumber)
		if err != nil {
			return err
		}
		if ongoing > 0 {
			return interactionf("all checks must be completed before starting a vote")
		}
	}

	if req.Promote {
		if release.Phase != types.PhaseCandidateDraft {
			return interactionf("release %s is not in the candidate draft phase", releaseName)
		}
		if err := tx.PromoteRelease(ctx, releaseName, req.RevisionNumber); err != nil {
			return err
		}
	}

	if err := tx.SetVoteStarted(ctx, releaseName, time.Now().UTC()); err != nil {
		return err
	}

	task, err := types.NewVoteInitiateTask(types.VoteInitiateArgs{
		ReleaseName:       releaseName,
		EmailTo:           req.EmailTo,
		VoteDuration:      req.VoteDuration,
		InitiatorID:       req.Session.UID,
		InitiatorFullname: req.Session.FullName,
		Subject:           req.Subject,
		Body:              req.Body,
	}, req.ProjectName, req.VersionName, req.RevisionNumber, req.Session.UID)
	if err != nil {
		return err
	}
	if err := tx.CreateTask(ctx, task); err != nil {
		return err
	}

	o.logger.Info("vote started",
		zap.String("release", releaseName),
		zap.String("email_to", req.EmailTo),
		zap.Int64("task_id", task.ID))
	return nil
}

// VoteResult is the caller's determination of how a vote ended.
type VoteResult string

const (
	VotePassed VoteResult = "passed"
	VoteFailed VoteResult = "failed"
)

// ResolveRequest carries the inputs of Resolve.
type ResolveRequest struct {
	ProjectName string
	VersionName string
	Result      VoteResult

	// Body is the resolution email body, typically rendered by
	// tabulate.Resolution and reviewed by the caller.
	Body string

	Session Session
}

// Resolution reports what Resolve did.
type Resolution struct {
	Release *types.Release

	// Round is 1 or 2 for podling releases, 0 otherwise.
	Round int

	Message string

	// Warning is a non-fatal post-commit failure, e.g. the resolution
	// message could not be queued because no vote thread was found. The
	// phase change has still been committed.
	Warning string
}

// Resolve applies a vote result to a candidate release.
//
// A passing non-podling vote, or a passing podling round-two vote, moves
// the release to the preview phase and creates a preview revision. A
// passing podling round-one vote keeps the candidate phase, records the
// round-one thread id, and automatically starts the incubator round-two
// vote. A failing vote returns the release to the candidate draft phase.
// The resolution email is queued after the phase change commits; failures
// there surface as a warning, not an error.
func (o *Orchestrator) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	releaseName := types.ReleaseName(req.ProjectName, req.VersionName)
	release, err := o.store.GetRelease(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	if release.Phase != types.PhaseCandidate {
		return nil, interactionf("release %s is not in the candidate phase", releaseName)
	}

	round := 0
	if committee := release.Committee(); committee != nil && committee.IsPodling {
		if release.PodlingThreadID == "" {
			round = 1
		} else {
			round = 2
		}
	}

	latestVoteTask, err := o.store.ReleaseLatestVoteTask(ctx, req.ProjectName, req.VersionName, o.cfg.DevEnvironment)
	if err != nil {
		return nil, interactionf("no vote task found, unable to resolve %s", releaseName)
	}

	resolution := &Resolution{Round: round}
	var extraDestination *types.MessageSendArgs

	err = o.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		switch {
		case req.Result == VotePassed && round == 1:
			message, err := o.resolveRoundOne(ctx, tx, release, latestVoteTask, req.Session)
			if err != nil {
				return err
			}
			resolution.Message = message
		case req.Result == VotePassed:
			if err := tx.UpdateReleasePhase(ctx, releaseName, types.PhaseCandidate, types.PhasePreview); err != nil {
				return err
			}
			if err := tx.CreateRevision(ctx, &types.Revision{
				ReleaseName: releaseName,
				ASFUID:      req.Session.UID,
				Description: "Create a preview revision from the last candidate draft",
			}); err != nil {
				return err
			}
			resolution.Message = "Vote marked as passed"

			// Round two also notifies the round-one thread.
			if round == 2 && release.PodlingThreadID != "" {
				listAddress, firstMID, err := o.archive.ThreadDetails(ctx, release.PodlingThreadID)
				if err != nil {
					return externalf("failed to resolve round-one thread %s: %s", release.PodlingThreadID, err)
				}
				extraDestination = &types.MessageSendArgs{
					EmailRecipient: listAddress,
					InReplyTo:      firstMID,
				}
			}
		default:
			if err := tx.UpdateReleasePhase(ctx, releaseName, types.PhaseCandidate, types.PhaseCandidateDraft); err != nil {
				return err
			}
			resolution.Message = "Vote marked as failed"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolution.Warning = o.sendResolution(ctx, release, req.Result, req.Body, req.Session, extraDestination)

	resolution.Release, err = o.store.GetRelease(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	return resolution, nil
}

// resolveRoundOne handles a passing podling PPMC vote: the phase stays
// candidate, the round-one thread id is recorded, and the Incubator PMC
// vote is started in the same transaction.
func (o *Orchestrator) resolveRoundOne(ctx context.Context, tx storage.Transaction, release *types.Release, latestVoteTask *types.Task, session Session) (string, error) {
	archiveURL, err := o.taskArchiveURL(latestVoteTask)
	if err != nil {
		return "", err
	}
	threadID := archive.ThreadIDFromURL(archiveURL)
	if err := tx.SetPodlingThreadID(ctx, release.Name, threadID); err != nil {
		return "", err
	}

	if release.LatestRevisionNumber == "" {
		return "", interactionf("release %s has no revision", release.Name)
	}

	voteDuration := 72
	if args, err := latestVoteTask.VoteInitiateArgs(); err == nil {
		voteDuration = args.VoteDuration
	}

	displayName := release.ProjectName
	if release.Project != nil {
		displayName = release.Project.DisplayName()
	}

	err = o.startVote(ctx, tx, StartVoteRequest{
		ProjectName:         release.ProjectName,
		VersionName:         release.Version,
		RevisionNumber:      release.LatestRevisionNumber,
		EmailTo:             o.cfg.IncubatorList,
		PermittedRecipients: []string{o.cfg.IncubatorList},
		VoteDuration:        voteDuration,
		Subject:             fmt.Sprintf("[VOTE] Release %s %s", displayName, release.Version),
		Body:                defaultVoteBody(displayName, release.Version),
		Promote:             false,
		Session:             session,
	})
	if err != nil {
		return "", err
	}
	return "Project PPMC vote marked as passed, and Incubator PMC vote automatically started", nil
}

// ResolveManual applies a manually supervised vote result: the thread was
// run outside the platform, so only the phase moves. The vote and result
// threads must belong to the same committee.
func (o *Orchestrator) ResolveManual(ctx context.Context, req ResolveRequest, voteThreadURL, resultThreadURL string) (*Resolution, error) {
	if err := o.CheckResolutionThreads(ctx, voteThreadURL, resultThreadURL); err != nil {
		return nil, err
	}

	releaseName := types.ReleaseName(req.ProjectName, req.VersionName)
	resolution := &Resolution{}
	err := o.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if req.Result == VotePassed {
			if err := tx.UpdateReleasePhase(ctx, releaseName, types.PhaseCandidate, types.PhasePreview); err != nil {
				return err
			}
			if err := tx.CreateRevision(ctx, &types.Revision{
				ReleaseName: releaseName,
				ASFUID:      req.Session.UID,
				Description: "Create a preview revision from the last candidate draft",
			}); err != nil {
				return err
			}
			resolution.Message = "Vote marked as passed"
			return nil
		}
		if err := tx.UpdateReleasePhase(ctx, releaseName, types.PhaseCandidate, types.PhaseCandidateDraft); err != nil {
			return err
		}
		resolution.Message = "Vote marked as failed"
		return nil
	})
	if err != nil {
		return nil, err
	}
	resolution.Release, err = o.store.GetRelease(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	return resolution, nil
}

// sendResolution queues the resolution email as a reply to the vote
// thread, plus an optional extra destination for podling round-two
// resolutions. Failures are non-fatal and returned as a warning string.
func (o *Orchestrator) sendResolution(ctx context.Context, release *types.Release, result VoteResult, body string, session Session, extra *types.MessageSendArgs) string {
	latestVoteTask, err := o.store.ReleaseLatestVoteTask(ctx, release.ProjectName, release.Version, o.cfg.DevEnvironment)
	if err != nil {
		return "No vote task found, unable to send resolution message."
	}
	voteThreadMID := o.TaskMID(latestVoteTask)
	if voteThreadMID == "" {
		return "No vote thread found, unable to send resolution message."
	}

	recipient := ""
	if args, err := latestVoteTask.VoteInitiateArgs(); err == nil {
		recipient = args.EmailTo
	}

	displayName := release.ProjectName
	if release.Project != nil {
		displayName = release.Project.DisplayName()
	}
	subject := fmt.Sprintf("[VOTE] [RESULT] Release %s %s %s", displayName, release.Version, upper(result))
	signature := fmt.Sprintf("%s (%s)", session.FullName, session.UID)
	if session.FullName == "" || session.FullName == session.UID {
		signature = session.UID
	}
	fullBody := fmt.Sprintf("%s\n\n-- \n%s", body, signature)
	sender := fmt.Sprintf("%s@%s", session.UID, o.cfg.FoundationDomain)

	sends := []types.MessageSendArgs{{
		EmailSender:    sender,
		EmailRecipient: recipient,
		Subject:        subject,
		Body:           fullBody,
		InReplyTo:      voteThreadMID,
	}}
	if extra != nil {
		sends = append(sends, types.MessageSendArgs{
			EmailSender:    sender,
			EmailRecipient: extra.EmailRecipient,
			Subject:        subject,
			Body:           fullBody,
			InReplyTo:      extra.InReplyTo,
		})
	}

	err = o.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, args := range sends {
			task, err := types.NewMessageSendTask(args, release.ProjectName, release.Version, session.UID)
			if err != nil {
				return err
			}
			if err := tx.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Failed to queue resolution message: %s", err)
	}
	return ""
}

// TaskMID returns the message id of a vote task's announcement email. In
// the dev environment the configured test mid replaces the task's actual
// result, which lets resolution flows run against a fixed thread.
func (o *Orchestrator) TaskMID(task *types.Task) string {
	if o.cfg.DevEnvironment {
		return TestMID
	}
	result, err := task.VoteInitiateResult()
	if err != nil || result == nil {
		return ""
	}
	return result.MID
}

// taskArchiveURL resolves the archive URL of a vote task's thread.
func (o *Orchestrator) taskArchiveURL(task *types.Task) (string, error) {
	if o.cfg.DevEnvironment {
		if url, found := devThreadURLs[TestMID]; found {
			return url, nil
		}
	}
	result, err := task.VoteInitiateResult()
	if err != nil {
		return "", err
	}
	if result == nil || result.ArchiveURL == "" {
		return "", interactionf("no archive URL found for vote task %d", task.ID)
	}
	return result.ArchiveURL, nil
}

// CheckResolutionThreads verifies that a vote thread and its result thread
// belong to the same committee.
func (o *Orchestrator) CheckResolutionThreads(ctx context.Context, voteThreadURL, resultThreadURL string) error {
	prefix := strings.TrimSuffix(o.cfg.ArchiveBaseURL, "/") + "/thread/"
	voteID, found := strings.CutPrefix(voteThreadURL, prefix)
	if !found {
		return interactionf("vote thread URL is not a valid archive thread URL")
	}
	resultID, found := strings.CutPrefix(resultThreadURL, prefix)
	if !found {
		return interactionf("result thread URL is not a valid archive thread URL")
	}

	voteLabel, err := o.threadCommitteeLabel(ctx, voteID)
	if err != nil {
		return err
	}
	resultLabel, err := o.threadCommitteeLabel(ctx, resultID)
	if err != nil {
		return err
	}
	if voteLabel == "" || resultLabel == "" {
		return interactionf("thread committee could not be determined")
	}
	if voteLabel != resultLabel {
		return interactionf("vote committee %s and result committee %s do not match", voteLabel, resultLabel)
	}
	return nil
}

func (o *Orchestrator) threadCommitteeLabel(ctx context.Context, threadID string) (string, error) {
	var label string
	err := o.archive.Messages(ctx, threadID, func(msg archive.Message) (bool, error) {
		if msg.ListRaw == "" {
			return true, nil
		}
		label = archive.CommitteeLabelFromList(msg.ListRaw)
		return false, nil
	})
	if err != nil {
		return "", externalf("failed to fetch thread %s: %s", threadID, err)
	}
	return label, nil
}

func defaultVoteBody(displayName, version string) string {
	return fmt.Sprintf(`Hello,

This is a vote to release %s %s.

Please review the release candidate and vote accordingly.

[ ] +1 Release this package
[ ] -1 Do not release this package (explain why)

This vote will remain open for at least 72 hours.

Thanks,
The release manager
`, displayName, version)
}

func upper(result VoteResult) string {
	switch result {
	case VotePassed:
		return "PASSED"
	case VoteFailed:
		return "FAILED"
	}
	return string(result)
}

