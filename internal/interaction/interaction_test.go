package interaction

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/archive"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/directory"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage/sqlite"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/tabulate"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

type testFixture struct {
	t       *testing.T
	ctx     context.Context
	store   storage.Storage
	fake    *archive.Fake
	static  *directory.Static
	orch    *Orchestrator
	session Session
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fake := archive.NewFake()
	static := directory.NewStatic(nil)
	tabulator := tabulate.New(fake, static, "apache.org", zap.NewNop())
	orch := New(store, fake, tabulator, static, nil, Config{
		ArchiveBaseURL:             "https://lists.apache.org",
		IncubatorList:              "general@incubator.apache.org",
		FoundationDomain:           "apache.org",
		AutomatedReleaseCommittees: []string{"tooling"},
	}, zap.NewNop())

	return &testFixture{
		t:       t,
		ctx:     ctx,
		store:   store,
		fake:    fake,
		static:  static,
		orch:    orch,
		session: Session{UID: "alice", FullName: "Alice Example"},
	}
}

func (f *testFixture) createRelease(projectName, version string, podling bool) *types.Release {
	f.t.Helper()
	committee := &types.Committee{
		Name:       projectName,
		FullName:   "Apache " + projectName,
		IsPodling:  podling,
		Members:    []string{"alice", "bob", "carol"},
		Committers: []string{"dave"},
	}
	require.NoError(f.t, f.store.CreateCommittee(f.ctx, committee))
	require.NoError(f.t, f.store.CreateProject(f.ctx, &types.Project{
		Name:          projectName,
		FullName:      "Apache " + projectName,
		CommitteeName: projectName,
	}))
	release := &types.Release{
		Name:        types.ReleaseName(projectName, version),
		ProjectName: projectName,
		Version:     version,
		Phase:       types.PhaseCandidateDraft,
	}
	require.NoError(f.t, f.store.CreateRelease(f.ctx, release))
	require.NoError(f.t, f.store.CreateRevision(f.ctx, &types.Revision{
		ReleaseName: release.Name,
		ASFUID:      "alice",
	}))
	return release
}

// startVote runs StartVote and completes the queued vote_initiate task as
// a worker would, attaching the archive thread.
func (f *testFixture) startVote(release *types.Release, threadID string) *types.Task {
	f.t.Helper()
	stored, err := f.store.GetRelease(f.ctx, release.Name)
	require.NoError(f.t, err)

	err = f.orch.StartVote(f.ctx, StartVoteRequest{
		ProjectName:         release.ProjectName,
		VersionName:         release.Version,
		RevisionNumber:      stored.LatestRevisionNumber,
		EmailTo:             "dev@" + release.ProjectName + ".apache.org",
		PermittedRecipients: []string{"dev@" + release.ProjectName + ".apache.org"},
		VoteDuration:        72,
		Subject:             "[VOTE] Release " + release.ProjectName + " " + release.Version,
		Body:                "Please vote.",
		Promote:             true,
		Session:             f.session,
	})
	require.NoError(f.t, err)

	tasks, err := f.store.TasksForRelease(f.ctx, release.ProjectName, release.Version)
	require.NoError(f.t, err)
	require.NotEmpty(f.t, tasks)
	task := tasks[0]

	result := fmt.Sprintf(`{"mid":"%s-announce","archive_url":"https://lists.apache.org/thread/%s"}`, threadID, threadID)
	require.NoError(f.t, f.store.UpdateTaskStatus(f.ctx, task.ID, types.TaskCompleted, []byte(result), ""))
	return task
}

func (f *testFixture) tasksByType(projectName, version string, taskType types.TaskType) []*types.Task {
	f.t.Helper()
	all, err := f.store.TasksForRelease(f.ctx, projectName, version)
	require.NoError(f.t, err)
	var filtered []*types.Task
	for _, task := range all {
		if task.Type == taskType {
			filtered = append(filtered, task)
		}
	}
	return filtered
}

func TestStartVotePromotes(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)
	f.startVote(release, "t1")

	got, err := f.store.GetRelease(f.ctx, release.Name)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCandidate, got.Phase)
	assert.NotNil(t, got.VoteStarted)
}

func TestStartVoteRejectsUnpermittedList(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)

	err := f.orch.StartVote(f.ctx, StartVoteRequest{
		ProjectName:         release.ProjectName,
		VersionName:         release.Version,
		RevisionNumber:      "00001",
		EmailTo:             "announce@apache.org",
		PermittedRecipients: []string{"dev@tooling.apache.org"},
		Promote:             true,
		Session:             f.session,
	})
	assert.ErrorIs(t, err, ErrAccess)
}

func TestStartVoteBlockedByOngoingTasks(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)

	// A queued check-era task against the same revision blocks the vote.
	task, err := types.NewMessageSendTask(types.MessageSendArgs{}, release.ProjectName, release.Version, "alice")
	require.NoError(t, err)
	task.RevisionNumber = "00001"
	require.NoError(t, f.store.CreateTask(f.ctx, task))

	err = f.orch.StartVote(f.ctx, StartVoteRequest{
		ProjectName:         release.ProjectName,
		VersionName:         release.Version,
		RevisionNumber:      "00001",
		EmailTo:             "dev@tooling.apache.org",
		PermittedRecipients: []string{"dev@tooling.apache.org"},
		Promote:             true,
		Session:             f.session,
	})
	assert.ErrorIs(t, err, ErrInteraction)
	assert.Contains(t, err.Error(), "checks must be completed")
}

func TestResolveNonPodlingPassed(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)
	f.startVote(release, "t1")

	resolution, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VotePassed,
		Body:        "The vote on tooling 0.1 passed.",
		Session:     f.session,
	})
	require.NoError(t, err)
	assert.Empty(t, resolution.Warning)
	assert.Equal(t, 0, resolution.Round)
	assert.Equal(t, types.PhasePreview, resolution.Release.Phase)

	// A preview revision was created on top of the vote revision.
	latest, err := f.store.LatestRevision(f.ctx, release.Name)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Seq)
	assert.Equal(t, "Create a preview revision from the last candidate draft", latest.Description)

	sends := f.tasksByType(release.ProjectName, release.Version, types.TaskMessageSend)
	require.Len(t, sends, 1)
	args, err := sends[0].MessageSendArgs()
	require.NoError(t, err)
	assert.Equal(t, "[VOTE] [RESULT] Release Apache tooling 0.1 PASSED", args.Subject)
	assert.Equal(t, "t1-announce", args.InReplyTo)
	assert.Equal(t, "alice@apache.org", args.EmailSender)
	assert.Contains(t, args.Body, "-- \nAlice Example (alice)")
}

func TestResolveNonPodlingFailed(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)
	f.startVote(release, "t1")

	resolution, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VoteFailed,
		Body:        "The vote on tooling 0.1 failed.",
		Session:     f.session,
	})
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCandidateDraft, resolution.Release.Phase)

	sends := f.tasksByType(release.ProjectName, release.Version, types.TaskMessageSend)
	require.Len(t, sends, 1)
	args, err := sends[0].MessageSendArgs()
	require.NoError(t, err)
	assert.Contains(t, args.Subject, "FAILED")
}

func TestResolvePodlingRoundOne(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("pod", "1.0", true)
	f.startVote(release, "round1")

	resolution, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VotePassed,
		Body:        "The vote on pod 1.0 passed.",
		Session:     f.session,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resolution.Round)
	assert.Contains(t, resolution.Message, "Incubator PMC vote automatically started")

	// The phase stays candidate; only the round-one thread is recorded.
	got, err := f.store.GetRelease(f.ctx, release.Name)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCandidate, got.Phase)
	assert.Equal(t, "round1", got.PodlingThreadID)

	// The incubator vote was queued in the same transaction.
	votes := f.tasksByType(release.ProjectName, release.Version, types.TaskVoteInitiate)
	require.Len(t, votes, 2)
	roundTwo := votes[0]
	assert.Equal(t, types.TaskQueued, roundTwo.Status)
	args, err := roundTwo.VoteInitiateArgs()
	require.NoError(t, err)
	assert.Equal(t, "general@incubator.apache.org", args.EmailTo)
	assert.Equal(t, 72, args.VoteDuration)

	sends := f.tasksByType(release.ProjectName, release.Version, types.TaskMessageSend)
	require.Len(t, sends, 1)
}

func TestResolvePodlingRoundTwo(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("pod", "1.0", true)
	f.startVote(release, "round1")

	// Round one resolves, queueing the incubator vote.
	_, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VotePassed,
		Body:        "Round one passed.",
		Session:     f.session,
	})
	require.NoError(t, err)

	// The round-one thread must resolve to a list address for the extra
	// resolution message.
	f.fake.Add("round1", archive.Message{
		MID:     "round1-first",
		FromRaw: "Alice <alice@apache.org>",
		ListRaw: "<dev.pod.apache.org>",
		Subject: "[VOTE] Release pod 1.0",
		Body:    "Please vote.",
		Epoch:   1000,
	})

	// A worker completes the incubator vote task.
	votes := f.tasksByType(release.ProjectName, release.Version, types.TaskVoteInitiate)
	require.Len(t, votes, 2)
	result := `{"mid":"round2-announce","archive_url":"https://lists.apache.org/thread/round2"}`
	require.NoError(t, f.store.UpdateTaskStatus(f.ctx, votes[0].ID, types.TaskCompleted, []byte(result), ""))

	resolution, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VotePassed,
		Body:        "Round two passed.",
		Session:     f.session,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resolution.Round)
	assert.Empty(t, resolution.Warning)
	assert.Equal(t, types.PhasePreview, resolution.Release.Phase)

	// Two resolution messages: the incubator thread and the round-one
	// thread.
	sends := f.tasksByType(release.ProjectName, release.Version, types.TaskMessageSend)
	require.Len(t, sends, 3) // one from round one, two from round two
	var recipients []string
	for _, send := range sends[:2] {
		args, err := send.MessageSendArgs()
		require.NoError(t, err)
		recipients = append(recipients, args.EmailRecipient)
	}
	assert.Contains(t, recipients, "general@incubator.apache.org")
	assert.Contains(t, recipients, "dev@pod.apache.org")
}

func TestResolveRequiresCandidatePhase(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)

	_, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VotePassed,
		Session:     f.session,
	})
	assert.ErrorIs(t, err, ErrInteraction)
}

func TestAllReleasesSemverOrder(t *testing.T) {
	f := newFixture(t)
	f.createRelease("tooling", "0.9.0", false)
	for _, version := range []string{"0.10.0", "1.0.0"} {
		release := &types.Release{
			Name:        types.ReleaseName("tooling", version),
			ProjectName: "tooling",
			Version:     version,
			Phase:       types.PhaseCandidateDraft,
		}
		require.NoError(t, f.store.CreateRelease(f.ctx, release))
	}

	project, err := f.store.GetProject(f.ctx, "tooling")
	require.NoError(t, err)
	releases, err := f.orch.AllReleases(f.ctx, project)
	require.NoError(t, err)

	var versions []string
	for _, release := range releases {
		versions = append(versions, release.Version)
	}
	assert.Equal(t, []string{"1.0.0", "0.10.0", "0.9.0"}, versions)
}

func TestAllReleasesFallbackOrder(t *testing.T) {
	f := newFixture(t)
	f.createRelease("tooling", "1.0.0", false)
	for _, version := range []string{"1.0.0rc1", "1.0.1"} {
		release := &types.Release{
			Name:        types.ReleaseName("tooling", version),
			ProjectName: "tooling",
			Version:     version,
			Phase:       types.PhaseCandidateDraft,
		}
		require.NoError(t, f.store.CreateRelease(f.ctx, release))
	}

	project, err := f.store.GetProject(f.ctx, "tooling")
	require.NoError(t, err)
	releases, err := f.orch.AllReleases(f.ctx, project)
	require.NoError(t, err)

	// "1.0.0rc1" defeats semver parsing, so the component comparator
	// applies to the whole set. Order stays total and non-increasing.
	require.Len(t, releases, 3)
	for i := 1; i < len(releases); i++ {
		cmp := compareVersionParts(releases[i-1].Version, releases[i].Version)
		assert.GreaterOrEqual(t, cmp, 0,
			"releases %q and %q out of order", releases[i-1].Version, releases[i].Version)
	}
}

func TestCompareVersionParts(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.0.0rc1", -1}, // numeric part sorts before string part
		{"1.10", "1.9", 1},
		{"1.0-beta", "1.0.beta", 0}, // separators normalize
		{"1.0", "1.0.0", -1},        // shorter tuple sorts first
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, compareVersionParts(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestCheckResolutionThreads(t *testing.T) {
	f := newFixture(t)
	msg := func(list string) archive.Message {
		return archive.Message{MID: "m", FromRaw: "A <a@apache.org>", ListRaw: list, Body: "+1", Epoch: 1}
	}
	f.fake.Add("vote", msg("<dev.tooling.apache.org>"))
	f.fake.Add("result", msg("<dev.tooling.apache.org>"))
	f.fake.Add("other", msg("<general.incubator.apache.org>"))

	base := "https://lists.apache.org/thread/"
	assert.NoError(t, f.orch.CheckResolutionThreads(f.ctx, base+"vote", base+"result"))

	err := f.orch.CheckResolutionThreads(f.ctx, base+"vote", base+"other")
	assert.ErrorIs(t, err, ErrInteraction)

	err = f.orch.CheckResolutionThreads(f.ctx, "https://example.com/thread/vote", base+"result")
	assert.ErrorIs(t, err, ErrInteraction)
}

func TestEphemeralKeyDir(t *testing.T) {
	var seen string
	err := EphemeralKeyDir(func(dir string) error {
		seen = dir
		_, statErr := os.Stat(dir)
		return statErr
	})
	require.NoError(t, err)
	_, statErr := os.Stat(seen)
	assert.Error(t, statErr, "directory should be removed after fn returns")
}

type stubVerifier struct {
	claims *OIDCClaims
	err    error
}

func (s *stubVerifier) Verify(context.Context, string) (*OIDCClaims, error) {
	return s.claims, s.err
}

func TestTrustedJWT(t *testing.T) {
	f := newFixture(t)
	f.createRelease("tooling", "0.1", false)
	require.NoError(t, f.store.SetReleasePolicy(f.ctx, &types.ReleasePolicy{
		ProjectName:      "tooling",
		MinHours:         72,
		GitHubRepository: "foo",
		VoteWorkflowPath: []string{".github/workflows/release.yml"},
	}))
	f.static.SetGitHub("12345", "alice")

	f.orch.verifier = &stubVerifier{claims: &OIDCClaims{
		ActorID:     "12345",
		Repository:  "apache/foo",
		WorkflowRef: "apache/foo/.github/workflows/release.yml@refs/heads/main",
	}}

	claims, asfUID, project, err := f.orch.TrustedJWT(f.ctx, "github", "token", types.WorkflowVote)
	require.NoError(t, err)
	assert.Equal(t, "12345", claims.ActorID)
	assert.Equal(t, "alice", asfUID)
	assert.Equal(t, "tooling", project.Name)

	// The same workflow path is absent from the compose allowlist.
	_, _, _, err = f.orch.TrustedJWT(f.ctx, "github", "token", types.WorkflowCompose)
	assert.ErrorIs(t, err, ErrReleasePolicyNotFound)

	// Unsupported publisher.
	_, _, _, err = f.orch.TrustedJWT(f.ctx, "gitlab", "token", types.WorkflowVote)
	assert.ErrorIs(t, err, ErrInteraction)

	// Unknown actor.
	f.orch.verifier = &stubVerifier{claims: &OIDCClaims{
		ActorID:     "99999",
		Repository:  "apache/foo",
		WorkflowRef: "apache/foo/.github/workflows/release.yml@refs/heads/main",
	}}
	_, _, _, err = f.orch.TrustedJWT(f.ctx, "github", "token", types.WorkflowVote)
	var missing *ApacheUserMissingError
	assert.ErrorAs(t, err, &missing)
}

func TestTrustedProjectChecks(t *testing.T) {
	tests := []struct {
		name        string
		repository  string
		workflowRef string
		wantRepo    string
		wantPath    string
		wantErr     bool
	}{
		{
			name:        "valid",
			repository:  "apache/foo",
			workflowRef: "apache/foo/.github/workflows/release.yml@refs/heads/main",
			wantRepo:    "foo",
			wantPath:    ".github/workflows/release.yml",
		},
		{
			name:        "non apache org",
			repository:  "evil/foo",
			workflowRef: "evil/foo/.github/workflows/release.yml@main",
			wantErr:     true,
		},
		{
			name:        "ref outside repository",
			repository:  "apache/foo",
			workflowRef: "apache/bar/.github/workflows/release.yml@main",
			wantErr:     true,
		},
		{
			name:        "missing ref suffix",
			repository:  "apache/foo",
			workflowRef: "apache/foo/.github/workflows/release.yml",
			wantErr:     true,
		},
		{
			name:        "path outside workflows",
			repository:  "apache/foo",
			workflowRef: "apache/foo/scripts/release.yml@main",
			wantErr:     true,
		},
		{
			name:        "at sign in branch kept",
			repository:  "apache/foo",
			workflowRef: "apache/foo/.github/workflows/r@v.yml@refs/tags/x@1",
			wantRepo:    "foo",
			wantPath:    ".github/workflows/r@v.yml@refs/tags/x",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, path, err := trustedProjectChecks(tc.repository, tc.workflowRef)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantRepo, repo)
			assert.Equal(t, tc.wantPath, path)
		})
	}
}

func TestUnfinishedReleases(t *testing.T) {
	f := newFixture(t)
	f.createRelease("tooling", "0.1", false)
	f.createRelease("pod", "1.0", true)

	full := &types.Release{
		Name:        types.ReleaseName("tooling", "0.0.1"),
		ProjectName: "tooling",
		Version:     "0.0.1",
		Phase:       types.PhaseRelease,
	}
	require.NoError(t, f.store.CreateRelease(f.ctx, full))

	tooling, err := f.store.GetProject(f.ctx, "tooling")
	require.NoError(t, err)
	pod, err := f.store.GetProject(f.ctx, "pod")
	require.NoError(t, err)

	unfinished, err := f.orch.UnfinishedReleases(f.ctx, []*types.Project{tooling, pod})
	require.NoError(t, err)
	require.Len(t, unfinished, 2)

	// Projects order by display name; full releases are excluded.
	assert.Equal(t, "pod", unfinished[0].Project.Name)
	assert.Equal(t, "tooling", unfinished[1].Project.Name)
	require.Len(t, unfinished[1].Releases, 1)
	assert.Equal(t, "tooling-0.1", unfinished[1].Releases[0].Name)
}

func TestResolveWarnsWithoutThread(t *testing.T) {
	f := newFixture(t)
	release := f.createRelease("tooling", "0.1", false)
	f.startVote(release, "t1")

	// Strip the result mid so the resolution reply cannot be addressed.
	votes := f.tasksByType(release.ProjectName, release.Version, types.TaskVoteInitiate)
	require.Len(t, votes, 1)
	require.NoError(t, f.store.UpdateTaskStatus(f.ctx, votes[0].ID, types.TaskCompleted, []byte(`{"mid":"","archive_url":""}`), ""))

	resolution, err := f.orch.Resolve(f.ctx, ResolveRequest{
		ProjectName: release.ProjectName,
		VersionName: release.Version,
		Result:      VotePassed,
		Body:        "body",
		Session:     f.session,
	})
	require.NoError(t, err)

	// The phase change committed; only the notification was skipped.
	assert.Equal(t, "No vote thread found, unable to send resolution message.", resolution.Warning)
	assert.Equal(t, types.PhasePreview, resolution.Release.Phase)
	assert.Empty(t, f.tasksByType(release.ProjectName, release.Version, types.TaskMessageSend))
}
