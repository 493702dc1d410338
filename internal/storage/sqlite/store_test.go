package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

func TestCreateAndGetRelease(t *testing.T) {
	env := newTestEnv(t)
	env.Fixture("tooling", "0.1")

	release, err := env.Store.GetRelease(env.Ctx, "tooling-0.1")
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if release.Phase != types.PhaseCandidateDraft {
		t.Errorf("Expected phase %s, got %s", types.PhaseCandidateDraft, release.Phase)
	}
	if release.Project == nil {
		t.Fatal("Expected project to be loaded")
	}
	if release.Committee() == nil {
		t.Fatal("Expected committee to be loaded through the project")
	}
	if !release.Committee().HasMember("alice") {
		t.Error("Expected alice to be a committee member")
	}
}

func TestCreateReleaseNameInvariant(t *testing.T) {
	env := newTestEnv(t)
	env.CreateCommittee("tooling", false, nil, nil)
	env.CreateProject("tooling", "tooling")

	release := &types.Release{
		Name:        "wrong-name",
		ProjectName: "tooling",
		Version:     "0.1",
		Phase:       types.PhaseCandidateDraft,
	}
	if err := env.Store.CreateRelease(env.Ctx, release); err == nil {
		t.Fatal("Expected error for release name not derived from project and version")
	}
}

func TestGetReleaseNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Store.GetRelease(env.Ctx, "nonexistent-1.0")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestPromoteRelease(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	rev := env.CreateRevision(release.Name, "alice")

	if err := env.Store.PromoteRelease(env.Ctx, release.Name, rev.Number); err != nil {
		t.Fatalf("PromoteRelease failed: %v", err)
	}

	got, err := env.Store.GetRelease(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got.Phase != types.PhaseCandidate {
		t.Errorf("Expected phase %s, got %s", types.PhaseCandidate, got.Phase)
	}
}

func TestPromoteReleaseStaleRevision(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	first := env.CreateRevision(release.Name, "alice")
	env.CreateRevision(release.Name, "bob")

	// The promotion was decided against the first revision, but a newer
	// one has since been uploaded.
	err := env.Store.PromoteRelease(env.Ctx, release.Name, first.Number)
	if !errors.Is(err, storage.ErrPhaseConflict) {
		t.Fatalf("Expected ErrPhaseConflict, got %v", err)
	}

	got, err := env.Store.GetRelease(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got.Phase != types.PhaseCandidateDraft {
		t.Errorf("Expected phase unchanged, got %s", got.Phase)
	}
}

func TestUpdateReleasePhaseConflict(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")

	err := env.Store.UpdateReleasePhase(env.Ctx, release.Name, types.PhaseCandidate, types.PhasePreview)
	if !errors.Is(err, storage.ErrPhaseConflict) {
		t.Fatalf("Expected ErrPhaseConflict for wrong from-phase, got %v", err)
	}

	if err := env.Store.UpdateReleasePhase(env.Ctx, release.Name, types.PhaseCandidateDraft, types.PhaseCandidate); err != nil {
		t.Fatalf("UpdateReleasePhase failed: %v", err)
	}
}

func TestSetPodlingThreadIDOnce(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")

	if err := env.Store.SetPodlingThreadID(env.Ctx, release.Name, "thread-1"); err != nil {
		t.Fatalf("SetPodlingThreadID failed: %v", err)
	}
	if err := env.Store.SetPodlingThreadID(env.Ctx, release.Name, "thread-2"); err == nil {
		t.Fatal("Expected error setting podling thread id twice")
	}

	got, err := env.Store.GetRelease(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got.PodlingThreadID != "thread-1" {
		t.Errorf("Expected podling thread id thread-1, got %q", got.PodlingThreadID)
	}
}

func TestRevisionSequence(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")

	first := env.CreateRevision(release.Name, "alice")
	second := env.CreateRevision(release.Name, "bob")

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("Expected seqs 1 and 2, got %d and %d", first.Seq, second.Seq)
	}
	if first.Number != "00001" || second.Number != "00002" {
		t.Errorf("Expected zero-padded numbers, got %q and %q", first.Number, second.Number)
	}

	latest, err := env.Store.LatestRevision(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("LatestRevision failed: %v", err)
	}
	if latest.Number != second.Number {
		t.Errorf("Expected latest revision %q, got %q", second.Number, latest.Number)
	}

	got, err := env.Store.GetRelease(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got.LatestRevisionNumber != second.Number {
		t.Errorf("Expected release pointer %q, got %q", second.Number, got.LatestRevisionNumber)
	}
}

func TestLatestRevisionWithoutRevisions(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")

	_, err := env.Store.LatestRevision(env.Ctx, release.Name)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	env.CreateRevision(release.Name, "alice")

	task, err := types.NewVoteInitiateTask(types.VoteInitiateArgs{
		ReleaseName:  release.Name,
		EmailTo:      "dev@tooling.apache.org",
		VoteDuration: 72,
		InitiatorID:  "alice",
	}, release.ProjectName, release.Version, "", "alice")
	if err != nil {
		t.Fatalf("NewVoteInitiateTask failed: %v", err)
	}
	if err := env.Store.CreateTask(env.Ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID == 0 {
		t.Fatal("Expected non-zero task id")
	}
	if task.RevisionNumber != types.LatestRevision {
		t.Errorf("Expected revision sentinel %q, got %q", types.LatestRevision, task.RevisionNumber)
	}

	got, err := env.Store.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != types.TaskQueued {
		t.Errorf("Expected status queued, got %s", got.Status)
	}
	args, err := got.VoteInitiateArgs()
	if err != nil {
		t.Fatalf("VoteInitiateArgs failed: %v", err)
	}
	if args.EmailTo != "dev@tooling.apache.org" {
		t.Errorf("Expected args round trip, got EmailTo %q", args.EmailTo)
	}

	result := []byte(`{"mid":"abc123","archive_url":"https://lists.apache.org/thread/abc123"}`)
	if err := env.Store.UpdateTaskStatus(env.Ctx, task.ID, types.TaskCompleted, result, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	got, err = env.Store.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != types.TaskCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	voteResult, err := got.VoteInitiateResult()
	if err != nil {
		t.Fatalf("VoteInitiateResult failed: %v", err)
	}
	if voteResult == nil || voteResult.MID != "abc123" {
		t.Errorf("Expected result mid abc123, got %+v", voteResult)
	}
}

func TestUpdateTaskStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.Store.UpdateTaskStatus(env.Ctx, 999, types.TaskCompleted, nil, "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestTasksOngoing(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	env.CreateRevision(release.Name, "alice")

	task, err := types.NewVoteInitiateTask(types.VoteInitiateArgs{ReleaseName: release.Name},
		release.ProjectName, release.Version, "", "alice")
	if err != nil {
		t.Fatalf("NewVoteInitiateTask failed: %v", err)
	}
	if err := env.Store.CreateTask(env.Ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	count, err := env.Store.TasksOngoing(env.Ctx, release.ProjectName, release.Version, "")
	if err != nil {
		t.Fatalf("TasksOngoing failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 ongoing task, got %d", count)
	}

	count, latest, err := env.Store.TasksOngoingRevision(env.Ctx, release.ProjectName, release.Version, "")
	if err != nil {
		t.Fatalf("TasksOngoingRevision failed: %v", err)
	}
	if latest != "00001" {
		t.Errorf("Expected resolved latest revision 00001, got %q", latest)
	}
	if count != 1 {
		t.Errorf("Expected 1 ongoing task, got %d", count)
	}

	if err := env.Store.UpdateTaskStatus(env.Ctx, task.ID, types.TaskCompleted, []byte(`{}`), ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	count, err = env.Store.TasksOngoing(env.Ctx, release.ProjectName, release.Version, "")
	if err != nil {
		t.Fatalf("TasksOngoing failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 ongoing tasks after completion, got %d", count)
	}
}

func TestTasksOngoingExplicitRevisionSkipsSentinel(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	env.CreateRevision(release.Name, "alice")

	// A task enqueued without a revision binds to the "latest" sentinel.
	task, err := types.NewMessageSendTask(types.MessageSendArgs{Subject: "[VOTE] [RESULT] Release tooling 0.1 FAILED"},
		release.ProjectName, release.Version, "alice")
	if err != nil {
		t.Fatalf("NewMessageSendTask failed: %v", err)
	}
	if err := env.Store.CreateTask(env.Ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// An explicit revision matches only tasks bound to exactly that
	// revision, so the sentinel task must not count.
	count, err := env.Store.TasksOngoing(env.Ctx, release.ProjectName, release.Version, "00001")
	if err != nil {
		t.Fatalf("TasksOngoing failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 ongoing tasks for explicit revision, got %d", count)
	}

	count, err = env.Store.TasksOngoing(env.Ctx, release.ProjectName, release.Version, "")
	if err != nil {
		t.Fatalf("TasksOngoing failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 ongoing task without explicit revision, got %d", count)
	}
}

func TestReleaseLatestVoteTask(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")

	mkTask := func(added time.Time) *types.Task {
		task, err := types.NewVoteInitiateTask(types.VoteInitiateArgs{ReleaseName: release.Name},
			release.ProjectName, release.Version, "", "alice")
		if err != nil {
			t.Fatalf("NewVoteInitiateTask failed: %v", err)
		}
		task.Added = added
		if err := env.Store.CreateTask(env.Ctx, task); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		return task
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := mkTask(base)
	newer := mkTask(base.Add(time.Hour))
	queued := mkTask(base.Add(2 * time.Hour))

	for _, task := range []*types.Task{old, newer} {
		result := []byte(`{"mid":"m","archive_url":"https://lists.apache.org/thread/m"}`)
		if err := env.Store.UpdateTaskStatus(env.Ctx, task.ID, types.TaskCompleted, result, ""); err != nil {
			t.Fatalf("UpdateTaskStatus failed: %v", err)
		}
	}

	got, err := env.Store.ReleaseLatestVoteTask(env.Ctx, release.ProjectName, release.Version, false)
	if err != nil {
		t.Fatalf("ReleaseLatestVoteTask failed: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("Expected newest finished task %d, got %d", newer.ID, got.ID)
	}

	// The queued task is still filtered out even when it is newest, and it
	// has no result anyway.
	if got.ID == queued.ID {
		t.Error("Queued task must not be selected")
	}
}

func TestReleaseLatestVoteTaskAnyStatus(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")

	task, err := types.NewVoteInitiateTask(types.VoteInitiateArgs{ReleaseName: release.Name},
		release.ProjectName, release.Version, "", "alice")
	if err != nil {
		t.Fatalf("NewVoteInitiateTask failed: %v", err)
	}
	if err := env.Store.CreateTask(env.Ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// Active with a result already attached: only visible with anyStatus.
	result := []byte(`{"mid":"m","archive_url":"https://lists.apache.org/thread/m"}`)
	if err := env.Store.UpdateTaskStatus(env.Ctx, task.ID, types.TaskActive, result, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	_, err = env.Store.ReleaseLatestVoteTask(env.Ctx, release.ProjectName, release.Version, false)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound with status filter, got %v", err)
	}

	got, err := env.Store.ReleaseLatestVoteTask(env.Ctx, release.ProjectName, release.Version, true)
	if err != nil {
		t.Fatalf("ReleaseLatestVoteTask(anyStatus) failed: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("Expected task %d, got %d", task.ID, got.ID)
	}
}

func TestCheckResults(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	rev := env.CreateRevision(release.Name, "alice")

	failing, err := env.Store.HasFailingChecks(env.Ctx, release.Name, rev.Number)
	if err != nil {
		t.Fatalf("HasFailingChecks failed: %v", err)
	}
	if failing {
		t.Error("Expected no failing checks initially")
	}

	for _, status := range []types.CheckStatus{types.CheckSuccess, types.CheckWarning, types.CheckFailure} {
		err := env.Store.AddCheckResult(env.Ctx, &types.CheckResult{
			ReleaseName:    release.Name,
			RevisionNumber: rev.Number,
			Checker:        "signature",
			Status:         status,
		})
		if err != nil {
			t.Fatalf("AddCheckResult(%s) failed: %v", status, err)
		}
	}

	failing, err = env.Store.HasFailingChecks(env.Ctx, release.Name, rev.Number)
	if err != nil {
		t.Fatalf("HasFailingChecks failed: %v", err)
	}
	if !failing {
		t.Error("Expected failing checks after a failure result")
	}
}

func TestReleasePolicyByWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.CreateCommittee("tooling", false, nil, nil)
	env.CreateProject("tooling", "tooling")

	policy := &types.ReleasePolicy{
		ProjectName:      "tooling",
		MinHours:         72,
		GitHubRepository: "tooling",
		VoteWorkflowPath: []string{".github/workflows/vote.yml"},
	}
	if err := env.Store.SetReleasePolicy(env.Ctx, policy); err != nil {
		t.Fatalf("SetReleasePolicy failed: %v", err)
	}

	got, err := env.Store.ReleasePolicyByWorkflow(env.Ctx, "tooling", types.WorkflowVote, ".github/workflows/vote.yml")
	if err != nil {
		t.Fatalf("ReleasePolicyByWorkflow failed: %v", err)
	}
	if got.ProjectName != "tooling" {
		t.Errorf("Expected policy for tooling, got %q", got.ProjectName)
	}

	_, err = env.Store.ReleasePolicyByWorkflow(env.Ctx, "tooling", types.WorkflowCompose, ".github/workflows/vote.yml")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for wrong phase allowlist, got %v", err)
	}
}

func TestRunInTransactionRollback(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	env.CreateRevision(release.Name, "alice")

	boom := errors.New("boom")
	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateReleasePhase(env.Ctx, release.Name, types.PhaseCandidateDraft, types.PhaseCandidate); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	got, err := env.Store.GetRelease(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got.Phase != types.PhaseCandidateDraft {
		t.Errorf("Expected phase rolled back to candidate draft, got %s", got.Phase)
	}
}

func TestRunInTransactionCommit(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	rev := env.CreateRevision(release.Name, "alice")

	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		if err := tx.PromoteRelease(env.Ctx, release.Name, rev.Number); err != nil {
			return err
		}
		task, err := types.NewVoteInitiateTask(types.VoteInitiateArgs{ReleaseName: release.Name},
			release.ProjectName, release.Version, rev.Number, "alice")
		if err != nil {
			return err
		}
		return tx.CreateTask(env.Ctx, task)
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}

	got, err := env.Store.GetRelease(env.Ctx, release.Name)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got.Phase != types.PhaseCandidate {
		t.Errorf("Expected phase candidate after commit, got %s", got.Phase)
	}
	count, err := env.Store.TasksOngoing(env.Ctx, release.ProjectName, release.Version, rev.Number)
	if err != nil {
		t.Fatalf("TasksOngoing failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 ongoing task after commit, got %d", count)
	}
}

func TestRunInTransactionCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	release := env.Fixture("tooling", "0.1")
	env.CreateRevision(release.Name, "alice")

	ctx, cancel := context.WithCancel(env.Ctx)
	err := env.Store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateReleasePhase(ctx, release.Name, types.PhaseCandidateDraft, types.PhaseCandidate); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if err == nil {
		t.Fatal("Expected commit to fail under a cancelled context")
	}

	// The connection must come back clean: the next transaction begins
	// normally and the cancelled one left no state behind.
	err = env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		got, err := tx.GetRelease(env.Ctx, release.Name)
		if err != nil {
			return err
		}
		if got.Phase != types.PhaseCandidateDraft {
			t.Errorf("Expected phase rolled back to candidate draft, got %s", got.Phase)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction after cancellation failed: %v", err)
	}
}
