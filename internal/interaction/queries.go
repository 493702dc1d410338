package interaction

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/tabulate"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// AllReleases returns every release of the project, newest version first.
// Versions are compared as semantic versions; when any version in the set
// does not parse, the whole set falls back to a component-wise comparator
// so ordering stays total.
func (o *Orchestrator) AllReleases(ctx context.Context, project *types.Project) ([]*types.Release, error) {
	releases, err := o.store.AllReleases(ctx, project.Name)
	if err != nil {
		return nil, err
	}
	for _, release := range releases {
		release.Project = project
	}

	versions := make(map[string]*semver.Version, len(releases))
	parseable := true
	for _, release := range releases {
		v, err := semver.NewVersion(release.Version)
		if err != nil {
			parseable = false
			break
		}
		versions[release.Version] = v
	}

	if parseable {
		sort.SliceStable(releases, func(i, j int) bool {
			return versions[releases[i].Version].GreaterThan(versions[releases[j].Version])
		})
	} else {
		sort.SliceStable(releases, func(i, j int) bool {
			return compareVersionParts(releases[i].Version, releases[j].Version) > 0
		})
	}
	return releases, nil
}

// compareVersionParts compares dotted version strings component by
// component. Numeric components order before string components; within a
// kind, numbers compare numerically and strings lexically.
func compareVersionParts(a, b string) int {
	normalize := func(v string) []string {
		v = strings.ReplaceAll(v, "+", ".")
		v = strings.ReplaceAll(v, "-", ".")
		return strings.Split(v, ".")
	}
	as, bs := normalize(a), normalize(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		aIsNum, bIsNum := aErr == nil, bErr == nil
		switch {
		case aIsNum && !bIsNum:
			return -1
		case !aIsNum && bIsNum:
			return 1
		case aIsNum && bIsNum:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		default:
			if as[i] != bs[i] {
				if as[i] < bs[i] {
					return -1
				}
				return 1
			}
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// ReleasesInProgress returns the project's releases in an active phase:
// candidate drafts, then candidates, then previews.
func (o *Orchestrator) ReleasesInProgress(ctx context.Context, project *types.Project) ([]*types.Release, error) {
	var all []*types.Release
	for _, phase := range []types.ReleasePhase{
		types.PhaseCandidateDraft,
		types.PhaseCandidate,
		types.PhasePreview,
	} {
		releases, err := o.store.ReleasesByPhase(ctx, project.Name, phase)
		if err != nil {
			return nil, err
		}
		for _, release := range releases {
			release.Project = project
		}
		all = append(all, releases...)
	}
	return all, nil
}

// ProjectReleases pairs a project with its active releases.
type ProjectReleases struct {
	Project  *types.Project
	Releases []*types.Release
}

// UnfinishedReleases returns, per project, the releases still moving
// through the vote lifecycle. Projects are ordered by display name.
func (o *Orchestrator) UnfinishedReleases(ctx context.Context, projects []*types.Project) ([]ProjectReleases, error) {
	sorted := make([]*types.Project, len(projects))
	copy(sorted, projects)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DisplayName() < sorted[j].DisplayName()
	})

	var result []ProjectReleases
	for _, project := range sorted {
		releases, err := o.ReleasesInProgress(ctx, project)
		if err != nil {
			return nil, err
		}
		if len(releases) == 0 {
			continue
		}
		result = append(result, ProjectReleases{Project: project, Releases: releases})
	}
	return result, nil
}

// TabulatedVote bundles everything the resolution page needs from one
// tabulation pass.
type TabulatedVote struct {
	Committee *types.Committee
	Votes     *tabulate.Votes
	Summary   tabulate.Summary
	Passed    bool
	Outcome   string

	// ResolutionDraft is the rendered resolution email body, ready for
	// caller review.
	ResolutionDraft string
}

// Tabulate fetches and tallies the vote thread of a candidate release and
// drafts its resolution email.
func (o *Orchestrator) Tabulate(ctx context.Context, release *types.Release, threadID string, session Session) (*TabulatedVote, error) {
	lookup := func(ctx context.Context, name string) (*types.Committee, error) {
		return o.store.GetCommittee(ctx, name)
	}
	committee, err := o.tabulator.Committee(ctx, threadID, release, o.cfg.DevEnvironment, lookup)
	if err != nil {
		return nil, externalf("failed to fetch thread metadata: %s", err)
	}
	if committee == nil {
		return nil, interactionf("release %s has no associated committee", release.Name)
	}

	startUnixtime, votes, err := o.tabulator.Votes(ctx, committee, threadID)
	if err != nil {
		return nil, externalf("failed to tabulate thread %s: %s", threadID, err)
	}

	summary := tabulate.Summarize(votes)
	passed, outcome := tabulate.Outcome(release, startUnixtime, votes, time.Now())
	draft := tabulate.Resolution(committee, release, votes, summary, passed,
		session.FullName, session.UID, threadID, o.cfg.ArchiveBaseURL)

	return &TabulatedVote{
		Committee:       committee,
		Votes:           votes,
		Summary:         summary,
		Passed:          passed,
		Outcome:         outcome,
		ResolutionDraft: draft,
	}, nil
}

// VoteThreadURL returns the archive URL of a release's current vote
// thread, or an empty string when no finished vote task exists.
func (o *Orchestrator) VoteThreadURL(ctx context.Context, release *types.Release) string {
	task, err := o.store.ReleaseLatestVoteTask(ctx, release.ProjectName, release.Version, o.cfg.DevEnvironment)
	if err != nil {
		return ""
	}
	url, err := o.taskArchiveURL(task)
	if err != nil {
		return ""
	}
	return url
}

// EphemeralKeyDir creates a temporary directory for isolated key
// operations and removes it when fn returns.
func EphemeralKeyDir(fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", "keys-")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()
	return fn(dir)
}
