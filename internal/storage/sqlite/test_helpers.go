package sqlite

import (
	"context"
	"testing"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create a test environment with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context
}

// newTestEnv creates a new test environment with a configured store.
// The store is automatically cleaned up when the test completes.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:     t,
		Store: newTestStore(t, ""),
		Ctx:   context.Background(),
	}
}

// newTestStore creates a Store backed by a temp file. File-based databases
// are more reliable than in-memory for connection pool scenarios, and give
// each test its own isolated database.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	store, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}

// CreateCommittee creates a committee with the given role sets.
func (e *testEnv) CreateCommittee(name string, podling bool, members, committers []string) *types.Committee {
	e.t.Helper()
	committee := &types.Committee{
		Name:       name,
		FullName:   "Apache " + name,
		IsPodling:  podling,
		Members:    members,
		Committers: committers,
	}
	if err := e.Store.CreateCommittee(e.Ctx, committee); err != nil {
		e.t.Fatalf("CreateCommittee(%q) failed: %v", name, err)
	}
	return committee
}

// CreateProject creates a project under the given committee.
func (e *testEnv) CreateProject(name, committeeName string) *types.Project {
	e.t.Helper()
	project := &types.Project{
		Name:          name,
		FullName:      "Apache " + name,
		CommitteeName: committeeName,
	}
	if err := e.Store.CreateProject(e.Ctx, project); err != nil {
		e.t.Fatalf("CreateProject(%q) failed: %v", name, err)
	}
	return project
}

// CreateRelease creates a candidate-draft release for the project.
func (e *testEnv) CreateRelease(projectName, version string) *types.Release {
	e.t.Helper()
	release := &types.Release{
		Name:        types.ReleaseName(projectName, version),
		ProjectName: projectName,
		Version:     version,
		Phase:       types.PhaseCandidateDraft,
	}
	if err := e.Store.CreateRelease(e.Ctx, release); err != nil {
		e.t.Fatalf("CreateRelease(%q) failed: %v", release.Name, err)
	}
	return release
}

// CreateRevision creates a revision for the release, letting the store
// assign seq and number.
func (e *testEnv) CreateRevision(releaseName, uid string) *types.Revision {
	e.t.Helper()
	revision := &types.Revision{
		ReleaseName: releaseName,
		ASFUID:      uid,
	}
	if err := e.Store.CreateRevision(e.Ctx, revision); err != nil {
		e.t.Fatalf("CreateRevision(%q) failed: %v", releaseName, err)
	}
	return revision
}

// Fixture creates a committee, project and candidate-draft release in one
// call, returning the release.
func (e *testEnv) Fixture(projectName, version string) *types.Release {
	e.t.Helper()
	e.CreateCommittee(projectName, false, []string{"alice", "bob", "carol"}, []string{"dave"})
	e.CreateProject(projectName, projectName)
	return e.CreateRelease(projectName, version)
}
