// Package directory maps email addresses to foundation account uids.
package directory

import "context"

// Service provides a snapshot of the directory's email to uid mapping. The
// snapshot is taken once per tabulation so that every message in a thread
// resolves against the same state.
type Service interface {
	// EmailToUID returns a mapping from lowercase email address to
	// account uid.
	EmailToUID(ctx context.Context) (map[string]string, error)
}

// PlatformService maps external platform identities to account uids.
type PlatformService interface {
	// GitHubToUID maps a GitHub actor id to an account uid. An empty
	// result means the directory has no mapping for the actor.
	GitHubToUID(ctx context.Context, actorID string) (string, error)
}

// Static is a fixed in-memory Service, used in tests and the dev
// environment.
type Static struct {
	mapping map[string]string
	github  map[string]string
}

// NewStatic builds a Static service over the given mapping.
func NewStatic(mapping map[string]string) *Static {
	if mapping == nil {
		mapping = make(map[string]string)
	}
	return &Static{mapping: mapping, github: make(map[string]string)}
}

// SetGitHub records a GitHub actor id to uid mapping.
func (s *Static) SetGitHub(actorID, uid string) {
	s.github[actorID] = uid
}

// EmailToUID returns the fixed mapping.
func (s *Static) EmailToUID(context.Context) (map[string]string, error) {
	return s.mapping, nil
}

// GitHubToUID looks up a GitHub actor id in the fixed mapping.
func (s *Static) GitHubToUID(_ context.Context, actorID string) (string, error) {
	return s.github[actorID], nil
}

var _ Service = (*Static)(nil)
var _ PlatformService = (*Static)(nil)
