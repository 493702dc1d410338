package directory

import (
	"encoding/json"
	"fmt"
	"os"
)

// fileSnapshot is the on-disk shape of a directory export: email addresses
// and GitHub actor ids keyed to account uids.
type fileSnapshot struct {
	Emails map[string]string `json:"emails"`
	GitHub map[string]string `json:"github"`
}

// FromFile loads a directory snapshot from a JSON file. The file holds an
// "emails" object mapping lowercase addresses to uids and an optional
// "github" object mapping actor ids to uids.
func FromFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	var snapshot fileSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode directory file %s: %w", path, err)
	}
	static := NewStatic(snapshot.Emails)
	for actorID, uid := range snapshot.GitHub {
		static.SetGitHub(actorID, uid)
	}
	return static, nil
}
