// Package interaction implements the release-vote operations: starting and
// resolving votes, trusted automation verification, and query helpers.
package interaction

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match with errors.Is; messages carry the detail.
var (
	// ErrInteraction marks invalid caller input or a failed precondition.
	ErrInteraction = errors.New("interaction error")

	// ErrAccess marks a caller lacking the role an operation requires.
	ErrAccess = errors.New("access denied")

	// ErrReleasePolicyNotFound marks a verified workflow path that no
	// release policy allowlists.
	ErrReleasePolicyNotFound = errors.New("release policy not found")

	// ErrPublicKey marks invalid signature or key material.
	ErrPublicKey = errors.New("public key error")

	// ErrExternal marks an unavailable archive, directory or verifier.
	ErrExternal = errors.New("external service error")
)

// ApacheUserMissingError reports a platform identity that the directory
// cannot map to a foundation account.
type ApacheUserMissingError struct {
	Fingerprint string
	PrimaryUID  string
}

func (e *ApacheUserMissingError) Error() string {
	return fmt.Sprintf("no foundation account for identity %s (primary uid %q)", e.Fingerprint, e.PrimaryUID)
}

func interactionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInteraction, fmt.Sprintf(format, args...))
}

func accessf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccess, fmt.Sprintf(format, args...))
}

func externalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExternal, fmt.Sprintf(format, args...))
}
