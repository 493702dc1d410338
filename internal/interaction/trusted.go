package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// OIDCClaims are the GitHub OIDC token claims the trusted flow consumes.
type OIDCClaims struct {
	jwt.RegisteredClaims
	ActorID     string `json:"actor_id"`
	Repository  string `json:"repository"`
	WorkflowRef string `json:"workflow_ref"`
}

// TokenVerifier verifies a trusted automation token and returns its
// claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*OIDCClaims, error)
}

// GitHubVerifier verifies GitHub Actions OIDC tokens against the
// configured issuer and audience. Key material comes from keyfunc, which
// is expected to resolve the issuer's JWKS.
type GitHubVerifier struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

// NewGitHubVerifier builds a verifier. audience may be empty, in which
// case the audience claim is not enforced.
func NewGitHubVerifier(issuer, audience string, keyfunc jwt.Keyfunc) *GitHubVerifier {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &GitHubVerifier{parser: jwt.NewParser(opts...), keyfunc: keyfunc}
}

// Verify parses and validates the token.
func (v *GitHubVerifier) Verify(_ context.Context, token string) (*OIDCClaims, error) {
	var claims OIDCClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: invalid OIDC token: %s", ErrInteraction, err)
	}
	return &claims, nil
}

var _ TokenVerifier = (*GitHubVerifier)(nil)

// TrustedJWT verifies a trusted automation token and binds it to a
// project.
//
// Only the "github" publisher is supported. The token's repository must be
// under the apache/ organization, its workflow_ref must point into that
// repository's .github/workflows directory, and a release policy must
// allowlist the workflow path for the requested phase. The bound project's
// committee must additionally be enabled for automated releases.
func (o *Orchestrator) TrustedJWT(ctx context.Context, publisher, token string, phase types.WorkflowPhase) (*OIDCClaims, string, *types.Project, error) {
	if publisher != "github" {
		return nil, "", nil, interactionf("publisher %s not supported", publisher)
	}

	claims, err := o.verifier.Verify(ctx, token)
	if err != nil {
		return nil, "", nil, err
	}

	asfUID, err := o.platform.GitHubToUID(ctx, claims.ActorID)
	if err != nil {
		return nil, "", nil, externalf("directory lookup failed: %s", err)
	}
	if asfUID == "" {
		return nil, "", nil, &ApacheUserMissingError{Fingerprint: "github:" + claims.ActorID}
	}

	project, err := o.trustedProject(ctx, claims.Repository, claims.WorkflowRef, phase)
	if err != nil {
		return nil, "", nil, err
	}
	return claims, asfUID, project, nil
}

func (o *Orchestrator) trustedProject(ctx context.Context, repository, workflowRef string, phase types.WorkflowPhase) (*types.Project, error) {
	o.logger.Info("trusted workflow claim",
		zap.String("repository", repository),
		zap.String("workflow_ref", workflowRef))

	repositoryName, workflowPath, err := trustedProjectChecks(repository, workflowRef)
	if err != nil {
		return nil, err
	}

	policy, err := o.store.ReleasePolicyByWorkflow(ctx, repositoryName, phase, workflowPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: repository %s has no %s allowlist entry for %s",
			ErrReleasePolicyNotFound, repositoryName, phase, workflowPath)
	}
	if err != nil {
		return nil, err
	}

	project, err := o.store.GetProject(ctx, policy.ProjectName)
	if err != nil {
		return nil, err
	}
	if project.Committee == nil {
		return nil, interactionf("project %s has no committee", project.Name)
	}
	if !o.automatedCommittee(project.Committee.Name) {
		return nil, interactionf("committee %s is not enabled for automated releases", project.Committee.Name)
	}
	return project, nil
}

// trustedProjectChecks validates the repository and workflow_ref claims
// and extracts the bare repository name and workflow path.
func trustedProjectChecks(repository, workflowRef string) (string, string, error) {
	repositoryName, found := strings.CutPrefix(repository, "apache/")
	if !found {
		return "", "", interactionf("repository must start with 'apache/'")
	}
	workflowPathAt, found := strings.CutPrefix(workflowRef, repository+"/")
	if !found {
		return "", "", interactionf("workflow ref must start with repository, got %s", workflowRef)
	}
	at := strings.LastIndex(workflowPathAt, "@")
	if at < 0 {
		return "", "", interactionf("workflow path must contain '@', got %s", workflowPathAt)
	}
	workflowPath := workflowPathAt[:at]
	if !strings.HasPrefix(workflowPath, ".github/workflows/") {
		return "", "", interactionf("workflow path must start with '.github/workflows/', got %s", workflowPath)
	}
	return repositoryName, workflowPath, nil
}

func (o *Orchestrator) automatedCommittee(name string) bool {
	for _, allowed := range o.cfg.AutomatedReleaseCommittees {
		if allowed == name {
			return true
		}
	}
	return false
}
