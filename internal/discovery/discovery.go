// Package discovery clones a repository and introspects it into the
// shared context consumed by every analysis job: languages, frameworks,
// dependency list, and a bounded directory tree.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitHTTP "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/config"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
)

// Discovery performs repository discovery. One clone per request, depth
// 1, into a per-request directory under WorkDir that is removed when
// discovery returns.
type Discovery struct {
	cfg    config.DiscoveryConfig
	logger *logging.Logger

	// newLanguageLister builds the provider API client used to enrich
	// the detected language list. Tests substitute a fake.
	newLanguageLister func(ctx context.Context, token string) LanguageLister
}

// New wires a Discovery against the GitHub API for language enrichment.
func New(cfg config.DiscoveryConfig, logger *logging.Logger) *Discovery {
	return &Discovery{
		cfg:               cfg,
		logger:            logger.Named("discovery"),
		newLanguageLister: newGitHubLister,
	}
}

// Discover clones the request's repository and builds its shared
// context. The clone honors CloneTimeout; enrichment failures degrade
// to the locally detected languages instead of failing discovery.
func (d *Discovery) Discover(ctx context.Context, req *analysis.Request, accessToken string) (*analysis.SharedContext, error) {
	ctx = logging.WithRequestID(ctx, req.ID)

	dir := filepath.Join(d.cfg.WorkDir, req.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create clone dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			d.logger.Warn(ctx, "failed to remove clone dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	cloneCtx, cancel := context.WithTimeout(ctx, d.cfg.CloneTimeout.Duration())
	defer cancel()

	start := time.Now()
	_, err := git.PlainCloneContext(cloneCtx, dir, false, &git.CloneOptions{
		URL:          req.RepositoryURL,
		Depth:        1,
		SingleBranch: true,
		Auth:         cloneAuth(req.Provider, accessToken),
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", req.RepositoryURL, err)
	}
	d.logger.Debug(ctx, "repository cloned",
		zap.String("url", req.RepositoryURL),
		zap.Duration("took", time.Since(start)))

	insp, err := inspect(dir, d.cfg.MaxTreeEntries)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", req.RepositoryURL, err)
	}

	languages := insp.Languages
	if req.Provider == analysis.ProviderGitHub && accessToken != "" {
		languages = d.enrichLanguages(ctx, req.RepositoryURL, accessToken, languages)
	}

	sc := &analysis.SharedContext{
		ID:            uuid.New().String(),
		RequestID:     req.ID,
		Languages:     languages,
		Frameworks:    insp.Frameworks,
		Dependencies:  insp.Dependencies,
		DirectoryTree: insp.DirectoryTree,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	}
	d.logger.Info(ctx, "discovery complete",
		zap.Strings("languages", sc.Languages),
		zap.Int("dependencies", len(sc.Dependencies)))
	return sc, nil
}

// cloneAuth builds transport credentials for a private clone. Both
// supported providers accept a token over HTTP basic auth; the username
// is ignored but must be non-empty.
func cloneAuth(provider analysis.Provider, token string) *gitHTTP.BasicAuth {
	if token == "" {
		return nil
	}
	username := "x-access-token"
	if provider == analysis.ProviderAzureDevOps {
		username = "analyzd"
	}
	return &gitHTTP.BasicAuth{Username: username, Password: token}
}
