package discovery

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// LanguageLister reports the byte count per language for a repository,
// as the provider API sees it.
type LanguageLister interface {
	ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error)
}

type githubLister struct {
	client *github.Client
}

func newGitHubLister(ctx context.Context, token string) LanguageLister {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &githubLister{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

func (g *githubLister) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error) {
	languages, _, err := g.client.Repositories.ListLanguages(ctx, owner, repo)
	return languages, err
}

// enrichLanguages merges provider-reported languages into the locally
// detected set. Failures are logged and the local set is returned
// untouched.
func (d *Discovery) enrichLanguages(ctx context.Context, repoURL, token string, detected []string) []string {
	owner, repo, err := ownerRepoFromURL(repoURL)
	if err != nil {
		d.logger.Debug(ctx, "skipping language enrichment", zap.Error(err))
		return detected
	}

	reported, err := d.newLanguageLister(ctx, token).ListLanguages(ctx, owner, repo)
	if err != nil {
		d.logger.Warn(ctx, "language enrichment failed", zap.Error(err))
		return detected
	}

	merged := make(map[string]struct{}, len(detected)+len(reported))
	for _, lang := range detected {
		merged[lang] = struct{}{}
	}
	for lang := range reported {
		merged[lang] = struct{}{}
	}
	out := make([]string, 0, len(merged))
	for lang := range merged {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// ownerRepoFromURL extracts the owner and repository name from a
// github.com HTTPS URL.
func ownerRepoFromURL(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("parse repository url: %w", err)
	}
	if !strings.EqualFold(u.Hostname(), "github.com") {
		return "", "", fmt.Errorf("not a github.com url: %s", repoURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %s has no owner/name path", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
