package analysis

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRequestInput carries the validated fields of a submission.
type NewRequestInput struct {
	RepositoryURL string
	Provider      string
	AnalysisTypes []string
}

// NewRequest validates input and builds a queued request. Validation
// failures are returned before any state exists; nothing is persisted
// here.
func NewRequest(in NewRequestInput, prompts *PromptRegistry) (*Request, error) {
	repoURL := strings.TrimSpace(in.RepositoryURL)
	if repoURL == "" {
		return nil, fmt.Errorf("repository URL is required")
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("repository URL %q is not an absolute URL", repoURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("repository URL scheme %q is not supported", u.Scheme)
	}

	provider, err := ParseProvider(strings.ToLower(strings.TrimSpace(in.Provider)))
	if err != nil {
		return nil, err
	}

	if len(in.AnalysisTypes) == 0 {
		return nil, fmt.Errorf("at least one analysis type is required")
	}
	seen := make(map[string]struct{}, len(in.AnalysisTypes))
	types := make([]string, 0, len(in.AnalysisTypes))
	for _, t := range in.AnalysisTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			return nil, fmt.Errorf("analysis type must not be empty")
		}
		if !prompts.Known(t) {
			return nil, fmt.Errorf("unknown analysis type %q", t)
		}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("duplicate analysis type %q", t)
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}

	return &Request{
		ID:            uuid.New().String(),
		RepositoryURL: repoURL,
		Provider:      provider,
		Status:        StatusQueued,
		AnalysisTypes: types,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
