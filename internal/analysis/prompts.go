package analysis

import "time"

// Prompt describes one analysis type: the instruction sent to workers
// and the execution timeout applied on the worker side.
type Prompt struct {
	Type    string        `json:"type"`
	Text    string        `json:"text"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultPromptTimeout applies when a prompt does not set its own.
const DefaultPromptTimeout = 5 * time.Minute

// builtinPrompts are the analysis types shipped with the daemon.
// Deployments may extend the set through configuration.
var builtinPrompts = map[string]Prompt{
	"security": {
		Type:    "security",
		Timeout: 10 * time.Minute,
		Text: "Review the repository context below for security weaknesses: " +
			"injection risks, secrets handling, authentication gaps, and unsafe dependency usage. " +
			"Respond with a JSON object containing a \"findings\" array. Each finding has " +
			"severity, category, title, description, and filePath fields.",
	},
	"quality": {
		Type:    "quality",
		Timeout: DefaultPromptTimeout,
		Text: "Review the repository context below for code quality issues: " +
			"duplication, dead code, error handling gaps, and maintainability risks. " +
			"Respond with a JSON object containing a \"findings\" array. Each finding has " +
			"severity, category, title, description, and filePath fields.",
	},
	"dependencies": {
		Type:    "dependencies",
		Timeout: DefaultPromptTimeout,
		Text: "Review the dependency list below for outdated, vulnerable, or abandoned packages. " +
			"Respond with a JSON object containing a \"findings\" array. Each finding has " +
			"severity, category, title, description, and filePath fields; name the affected " +
			"dependency in quotes inside the title.",
	},
	"architecture": {
		Type:    "architecture",
		Timeout: DefaultPromptTimeout,
		Text: "Review the directory structure and framework usage below for architectural issues: " +
			"layering violations, oversized modules, and missing separation of concerns. " +
			"Respond with a JSON object containing a \"findings\" array. Each finding has " +
			"severity, category, title, description, and filePath fields.",
	},
}

// PromptRegistry resolves analysis types to prompts. The zero registry
// serves the builtin set; Register overrides or extends it.
type PromptRegistry struct {
	custom map[string]Prompt
}

// NewPromptRegistry returns a registry serving the builtin prompt set.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{custom: make(map[string]Prompt)}
}

// Register adds or overrides a prompt. An empty timeout falls back to
// DefaultPromptTimeout.
func (r *PromptRegistry) Register(p Prompt) {
	if p.Timeout <= 0 {
		p.Timeout = DefaultPromptTimeout
	}
	r.custom[p.Type] = p
}

// Lookup returns the prompt for an analysis type.
func (r *PromptRegistry) Lookup(analysisType string) (Prompt, bool) {
	if p, ok := r.custom[analysisType]; ok {
		return p, true
	}
	p, ok := builtinPrompts[analysisType]
	return p, ok
}

// Known reports whether the analysis type is registered.
func (r *PromptRegistry) Known(analysisType string) bool {
	_, ok := r.Lookup(analysisType)
	return ok
}

// Types returns every registered analysis type.
func (r *PromptRegistry) Types() []string {
	seen := make(map[string]struct{}, len(builtinPrompts)+len(r.custom))
	var types []string
	for t := range builtinPrompts {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			types = append(types, t)
		}
	}
	for t := range r.custom {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			types = append(types, t)
		}
	}
	return types
}
