package worker

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/analyzd/internal/config"
)

// PromptExecutor runs one analysis prompt against the model backend and
// returns the raw model output.
type PromptExecutor interface {
	Execute(ctx context.Context, prompt string) (string, error)
}

// OpenAIExecutor executes prompts through an OpenAI-compatible chat
// completion endpoint.
type OpenAIExecutor struct {
	llm *openai.LLM
}

// NewOpenAIExecutor builds the executor from worker config. BaseURL is
// optional and points the client at a compatible self-hosted backend.
func NewOpenAIExecutor(cfg config.WorkerConfig) (*OpenAIExecutor, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return &OpenAIExecutor{llm: llm}, nil
}

// Execute runs the prompt and returns the completion text.
func (e *OpenAIExecutor) Execute(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, e.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	return out, nil
}
