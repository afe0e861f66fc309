// Package worker is the remote half of the job protocol: it consumes
// dispatch messages from the bus, runs the analysis prompt against the
// model backend, and reports RUNNING then COMPLETED or FAILED.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/bus"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
)

// ResultPublisher publishes job results back to the orchestrator.
// *bus.Bus satisfies it; tests substitute a recorder.
type ResultPublisher interface {
	PublishResult(ctx context.Context, r *bus.JobResult) error
}

// Worker executes dispatched analysis jobs.
type Worker struct {
	publisher ResultPublisher
	executor  PromptExecutor
	logger    *logging.Logger
}

// New wires a worker.
func New(publisher ResultPublisher, executor PromptExecutor, logger *logging.Logger) *Worker {
	return &Worker{publisher: publisher, executor: executor, logger: logger.Named("worker")}
}

// Run joins the dispatch queue group and handles jobs until ctx is
// cancelled. Each dispatch runs on its own goroutine so a slow model
// call never blocks the subscription.
func (w *Worker) Run(ctx context.Context, b *bus.Bus) error {
	sub, err := b.SubscribeDispatch(func(d *bus.JobDispatch) {
		go w.HandleDispatch(ctx, d)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	w.logger.Info(ctx, "worker started", zap.String("queue", bus.WorkerQueue))
	<-ctx.Done()
	w.logger.Info(context.Background(), "worker stopped")
	return nil
}

// HandleDispatch runs one job: RUNNING is published first, then the
// prompt executes under the dispatch's timeout, then the terminal
// result goes out with the measured duration.
func (w *Worker) HandleDispatch(ctx context.Context, d *bus.JobDispatch) {
	ctx = logging.WithRequestID(logging.WithJobID(ctx, d.JobID), d.RequestID)
	w.logger.Info(ctx, "job received", zap.String("analysis_type", d.AnalysisType))

	w.publish(ctx, &bus.JobResult{
		JobID:        d.JobID,
		RequestID:    d.RequestID,
		AnalysisType: d.AnalysisType,
		Status:       bus.ResultRunning,
	})

	timeout := time.Duration(d.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = analysis.DefaultPromptTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := w.executor.Execute(execCtx, renderPrompt(d))
	duration := time.Since(start)

	result := &bus.JobResult{
		JobID:        d.JobID,
		RequestID:    d.RequestID,
		AnalysisType: d.AnalysisType,
		DurationMS:   duration.Milliseconds(),
	}
	switch {
	case err != nil:
		result.Status = bus.ResultFailed
		result.Error = err.Error()
		w.logger.Warn(ctx, "job failed", zap.Error(err), zap.Duration("took", duration))
	case strings.TrimSpace(output) == "":
		result.Status = bus.ResultFailed
		result.Error = "model returned empty output"
		w.logger.Warn(ctx, "job produced no output", zap.Duration("took", duration))
	default:
		result.Status = bus.ResultCompleted
		result.Output = output
		w.logger.Info(ctx, "job completed", zap.Duration("took", duration))
	}
	w.publish(ctx, result)
}

func (w *Worker) publish(ctx context.Context, r *bus.JobResult) {
	if err := w.publisher.PublishResult(ctx, r); err != nil {
		w.logger.Error(ctx, "failed to publish result",
			zap.String("status", r.Status), zap.Error(err))
	}
}

// renderPrompt combines the analysis instruction with the repository
// context slice assigned to this job.
func renderPrompt(d *bus.JobDispatch) string {
	var b strings.Builder
	b.WriteString(d.Prompt)
	b.WriteString("\n\n## Repository\n")
	fmt.Fprintf(&b, "URL: %s\n", d.RepositoryURL)
	if len(d.Context.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(d.Context.Languages, ", "))
	}
	if len(d.Context.Frameworks) > 0 {
		fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(d.Context.Frameworks, ", "))
	}
	if len(d.Context.Dependencies) > 0 {
		b.WriteString("\n## Dependencies\n")
		for _, dep := range d.Context.Dependencies {
			fmt.Fprintf(&b, "- %s\n", dep)
		}
	}
	if d.Context.DirectoryTree != "" {
		b.WriteString("\n## Directory tree\n")
		b.WriteString(d.Context.DirectoryTree)
	}
	return b.String()
}
