package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/bus"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/store"
)

// ResultHandler is the inbound half of the job protocol. It is the only
// writer of job completion data and runs on the bus subscription
// goroutine, concurrent with the scheduler's reads; every write goes
// through the job entity's guarded transitions, which reject illegal
// states instead of corrupting them.
type ResultHandler struct {
	store       store.Store
	correlation *Correlation
	logger      *logging.Logger
}

// NewResultHandler wires the handler to the store and correlation map.
func NewResultHandler(st store.Store, correlation *Correlation, logger *logging.Logger) *ResultHandler {
	return &ResultHandler{store: st, correlation: correlation, logger: logger.Named("results")}
}

// Handle processes one inbound result message.
//
// RUNNING moves a Pending job to Running and resolves nothing; it is
// idempotent and tolerates duplication or loss. COMPLETED and FAILED
// finalize the job and settle its await handle. Unknown status values
// are logged and otherwise ignored.
func (h *ResultHandler) Handle(ctx context.Context, r *bus.JobResult) {
	ctx = logging.WithRequestID(logging.WithJobID(ctx, r.JobID), r.RequestID)

	switch strings.ToUpper(strings.TrimSpace(r.Status)) {
	case bus.ResultRunning:
		h.handleRunning(ctx, r)
	case bus.ResultCompleted:
		h.handleCompleted(ctx, r)
	case bus.ResultFailed:
		h.handleFailed(ctx, r)
	default:
		h.logger.Warn(ctx, "ignoring result with unexpected status",
			zap.String("status", r.Status))
	}
}

func (h *ResultHandler) handleRunning(ctx context.Context, r *bus.JobResult) {
	job, err := h.store.GetJob(ctx, r.JobID)
	if err != nil {
		h.logger.Warn(ctx, "running signal for unknown job", zap.Error(err))
		return
	}
	if err := job.Start(); err != nil {
		// Already running or terminal; duplicated RUNNING is expected.
		h.logger.Debug(ctx, "ignoring redundant running signal",
			zap.String("job_status", string(job.Status)))
		return
	}
	if err := h.store.SaveJob(ctx, job); err != nil {
		h.logger.Error(ctx, "failed to persist running job", zap.Error(err))
	}
}

func (h *ResultHandler) handleCompleted(ctx context.Context, r *bus.JobResult) {
	job, err := h.store.GetJob(ctx, r.JobID)
	if err != nil {
		h.logger.Warn(ctx, "completion for unknown job", zap.Error(err))
		return
	}
	if job.Status != analysis.JobCompleted {
		// Tolerate a missing RUNNING message.
		if job.Status == analysis.JobPending {
			if err := job.Start(); err != nil {
				h.logger.Error(ctx, "failed to start job on completion", zap.Error(err))
				return
			}
		}
		duration := time.Duration(r.DurationMS) * time.Millisecond
		if err := job.Complete(r.Output, duration); err != nil {
			if errors.Is(err, analysis.ErrEmptyOutput) {
				h.logger.Warn(ctx, "completion carried no output, failing job")
				h.handleFailed(ctx, &bus.JobResult{
					JobID: r.JobID, RequestID: r.RequestID,
					Status: bus.ResultFailed, Error: "worker reported completion without output",
				})
				return
			}
			h.logger.Error(ctx, "failed to complete job", zap.Error(err))
			return
		}
		if err := h.store.SaveJob(ctx, job); err != nil {
			h.logger.Error(ctx, "failed to persist completed job", zap.Error(err))
			return
		}
	}

	if !h.correlation.Resolve(r.JobID, r) {
		h.logger.Debug(ctx, "no awaiting handle for completed job")
	}
}

func (h *ResultHandler) handleFailed(ctx context.Context, r *bus.JobResult) {
	job, err := h.store.GetJob(ctx, r.JobID)
	if err != nil {
		h.logger.Warn(ctx, "failure for unknown job", zap.Error(err))
		return
	}
	if !job.Status.Terminal() {
		if err := job.Fail(r.Error); err != nil {
			h.logger.Error(ctx, "failed to fail job", zap.Error(err))
			return
		}
		if err := h.store.SaveJob(ctx, job); err != nil {
			h.logger.Error(ctx, "failed to persist failed job", zap.Error(err))
			return
		}
	}

	if !h.correlation.Resolve(r.JobID, r) {
		h.logger.Debug(ctx, "no awaiting handle for failed job")
	}
}
