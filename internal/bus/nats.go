package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/config"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
)

// Connect establishes the NATS connection with reconnect behavior from
// config.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Bus publishes and subscribes the job protocol messages.
type Bus struct {
	nc     *nats.Conn
	logger *logging.Logger
}

// New wraps an established NATS connection.
func New(nc *nats.Conn, logger *logging.Logger) *Bus {
	return &Bus{nc: nc, logger: logger}
}

// PublishDispatch sends a job dispatch to the worker queue.
func (b *Bus) PublishDispatch(ctx context.Context, d *JobDispatch) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dispatch for job %s: %w", d.JobID, err)
	}
	if err := b.nc.Publish(SubjectDispatch, data); err != nil {
		return fmt.Errorf("publish dispatch for job %s: %w", d.JobID, err)
	}
	b.logger.Debug(ctx, "published job dispatch",
		zap.String("job_id", d.JobID),
		zap.String("analysis_type", d.AnalysisType))
	return nil
}

// PublishResult sends a job result back to the orchestrator.
func (b *Bus) PublishResult(ctx context.Context, r *JobResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result for job %s: %w", r.JobID, err)
	}
	if err := b.nc.Publish(SubjectResults, data); err != nil {
		return fmt.Errorf("publish result for job %s: %w", r.JobID, err)
	}
	b.logger.Debug(ctx, "published job result",
		zap.String("job_id", r.JobID),
		zap.String("status", r.Status))
	return nil
}

// SubscribeDispatch joins the worker queue group. Each dispatch is
// delivered to exactly one subscriber in the group. Malformed payloads
// are logged and dropped.
func (b *Bus) SubscribeDispatch(handler func(*JobDispatch)) (*nats.Subscription, error) {
	sub, err := b.nc.QueueSubscribe(SubjectDispatch, WorkerQueue, func(msg *nats.Msg) {
		var d JobDispatch
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			b.logger.Warn(context.Background(), "dropping malformed dispatch message", zap.Error(err))
			return
		}
		handler(&d)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectDispatch, err)
	}
	return sub, nil
}

// SubscribeResults delivers inbound job results to handler. Malformed
// payloads are logged and dropped.
func (b *Bus) SubscribeResults(handler func(*JobResult)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(SubjectResults, func(msg *nats.Msg) {
		var r JobResult
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			b.logger.Warn(context.Background(), "dropping malformed result message", zap.Error(err))
			return
		}
		handler(&r)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectResults, err)
	}
	return sub, nil
}

// Flush waits for all published messages to reach the server.
func (b *Bus) Flush() error {
	return b.nc.Flush()
}
