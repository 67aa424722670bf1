// Package checkrunner consumes scope check requests from a NATS
// JetStream queue, runs them through the engine, and publishes their
// results. Check state is tracked in a KV bucket so callers can poll
// progress without holding a subscription open.
package checkrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/axonlabs/scopeguard/engine"
)

// Checker runs one scope check. *engine.Engine satisfies it.
type Checker interface {
	Run(ctx context.Context, req engine.CheckRequest) (*engine.CheckResult, error)
}

// Config wires the runner to its stream, subject, and state bucket.
type Config struct {
	URL       string
	Stream    string
	Subject   string
	Bucket    string
	Durable   string
	FetchWait time.Duration
	AckWait   time.Duration
}

// DefaultConfig returns the standard queue topology.
func DefaultConfig() Config {
	return Config{
		URL:       nats.DefaultURL,
		Stream:    "SCOPEGUARD",
		Subject:   "scopeguard.check.request",
		Bucket:    "scopeguard-checks",
		Durable:   "scopeguard-checkrunner",
		FetchWait: 5 * time.Second,
		AckWait:   5 * time.Minute,
	}
}

// Runner is the queue worker. Create with NewRunner, wire with
// Connect, drive with Run.
type Runner struct {
	cfg     Config
	checker Checker
	logger  *slog.Logger

	conn    *nats.Conn
	cons    jetstream.Consumer
	kv      jetstream.KeyValue
	publish func(subject string, data []byte) error

	processed atomic.Uint64
	failed    atomic.Uint64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner over the given checker.
func NewRunner(cfg Config, checker Checker, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:     cfg,
		checker: checker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect establishes the NATS connection and ensures the stream,
// durable consumer, and KV bucket exist.
func (r *Runner) Connect(ctx context.Context) error {
	conn, err := nats.Connect(r.cfg.URL,
		nats.Name("scopeguard-checkrunner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", r.cfg.URL, err)
	}
	r.conn = conn
	r.publish = conn.Publish

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      r.cfg.Stream,
		Subjects:  []string{r.cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("ensure stream %s: %w", r.cfg.Stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       r.cfg.Durable,
		FilterSubject: r.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       r.cfg.AckWait,
		MaxDeliver:    3,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("ensure consumer %s: %w", r.cfg.Durable, err)
	}
	r.cons = cons

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      r.cfg.Bucket,
		Description: "scope check state",
		History:     1,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("ensure KV bucket %s: %w", r.cfg.Bucket, err)
	}
	r.kv = kv

	r.logger.Info("check runner connected",
		"url", r.cfg.URL,
		"stream", r.cfg.Stream,
		"subject", r.cfg.Subject)
	return nil
}

// Close drains and closes the NATS connection.
func (r *Runner) Close() {
	if r.conn != nil {
		_ = r.conn.Drain()
		r.conn.Close()
	}
}

// Run fetches and executes check requests until ctx is cancelled.
// Requests process one at a time per runner instance; run more
// instances for parallelism.
func (r *Runner) Run(ctx context.Context) error {
	if r.cons == nil {
		return fmt.Errorf("runner not connected")
	}

	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("check runner stopping",
				"processed", r.processed.Load(),
				"failed", r.failed.Load())
			return err
		}

		batch, err := r.cons.Fetch(1, jetstream.FetchMaxWait(r.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			r.logger.Warn("fetch failed", "error", err)
			continue
		}
		for msg := range batch.Messages() {
			r.handle(ctx, msg)
		}
	}
}

// handle executes one queued request. Engine failures are terminal for
// the message: redelivering a bad ref or an exhausted-repairs check
// reproduces the same failure, so the failure is recorded and acked
// rather than retried. Only cancellation naks for redelivery.
func (r *Runner) handle(ctx context.Context, msg jetstream.Msg) {
	_ = msg.InProgress()

	var req engine.CheckRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		r.logger.Error("malformed check request", "error", err)
		_ = msg.TermWithReason("malformed request payload")
		return
	}
	if err := req.Validate(); err != nil {
		r.logger.Error("invalid check request", "error", err)
		r.setState(ctx, stateRecord{ID: req.ID, Status: StatusFailed, Error: err.Error()})
		r.publishResult(failurePayload(req.ID, err))
		_ = msg.TermWithReason(err.Error())
		return
	}

	r.logger.Info("check dequeued", "check_id", req.ID, "project_id", req.ProjectID)
	r.setState(ctx, stateRecord{ID: req.ID, Status: StatusRunning})

	result, err := r.checker.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-check: leave the message for another worker.
			_ = msg.Nak()
			return
		}
		r.failed.Add(1)
		r.logger.Error("check failed", "check_id", req.ID, "error", err)
		r.setState(ctx, stateRecord{ID: req.ID, Status: StatusFailed, Error: err.Error()})
		r.publishResult(failurePayload(req.ID, err))
		_ = msg.Ack()
		return
	}

	r.processed.Add(1)
	r.setState(ctx, stateRecord{
		ID:         result.CheckID,
		Status:     StatusComplete,
		Score:      result.Verdict.AlignmentScore,
		Violations: len(result.Verdict.Violations),
	})
	r.publishResult(successPayload(result))
	_ = msg.Ack()
}

func (r *Runner) publishResult(p ResultPayload) {
	if p.ID == "" {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.Error("marshal result payload", "check_id", p.ID, "error", err)
		return
	}
	if r.publish == nil {
		return
	}
	if err := r.publish(ResultSubject(p.ID), data); err != nil {
		r.logger.Warn("publish result", "check_id", p.ID, "error", err)
	}
}

func (r *Runner) setState(ctx context.Context, rec stateRecord) {
	if r.kv == nil || rec.ID == "" {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if _, err := r.kv.Put(ctx, rec.ID, data); err != nil {
		r.logger.Warn("record check state", "check_id", rec.ID, "error", err)
	}
}
