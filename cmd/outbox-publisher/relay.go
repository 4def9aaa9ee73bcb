package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
	"github.com/angelmondragon/cim-backend/pkg/enums"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/metrics"
	"github.com/angelmondragon/cim-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var tracer = otel.Tracer("github.com/angelmondragon/cim-backend/cmd/outbox-publisher")

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// sink delivers a resolved outbox row to the message bus.
type sink interface {
	Name() string
	Ping(context.Context) error
	Publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type RelayParams struct {
	Config   config.OutboxConfig
	Logger   *logger.Logger
	DB       txRunner
	Sink     sink
	Outbox   outboxRepository
	DLQ      dlqRepository
	Registry eventResolver
	Metrics  *metrics.OutboxMetrics
}

// Relay drains committed outbox rows to the sink. Rows are locked with SKIP
// LOCKED, so several relays can run against one database.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	sink        sink
	outbox      outboxRepository
	dlq         dlqRepository
	registry    eventResolver
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("relay: logger is required")
	case p.DB == nil:
		return nil, errors.New("relay: database is required")
	case p.Sink == nil:
		return nil, errors.New("relay: sink is required")
	case p.Outbox == nil || p.DLQ == nil:
		return nil, errors.New("relay: outbox and dlq repositories are required")
	case p.Registry == nil:
		return nil, errors.New("relay: event registry is required")
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		sink:        p.Sink,
		outbox:      p.Outbox,
		dlq:         p.DLQ,
		registry:    p.Registry,
		metrics:     p.Metrics,
		batchSize:   p.Config.BatchSize,
		maxAttempts: p.Config.MaxAttempts,
		poll:        time.Duration(p.Config.PollIntervalMS) * time.Millisecond,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	return r, nil
}

type dependency struct {
	name string
	ping func(context.Context) error
}

// dependencies are checked in order at startup, the database first.
func (r *Relay) dependencies() []dependency {
	return []dependency{
		{name: "database", ping: r.db.Ping},
		{name: r.sink.Name(), ping: r.sink.Ping},
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; an empty batch or an error waits, doubling up to
// maxIdleBackoff while errors persist.
func (r *Relay) Run(ctx context.Context) error {
	for _, dep := range r.dependencies() {
		if err := dep.ping(ctx); err != nil {
			return fmt.Errorf("relay: %s not reachable: %w", dep.name, err)
		}
	}

	wait := r.poll
	for {
		drained, err := r.drainOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case drained > 0:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}

		timer := time.NewTimer(wait + rand.N(jitterWindow))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// drainOnce handles one locked batch and returns how many rows it touched.
// Row outcomes commit together with the batch transaction.
// Delivery is at-least-once: rows publish inside the locking transaction, so a
// rollback re-sends them and consumers dedupe on event_id.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "outbox.drain")
	defer span.End()

	var handled int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.outbox.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, row := range rows {
			if err := r.handle(ctx, tx, row); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	span.SetAttributes(attribute.Int("outbox.rows", handled))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "drain failed")
	}
	return handled, err
}

// handle publishes one row and records its outcome. Only bookkeeping
// failures are returned; publish failures become row state.
func (r *Relay) handle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
		"sink":          r.sink.Name(),
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	pubErr := r.sink.Publish(ctx, row, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case pubErr == nil:
		if err := r.outbox.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		r.metrics.Inc(r.sink.Name(), metrics.PublishResultPublished)
		r.logg.Info(logCtx, "outbox event published")
		return nil

	case errors.As(pubErr, &nonRetryable):
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr)

	case row.AttemptCount+1 >= r.maxAttempts:
		return r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, pubErr))

	default:
		if err := r.outbox.MarkFailedTx(tx, row.ID, pubErr); err != nil {
			return fmt.Errorf("mark %s failed: %w", row.ID, err)
		}
		r.metrics.Inc(r.sink.Name(), metrics.PublishResultFailed)
		r.logg.Warn(r.logg.WithField(logCtx, "error", pubErr.Error()), "outbox publish failed, will retry")
		return nil
	}
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	if err := r.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := r.outbox.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark %s terminal: %w", row.ID, err)
	}
	r.metrics.Inc(r.sink.Name(), metrics.PublishResultTerminal)
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"dlq_reason": reason, "error": msg}), "outbox event dead-lettered")
	return nil
}
