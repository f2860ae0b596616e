package uow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/repos"
	"github.com/subgate-microservice/subgate-sub000/internal/data/sqlstmt"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/dbctx"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	opCommit   = "uow.commit"
	opRollback = "uow.rollback"
)

var tracer = otel.Tracer("subgate/uow")

// Publisher delivers domain events after the unit of work that produced
// them has committed.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

type logSource interface {
	ParseLogs() []changelog.Log
}

type UnitOfWork struct {
	mu sync.Mutex

	txID      uuid.UUID
	sess      *session
	runner    TxRunner
	store     changelog.Store
	compiler  *sqlstmt.Compiler
	exec      *sqlstmt.Executor
	hooks     Hooks
	publisher Publisher
	translate Translator
	log       *logger.Logger
	now       func() time.Time

	plans         *repos.PlanRepo
	subscriptions *repos.SubscriptionRepo
	webhooks      *repos.WebhookRepo
	apikeys       *repos.ApikeyRepo
	deliveries    *repos.DeliveryTaskRepo
	telegrams     *repos.TelegramRepo
	sources       []logSource

	events     []domain.Event
	rolledBack bool
	closed     bool
}

func (u *UnitOfWork) TransactionID() uuid.UUID { return u.txID }

func (u *UnitOfWork) Plans() *repos.PlanRepo                 { return u.plans }
func (u *UnitOfWork) Subscriptions() *repos.SubscriptionRepo { return u.subscriptions }
func (u *UnitOfWork) Webhooks() *repos.WebhookRepo           { return u.webhooks }
func (u *UnitOfWork) Apikeys() *repos.ApikeyRepo             { return u.apikeys }
func (u *UnitOfWork) DeliveryTasks() *repos.DeliveryTaskRepo { return u.deliveries }
func (u *UnitOfWork) Telegrams() *repos.TelegramRepo         { return u.telegrams }

// PushEvent queues an event for publication after the next successful Commit.
func (u *UnitOfWork) PushEvent(events ...domain.Event) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	u.events = append(u.events, events...)
	return nil
}

// ParseEvents drains the queued events.
func (u *UnitOfWork) ParseEvents() []domain.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.events
	u.events = nil
	return out
}

func (u *UnitOfWork) drainLogs() []changelog.Log {
	var out []changelog.Log
	for _, src := range u.sources {
		out = append(out, src.ParseLogs()...)
	}
	return out
}

// Commit applies every buffered write and persists the logs in one storage
// transaction. On failure nothing is applied, the drained logs and queued
// events are discarded and the error is returned through the translator.
// Queued events are published once the transaction committed.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if u.rolledBack {
		return ErrRolledBack
	}

	logs := u.drainLogs()
	events := u.events
	u.events = nil

	err := u.observe(ctx, opCommit, len(logs), func(ctx context.Context) error {
		if len(logs) == 0 && !u.sess.active() {
			return nil
		}
		return u.runner.InTx(ctx, func(dbc dbctx.Context) error {
			return u.apply(dbc, logs)
		})
	})
	if err != nil {
		return err
	}
	u.log.Debug("Committed", "transaction_id", u.txID, "logs", len(logs), "events", len(events))

	if len(events) > 0 && u.publisher != nil {
		if err := u.publisher.Publish(ctx, events); err != nil {
			u.log.Warn("Failed to publish events", "transaction_id", u.txID, "events", len(events), "error", err)
		}
	}
	return nil
}

// Rollback undoes the committed writes of this transaction id with
// compensating writes, restoring every touched entity to the state recorded
// by the latest log of another transaction that precedes it. The
// compensations are logged under the same transaction id. Rolling back a
// transaction without logs, or one already compensated, does nothing. When
// an updated or deleted entity has no earlier state the rollback fails with
// ErrNoPriorState and applies nothing. Writes still buffered are discarded.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if pending := u.drainLogs(); len(pending) > 0 {
		u.log.Debug("Discarding buffered logs", "transaction_id", u.txID, "logs", len(pending))
	}
	u.events = nil

	var written int
	err := u.observe(ctx, opRollback, 0, func(ctx context.Context) error {
		return u.runner.InTx(ctx, func(dbc dbctx.Context) error {
			current, err := u.store.ByTransactionID(dbc.Ctx, dbc.Tx, u.txID)
			if err != nil {
				return err
			}
			for _, l := range current {
				if l.Action.IsRollback() {
					u.log.Info("Transaction already rolled back", "transaction_id", u.txID)
					return nil
				}
			}
			if len(current) == 0 {
				return nil
			}
			previous, err := u.store.PreviousLogs(dbc.Ctx, dbc.Tx, entityKeys(current), u.txID)
			if err != nil {
				return err
			}
			table, err := newRollbackTable(current, previous)
			if err != nil {
				return err
			}
			logs := table.Logs(u.txID, u.now())
			written = len(logs)
			return u.apply(dbc, logs)
		})
	})
	if err != nil {
		return err
	}
	u.rolledBack = true
	u.log.Info("Rolled back", "transaction_id", u.txID, "compensations", written)
	return nil
}

func (u *UnitOfWork) apply(dbc dbctx.Context, logs []changelog.Log) error {
	if len(logs) == 0 {
		return nil
	}
	stmts, err := u.compiler.Compile(dbc.Ctx, logs)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if err := u.exec.Exec(dbc.Ctx, dbc.Tx, st); err != nil {
			return err
		}
	}
	return u.store.AddMany(dbc.Ctx, dbc.Tx, logs)
}

// observe runs fn in a span, translates its error and reports it to hooks.
func (u *UnitOfWork) observe(ctx context.Context, op string, logs int, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("uow.transaction_id", u.txID.String()),
		attribute.Int("uow.logs", logs),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		u.sess.abort()
		err = u.translate(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	status := errorStatus(op, err)
	switch apperrors.ErrorCode(status) {
	case apperrors.CodeConflict:
		u.hooks.IncConflict(op)
	case apperrors.CodeRetryable:
		u.hooks.IncRetry(op)
	}
	u.hooks.ObserveOperation(op, status, time.Since(start))
	if err != nil {
		u.log.Warn("Unit of work failed", "op", op, "transaction_id", u.txID, "status", status, "error", err)
	}
	return err
}

// Close aborts any open storage transaction and drops buffered writes and
// events. It is idempotent.
func (u *UnitOfWork) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	u.drainLogs()
	u.events = nil
	u.sess.close()
	return nil
}

func (u *UnitOfWork) String() string { return fmt.Sprintf("uow(%s)", u.txID) }
