package uow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/repos"
	"github.com/subgate-microservice/subgate-sub000/internal/data/repos/testutil"
	"github.com/subgate-microservice/subgate-sub000/internal/data/uow"
	"github.com/subgate-microservice/subgate-sub000/internal/data/uow/uowtest"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/subscription"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/webhook"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type harness struct {
	ctx       context.Context
	db        *gorm.DB
	clock     *testutil.Clock
	hooks     *uowtest.HooksRecorder
	publisher *recordingPublisher
	factory   *uow.Factory
	authID    uuid.UUID
}

func newHarness(t *testing.T, mutate ...func(*uow.Deps)) *harness {
	t.Helper()
	h := &harness{
		ctx:       context.Background(),
		db:        testutil.DB(t),
		clock:     testutil.NewClock(),
		hooks:     &uowtest.HooksRecorder{},
		publisher: &recordingPublisher{},
		authID:    uuid.New(),
	}
	deps := uow.Deps{
		DB:        h.db,
		Log:       testutil.Logger(t),
		Hooks:     h.hooks,
		Publisher: h.publisher,
		Now:       h.clock.Now,
	}
	for _, m := range mutate {
		m(&deps)
	}
	f, err := uow.NewFactory(deps)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	h.factory = f
	return h
}

// write runs fn in a fresh unit of work and commits it.
func (h *harness) write(t *testing.T, fn func(u *uow.UnitOfWork) error) uuid.UUID {
	t.Helper()
	var txID uuid.UUID
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		txID = u.TransactionID()
		if err := fn(u); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	h.clock.Advance(1)
	return txID
}

func (h *harness) rollback(t *testing.T, txID uuid.UUID) {
	t.Helper()
	u, err := h.factory.ForTransaction(h.ctx, txID)
	if err != nil {
		t.Fatalf("ForTransaction: %v", err)
	}
	defer u.Close()
	if err := u.Rollback(h.ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func (h *harness) plan(t *testing.T, id uuid.UUID) (*subscription.Plan, error) {
	t.Helper()
	var out *subscription.Plan
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		var err error
		out, err = u.Plans().GetOneByID(ctx, id, domain.LockNone)
		return err
	})
	return out, err
}

func (h *harness) webhook(t *testing.T, id uuid.UUID) (*webhook.Webhook, error) {
	t.Helper()
	var out *webhook.Webhook
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		var err error
		out, err = u.Webhooks().GetOneByID(ctx, id, domain.LockNone)
		return err
	})
	return out, err
}

func (h *harness) logs(t *testing.T, txID uuid.UUID) []changelog.Log {
	t.Helper()
	logs, err := h.factory.Store().ByTransactionID(h.ctx, nil, txID)
	if err != nil {
		t.Fatalf("ByTransactionID: %v", err)
	}
	return logs
}

func TestCommitThenRead(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Pro", h.authID, h.clock.Now())
	txID := h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(p) })

	got, err := h.plan(t, p.ID)
	if err != nil {
		t.Fatalf("read committed plan: %v", err)
	}
	if got.Title != "Pro" || got.Price != p.Price {
		t.Fatalf("plan mismatch: %+v", got)
	}
	logs := h.logs(t, txID)
	if len(logs) != 1 || logs[0].Action != changelog.ActionInsert || logs[0].ModelID != p.ID.String() {
		t.Fatalf("expected one insert log, got %+v", logs)
	}
	if got := h.hooks.Statuses("uow.commit"); len(got) != 1 || got[0] != "success" {
		t.Fatalf("commit statuses=%v", got)
	}
}

func TestUncommittedWritesAreDiscarded(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Draft", h.authID, h.clock.Now())

	err := h.factory.Do(h.ctx, func(_ context.Context, u *uow.UnitOfWork) error {
		return u.Plans().AddOne(p)
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("uncommitted plan must not exist, got %v", err)
	}
}

func TestRollbackInsert(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Temp", h.authID, h.clock.Now())
	txID := h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(p) })

	h.rollback(t, txID)

	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("rolled back insert must be gone, got %v", err)
	}
	logs := h.logs(t, txID)
	if len(logs) != 2 || logs[1].Action != changelog.ActionRollbackInsert || logs[1].HasState() {
		t.Fatalf("expected insert + rollback_insert, got %+v", logs)
	}
}

func TestRollbackUpdateRestoresPriorState(t *testing.T) {
	h := newHarness(t)
	w := testutil.Webhook(t, "plan_created", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().AddOne(w) })

	t2 := h.write(t, func(u *uow.UnitOfWork) error {
		cur, err := u.Webhooks().GetOneByID(h.ctx, w.ID, domain.LockWrite)
		if err != nil {
			return err
		}
		cur.TargetURL = "https://hooks.example.com/changed"
		return u.Webhooks().UpdateOne(cur)
	})

	// A later transaction edits another field of the same row.
	h.write(t, func(u *uow.UnitOfWork) error {
		cur, err := u.Webhooks().GetOneByID(h.ctx, w.ID, domain.LockWrite)
		if err != nil {
			return err
		}
		cur.Delays = []int{5}
		return u.Webhooks().UpdateOne(cur)
	})

	h.rollback(t, t2)

	got, err := h.webhook(t, w.ID)
	if err != nil {
		t.Fatalf("read webhook: %v", err)
	}
	if got.TargetURL != w.TargetURL {
		t.Fatalf("target_url=%q want %q", got.TargetURL, w.TargetURL)
	}
}

func TestRollbackUpdateScenario(t *testing.T) {
	h := newHarness(t)
	x := testutil.Plan(t, "X", h.authID, h.clock.Now())
	x.Price = 1
	x.Level = 2
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(x) })

	t2 := h.write(t, func(u *uow.UnitOfWork) error {
		cur, err := u.Plans().GetOneByID(h.ctx, x.ID, domain.LockWrite)
		if err != nil {
			return err
		}
		cur.Level = 9
		return u.Plans().UpdateOne(cur)
	})
	if got, _ := h.plan(t, x.ID); got == nil || got.Level != 9 {
		t.Fatalf("update not applied: %+v", got)
	}

	h.rollback(t, t2)

	got, err := h.plan(t, x.ID)
	if err != nil {
		t.Fatalf("read plan: %v", err)
	}
	if got.Price != 1 || got.Level != 2 {
		t.Fatalf("expected {price:1 level:2}, got {price:%v level:%d}", got.Price, got.Level)
	}
}

func TestRollbackTwoInserts(t *testing.T) {
	h := newHarness(t)
	y := testutil.Plan(t, "Y", h.authID, h.clock.Now())
	z := testutil.Plan(t, "Z", h.authID, h.clock.Now())
	t3 := h.write(t, func(u *uow.UnitOfWork) error {
		if err := u.Plans().AddOne(y); err != nil {
			return err
		}
		return u.Plans().AddOne(z)
	})

	h.rollback(t, t3)

	for _, id := range []uuid.UUID{y.ID, z.ID} {
		if _, err := h.plan(t, id); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("plan %s should be gone, got %v", id, err)
		}
	}
}

func TestRollbackDelete(t *testing.T) {
	h := newHarness(t)
	w := testutil.Plan(t, "W", h.authID, h.clock.Now())
	w.Price = 5
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(w) })
	t4 := h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().DeleteOne(w) })

	if _, err := h.plan(t, w.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("delete not applied: %v", err)
	}
	h.rollback(t, t4)

	got, err := h.plan(t, w.ID)
	if err != nil {
		t.Fatalf("restored plan: %v", err)
	}
	if got.Price != 5 || got.Title != "W" {
		t.Fatalf("restored plan mismatch: %+v", got)
	}
}

func TestRollbackBatchDelete(t *testing.T) {
	h := newHarness(t)
	hooks := []*webhook.Webhook{
		testutil.Webhook(t, "a", h.authID, h.clock.Now()),
		testutil.Webhook(t, "b", h.authID, h.clock.Now()),
		testutil.Webhook(t, "c", h.authID, h.clock.Now()),
	}
	keep := testutil.Webhook(t, "keep", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error {
		return u.Webhooks().AddMany(append([]*webhook.Webhook{keep}, hooks...))
	})
	tx := h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().DeleteMany(hooks) })

	h.rollback(t, tx)

	var all []*webhook.Webhook
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		var err error
		all, err = u.Webhooks().GetSelected(ctx, webhook.WebhookFilter{AuthIDs: []uuid.UUID{h.authID}}, domain.LockNone)
		return err
	})
	if err != nil {
		t.Fatalf("GetSelected: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 webhooks after restore, got %d", len(all))
	}
	byID := map[uuid.UUID]*webhook.Webhook{}
	for _, w := range all {
		byID[w.ID] = w
	}
	for _, w := range hooks {
		got, ok := byID[w.ID]
		if !ok || got.EventCode != w.EventCode || got.TargetURL != w.TargetURL || len(got.Delays) != 3 {
			t.Fatalf("webhook %s not restored: %+v", w.ID, got)
		}
	}
}

func TestRollbackSafeDelete(t *testing.T) {
	h := newHarness(t)
	w := testutil.Webhook(t, "soft", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().AddOne(w) })
	tx := h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().SafeDeleteOne(w) })

	if _, err := h.webhook(t, w.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("safe delete not applied: %v", err)
	}
	h.rollback(t, tx)
	if _, err := h.webhook(t, w.ID); err != nil {
		t.Fatalf("webhook should be visible again: %v", err)
	}
}

func (h *harness) softDeleted(t *testing.T, table string, id uuid.UUID) bool {
	t.Helper()
	var count int64
	err := h.db.Table(table).Where("id = ? AND deleted_at IS NOT NULL", id).Count(&count).Error
	if err != nil {
		t.Fatalf("count soft deleted: %v", err)
	}
	return count == 1
}

func TestSafeDeleteLogRecordsDeletionTime(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Soft", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(p) })
	at := h.clock.Now()
	t2 := h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().SafeDeleteOne(p) })

	logs := h.logs(t, t2)
	if len(logs) != 1 {
		t.Fatalf("expected one safe_delete log, got %+v", logs)
	}
	var rec repos.PlanRecord
	if err := logs[0].DecodeState(&rec); err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if rec.DeletedAt == nil || !rec.DeletedAt.Equal(at) {
		t.Fatalf("logged deleted_at=%v want %v", rec.DeletedAt, at)
	}
	if rec.Title != "Soft" {
		t.Fatalf("logged state lost fields: %+v", rec)
	}
	if !h.softDeleted(t, repos.TablePlan, p.ID) {
		t.Fatalf("plan should be soft deleted")
	}
}

func TestRollbackDeleteOfSoftDeletedRowKeepsItDeleted(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "P", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(p) })
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().SafeDeleteOne(p) })
	t3 := h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().DeleteOne(p) })

	h.rollback(t, t3)

	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("restored plan must stay soft deleted, got %v", err)
	}
	if !h.softDeleted(t, repos.TablePlan, p.ID) {
		t.Fatalf("row should be back with deleted_at set")
	}
}

func TestUpdateDoesNotUndeleteRow(t *testing.T) {
	h := newHarness(t)
	w := testutil.Webhook(t, "stale", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().AddOne(w) })
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().SafeDeleteOne(w) })

	w.TargetURL = "https://hooks.example.com/stale"
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().UpdateOne(w) })

	if _, err := h.webhook(t, w.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("update of a stale entity must not revive it, got %v", err)
	}
	if !h.softDeleted(t, repos.TableWebhook, w.ID) {
		t.Fatalf("webhook should still be soft deleted")
	}
}

func TestRollbackWithoutPriorStateFails(t *testing.T) {
	h := newHarness(t)
	x := testutil.Plan(t, "Purged", h.authID, h.clock.Now())
	x.Level = 2
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(x) })
	y := testutil.Plan(t, "Fresh", h.authID, h.clock.Now())

	h.clock.Advance(time.Minute)
	if n, err := h.factory.Store().PurgeBefore(h.ctx, nil, h.clock.Now()); err != nil || n != 1 {
		t.Fatalf("PurgeBefore: n=%d err=%v", n, err)
	}
	h.clock.Advance(time.Minute)

	t2 := h.write(t, func(u *uow.UnitOfWork) error {
		cur, err := u.Plans().GetOneByID(h.ctx, x.ID, domain.LockWrite)
		if err != nil {
			return err
		}
		cur.Level = 9
		if err := u.Plans().UpdateOne(cur); err != nil {
			return err
		}
		return u.Plans().AddOne(y)
	})

	u, err := h.factory.ForTransaction(h.ctx, t2)
	if err != nil {
		t.Fatalf("ForTransaction: %v", err)
	}
	defer u.Close()
	if err := u.Rollback(h.ctx); !errors.Is(err, uow.ErrNoPriorState) {
		t.Fatalf("expected ErrNoPriorState, got %v", err)
	}

	got, err := h.plan(t, x.ID)
	if err != nil || got.Level != 9 {
		t.Fatalf("failed rollback must leave the row as is: %+v err=%v", got, err)
	}
	if _, err := h.plan(t, y.ID); err != nil {
		t.Fatalf("failed rollback must not undo the insert either: %v", err)
	}
	if logs := h.logs(t, t2); len(logs) != 2 {
		t.Fatalf("no rollback logs expected, got %+v", logs)
	}
	if got := h.hooks.Statuses("uow.rollback"); len(got) == 0 || got[len(got)-1] != string(apperrors.CodePreconditionFailed) {
		t.Fatalf("rollback statuses=%v", got)
	}
}

func TestRollbackMixedTables(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Base", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(p) })

	s := testutil.Subscription(t, p, "carol", h.clock.Now())
	tx := h.write(t, func(u *uow.UnitOfWork) error {
		cur, err := u.Plans().GetOneByID(h.ctx, p.ID, domain.LockWrite)
		if err != nil {
			return err
		}
		cur.Title = "Renamed"
		if err := u.Plans().UpdateOne(cur); err != nil {
			return err
		}
		return u.Subscriptions().AddOne(s)
	})

	h.rollback(t, tx)

	got, err := h.plan(t, p.ID)
	if err != nil || got.Title != "Base" {
		t.Fatalf("plan not restored: %+v err=%v", got, err)
	}
	err = h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		_, err := u.Subscriptions().GetOneByID(ctx, s.ID, domain.LockNone)
		return err
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("subscription should be gone, got %v", err)
	}
}

func TestRollbackOfNothingIsNoop(t *testing.T) {
	h := newHarness(t)
	tx := uuid.New()
	h.rollback(t, tx)
	if logs := h.logs(t, tx); len(logs) != 0 {
		t.Fatalf("expected no logs, got %d", len(logs))
	}
}

func TestDoubleRollbackIsNoop(t *testing.T) {
	h := newHarness(t)
	w := testutil.Plan(t, "Twice", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(w) })
	tx := h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().DeleteOne(w) })

	h.rollback(t, tx)
	h.rollback(t, tx)

	logs := h.logs(t, tx)
	if len(logs) != 2 {
		t.Fatalf("expected delete + one rollback_delete, got %+v", logs)
	}
	if _, err := h.plan(t, w.ID); err != nil {
		t.Fatalf("plan should be restored once: %v", err)
	}
}

func TestCommitAfterRollback(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Same", h.authID, h.clock.Now())
	u, err := h.factory.New(h.ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	if err := u.Plans().AddOne(p); err != nil {
		t.Fatalf("AddOne: %v", err)
	}
	if err := u.Commit(h.ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := u.Rollback(h.ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := u.Commit(h.ctx); !errors.Is(err, uow.ErrRolledBack) {
		t.Fatalf("expected ErrRolledBack, got %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("plan should be rolled back, got %v", err)
	}
}

func TestDuplicateInsertAppliesNothing(t *testing.T) {
	h := newHarness(t)
	w := testutil.Webhook(t, "dup", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().AddOne(w) })

	p := testutil.Plan(t, "Collateral", h.authID, h.clock.Now())
	var txID uuid.UUID
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		txID = u.TransactionID()
		if err := u.Plans().AddOne(p); err != nil {
			return err
		}
		if err := u.Webhooks().AddOne(w); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	if !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	var exists *apperrors.AlreadyExistsError
	if !errors.As(err, &exists) || exists.Entity != "webhook" {
		t.Fatalf("expected *AlreadyExistsError for webhook, got %v", err)
	}
	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("plan of failed commit must not exist, got %v", err)
	}
	if logs := h.logs(t, txID); len(logs) != 0 {
		t.Fatalf("failed commit must not persist logs, got %d", len(logs))
	}
	if len(h.hooks.Conflicts) != 1 || h.hooks.Conflicts[0] != "uow.commit" {
		t.Fatalf("conflicts=%v", h.hooks.Conflicts)
	}
}

func TestActiveStatusGuardConflict(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Guarded", h.authID, h.clock.Now())
	first := testutil.Subscription(t, p, "dave", h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error {
		if err := u.Plans().AddOne(p); err != nil {
			return err
		}
		return u.Subscriptions().AddOne(first)
	})

	second := testutil.Subscription(t, p, "dave", h.clock.Now())
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		if err := u.Subscriptions().AddOne(second); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	if !errors.Is(err, subscription.ErrActiveStatusConflict) {
		t.Fatalf("expected active status conflict, got %v", err)
	}
	var conflict *subscription.ActiveStatusConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ActiveStatusConflict, got %T", err)
	}

	// A paused second subscription does not collide.
	if err := second.Pause(h.clock.Now()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	h.write(t, func(u *uow.UnitOfWork) error { return u.Subscriptions().AddOne(second) })
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	u, err := h.factory.New(h.ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := u.Plans().GetOneByID(h.ctx, uuid.New(), domain.LockWrite); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := u.Commit(h.ctx); !errors.Is(err, uow.ErrClosed) {
		t.Fatalf("Commit after Close: %v", err)
	}
	if err := u.Rollback(h.ctx); !errors.Is(err, uow.ErrClosed) {
		t.Fatalf("Rollback after Close: %v", err)
	}
	if err := u.Plans().AddOne(testutil.Plan(t, "Late", h.authID, h.clock.Now())); !errors.Is(err, uow.ErrClosed) {
		t.Fatalf("AddOne after Close: %v", err)
	}
	if _, err := u.Plans().GetOneByID(h.ctx, uuid.New(), domain.LockNone); !errors.Is(err, uow.ErrClosed) {
		t.Fatalf("read after Close: %v", err)
	}
	if err := u.PushEvent(domain.NewEvent("x", h.authID, nil, h.clock.Now())); !errors.Is(err, uow.ErrClosed) {
		t.Fatalf("PushEvent after Close: %v", err)
	}
}

func TestEventsPublishedOnlyAfterCommit(t *testing.T) {
	h := newHarness(t)
	w := testutil.Webhook(t, "evt", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Webhooks().AddOne(w) })

	// Failing commit: duplicate webhook.
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		if err := u.Webhooks().AddOne(w); err != nil {
			return err
		}
		if err := u.PushEvent(domain.NewEvent("webhook_created", h.authID, nil, h.clock.Now())); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if n := h.publisher.Len(); n != 0 {
		t.Fatalf("events of a failed commit must not be published, got %d", n)
	}

	p := testutil.Plan(t, "Evented", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error {
		if err := u.Plans().AddOne(p); err != nil {
			return err
		}
		return u.PushEvent(
			domain.NewEvent(subscription.EventPlanCreated, h.authID, map[string]any{"id": p.ID.String()}, h.clock.Now()),
		)
	})
	if n := h.publisher.Len(); n != 1 {
		t.Fatalf("expected 1 published event, got %d", n)
	}
	if h.publisher.events[0].Code != subscription.EventPlanCreated {
		t.Fatalf("unexpected event: %+v", h.publisher.events[0])
	}
}

func TestPublishFailureDoesNotFailCommit(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")
	p := testutil.Plan(t, "Quiet", h.authID, h.clock.Now())

	h.write(t, func(u *uow.UnitOfWork) error {
		if err := u.Plans().AddOne(p); err != nil {
			return err
		}
		return u.PushEvent(domain.NewEvent(subscription.EventPlanCreated, h.authID, nil, h.clock.Now()))
	})
	if _, err := h.plan(t, p.ID); err != nil {
		t.Fatalf("commit must survive publish failure: %v", err)
	}
}

func TestInjectedCommitFailureAppliesNothing(t *testing.T) {
	boom := errors.New("commit failed")
	inj := &uowtest.InjectedTxRunner{FailCommit: boom}
	h := newHarness(t, func(d *uow.Deps) { d.WrapRunner = inj.Wrap })
	p := testutil.Plan(t, "Injected", h.authID, h.clock.Now())

	var txID uuid.UUID
	err := h.factory.Do(h.ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		txID = u.TransactionID()
		if err := u.Plans().AddOne(p); err != nil {
			return err
		}
		return u.Commit(ctx)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if inj.BeginCalls != 1 || inj.RollbackCalls != 1 || inj.CommitCalls != 0 {
		t.Fatalf("counters begin=%d commit=%d rollback=%d", inj.BeginCalls, inj.CommitCalls, inj.RollbackCalls)
	}

	inj.FailCommit = nil
	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("plan must not exist after failed commit, got %v", err)
	}
	if logs := h.logs(t, txID); len(logs) != 0 {
		t.Fatalf("no logs expected, got %d", len(logs))
	}
	if got := h.hooks.Statuses("uow.commit"); len(got) == 0 || got[0] != "internal" {
		t.Fatalf("commit statuses=%v", got)
	}
}

func TestCancelledCommit(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Cancelled", h.authID, h.clock.Now())
	u, err := h.factory.New(h.ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := u.Plans().AddOne(p); err != nil {
		t.Fatalf("AddOne: %v", err)
	}
	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	if err := u.Commit(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := h.plan(t, p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("cancelled commit must not apply, got %v", err)
	}
	if len(h.hooks.Retries) != 1 {
		t.Fatalf("retries=%v", h.hooks.Retries)
	}
}

func TestShortReadContextDoesNotAbortCommit(t *testing.T) {
	h := newHarness(t)
	p := testutil.Plan(t, "Deadline", h.authID, h.clock.Now())
	h.write(t, func(u *uow.UnitOfWork) error { return u.Plans().AddOne(p) })

	u, err := h.factory.New(h.ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	readCtx, cancel := context.WithTimeout(h.ctx, time.Minute)
	cur, err := u.Plans().GetOneByID(readCtx, p.ID, domain.LockWrite)
	cancel()
	if err != nil {
		t.Fatalf("GetOneByID: %v", err)
	}
	cur.Title = "Renamed"
	if err := u.Plans().UpdateOne(cur); err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if err := u.Commit(h.ctx); err != nil {
		t.Fatalf("commit after the read context ended: %v", err)
	}
	if got, err := h.plan(t, p.ID); err != nil || got.Title != "Renamed" {
		t.Fatalf("update not applied: %+v err=%v", got, err)
	}
}

func TestFactoryRequiresDeps(t *testing.T) {
	if _, err := uow.NewFactory(uow.Deps{}); err == nil {
		t.Fatalf("expected error without db")
	}
	if _, err := uow.NewFactory(uow.Deps{DB: testutil.DB(t)}); err == nil {
		t.Fatalf("expected error without logger")
	}
}
