package changelog_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/repos/testutil"
)

type widget struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func mustLog(t *testing.T, txID uuid.UUID, table string, action changelog.Action, id string, state any, now time.Time) changelog.Log {
	t.Helper()
	l, err := changelog.NewLog(txID, table, action, id, state, now)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	return l
}

func TestPreviousLogsBoundedBySequence(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	store := changelog.NewStore(db, testutil.Logger(t))
	now := testutil.NewClock().Now()

	t1, t2, t3 := uuid.New(), uuid.New(), uuid.New()
	batches := [][]changelog.Log{
		{mustLog(t, t1, "widget", changelog.ActionInsert, "x", widget{"x", "v1"}, now)},
		{mustLog(t, t2, "widget", changelog.ActionUpdate, "x", widget{"x", "v2"}, now)},
		// t3 touches an unrelated row in another table with the same id.
		{mustLog(t, t3, "gadget", changelog.ActionInsert, "x", widget{"x", "g"}, now)},
		{mustLog(t, t1, "widget", changelog.ActionUpdate, "x", widget{"x", "v3"}, now)},
	}
	for _, b := range batches {
		if err := store.AddMany(ctx, nil, b); err != nil {
			t.Fatalf("AddMany: %v", err)
		}
	}

	// t2's update came after t1's first log, so it is not t1's "before".
	prev, err := store.PreviousLogs(ctx, nil, []changelog.EntityKey{{Collection: "widget", ModelID: "x"}}, t1)
	if err != nil {
		t.Fatalf("PreviousLogs(t1): %v", err)
	}
	if len(prev) != 0 {
		t.Fatalf("t1 created x, expected no previous log, got %+v", prev)
	}

	prev, err = store.PreviousLogs(ctx, nil, []changelog.EntityKey{{Collection: "widget", ModelID: "x"}}, t2)
	if err != nil {
		t.Fatalf("PreviousLogs(t2): %v", err)
	}
	if len(prev) != 1 || prev[0].TransactionID != t1 || prev[0].Action != changelog.ActionInsert {
		t.Fatalf("expected t1 insert before t2, got %+v", prev)
	}
	var w widget
	if err := prev[0].DecodeState(&w); err != nil || w.Label != "v1" {
		t.Fatalf("state=%+v err=%v", w, err)
	}

	// A key the excluded transaction never touched gets the latest log.
	prev, err = store.PreviousLogs(ctx, nil, []changelog.EntityKey{{Collection: "widget", ModelID: "x"}}, t3)
	if err != nil {
		t.Fatalf("PreviousLogs(t3): %v", err)
	}
	if len(prev) != 1 || prev[0].TransactionID != t1 || prev[0].Action != changelog.ActionUpdate {
		t.Fatalf("expected latest widget log, got %+v", prev)
	}
}

func TestByTransactionIDAndList(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	store := changelog.NewStore(db, testutil.Logger(t))
	clock := testutil.NewClock()

	t1, t2 := uuid.New(), uuid.New()
	if err := store.AddMany(ctx, nil, []changelog.Log{
		mustLog(t, t1, "widget", changelog.ActionInsert, "a", widget{"a", "1"}, clock.Now()),
		mustLog(t, t1, "widget", changelog.ActionDelete, "b", nil, clock.Now()),
	}); err != nil {
		t.Fatalf("AddMany t1: %v", err)
	}
	clock.Advance(time.Hour)
	if err := store.AddMany(ctx, nil, []changelog.Log{
		mustLog(t, t2, "widget", changelog.ActionUpdate, "a", widget{"a", "2"}, clock.Now()),
		mustLog(t, t2, "widget", changelog.ActionRollbackUpdate, "a", widget{"a", "1"}, clock.Now()),
	}); err != nil {
		t.Fatalf("AddMany t2: %v", err)
	}

	logs, err := store.ByTransactionID(ctx, nil, t1)
	if err != nil {
		t.Fatalf("ByTransactionID: %v", err)
	}
	if len(logs) != 2 || logs[0].ModelID != "a" || logs[1].ModelID != "b" || logs[0].ID >= logs[1].ID {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if logs[1].HasState() {
		t.Fatalf("delete log must have no state")
	}

	list, err := store.ListTransactions(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(list) != 2 || list[0].TransactionID != t2 || list[1].TransactionID != t1 {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if !list[0].RolledBack() || list[1].RolledBack() || list[1].LogCount != 2 {
		t.Fatalf("summary mismatch: %+v", list)
	}

	next, err := store.ListTransactions(ctx, nil, 10, list[0].FirstID)
	if err != nil || len(next) != 1 || next[0].TransactionID != t1 {
		t.Fatalf("cursor page: %+v err=%v", next, err)
	}

	n, err := store.PurgeBefore(ctx, nil, clock.Now().Add(-time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("PurgeBefore: n=%d err=%v", n, err)
	}
	if logs, _ := store.ByTransactionID(ctx, nil, t1); len(logs) != 0 {
		t.Fatalf("t1 logs should be purged, got %d", len(logs))
	}
}
