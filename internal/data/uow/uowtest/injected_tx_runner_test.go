package uowtest

import (
	"context"
	"errors"
	"testing"

	"github.com/subgate-microservice/subgate-sub000/internal/pkg/dbctx"
)

func TestInjectedTxRunner_CommitsOnSuccess(t *testing.T) {
	r := &InjectedTxRunner{}
	called := false
	err := r.InTx(context.Background(), func(_ dbctx.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !called {
		t.Fatalf("expected callback to run")
	}
	if r.BeginCalls != 1 || r.CommitCalls != 1 || r.RollbackCalls != 0 {
		t.Fatalf("unexpected counters begin=%d commit=%d rollback=%d", r.BeginCalls, r.CommitCalls, r.RollbackCalls)
	}
}

func TestInjectedTxRunner_FailCommitTriggersRollback(t *testing.T) {
	commitErr := errors.New("commit failed")
	r := &InjectedTxRunner{FailCommit: commitErr}
	err := r.InTx(context.Background(), func(_ dbctx.Context) error { return nil })
	if !errors.Is(err, commitErr) {
		t.Fatalf("expected commit err, got %v", err)
	}
	if r.BeginCalls != 1 || r.CommitCalls != 0 || r.RollbackCalls != 1 {
		t.Fatalf("unexpected counters begin=%d commit=%d rollback=%d", r.BeginCalls, r.CommitCalls, r.RollbackCalls)
	}
}

type recordingRunner struct{ calls int }

func (r *recordingRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.calls++
	return fn(dbctx.Context{Ctx: ctx})
}

func TestInjectedTxRunner_Delegates(t *testing.T) {
	next := &recordingRunner{}
	r := &InjectedTxRunner{}
	runner := r.Wrap(next)

	if err := runner.InTx(context.Background(), func(_ dbctx.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("delegate calls=%d", next.calls)
	}

	beginErr := errors.New("begin failed")
	r.FailBegin = beginErr
	if err := runner.InTx(context.Background(), func(_ dbctx.Context) error { return nil }); !errors.Is(err, beginErr) {
		t.Fatalf("expected begin err, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("failed begin must not reach the delegate")
	}
}
