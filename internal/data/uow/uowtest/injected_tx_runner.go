// Package uowtest holds test doubles for units of work.
package uowtest

import (
	"context"
	"sync"

	"github.com/subgate-microservice/subgate-sub000/internal/data/uow"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/dbctx"
)

// InjectedTxRunner injects failures around a transaction. With a Delegate
// the body runs in the delegate's real transaction and an injected commit
// failure aborts it; without one the body runs without storage.
type InjectedTxRunner struct {
	mu sync.Mutex

	Delegate uow.TxRunner

	FailBegin      error
	FailBeforeBody error
	FailCommit     error

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ uow.TxRunner = (*InjectedTxRunner)(nil)

// Wrap is a uow.Deps.WrapRunner that installs r over the real runner.
func (r *InjectedTxRunner) Wrap(next uow.TxRunner) uow.TxRunner {
	r.mu.Lock()
	r.Delegate = next
	r.mu.Unlock()
	return r
}

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.BeginCalls++
	failBegin := r.FailBegin
	failBeforeBody := r.FailBeforeBody
	failCommit := r.FailCommit
	delegate := r.Delegate
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}
	if failBeforeBody != nil {
		r.inc(&r.RollbackCalls)
		return failBeforeBody
	}
	if fn == nil {
		r.inc(&r.CommitCalls)
		return nil
	}

	body := func(dbc dbctx.Context) error {
		if err := fn(dbc); err != nil {
			return err
		}
		return failCommit
	}
	var err error
	if delegate != nil {
		err = delegate.InTx(ctx, body)
	} else {
		err = body(dbctx.Context{Ctx: ctx})
	}
	if err != nil {
		r.inc(&r.RollbackCalls)
		return err
	}
	r.inc(&r.CommitCalls)
	return nil
}

func (r *InjectedTxRunner) inc(n *int) {
	r.mu.Lock()
	*n++
	r.mu.Unlock()
}
