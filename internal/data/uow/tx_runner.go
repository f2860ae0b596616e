package uow

import (
	"context"

	"github.com/subgate-microservice/subgate-sub000/internal/pkg/dbctx"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
)

// TxRunner runs fn inside the storage transaction of a unit of work and
// commits it when fn succeeds. When fn fails the transaction is aborted.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type sessionRunner struct {
	sess *session
}

func newSessionRunner(sess *session) TxRunner {
	return &sessionRunner{sess: sess}
}

func (r *sessionRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.sess == nil {
		return apperrors.NewError(apperrors.CodeInternal, "uow.tx", "transaction runner has no session", nil)
	}
	tx, err := r.sess.DB(ctx)
	if err != nil {
		return err
	}
	if err := fn(dbctx.Context{Ctx: ctx, Tx: tx}); err != nil {
		r.sess.abort()
		return err
	}
	if err := ctx.Err(); err != nil {
		r.sess.abort()
		return err
	}
	return r.sess.commit()
}
