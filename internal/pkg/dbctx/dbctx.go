package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with the storage transaction of the
// unit of work it runs in. Tx is nil when no transaction is open.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the transaction bound to Ctx, or nil.
func (c Context) DB() *gorm.DB {
	if c.Tx == nil {
		return nil
	}
	return c.Tx.WithContext(c.Ctx)
}
