// Package uow implements the unit of work: one business transaction that
// buffers entity mutations as changelog logs, applies them on Commit and can
// later undo a committed transaction with compensating writes on Rollback.
//
// A UnitOfWork is bound to one transaction id and one lazily begun storage
// transaction. It is not safe for concurrent use.
package uow
