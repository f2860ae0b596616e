package uow

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/subgate-microservice/subgate-sub000/internal/data/repos"
	"github.com/subgate-microservice/subgate-sub000/internal/domain/subscription"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
	"gorm.io/gorm"
)

// Translator turns a storage failure into a domain error. It must return err
// unchanged when it does not recognize it.
type Translator func(err error) error

const guardKeyLen = 37 // "_" + auth uuid

// TranslateError recognizes the active status guard and primary key
// collisions on Postgres and SQLite.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == repos.GuardIndex || strings.Contains(pgErr.Detail, repos.GuardColumn) {
			return &subscription.ActiveStatusConflict{SubscriberID: guardSubscriber(pgErr.Detail), Cause: err}
		}
		if strings.HasSuffix(pgErr.ConstraintName, "_pkey") {
			return &apperrors.AlreadyExistsError{Entity: pgErr.TableName, Key: "id", Value: detailValue(pgErr.Detail), Cause: err}
		}
		return err
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
		msg := sqErr.Error()
		switch {
		case strings.Contains(msg, repos.TableSubscription+"."+repos.GuardColumn):
			return &subscription.ActiveStatusConflict{Cause: err}
		case sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return &apperrors.AlreadyExistsError{Entity: failedTable(msg), Key: "id", Cause: err}
		case sqErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.HasSuffix(msg, ".id"):
			return &apperrors.AlreadyExistsError{Entity: failedTable(msg), Key: "id", Cause: err}
		}
	}
	return err
}

// detailValue extracts the value of a Postgres unique violation detail:
// Key (col)=(value) already exists.
func detailValue(detail string) string {
	start := strings.Index(detail, ")=(")
	if start < 0 {
		return ""
	}
	rest := detail[start+3:]
	end := strings.LastIndex(rest, ")")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func guardSubscriber(detail string) string {
	v := detailValue(detail)
	if len(v) <= guardKeyLen {
		return ""
	}
	return v[:len(v)-guardKeyLen]
}

// failedTable parses "UNIQUE constraint failed: plan.id".
func failedTable(msg string) string {
	i := strings.LastIndex(msg, ": ")
	if i < 0 {
		return ""
	}
	col := msg[i+2:]
	if j := strings.Index(col, "."); j > 0 {
		return col[:j]
	}
	return col
}

// MapError classifies a commit or rollback failure into an error code.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*apperrors.Error); ok {
		return err
	}
	switch {
	case errors.Is(err, subscription.ErrActiveStatusConflict), errors.Is(err, apperrors.ErrAlreadyExists):
		return apperrors.Wrap(apperrors.CodeConflict, op, err)
	case errors.Is(err, apperrors.ErrInvalidArgument), errors.Is(err, ErrClosed), errors.Is(err, ErrRolledBack):
		return apperrors.Wrap(apperrors.CodeValidation, op, err)
	case errors.Is(err, ErrNoPriorState):
		return apperrors.Wrap(apperrors.CodePreconditionFailed, op, err)
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return apperrors.Wrap(apperrors.CodeConflict, op, err) // unique_violation
		case "23503":
			return apperrors.Wrap(apperrors.CodePreconditionFailed, op, err) // foreign_key_violation
		case "40001", "40P01", "55P03":
			return apperrors.Wrap(apperrors.CodeRetryable, op, err) // serialization/deadlock/lock_not_available
		}
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrConstraint:
			return apperrors.Wrap(apperrors.CodeConflict, op, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return apperrors.Wrap(apperrors.CodeRetryable, op, err)
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "already exists"):
		return apperrors.Wrap(apperrors.CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporar"):
		return apperrors.Wrap(apperrors.CodeRetryable, op, err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, op, err)
	}
}

func errorStatus(op string, err error) string {
	if err == nil {
		return "success"
	}
	code := strings.TrimSpace(string(apperrors.CodeOf(MapError(op, err))))
	if code == "" {
		return "failure"
	}
	return code
}
