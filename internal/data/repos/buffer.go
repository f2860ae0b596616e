// Package repos implements the aggregate repositories of a unit of work.
// Writes are buffered as changelog logs and only reach storage on commit;
// reads go straight to storage and never see the buffer.
package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/sqlstmt"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrReadLockUnsupported is returned for reads requesting domain.LockRead.
var ErrReadLockUnsupported = errors.New("repos: read lock is not supported")

// Session hands out the storage transaction of the owning unit of work,
// beginning it on first use. Err reports whether the session is still usable.
type Session interface {
	DB(ctx context.Context) (*gorm.DB, error)
	Err() error
}

// Env is what every repository of one unit of work shares.
type Env struct {
	Registry *sqlstmt.Registry
	Session  Session
	TxID     uuid.UUID
	Now      func() time.Time
}

// Mapper converts between a domain entity and its storage record.
type Mapper[E any, R any] interface {
	ToRecord(E) (R, error)
	ToEntity(R) (E, error)
	ModelID(E) string
}

// Buffer is the write-ahead buffer and reader for one table.
type Buffer[E any, R any] struct {
	spec    sqlstmt.TableSpec
	columns map[string]struct{}
	entity  string
	mapper  Mapper[E, R]
	env     Env
	logs    []changelog.Log
}

func NewBuffer[E any, R any](env Env, table, entity string, mapper Mapper[E, R]) *Buffer[E, R] {
	spec, err := env.Registry.Lookup(table)
	if err != nil {
		panic(fmt.Sprintf("repos: %v", err))
	}
	cols, err := env.Registry.Columns(table)
	if err != nil {
		panic(fmt.Sprintf("repos: %v", err))
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	return &Buffer[E, R]{spec: spec, columns: set, entity: entity, mapper: mapper, env: env}
}

func (b *Buffer[E, R]) AddOne(item E) error { return b.push(changelog.ActionInsert, true, item) }

func (b *Buffer[E, R]) AddMany(items []E) error { return b.push(changelog.ActionInsert, true, items...) }

func (b *Buffer[E, R]) UpdateOne(item E) error { return b.push(changelog.ActionUpdate, true, item) }

func (b *Buffer[E, R]) DeleteOne(item E) error { return b.push(changelog.ActionDelete, false, item) }

func (b *Buffer[E, R]) DeleteMany(items []E) error {
	return b.push(changelog.ActionDelete, false, items...)
}

// SafeDeleteOne marks the row deleted instead of removing it.
func (b *Buffer[E, R]) SafeDeleteOne(item E) error {
	if !b.spec.SoftDeletes() {
		return fmt.Errorf("repos: %s does not support safe delete", b.spec.Name)
	}
	return b.push(changelog.ActionSafeDelete, true, item)
}

// push appends one log per item. Either every item is buffered or none is.
func (b *Buffer[E, R]) push(action changelog.Action, withState bool, items ...E) error {
	if err := b.env.Session.Err(); err != nil {
		return err
	}
	now := b.env.Now()
	batch := make([]changelog.Log, 0, len(items))
	for _, item := range items {
		var state any
		if withState {
			rec, err := b.mapper.ToRecord(item)
			if err != nil {
				return fmt.Errorf("repos: %s %s: %w", action, b.entity, err)
			}
			state = rec
			if action == changelog.ActionSafeDelete {
				if state, err = b.softDeleted(rec, now); err != nil {
					return fmt.Errorf("repos: %s %s: %w", action, b.entity, err)
				}
			}
		}
		l, err := changelog.NewLog(b.env.TxID, b.spec.Name, action, b.mapper.ModelID(item), state, now)
		if err != nil {
			return err
		}
		batch = append(batch, l)
	}
	b.logs = append(b.logs, batch...)
	return nil
}

// softDeleted returns rec as stored once soft deleted at: the soft delete
// column carries at, every other column is kept verbatim.
func (b *Buffer[E, R]) softDeleted(rec R, at time.Time) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	ts, err := json.Marshal(at.UTC())
	if err != nil {
		return nil, err
	}
	fields[b.spec.SoftDeleteColumn] = ts
	return fields, nil
}

// ParseLogs drains the buffer.
func (b *Buffer[E, R]) ParseLogs() []changelog.Log {
	out := b.logs
	b.logs = nil
	return out
}

func (b *Buffer[E, R]) Len() int { return len(b.logs) }

func (b *Buffer[E, R]) query(ctx context.Context, lock domain.Lock) (*gorm.DB, error) {
	if err := b.env.Session.Err(); err != nil {
		return nil, err
	}
	switch lock {
	case "", domain.LockNone, domain.LockWrite:
	case domain.LockRead:
		return nil, ErrReadLockUnsupported
	default:
		return nil, fmt.Errorf("%w: unknown lock %q", apperrors.ErrInvalidArgument, lock)
	}
	db, err := b.env.Session.DB(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(new(R))
	if lock == domain.LockWrite {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if b.spec.SoftDeletes() {
		q = q.Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: b.spec.SoftDeleteColumn}, Value: nil})
	}
	return q, nil
}

func (b *Buffer[E, R]) GetOneByID(ctx context.Context, id string, lock domain.Lock) (E, error) {
	return b.GetOneBy(ctx, lock, b.spec.IDColumn, id)
}

// GetOneBy loads the single live row whose column equals value.
func (b *Buffer[E, R]) GetOneBy(ctx context.Context, lock domain.Lock, column string, value any) (E, error) {
	var zero E
	q, err := b.query(ctx, lock)
	if err != nil {
		return zero, err
	}
	var rec R
	err = q.Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: column}, Value: value}).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, &apperrors.NotFoundError{Entity: b.entity, Key: column, Value: fmt.Sprint(value)}
	}
	if err != nil {
		return zero, err
	}
	return b.mapper.ToEntity(rec)
}

// Select loads live rows matching scope, ordered and paged by page. Order
// fields must be columns of the table; without any the id orders the rows.
func (b *Buffer[E, R]) Select(ctx context.Context, page domain.Page, lock domain.Lock, scope func(*gorm.DB) *gorm.DB) ([]E, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	q, err := b.query(ctx, lock)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		q = scope(q)
	}
	for _, o := range page.OrderBy {
		if _, ok := b.columns[o.Field]; !ok {
			return nil, fmt.Errorf("%w: cannot order %s by %q", apperrors.ErrInvalidArgument, b.spec.Name, o.Field)
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Table: clause.CurrentTable, Name: o.Field}, Desc: o.Desc})
	}
	if len(page.OrderBy) == 0 {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Table: clause.CurrentTable, Name: b.spec.IDColumn}})
	}
	if page.Skip > 0 {
		q = q.Offset(page.Skip)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	var recs []R
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]E, 0, len(recs))
	for _, rec := range recs {
		e, err := b.mapper.ToEntity(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// column builds a condition on a column of the current table.
func column(name string) clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: name}
}
