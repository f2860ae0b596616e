package sqlstmt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultBatchSize = 500

// Executor runs compiled statements on a session.
type Executor struct {
	BatchSize int
	log       *logger.Logger
}

func NewExecutor(baseLog *logger.Logger) *Executor {
	return &Executor{BatchSize: defaultBatchSize, log: baseLog.With("service", "StatementExecutor")}
}

func (e *Executor) Exec(ctx context.Context, tx *gorm.DB, stmt Statement) error {
	if tx == nil {
		return fmt.Errorf("sqlstmt: exec %s %s: no session", stmt.Op, stmt.Table)
	}
	if stmt.Empty() {
		return nil
	}
	db := tx.WithContext(ctx)
	var err error
	switch stmt.Op {
	case OpInsert:
		err = e.insert(db, stmt)
	case OpUpdate:
		err = e.update(db, stmt)
	case OpDelete:
		err = db.Exec("DELETE FROM ? WHERE ? IN ?",
			clause.Table{Name: stmt.Table}, clause.Column{Name: stmt.IDColumn}, stmt.IDs).Error
	case OpSoftDelete:
		err = e.softDelete(db, stmt)
	default:
		return fmt.Errorf("sqlstmt: unknown op %q", stmt.Op)
	}
	if err != nil {
		return err
	}
	e.log.Debug("Executed statement", "table", stmt.Table, "op", stmt.Op, "source", stmt.Source, "rows", stmt.Size())
	return nil
}

func (e *Executor) insert(db *gorm.DB, stmt Statement) error {
	values := make([]map[string]any, 0, len(stmt.Rows))
	for _, row := range stmt.Rows {
		values = append(values, row.Values)
	}
	size := e.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	return db.Table(stmt.Table).CreateInBatches(values, size).Error
}

// update runs one UPDATE ... WHERE id = ? per row. Every row of a statement
// sets the same columns, so the driver sees a single statement template.
func (e *Executor) update(db *gorm.DB, stmt Statement) error {
	for _, row := range stmt.Rows {
		set := make(map[string]any, len(row.Values))
		for col, v := range row.Values {
			if col == stmt.IDColumn {
				continue
			}
			set[col] = v
		}
		if len(set) == 0 {
			continue
		}
		if err := db.Table(stmt.Table).
			Where(clause.Eq{Column: clause.Column{Name: stmt.IDColumn}, Value: row.ID}).
			Updates(set).Error; err != nil {
			return err
		}
	}
	return nil
}

// softDelete batches rows sharing a deletion time into one UPDATE ... IN.
func (e *Executor) softDelete(db *gorm.DB, stmt Statement) error {
	var order []any
	byAt := map[string][]string{}
	for _, row := range stmt.Rows {
		at := row.Values[stmt.SoftDeleteColumn]
		key := softDeleteKey(at)
		if _, ok := byAt[key]; !ok {
			order = append(order, at)
		}
		byAt[key] = append(byAt[key], row.ID)
	}
	for _, at := range order {
		if err := db.Exec("UPDATE ? SET ? = ? WHERE ? IN ?",
			clause.Table{Name: stmt.Table}, clause.Column{Name: stmt.SoftDeleteColumn}, at,
			clause.Column{Name: stmt.IDColumn}, byAt[softDeleteKey(at)]).Error; err != nil {
			return err
		}
	}
	return nil
}

func softDeleteKey(at any) string {
	switch v := at.(type) {
	case *time.Time:
		if v != nil {
			return v.UTC().Format(time.RFC3339Nano)
		}
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(at)
}

// Columns returns the sorted column set of an insert or update statement.
func (s Statement) Columns() []string {
	if len(s.Rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(s.Rows[0].Values))
	for c := range s.Rows[0].Values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
