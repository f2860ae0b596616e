package sqlstmt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
)

// ErrMissingState means a log that writes a row carries no state to write.
var ErrMissingState = errors.New("sqlstmt: log has no state")

type Op string

const (
	OpInsert     Op = "insert"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpSoftDelete Op = "soft_delete"
)

// Row is one parameter row of an insert or update statement.
type Row struct {
	ID     string
	Values map[string]any
}

// Statement is one batched write against one table. Insert, update and soft
// delete use Rows, delete uses IDs. A soft delete row carries only the soft
// delete column.
type Statement struct {
	Table            string
	Op               Op
	IDColumn         string
	SoftDeleteColumn string
	Rows             []Row
	IDs              []string
	// Source is the log action the statement was compiled from.
	Source changelog.Action
}

func (s Statement) Empty() bool { return len(s.Rows) == 0 && len(s.IDs) == 0 }

func (s Statement) Size() int { return len(s.Rows) + len(s.IDs) }

type Compiler struct {
	registry *Registry
	now      func() time.Time
}

func NewCompiler(registry *Registry, now func() time.Time) *Compiler {
	if now == nil {
		now = time.Now
	}
	return &Compiler{registry: registry, now: now}
}

type groupKey struct {
	table  string
	action changelog.Action
}

// Compile groups logs by (table, action) in order of first appearance and
// emits one statement per non-empty group:
//
//	insert, rollback_delete                 -> insert of the states
//	update                                  -> update by id, soft delete column untouched
//	rollback_update                         -> update by id to the states
//	rollback_safe_delete                    -> update by id, soft delete column cleared
//	delete, rollback_insert                 -> delete by id
//	safe_delete                             -> soft delete by id at the logged time
//
// Every log except delete and rollback_insert must carry a state.
func (c *Compiler) Compile(ctx context.Context, logs []changelog.Log) ([]Statement, error) {
	var order []groupKey
	groups := make(map[groupKey][]changelog.Log)
	for _, l := range logs {
		k := groupKey{table: l.CollectionName, action: l.Action}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], l)
	}

	now := c.now().UTC()
	out := make([]Statement, 0, len(order))
	for _, k := range order {
		stmt, err := c.compileGroup(ctx, k, groups[k], now)
		if err != nil {
			return nil, err
		}
		if stmt.Empty() {
			continue
		}
		out = append(out, stmt)
	}
	return out, nil
}

func (c *Compiler) compileGroup(ctx context.Context, k groupKey, logs []changelog.Log, now time.Time) (Statement, error) {
	spec, err := c.registry.Lookup(k.table)
	if err != nil {
		return Statement{}, err
	}
	stmt := Statement{
		Table:            spec.Name,
		IDColumn:         spec.IDColumn,
		SoftDeleteColumn: spec.SoftDeleteColumn,
		Source:           k.action,
	}

	switch k.action {
	case changelog.ActionInsert, changelog.ActionRollbackDelete:
		stmt.Op = OpInsert
		stmt.Rows, err = c.rows(ctx, spec, logs)
	case changelog.ActionUpdate:
		stmt.Op = OpUpdate
		stmt.Rows, err = c.rows(ctx, spec, logs)
		if spec.SoftDeletes() {
			for _, row := range stmt.Rows {
				delete(row.Values, spec.SoftDeleteColumn)
			}
		}
	case changelog.ActionRollbackUpdate:
		stmt.Op = OpUpdate
		stmt.Rows, err = c.rows(ctx, spec, logs)
	case changelog.ActionRollbackSafeDelete:
		if !spec.SoftDeletes() {
			return Statement{}, fmt.Errorf("sqlstmt: table %q has no soft delete column", spec.Name)
		}
		stmt.Op = OpUpdate
		stmt.Rows, err = c.rows(ctx, spec, logs)
		for _, row := range stmt.Rows {
			row.Values[spec.SoftDeleteColumn] = nil
		}
	case changelog.ActionDelete, changelog.ActionRollbackInsert:
		stmt.Op = OpDelete
		stmt.IDs = ids(logs)
	case changelog.ActionSafeDelete:
		if !spec.SoftDeletes() {
			return Statement{}, fmt.Errorf("sqlstmt: table %q has no soft delete column", spec.Name)
		}
		stmt.Op = OpSoftDelete
		stmt.Rows, err = c.softDeleteRows(ctx, spec, logs, now)
	default:
		return Statement{}, fmt.Errorf("sqlstmt: cannot compile action %q", k.action)
	}
	if err != nil {
		return Statement{}, err
	}
	return stmt, nil
}

// rows decodes log states.
func (c *Compiler) rows(ctx context.Context, spec TableSpec, logs []changelog.Log) ([]Row, error) {
	out := make([]Row, 0, len(logs))
	for _, l := range logs {
		if !l.HasState() {
			return nil, fmt.Errorf("%w: %s %s %s", ErrMissingState, l.Action, spec.Name, l.ModelID)
		}
		values, err := c.registry.DecodeRow(ctx, spec.Name, l.ModelState)
		if err != nil {
			return nil, err
		}
		out = append(out, Row{ID: l.ModelID, Values: values})
	}
	return out, nil
}

// softDeleteRows stamps each row with the deletion time its log recorded,
// falling back to now when the state has none. The first log of an id wins.
func (c *Compiler) softDeleteRows(ctx context.Context, spec TableSpec, logs []changelog.Log, now time.Time) ([]Row, error) {
	seen := make(map[string]struct{}, len(logs))
	out := make([]Row, 0, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.ModelID]; ok {
			continue
		}
		seen[l.ModelID] = struct{}{}
		var at any = now
		if l.HasState() {
			values, err := c.registry.DecodeRow(ctx, spec.Name, l.ModelState)
			if err != nil {
				return nil, err
			}
			if v := values[spec.SoftDeleteColumn]; v != nil {
				at = v
			}
		}
		out = append(out, Row{ID: l.ModelID, Values: map[string]any{spec.SoftDeleteColumn: at}})
	}
	return out, nil
}

func ids(logs []changelog.Log) []string {
	seen := make(map[string]struct{}, len(logs))
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.ModelID]; ok {
			continue
		}
		seen[l.ModelID] = struct{}{}
		out = append(out, l.ModelID)
	}
	return out
}
