package sqlstmt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
)

type widgetRecord struct {
	ID        string     `gorm:"column:id;primaryKey" json:"id"`
	A         int        `gorm:"column:a" json:"a"`
	B         int        `gorm:"column:b" json:"b"`
	DeletedAt *time.Time `gorm:"column:deleted_at" json:"deleted_at"`
}

func (widgetRecord) TableName() string { return "widget" }

type gadgetRecord struct {
	ID   string `gorm:"column:id;primaryKey" json:"id"`
	Name string `gorm:"column:name" json:"name"`
}

func (gadgetRecord) TableName() string { return "gadget" }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		TableSpec{Name: "widget", IDColumn: "id", SoftDeleteColumn: "deleted_at", NewRecord: func() any { return &widgetRecord{} }},
		TableSpec{Name: "gadget", IDColumn: "id", NewRecord: func() any { return &gadgetRecord{} }},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func mustLog(t *testing.T, txID uuid.UUID, table string, action changelog.Action, id string, state any) changelog.Log {
	t.Helper()
	l, err := changelog.NewLog(txID, table, action, id, state, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	return l
}

func TestCompileGroupsByTableAndAction(t *testing.T) {
	reg := testRegistry(t)
	now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	c := NewCompiler(reg, func() time.Time { return now })
	tx := uuid.New()

	logs := []changelog.Log{
		mustLog(t, tx, "widget", changelog.ActionInsert, "w1", widgetRecord{ID: "w1", A: 1, B: 2}),
		mustLog(t, tx, "gadget", changelog.ActionInsert, "g1", gadgetRecord{ID: "g1", Name: "g"}),
		mustLog(t, tx, "widget", changelog.ActionInsert, "w2", widgetRecord{ID: "w2", A: 3, B: 4}),
		mustLog(t, tx, "widget", changelog.ActionUpdate, "w0", widgetRecord{ID: "w0", A: 9, B: 9}),
		mustLog(t, tx, "widget", changelog.ActionDelete, "w5", nil),
		mustLog(t, tx, "widget", changelog.ActionDelete, "w6", nil),
		mustLog(t, tx, "widget", changelog.ActionSafeDelete, "w7", widgetRecord{ID: "w7"}),
	}
	stmts, err := c.Compile(context.Background(), logs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := []struct {
		table string
		op    Op
		size  int
	}{
		{"widget", OpInsert, 2},
		{"gadget", OpInsert, 1},
		{"widget", OpUpdate, 1},
		{"widget", OpDelete, 2},
		{"widget", OpSoftDelete, 1},
	}
	if len(stmts) != len(want) {
		t.Fatalf("got %d statements, want %d: %+v", len(stmts), len(want), stmts)
	}
	for i, w := range want {
		if stmts[i].Table != w.table || stmts[i].Op != w.op || stmts[i].Size() != w.size {
			t.Fatalf("stmt[%d]=%s %s size %d, want %s %s size %d", i, stmts[i].Table, stmts[i].Op, stmts[i].Size(), w.table, w.op, w.size)
		}
	}
	if got := stmts[0].Rows[1].Values["b"]; got != 4 {
		t.Fatalf("second insert row b=%v want 4", got)
	}
	if at := stmts[4].Rows[0].Values["deleted_at"]; at != now {
		t.Fatalf("soft delete without a logged time should use now, got %v", at)
	}
	if _, ok := stmts[2].Rows[0].Values["deleted_at"]; ok {
		t.Fatalf("forward update must not touch deleted_at: %v", stmts[2].Rows[0].Values)
	}
	if cols := stmts[0].Columns(); len(cols) != 4 || cols[0] != "a" || cols[3] != "id" {
		t.Fatalf("insert columns=%v", cols)
	}
}

func TestCompileRollbackActions(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg, nil)
	tx := uuid.New()

	logs := []changelog.Log{
		mustLog(t, tx, "widget", changelog.ActionRollbackInsert, "w1", nil),
		mustLog(t, tx, "widget", changelog.ActionRollbackUpdate, "w2", widgetRecord{ID: "w2", A: 1, B: 2}),
		mustLog(t, tx, "widget", changelog.ActionRollbackDelete, "w4", widgetRecord{ID: "w4", A: 5}),
		mustLog(t, tx, "widget", changelog.ActionRollbackSafeDelete, "w5", widgetRecord{ID: "w5", A: 7}),
	}
	stmts, err := c.Compile(context.Background(), logs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(stmts) != 4 {
		t.Fatalf("got %d statements, want 4: %+v", len(stmts), stmts)
	}
	if stmts[0].Op != OpDelete || stmts[0].IDs[0] != "w1" {
		t.Fatalf("rollback_insert should delete w1, got %+v", stmts[0])
	}
	if stmts[1].Op != OpUpdate || len(stmts[1].Rows) != 1 || stmts[1].Rows[0].ID != "w2" {
		t.Fatalf("rollback_update should update only w2, got %+v", stmts[1])
	}
	if stmts[2].Op != OpInsert || stmts[2].Rows[0].Values["a"] != 5 {
		t.Fatalf("rollback_delete should insert prior w4, got %+v", stmts[2])
	}
	restore := stmts[3]
	if restore.Op != OpUpdate {
		t.Fatalf("rollback_safe_delete should update, got %s", restore.Op)
	}
	if v, ok := restore.Rows[0].Values["deleted_at"]; !ok || v != nil {
		t.Fatalf("rollback_safe_delete should clear deleted_at, got %v (present=%v)", v, ok)
	}
}

func TestCompileErrors(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg, nil)
	tx := uuid.New()

	cases := []struct {
		name string
		logs []changelog.Log
		want error
	}{
		{
			name: "unknown table",
			logs: []changelog.Log{mustLog(t, tx, "nope", changelog.ActionDelete, "x", nil)},
			want: ErrUnknownTable,
		},
		{
			name: "unknown field",
			logs: []changelog.Log{mustLog(t, tx, "gadget", changelog.ActionInsert, "g1", map[string]any{"id": "g1", "colour": "red"})},
			want: ErrUnknownField,
		},
		{
			name: "insert without state",
			logs: []changelog.Log{mustLog(t, tx, "gadget", changelog.ActionInsert, "g1", nil)},
			want: ErrMissingState,
		},
		{
			name: "rollback update without state",
			logs: []changelog.Log{mustLog(t, tx, "widget", changelog.ActionRollbackUpdate, "w3", nil)},
			want: ErrMissingState,
		},
		{
			name: "rollback delete without state",
			logs: []changelog.Log{mustLog(t, tx, "gadget", changelog.ActionRollbackDelete, "g1", nil)},
			want: ErrMissingState,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), tc.logs)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	t.Run("safe delete without soft delete column", func(t *testing.T) {
		_, err := c.Compile(context.Background(), []changelog.Log{mustLog(t, tx, "gadget", changelog.ActionSafeDelete, "g1", nil)})
		if err == nil {
			t.Fatalf("expected error for safe_delete on gadget")
		}
	})
}

func TestCompileSoftDeleteUsesLoggedTime(t *testing.T) {
	now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	c := NewCompiler(testRegistry(t), func() time.Time { return now })
	tx := uuid.New()
	deletedAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	stmts, err := c.Compile(context.Background(), []changelog.Log{
		mustLog(t, tx, "widget", changelog.ActionSafeDelete, "w1", widgetRecord{ID: "w1", A: 1, DeletedAt: &deletedAt}),
		mustLog(t, tx, "widget", changelog.ActionSafeDelete, "w1", widgetRecord{ID: "w1", A: 1}),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(stmts) != 1 || stmts[0].Op != OpSoftDelete || len(stmts[0].Rows) != 1 {
		t.Fatalf("expected one soft delete row, got %+v", stmts)
	}
	row := stmts[0].Rows[0]
	at, ok := row.Values["deleted_at"].(*time.Time)
	if !ok || !at.Equal(deletedAt) {
		t.Fatalf("deleted_at=%v want %v", row.Values["deleted_at"], deletedAt)
	}
	if len(row.Values) != 1 {
		t.Fatalf("soft delete row should only carry deleted_at: %v", row.Values)
	}
}

func TestCompileEmpty(t *testing.T) {
	c := NewCompiler(testRegistry(t), nil)
	stmts, err := c.Compile(context.Background(), nil)
	if err != nil || len(stmts) != 0 {
		t.Fatalf("expected no statements, got %v, %v", stmts, err)
	}
}
