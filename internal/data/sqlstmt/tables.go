// Package sqlstmt compiles changelog logs into batched write statements and
// runs them on a gorm session.
package sqlstmt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"gorm.io/gorm/schema"
)

var (
	// ErrUnknownTable means a log names a table missing from the registry.
	ErrUnknownTable = errors.New("sqlstmt: unknown table")
	// ErrUnknownField means a log state carries a field the table record
	// does not declare.
	ErrUnknownField = errors.New("sqlstmt: unknown field")
)

// TableSpec describes one entity table. NewRecord returns a pointer to a
// zero record whose json tags equal its column names.
type TableSpec struct {
	Name             string
	IDColumn         string
	SoftDeleteColumn string
	NewRecord        func() any
}

func (t TableSpec) SoftDeletes() bool { return t.SoftDeleteColumn != "" }

// Registry resolves table names to specs and caches parsed record schemas.
type Registry struct {
	specs map[string]TableSpec
	cache *sync.Map
	namer schema.Namer
}

func NewRegistry(specs ...TableSpec) (*Registry, error) {
	r := &Registry{
		specs: make(map[string]TableSpec, len(specs)),
		cache: &sync.Map{},
		namer: schema.NamingStrategy{},
	}
	for _, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" || spec.NewRecord == nil {
			return nil, fmt.Errorf("sqlstmt: incomplete table spec %+v", spec)
		}
		if spec.IDColumn == "" {
			spec.IDColumn = "id"
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("sqlstmt: table %q registered twice", spec.Name)
		}
		sch, err := r.parse(spec)
		if err != nil {
			return nil, err
		}
		if sch.LookUpField(spec.IDColumn) == nil {
			return nil, fmt.Errorf("sqlstmt: table %q has no column %q", spec.Name, spec.IDColumn)
		}
		if spec.SoftDeletes() && sch.LookUpField(spec.SoftDeleteColumn) == nil {
			return nil, fmt.Errorf("sqlstmt: table %q has no column %q", spec.Name, spec.SoftDeleteColumn)
		}
		r.specs[spec.Name] = spec
	}
	return r, nil
}

func (r *Registry) Lookup(table string) (TableSpec, error) {
	spec, ok := r.specs[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return spec, nil
}

// Columns lists the storage columns of table in declaration order.
func (r *Registry) Columns(table string) ([]string, error) {
	spec, err := r.Lookup(table)
	if err != nil {
		return nil, err
	}
	sch, err := r.parse(spec)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), sch.DBNames...), nil
}

func (r *Registry) parse(spec TableSpec) (*schema.Schema, error) {
	sch, err := schema.Parse(spec.NewRecord(), r.cache, r.namer)
	if err != nil {
		return nil, fmt.Errorf("sqlstmt: parse record of %q: %w", spec.Name, err)
	}
	return sch, nil
}

// DecodeRow validates a serialized record against the table's record type
// and flattens it into column -> value.
func (r *Registry) DecodeRow(ctx context.Context, table string, state []byte) (map[string]any, error) {
	spec, err := r.Lookup(table)
	if err != nil {
		return nil, err
	}
	rec := spec.NewRecord()
	dec := json.NewDecoder(bytes.NewReader(state))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rec); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return nil, fmt.Errorf("%w: table %q: %v", ErrUnknownField, table, err)
		}
		return nil, fmt.Errorf("sqlstmt: decode %q state: %w", table, err)
	}
	sch, err := r.parse(spec)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(rec)
	row := make(map[string]any, len(sch.DBNames))
	for _, f := range sch.Fields {
		if f.DBName == "" {
			continue
		}
		v, _ := f.ValueOf(ctx, rv)
		row[f.DBName] = nilIfNilPointer(v)
	}
	return row, nil
}

func nilIfNilPointer(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	return v
}
