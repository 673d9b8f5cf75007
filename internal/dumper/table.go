package dumper

import (
	"context"
	"fmt"
)

// RowCounter reports how many rows a table holds.
type RowCounter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// TableRef is what callers hand to Dump and Restore. It is either a
// NamedTable or a ModelReference.
type TableRef interface {
	fmt.Stringer
	tableRef()
}

// NamedTable is a literal table name. The empty name stands for the whole
// database.
type NamedTable string

func (NamedTable) tableRef() {}

func (n NamedTable) String() string { return string(n) }

// ModelReference is a table that knows its name and can count its rows.
// Dump skips it when it is empty.
type ModelReference struct {
	Table string
	Rows  RowCounter
}

func (ModelReference) tableRef() {}

func (m ModelReference) String() string { return m.Table }

// ResolvedTable pairs the caller's reference with the table name it resolved
// to. Named tables resolve to a single-element pair: they carry no separate
// name and the reference itself is used as the table.
type ResolvedTable struct {
	Ref TableRef

	name    string
	hasName bool
}

// ResolvedName returns the second element of the pair, if any.
func (r ResolvedTable) ResolvedName() (string, bool) {
	return r.name, r.hasName
}

// Table returns the last element of the pair: the resolved name for model
// references, the literal name for named tables. An empty result means the
// whole database.
func (r ResolvedTable) Table() string {
	if r.hasName {
		return r.name
	}
	return r.Ref.String()
}

// ResolveTables normalizes refs into pairs, preserving input order. With
// filterEmpty set, model references whose row count is zero are dropped.
// Named tables are never filtered.
func ResolveTables(ctx context.Context, refs []TableRef, filterEmpty bool) ([]ResolvedTable, error) {
	resolved := make([]ResolvedTable, 0, len(refs))

	for _, ref := range refs {
		switch r := ref.(type) {
		case ModelReference:
			if r.Table == "" {
				return nil, fmt.Errorf("model reference has no table name")
			}
			if filterEmpty {
				if r.Rows == nil {
					return nil, fmt.Errorf("model reference %s has no row counter", r.Table)
				}
				count, err := r.Rows.CountRows(ctx, r.Table)
				if err != nil {
					return nil, fmt.Errorf("count rows of %s: %w", r.Table, err)
				}
				if count <= 0 {
					continue
				}
			}
			resolved = append(resolved, ResolvedTable{Ref: r, name: r.Table, hasName: true})
		case NamedTable:
			resolved = append(resolved, ResolvedTable{Ref: r})
		default:
			return nil, fmt.Errorf("unsupported table reference %T", ref)
		}
	}

	return resolved, nil
}

// NamedTables converts plain names into references.
func NamedTables(names ...string) []TableRef {
	refs := make([]TableRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, NamedTable(name))
	}
	return refs
}

// ModelReferences wraps names into references counted by counter.
func ModelReferences(counter RowCounter, names ...string) []TableRef {
	refs := make([]TableRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, ModelReference{Table: name, Rows: counter})
	}
	return refs
}
