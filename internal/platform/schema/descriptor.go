// Package schema answers capability questions about the live database
// schema: does this table exist, does this column exist, and what is its
// declared type? The restore pipeline consults it on every column write so
// that snapshots captured against an older schema replay cleanly against a
// newer one (additive, optional columns only).
package schema

import (
	"context"
	"sync"
)

// ColumnInfo describes a single column as declared in the target schema.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"` // information_schema data_type, e.g. "uuid", "ARRAY", "USER-DEFINED", "jsonb"
	UDTName  string `json:"udt_name"`  // underlying type name, e.g. "_text" for text[], enum type name
	IsArray  bool   `json:"is_array"`
	IsEnum   bool   `json:"is_enum"` // USER-DEFINED (enum or domain) type
	Nullable bool   `json:"nullable"`
}

// TableSchema is the full column map for one table. A nil TableSchema means
// the table does not exist in the target.
type TableSchema struct {
	Name    string
	Columns map[string]ColumnInfo
}

// Column returns the column info and whether the column exists.
func (t *TableSchema) Column(name string) (ColumnInfo, bool) {
	if t == nil {
		return ColumnInfo{}, false
	}
	ci, ok := t.Columns[name]
	return ci, ok
}

// Descriptor is a capability query against an evolvable schema contract.
// Implementations must be safe for concurrent use.
type Descriptor interface {
	// Describe returns the column map for table within the given schema
	// (search-path namespace). A missing table yields (nil, nil); absence
	// is an answer, not an error.
	Describe(ctx context.Context, schemaName, table string) (*TableSchema, error)
}

// Cached wraps a Descriptor and memoizes Describe results per
// (schema, table). Intended to live for the duration of one restore call so
// per-row column lookups do not become one catalog query each.
type Cached struct {
	inner Descriptor

	mu     sync.Mutex
	tables map[string]*TableSchema
}

// NewCached returns a caching wrapper around inner.
func NewCached(inner Descriptor) *Cached {
	return &Cached{inner: inner, tables: make(map[string]*TableSchema)}
}

func (c *Cached) Describe(ctx context.Context, schemaName, table string) (*TableSchema, error) {
	key := schemaName + "." + table

	c.mu.Lock()
	ts, ok := c.tables[key]
	c.mu.Unlock()
	if ok {
		return ts, nil
	}

	ts, err := c.inner.Describe(ctx, schemaName, table)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tables[key] = ts
	c.mu.Unlock()
	return ts, nil
}
