package simulation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/haclabs/haccare/internal/platform/db"
	"github.com/haclabs/haccare/internal/platform/schema"
)

// Execer is the write surface the restore engine needs; satisfied by
// *pgxpool.Pool and *pgxpool.Conn. Each row is inserted as its own
// statement: this is bulk replay, not an atomic transaction, because one bad
// row must never erase the rows already written for earlier tables.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Options tune one restore call.
type Options struct {
	// PreserveIdentifiers keeps session-pinned barcodes stable: a root row
	// whose id was pre-reserved gets its deterministic code instead of a
	// fresh random one.
	PreserveIdentifiers bool
	// SkipRootTable registers root-row id mappings without inserting the
	// rows, for targets where the patients already exist.
	SkipRootTable bool
}

// Restorer replays a snapshot Document into a target tenant with every
// in-scope foreign key renumbered through an IdentityMap.
type Restorer struct {
	db   Execer
	desc schema.Descriptor
	log  zerolog.Logger
}

// NewRestorer constructs a Restorer.
func NewRestorer(exec Execer, desc schema.Descriptor, log zerolog.Logger) *Restorer {
	return &Restorer{db: exec, desc: desc, log: log}
}

// Restore replays every table section of doc into the target tenant's
// schema, in clone-set order. ids may be nil; a fresh ephemeral map is built
// for the call. Row- and column-level problems become warnings; only an
// unreachable target aborts the call.
func (r *Restorer) Restore(ctx context.Context, tenantID string, doc *Document, ids *IdentityMap, opts Options) (*RestoreResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("restore: %w: no snapshot document", ErrPrecondition)
	}
	if ids == nil {
		ids = NewIdentityMap(nil)
	}

	schemaName := db.SchemaName(tenantID)
	desc := schema.NewCached(r.desc)
	res := &RestoreResult{PerTable: make(map[string]int, len(CloneSet))}

	for _, spec := range CloneSet {
		rows := doc.Section(spec.Name)

		if spec.Name == RootTable && opts.SkipRootTable {
			// Mappings still accumulate so child tables resolve.
			for _, row := range rows {
				if oldID := row.ID(); oldID != "" {
					ids.Allocate(oldID)
				}
			}
			continue
		}

		ts, err := desc.Describe(ctx, schemaName, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("restore: describe %s.%s: %w", schemaName, spec.Name, err)
		}
		if ts == nil {
			res.warnf("table %s not present in target schema, %d rows skipped", spec.Name, len(rows))
			continue
		}

		skippedCols := make(map[string]bool)
		for _, row := range rows {
			if err := r.restoreRow(ctx, tenantID, spec, ts, row, ids, opts, res, skippedCols); err != nil {
				res.warnf("table %s row %s: %v", spec.Name, row.ID(), err)
				continue
			}
			res.PerTable[spec.Name]++
			res.RowsRestored++
		}
	}

	r.log.Info().
		Str("tenant", tenantID).
		Int("rows", res.RowsRestored).
		Int("warnings", len(res.Warnings)).
		Msg("restore complete")
	return res, nil
}

// restoreRow inserts one row with its keys remapped and its values coerced
// to the target column types.
func (r *Restorer) restoreRow(ctx context.Context, tenantID string, spec TableSpec, ts *schema.TableSchema, row Row, ids *IdentityMap, opts Options, res *RestoreResult, skippedCols map[string]bool) error {
	oldID := row.ID()
	if oldID == "" {
		return fmt.Errorf("row has no id, skipped")
	}
	newID := ids.Allocate(oldID)
	schemaName := db.SchemaName(tenantID)

	fkTargets := make(map[string]string, len(spec.ForeignKeys))
	for _, fk := range spec.ForeignKeys {
		fkTargets[fk.Column] = fk.Table
	}

	cols := make([]string, 0, len(row)+1)
	args := make([]interface{}, 0, len(row)+1)
	casts := make([]string, 0, len(row)+1)

	add := func(col string, arg interface{}, cast string) {
		cols = append(cols, col)
		args = append(args, arg)
		casts = append(casts, cast)
	}

	add("id", newID, "uuid")
	if spec.TenantColumn != "" {
		if _, ok := ts.Column(spec.TenantColumn); ok {
			add(spec.TenantColumn, tenantID, "")
		}
	}

	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, col := range names {
		if col == "id" || col == spec.TenantColumn {
			continue
		}
		v := row[col]

		ci, ok := ts.Column(col)
		if !ok {
			if !skippedCols[col] {
				skippedCols[col] = true
				res.warnf("table %s column %s absent in target, skipped", spec.Name, col)
			}
			continue
		}

		// Barcode on the root table is never carried forward verbatim: the
		// same snapshot restores into many tenants concurrently.
		if spec.Name == RootTable && col == BarcodeColumn {
			code := RandomCode()
			if opts.PreserveIdentifiers && ids.Pinned(oldID) {
				code = BarcodeFor(newID)
			}
			add(col, code, "")
			continue
		}

		if target, isFK := fkTargets[col]; isFK {
			if v.IsEmpty() {
				add(col, nil, "uuid")
				continue
			}
			raw := v.AsString()
			if mapped, ok := ids.Resolve(raw); ok {
				add(col, mapped, "uuid")
			} else {
				// Declared in-scope but never introduced by its parent
				// table: pass through, but the operator should know.
				res.warnf("table %s column %s: id %s not remapped (expected row in %s)", spec.Name, col, raw, target)
				add(col, raw, "uuid")
			}
			continue
		}

		arg, cast, err := coerceValue(v, ci)
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
		add(col, arg, cast)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		if casts[i] != "" {
			placeholders[i] = fmt.Sprintf("$%d::%s", i+1, casts[i])
		} else {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
	}

	q := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)",
		schemaName, spec.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := r.db.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert failed: %v", err)
	}
	return nil
}

func (r *RestoreResult) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// coerceValue converts a snapshot Value into a driver argument plus an
// optional SQL cast, guided by the target column's declared type. The switch
// is total over the Value kinds; anything that cannot be represented in the
// target type is a coercion failure that skips the row.
func coerceValue(v Value, ci schema.ColumnInfo) (interface{}, string, error) {
	// Arrays and JSON first: array-shaped source data does not always land
	// in an array-shaped column.
	if ci.UDTName == "json" || ci.UDTName == "jsonb" {
		if v.IsNull() {
			return nil, ci.UDTName, nil
		}
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, "", err
		}
		return string(b), ci.UDTName, nil
	}

	if ci.IsArray {
		switch v.Kind {
		case KindNull:
			return nil, ci.UDTName + "[]", nil
		case KindStringList:
			return v.List, ci.UDTName + "[]", nil
		default:
			return nil, "", fmt.Errorf("cannot coerce %s value into %s[]", v.Kind, ci.UDTName)
		}
	}

	if ci.IsEnum {
		if v.IsEmpty() {
			return nil, ci.UDTName, nil
		}
		return v.AsString(), ci.UDTName, nil
	}

	switch ci.UDTName {
	case "timestamptz", "timestamp", "date", "time", "timetz":
		// Empty-string timestamps are nulls, not failing casts.
		if v.IsEmpty() {
			return nil, ci.UDTName, nil
		}
		return v.AsString(), ci.UDTName, nil
	case "int2", "int4", "int8", "float4", "float8", "numeric":
		if v.IsEmpty() {
			return nil, ci.UDTName, nil
		}
		switch v.Kind {
		case KindNumber, KindString:
			return v.AsString(), ci.UDTName, nil
		case KindBool:
			return nil, "", fmt.Errorf("cannot coerce bool into %s", ci.UDTName)
		default:
			return nil, "", fmt.Errorf("cannot coerce %s value into %s", v.Kind, ci.UDTName)
		}
	case "bool":
		switch v.Kind {
		case KindNull:
			return nil, "bool", nil
		case KindBool:
			return v.Bool, "bool", nil
		case KindString:
			if v.Str == "" {
				return nil, "bool", nil
			}
			return v.Str, "bool", nil
		default:
			return nil, "", fmt.Errorf("cannot coerce %s value into bool", v.Kind)
		}
	case "uuid":
		if v.IsEmpty() {
			return nil, "uuid", nil
		}
		return v.AsString(), "uuid", nil
	default:
		// text, varchar, and anything else stringly typed.
		if v.IsNull() {
			return nil, "", nil
		}
		return v.AsString(), "", nil
	}
}
