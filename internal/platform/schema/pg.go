package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool / pgxpool.Conn the introspector needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type pgDescriptor struct {
	q Querier
}

// NewPG returns a Descriptor backed by live information_schema queries
// against the given pool or connection.
func NewPG(q Querier) Descriptor {
	return &pgDescriptor{q: q}
}

func (d *pgDescriptor) Describe(ctx context.Context, schemaName, table string) (*TableSchema, error) {
	rows, err := d.q.Query(ctx, `
		SELECT column_name, data_type, udt_name, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schemaName, table, err)
	}
	defer rows.Close()

	cols := make(map[string]ColumnInfo)
	for rows.Next() {
		var name, dataType, udtName, nullable string
		if err := rows.Scan(&name, &dataType, &udtName, &nullable); err != nil {
			return nil, fmt.Errorf("scan column of %s.%s: %w", schemaName, table, err)
		}
		cols[name] = ColumnInfo{
			Name:     name,
			DataType: dataType,
			UDTName:  strings.TrimPrefix(udtName, "_"),
			IsArray:  dataType == "ARRAY" || strings.HasPrefix(udtName, "_"),
			IsEnum:   dataType == "USER-DEFINED",
			Nullable: nullable == "YES",
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s.%s: %w", schemaName, table, err)
	}

	if len(cols) == 0 {
		// Table absent from the target: restore skips its section.
		return nil, nil
	}
	return &TableSchema{Name: table, Columns: cols}, nil
}
