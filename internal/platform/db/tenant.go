package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

// SchemaPrefix namespaces every tenant schema. A simulation tenant with id
// "sim_ab12cd34" lives in schema "tenant_sim_ab12cd34".
const SchemaPrefix = "tenant_"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether an id is safe to interpolate as a schema
// name component.
func ValidTenantID(tenantID string) bool {
	return tenantIDPattern.MatchString(tenantID)
}

// SchemaName returns the schema holding a tenant's clinical tables.
func SchemaName(tenantID string) string {
	return SchemaPrefix + tenantID
}

// TenantMiddleware resolves the request's tenant, pins a pooled connection
// with its search_path set to the tenant schema, and stores both on the
// request context.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", SchemaName(tenantID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			c.Set("db", conn)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	// 1. Check JWT claim (set by auth middleware)
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}

	// 2. Check X-Tenant-ID header
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}

	// 3. Check query parameter
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}

	return defaultTenant
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// TenantManager provisions and tears down tenant schemas. Launch creates a
// schema per simulation instance; archiving an instance drops it.
type TenantManager struct {
	pool          *pgxpool.Pool
	migrationsDir string
}

// NewTenantManager returns a TenantManager that runs the migrations in
// migrationsDir against every schema it creates. An empty dir skips
// migrations.
func NewTenantManager(pool *pgxpool.Pool, migrationsDir string) *TenantManager {
	return &TenantManager{pool: pool, migrationsDir: migrationsDir}
}

// Create makes the tenant schema and brings it to the current migration
// level.
func (m *TenantManager) Create(ctx context.Context, tenantID string) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := SchemaName(tenantID)
	if _, err := m.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if m.migrationsDir != "" {
		migrator := NewMigrator(m.pool, m.migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}

// Drop removes the tenant schema and everything in it.
func (m *TenantManager) Drop(ctx context.Context, tenantID string) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	_, err := m.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", SchemaName(tenantID)))
	if err != nil {
		return fmt.Errorf("drop schema for %s: %w", tenantID, err)
	}
	return nil
}
