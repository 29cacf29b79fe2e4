package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/petriflow/workflow/common/db"
)

//go:embed schema.sql
var schemaSQL string

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx. Repository methods
// take it explicitly so callback handlers can run every statement of one
// callback inside one transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate applies the embedded schema
func Migrate(database *db.DB) error {
	if _, err := database.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// pgErr unwraps a pgconn.PgError when present
func pgErr(err error) (*pgconn.PgError, bool) {
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		return pge, true
	}
	return nil, false
}

// isUniqueViolation reports whether err is a unique violation on the named
// constraint; an empty constraint matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	pge, ok := pgErr(err)
	if !ok {
		return false
	}
	if pge.Code != "23505" {
		return false
	}
	return constraint == "" || pge.ConstraintName == constraint
}
