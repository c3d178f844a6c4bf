package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"wagate/internal/gateway"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresDirectory reads the control plane's session table directly,
// bypassing its HTTP API. Used when the gateway runs next to the database.
//
// Ownership model:
//   - PostgresDirectory does NOT own the pgx pool. The caller closes it.
type PostgresDirectory struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures PostgresDirectory behavior.
type PostgresOption func(*PostgresDirectory) error

// WithTable overrides the session table name (default:
// "sessions_whatsappsession", the control plane's schema).
func WithTable(table string) PostgresOption {
	return func(d *PostgresDirectory) error {
		if !validTableName.MatchString(table) {
			return fmt.Errorf("directory: invalid table name %q", table)
		}
		d.table = table
		return nil
	}
}

// NewPostgres constructs a directory over the control plane's database.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	d := &PostgresDirectory{pool: pool, table: "sessions_whatsappsession"}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ActiveSessions returns every session recorded as connected.
func (d *PostgresDirectory) ActiveSessions(ctx context.Context) ([]gateway.DirectoryEntry, error) {
	q := fmt.Sprintf(
		`SELECT session_id, user_id::text FROM %s WHERE status = 'connected' ORDER BY created_at`,
		d.table,
	)

	rows, err := d.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("directory: query: %w", err)
	}
	defer rows.Close()

	var entries []gateway.DirectoryEntry
	for rows.Next() {
		var e gateway.DirectoryEntry
		if err := rows.Scan(&e.SessionID, &e.OwnerID); err != nil {
			return nil, fmt.Errorf("directory: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: rows: %w", err)
	}
	return entries, nil
}
