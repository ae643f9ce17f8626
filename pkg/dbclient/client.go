package dbclient

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// dbHandle is satisfied by both *sqlx.DB and *sqlx.Conn, so a Client can
// run against either a plain pool or the schema-scoped connection
// pkg/tenant.Resolver checks out per tenant.
type dbHandle interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Client wraps the schema-scoped connection the tenant resolver hands
// out. Every write happens inside BulkUpsert's single transaction; a
// zero-value Client (no db set) fails every call that needs the database
// with a clear error rather than a nil-pointer panic. BulkUpsert of an
// empty batch needs no database and returns an empty result.
type Client struct {
	db dbHandle
}

func New(db dbHandle) *Client {
	return &Client{db: db}
}

func (c *Client) requireDB() error {
	if c.db == nil {
		return fmt.Errorf("db has not been initialized")
	}
	return nil
}

// Close releases the underlying connection if the handle supports it.
// The dedicated per-tenant connection pkg/tenant.Resolver checks out
// does; a shared pool or a test fake need not, so this is a no-op for
// those. Callers resolve a Client per request/batch through a
// RepositoryFor/ClientFor closure and should close it when done with
// it, the same way they would any checked-out *sqlx.Conn.
func (c *Client) Close() error {
	if closer, ok := c.db.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
