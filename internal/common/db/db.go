// Package db wraps database/sql behind small interfaces so repositories can
// run against a real pool or an in-memory fake and join transactions freely.
package db

import "context"

// Database is the root handle for queries and transactions.
type Database interface {
	Querier

	// Transaction executes fn inside a transaction, rolling back on error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Ping verifies the connection is still alive.
	Ping(ctx context.Context) error

	// Close closes the underlying pool.
	Close() error
}

// Transaction is an in-flight database transaction.
type Transaction interface {
	Querier

	Commit() error
	Rollback() error
}

// Rows is an iterator over query results.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Row is a single query result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
