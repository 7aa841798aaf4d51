// Package database provides the PostgreSQL connection pool backing the
// durable registry backend.
package database
