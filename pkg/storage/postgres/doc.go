// Package postgres implements the ledger, pool and session stores on
// PostgreSQL using pgx.
//
// Pool claims lock a candidate row with FOR UPDATE SKIP LOCKED, so replicas
// sharing the database never hand out the same credential. Schema changes
// are embedded SQL migrations tracked in schema_migrations.
package postgres
