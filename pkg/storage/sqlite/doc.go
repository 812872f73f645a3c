// Package sqlite implements the ledger, pool and session stores on a single
// SQLite database file.
//
// Both the pure Go driver (modernc.org/sqlite, the default) and the cgo
// driver (github.com/mattn/go-sqlite3) are registered; Config.Driver picks
// one. Uniqueness invariants are enforced by the schema: a unique index on
// assigned pool entries per user and a partial unique index on live
// sessions per account.
package sqlite
