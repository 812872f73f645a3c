// Package memory implements the ledger, pool and session stores in process
// memory. Each store serializes writers behind a mutex, which gives the
// same atomicity the SQL backends get from conditional updates.
//
// Contents are lost on restart. Use it for tests and single-node
// development.
package memory
