// Package pool manages per-organization pools of upstream credentials and
// their assignment to users.
//
// An entry is assigned to at most one user at any instant and a user holds
// at most one entry. Allocation is a single atomic claim against the store
// (a conditional update or a row lock), so concurrent Allocate calls for the
// same organization never select the same entry, even across replicas.
//
// Revoked and archived entries are never allocated again.
package pool
