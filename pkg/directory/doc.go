// Package directory resolves organization, workspace and user configuration
// (budgets, status, archived flags, API access) by simple key lookups.
//
// The directory is a collaborator of the budget evaluator and dispatcher;
// it is read-only from their point of view. Two implementations are
// provided: Memory, populated programmatically, and File, which serves a
// YAML document and reloads it on change.
package directory
