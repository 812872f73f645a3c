// Package dispatch runs a metered call end to end.
//
// For every call the Dispatcher validates the body, resolves the caller's
// organization, projects the tokens the call may consume, asks the budget
// evaluator for a decision, resolves an upstream credential, forwards the
// request once with a bounded timeout and then records the outcome in the
// usage ledger. The record is written whatever the upstream outcome was:
// failed attempts are stored with success=false so they remain auditable.
//
// Errors returned by the Dispatcher are always *apierror.Error values.
package dispatch
