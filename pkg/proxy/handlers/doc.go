// Package handlers implements the HTTP endpoints of the broker.
//
//   - ProxyHandler: POST /proxy/chat and /proxy/completions, the metered
//     path through the dispatcher
//   - UsageHandler: client-reported usage, rollups, limits and history
//   - PoolHandler: credential pool administration for organization admins
//   - SessionHandler: single-session enforcement per account
//
// Handlers depend on small interfaces rather than concrete services, so
// tests substitute in-memory fakes. Every handler reads the caller from
// the auth middleware and reports errors through dispatch.Translate.
package handlers
