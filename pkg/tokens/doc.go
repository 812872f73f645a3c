// Package tokens estimates the prompt size of a request before it is sent
// upstream.
//
// Estimates are character based: each model family has a characters-per-token
// ratio and every message adds a small formatting overhead. The estimate is
// only used to project consumption for a budget check; the tokens recorded in
// the usage ledger always come from the upstream response.
package tokens
