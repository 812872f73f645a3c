// Package proxy holds the request and response plumbing shared by the HTTP
// handlers: attribution extraction, body limits, query parsing and the
// relaying of upstream responses.
//
// A metered call names the organization, workspace and project it is
// billed to with headers, or query parameters as a fallback:
//
//	POST /proxy/chat
//	Authorization: Bearer <jwt>
//	X-Organization-ID: acme
//	X-Workspace-ID: research
//
// Responses of metered calls carry X-Usage-Record-ID, and X-Budget-Alert
// when a limit reached its alert threshold. Errors use the envelope of
// package apierror.
package proxy
