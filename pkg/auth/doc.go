// Package auth authenticates inbound requests with HS256 bearer tokens.
//
// Tokens are issued elsewhere; this package only verifies them. The
// subject claim is the user id, "role" is either "user" or "admin", and an
// optional "sid" claim binds the token to a session, which must still be the
// account's active session for the request to pass.
package auth
