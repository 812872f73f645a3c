// Package session enforces that an account has at most one active session.
//
// Creating a session while another is active fails with a *ConflictError
// that describes the existing session, so the caller can offer a takeover.
// ForceCreateSession performs that takeover atomically. Sessions expire
// after an idle TTL; Validate slides the expiry and a Sweeper terminates
// expired sessions in the background.
package session
