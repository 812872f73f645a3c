// Package server assembles the HTTP surface of the broker and runs it.
//
// NewRouter mounts the endpoint handlers on a gorilla/mux router. Health,
// readiness, version and metrics routes are public; everything else sits
// behind the authentication middleware:
//
//	POST   /proxy/chat, /proxy/completions
//	POST   /usage/record
//	GET    /usage/me, /usage/limits, /usage/history
//	POST   /orgs/{orgID}/pool
//	GET    /orgs/{orgID}/pool
//	DELETE /orgs/{orgID}/pool/{entryID}
//	POST   /orgs/{orgID}/pool/{entryID}/release|revoke|archive
//	POST   /orgs/{orgID}/assignments
//	PUT    /orgs/{orgID}/users/{userID}/credential
//	GET|POST|DELETE /accounts/{accountID}/session
//	POST   /accounts/{accountID}/session/force
//
// Server owns the listener and shuts down gracefully on context
// cancellation, SIGINT or SIGTERM.
//
//	handler := server.NewRouter(server.RouterConfig{...})
//	srv := server.NewServer(&cfg.Server, handler, logger)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
package server
