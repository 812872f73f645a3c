// Package secrets resolves ${secret:name} references.
//
// Configuration values and pooled credentials may name a secret instead of
// carrying it:
//
//	auth:
//	  jwt_secret: ${secret:jwt-signing-key}
//
// A Resolver asks its providers in order. Env reads TOLLGATE_SECRET_JWT_SIGNING_KEY
// for the name above; Dir reads the file jwt-signing-key from a mounted
// directory, the way Kubernetes projects secrets. Files must not be
// readable by group or others.
package secrets
