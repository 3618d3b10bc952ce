// Package auth provides bearer token authentication for the council HTTP API.
//
// Tokens are HS256 JWTs signed with the configured secret. The subject claim
// names the caller and becomes the session owner for API submissions:
//
//	verifier, _ := auth.NewJWTVerifier(secret)
//	token, _ := verifier.Generate("alice", 24*time.Hour)
//	r.Use(auth.HTTPAuthMiddleware(verifier, logger))
//
// Handlers read the subject with FromContext.
package auth
