// Package api serves the expert council over HTTP.
//
// # Routes
//
//	GET    /healthz                  liveness, unauthenticated
//	GET    /metrics                  Prometheus exposition, unauthenticated
//	GET    /api/team                 roster and welcome text
//	POST   /api/tasks                submit {"task": "..."}
//	DELETE /api/session              reset the caller's session
//	GET    /api/conversations        the caller's ledger entries, newest first
//	GET    /api/conversations/{id}   one transcript
//
// Routes under /api require a bearer JWT; its subject becomes the session owner
// "api:<subject>". A submission while the owner's previous task runs answers 409,
// as does a reset. Send "Accept: text/event-stream" to receive every delivery as a
// "message" event followed by a "done" event carrying the outcome.
package api
