// Package session gates task submission per owner key.
//
// An owner key names one logical conversation owner, namespaced by frontend
// ("matrix:!room:server", "api:alice", "console:bob"). Each owner has at most one
// running task. A second submission is rejected immediately; nothing queues.
//
// Sessions are created on first use and removed only by Clear. Clear refuses a busy
// Session with ErrSessionBusy so a running task never loses its release target.
package session
