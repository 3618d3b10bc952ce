// Package dedupe drops transport events that arrive more than once within a
// configurable window. The Matrix bridge keys it by event id.
package dedupe
