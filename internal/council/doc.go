// Package council is the entry command surface of the expert team.
//
// Every frontend (Matrix bridge, HTTP API, console) speaks to a Service:
//
//   - Welcome describes the team.
//   - Reset clears the owner's session, refusing while a task runs.
//   - Submit takes the owner's gate, echoes the task, runs the engine with the
//     frontend's Sink attached, reports completed, incomplete or failed, and releases.
//
// Router is the engine's TurnProducer in production: it sends executor roles to the
// code sandbox and every other role to the language model.
package council
