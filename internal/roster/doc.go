// Package roster defines the expert team: its roles and the static transition graph
// that constrains who may speak after whom.
//
// # Roles
//
// Each Role carries an identifier, a display label shown by frontends, a capability
// tag and the system prompt handed to the language model. The capability tag is
// used for routing and display only:
//
//   - relay: forwards the user's request (user_proxy)
//   - assistant: answers through the language model (analyst, coder)
//   - executor: runs code through the sandbox (executor)
//   - coordinator: picks the next speaker when several are allowed (manager)
//
// # Transition Graph
//
// The Graph is built once from an ordered edge table and never mutated:
//
//	g, err := roster.NewGraph(roster.UserProxy, roster.DefaultEdges())
//
// Construction rejects graphs where the entry role does not fan out to exactly one
// successor or where a role cannot be reached from the entry. The conversation
// engine calls IsAllowed before accepting every proposed speaker.
package roster
