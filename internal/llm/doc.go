// Package llm produces agent turns and speaker choices with an OpenAI-compatible
// chat completion backend.
//
// Each role speaks with its own system prompt. The history is replayed with the
// speaker's own earlier turns as assistant messages and everyone else's as named
// user messages. Extra headers let the client talk to gateways that authenticate
// differently from OpenAI (for example "Authorization: Api-Key ..." plus a folder id).
package llm
