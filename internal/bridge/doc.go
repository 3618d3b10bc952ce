// Package bridge connects Matrix rooms to the expert council.
//
// Every allowed room is one session owner ("matrix:<room id>"). Plain text starts
// a task; "!start" (or "!help") answers with the welcome text and "!reset" clears
// the room's session unless a task is running. While a task runs, further text in
// the same room is answered with a busy notice and never reaches the team.
//
// Each turn is sent as HTML rendered by the format package with a tag-stripped
// body. When the homeserver rejects the formatted event the turn is resent once as
// plain text. Events the homeserver delivers twice are dropped by event id.
package bridge
