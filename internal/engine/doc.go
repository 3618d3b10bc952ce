// Package engine runs one conversation of the expert team.
//
// A run seeds the history with the task from the graph's entry role, then loops:
// pick the next speaker among the graph-legal successors of the latest speaker, ask the
// TurnProducer for that speaker's turn, classify it, and act on the classification.
// Service turns are dropped without touching history. Content turns are recorded,
// emitted to every MessageObserver exactly once and advance the round counter.
// A Termination turn records the final answer and ends the run.
//
// Runs end Terminated, RoundsExhausted (round or service-turn budget reached) or
// Failed (collaborator error, cancellation, illegal transition). Only Failed returns an
// error.
package engine
