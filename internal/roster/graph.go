// ABOUTME: Static speaker transition graph declaring which role may speak after which
// ABOUTME: Validated once at construction: single entry successor, full reachability, no dead ends

package roster

import (
	"errors"
	"fmt"
)

// Graph errors
var (
	ErrUnknownRole     = errors.New("unknown role")
	ErrUnreachableRole = errors.New("role unreachable from entry")
	ErrEntryFanOut     = errors.New("entry role must have exactly one successor")
	ErrDeadEndRole     = errors.New("role has no successor")
)

// Edge declares the allowed successors of one role, in preference order.
type Edge struct {
	From RoleID
	To   []RoleID
}

// Graph is an immutable adjacency table over roles. It is safe for concurrent use.
type Graph struct {
	entry RoleID
	nodes []RoleID
	next  map[RoleID][]RoleID
}

// NewGraph builds and validates a transition graph. Duplicate edges for the same
// source are merged in declaration order.
func NewGraph(entry RoleID, edges []Edge) (*Graph, error) {
	if entry == "" {
		return nil, fmt.Errorf("%w: empty entry", ErrUnknownRole)
	}

	g := &Graph{
		entry: entry,
		next:  make(map[RoleID][]RoleID),
	}
	seen := map[RoleID]bool{}
	addNode := func(id RoleID) {
		if !seen[id] {
			seen[id] = true
			g.nodes = append(g.nodes, id)
		}
	}
	addNode(entry)

	for _, e := range edges {
		if e.From == "" {
			return nil, fmt.Errorf("%w: edge with empty source", ErrUnknownRole)
		}
		addNode(e.From)
		for _, to := range e.To {
			if to == "" {
				return nil, fmt.Errorf("%w: empty successor of %s", ErrUnknownRole, e.From)
			}
			addNode(to)
			if !contains(g.next[e.From], to) {
				g.next[e.From] = append(g.next[e.From], to)
			}
		}
	}

	if n := len(g.next[entry]); n != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrEntryFanOut, entry, n)
	}

	reached := g.reachable()
	for _, id := range g.nodes {
		if !reached[id] {
			return nil, fmt.Errorf("%w: %s", ErrUnreachableRole, id)
		}
		if len(g.next[id]) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDeadEndRole, id)
		}
	}

	return g, nil
}

// reachable does a breadth-first walk from the entry role.
func (g *Graph) reachable() map[RoleID]bool {
	reached := map[RoleID]bool{g.entry: true}
	queue := []RoleID{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.next[cur] {
			if !reached[n] {
				reached[n] = true
				queue = append(queue, n)
			}
		}
	}
	return reached
}

// Entry returns the role that seeds every conversation.
func (g *Graph) Entry() RoleID {
	return g.entry
}

// Nodes returns every role mentioned by the graph, entry first.
func (g *Graph) Nodes() []RoleID {
	return append([]RoleID(nil), g.nodes...)
}

// AllowedNext returns the roles that may speak after the given role. Every node
// has at least one; a role outside the graph yields an empty slice.
func (g *Graph) AllowedNext(from RoleID) []RoleID {
	return append([]RoleID(nil), g.next[from]...)
}

// IsAllowed reports whether "to" may speak directly after "from".
func (g *Graph) IsAllowed(from, to RoleID) bool {
	return contains(g.next[from], to)
}

// Edges returns the adjacency table in node order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.next))
	for _, id := range g.nodes {
		if succ, ok := g.next[id]; ok {
			out = append(out, Edge{From: id, To: append([]RoleID(nil), succ...)})
		}
	}
	return out
}

// DefaultEdges returns the transition table of the standard team.
func DefaultEdges() []Edge {
	return []Edge{
		{From: UserProxy, To: []RoleID{Analyst}},
		{From: Analyst, To: []RoleID{Coder, UserProxy}},
		{From: Coder, To: []RoleID{Executor}},
		{From: Executor, To: []RoleID{Analyst}},
	}
}

func contains(ids []RoleID, id RoleID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
