// ABOUTME: Role roster for the expert team: identifiers, display labels, capabilities, prompts
// ABOUTME: Provides the default five-role team and lookup helpers used by every frontend

package roster

import (
	"errors"
	"fmt"
)

// RoleID identifies a member of the team.
type RoleID string

// Built-in role identifiers.
const (
	UserProxy RoleID = "user_proxy"
	Analyst   RoleID = "analyst"
	Coder     RoleID = "coder"
	Executor  RoleID = "executor"
	Manager   RoleID = "manager"
)

// Capability is a display/routing tag. The engine never branches on it; adapters
// use it to pick which collaborator produces a role's turn.
type Capability string

const (
	CapabilityRelay       Capability = "relay"
	CapabilityAssistant   Capability = "assistant"
	CapabilityExecutor    Capability = "executor"
	CapabilityCoordinator Capability = "coordinator"
)

// Roster errors
var (
	ErrEmptyRoleID   = errors.New("role id is empty")
	ErrDuplicateRole = errors.New("duplicate role")
	ErrNoCoordinator = errors.New("roster has no coordinator role")
)

// Role describes one member of the team.
type Role struct {
	ID           RoleID
	Label        string
	Capability   Capability
	SystemPrompt string
}

// Roster is an immutable, ordered set of roles.
type Roster struct {
	order       []RoleID
	roles       map[RoleID]Role
	coordinator RoleID
}

// New builds a roster from the given roles, preserving declaration order.
// Exactly one role should carry CapabilityCoordinator; if several do, the first wins.
func New(roles []Role) (*Roster, error) {
	r := &Roster{
		roles: make(map[RoleID]Role, len(roles)),
	}
	for _, role := range roles {
		if role.ID == "" {
			return nil, ErrEmptyRoleID
		}
		if _, exists := r.roles[role.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, role.ID)
		}
		if role.Label == "" {
			role.Label = fallbackLabel(role.ID)
		}
		r.roles[role.ID] = role
		r.order = append(r.order, role.ID)
		if role.Capability == CapabilityCoordinator && r.coordinator == "" {
			r.coordinator = role.ID
		}
	}
	if r.coordinator == "" {
		return nil, ErrNoCoordinator
	}
	return r, nil
}

// Role returns the role with the given id.
func (r *Roster) Role(id RoleID) (Role, bool) {
	role, ok := r.roles[id]
	return role, ok
}

// Roles returns all roles in declaration order.
func (r *Roster) Roles() []Role {
	out := make([]Role, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.roles[id])
	}
	return out
}

// Coordinator returns the role that deliberates over speaker selection.
func (r *Roster) Coordinator() Role {
	return r.roles[r.coordinator]
}

// Label returns the display label for a role, or a generic label for unknown ids.
func (r *Roster) Label(id RoleID) string {
	if role, ok := r.roles[id]; ok {
		return role.Label
	}
	return fallbackLabel(id)
}

// Has reports whether the roster declares the role.
func (r *Roster) Has(id RoleID) bool {
	_, ok := r.roles[id]
	return ok
}

// CheckGraph verifies that every node of the graph is a declared, non-coordinator role.
func (r *Roster) CheckGraph(g *Graph) error {
	for _, id := range g.Nodes() {
		role, ok := r.roles[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRole, id)
		}
		if role.Capability == CapabilityCoordinator {
			return fmt.Errorf("coordinator %q cannot take turns in the transition graph", id)
		}
	}
	return nil
}

func fallbackLabel(id RoleID) string {
	return "🤖 " + string(id)
}

// Default returns the standard five-role expert team.
func Default() []Role {
	return []Role{
		{
			ID:         UserProxy,
			Label:      "👤 User Proxy",
			Capability: CapabilityRelay,
			SystemPrompt: "You relay the user's request to the team of experts exactly as written. " +
				"Do not add comments or assumptions. Hand the request to the analyst.",
		},
		{
			ID:         Analyst,
			Label:      "🧠 Analyst",
			Capability: CapabilityAssistant,
			SystemPrompt: "You are the lead analyst. Decide whether the request needs real data from " +
				"external sources. If it does, describe precisely what the coder should fetch, naming a " +
				"public API that needs no key and the expected output format. Never invent data. " +
				"Once the executor's results are in, write a clear answer for the user and end it with TERMINATE.",
		},
		{
			ID:         Coder,
			Label:      "👨‍💻 Coder",
			Capability: CapabilityAssistant,
			SystemPrompt: "You are a senior Python developer. Write only working code, print every result, " +
				"use only public APIs that need no key, never read from stdin, and wrap code in ```python fences. " +
				"If the task needs no code, say so.",
		},
		{
			ID:         Executor,
			Label:      "⚙️ Executor",
			Capability: CapabilityExecutor,
			SystemPrompt: "You execute the code you receive without changes and report the complete output, " +
				"including errors.",
		},
		{
			ID:         Manager,
			Label:      "🤖 Manager",
			Capability: CapabilityCoordinator,
			SystemPrompt: "You coordinate the team. Route the request to the analyst first. When real data is " +
				"needed route to the coder and then the executor, and send execution results back to the analyst. " +
				"Never skip the executor and never change the order of work.",
		},
	}
}
