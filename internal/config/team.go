// ABOUTME: Builds the expert team and classifier rules from configuration
// ABOUTME: Role entries override the default roster by id; edges replace the default graph

package config

import (
	"fmt"

	"github.com/2389/coven-council/internal/classify"
	"github.com/2389/coven-council/internal/roster"
)

// BuildTeam returns the roster and transition graph described by the config.
// Without roles or edges the standard team is used.
func (c *Config) BuildTeam() (*roster.Roster, *roster.Graph, error) {
	roles := roster.Default()
	index := make(map[roster.RoleID]int, len(roles))
	for i, r := range roles {
		index[r.ID] = i
	}

	for _, rc := range c.Roles {
		if rc.ID == "" {
			return nil, nil, fmt.Errorf("roles: entry without id")
		}
		id := roster.RoleID(rc.ID)
		i, ok := index[id]
		if !ok {
			roles = append(roles, roster.Role{ID: id})
			i = len(roles) - 1
			index[id] = i
		}
		if rc.Label != "" {
			roles[i].Label = rc.Label
		}
		if rc.Capability != "" {
			capability, err := parseCapability(rc.Capability)
			if err != nil {
				return nil, nil, fmt.Errorf("role %s: %w", rc.ID, err)
			}
			roles[i].Capability = capability
		}
		if rc.SystemPrompt != "" {
			roles[i].SystemPrompt = rc.SystemPrompt
		}
	}

	team, err := roster.New(roles)
	if err != nil {
		return nil, nil, fmt.Errorf("building roster: %w", err)
	}

	entry := roster.UserProxy
	edges := roster.DefaultEdges()
	if len(c.Edges) > 0 {
		entry = roster.RoleID(c.Edges[0].From)
		edges = make([]roster.Edge, 0, len(c.Edges))
		for _, ec := range c.Edges {
			to := make([]roster.RoleID, 0, len(ec.To))
			for _, t := range ec.To {
				to = append(to, roster.RoleID(t))
			}
			edges = append(edges, roster.Edge{From: roster.RoleID(ec.From), To: to})
		}
	}

	graph, err := roster.NewGraph(entry, edges)
	if err != nil {
		return nil, nil, fmt.Errorf("building graph: %w", err)
	}
	if err := team.CheckGraph(graph); err != nil {
		return nil, nil, fmt.Errorf("checking graph: %w", err)
	}
	return team, graph, nil
}

// ClassifierRules returns the configured rules; empty fields fall back to the defaults
// inside classify.New.
func (c *Config) ClassifierRules() classify.Rules {
	return classify.Rules{
		TerminationToken:  c.Classifier.TerminationToken,
		TurnAnnouncements: c.Classifier.TurnAnnouncements,
		RoutingMarker:     c.Classifier.RoutingMarker,
		ExecutionMarkers:  c.Classifier.ExecutionMarkers,
	}
}

func parseCapability(s string) (roster.Capability, error) {
	switch c := roster.Capability(s); c {
	case roster.CapabilityRelay, roster.CapabilityAssistant, roster.CapabilityExecutor, roster.CapabilityCoordinator:
		return c, nil
	default:
		return "", fmt.Errorf("unknown capability %q", s)
	}
}
