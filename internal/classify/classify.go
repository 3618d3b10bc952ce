// ABOUTME: Classifies one produced utterance as service noise, termination, or content
// ABOUTME: Pure rule list with a display hint distinguishing execution output from analysis

package classify

import (
	"regexp"
	"strings"
)

// Tag is the outcome of classifying an utterance.
type Tag int

const (
	// Service text is never recorded, never forwarded and never advances a round.
	Service Tag = iota
	// Termination ends the conversation; Payload holds the text with the token removed.
	Termination
	// Content is an ordinary turn; Payload holds the trimmed text.
	Content
)

func (t Tag) String() string {
	switch t {
	case Service:
		return "service"
	case Termination:
		return "termination"
	case Content:
		return "content"
	default:
		return "unknown"
	}
}

// Hint tells frontends how to present a Content payload.
type Hint string

const (
	HintAgent     Hint = "agent"
	HintExecution Hint = "execution"
)

// Classification is the result of Classify.
type Classification struct {
	Tag     Tag
	Payload string
	Hint    Hint
}

// Rules configures the classifier. Zero-value fields fall back to DefaultRules.
type Rules struct {
	// TerminationToken is matched case-insensitively anywhere in the text.
	TerminationToken string
	// TurnAnnouncements are case-insensitive substrings marking speaker-selection chatter.
	TurnAnnouncements []string
	// RoutingMarker prefixes lines that carry routing only. Text made solely of such
	// lines is service noise.
	RoutingMarker string
	// ExecutionMarkers identify program output (execution banner, exit status).
	ExecutionMarkers []string
}

// DefaultRules returns the stock rule set.
func DefaultRules() Rules {
	return Rules{
		TerminationToken:  "TERMINATE",
		TurnAnnouncements: []string{"next speaker"},
		RoutingMarker:     "##",
		ExecutionMarkers:  []string{">>>>>>>> EXECUTING CODE BLOCK", "exitcode:"},
	}
}

// Classifier applies Rules. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules         Rules
	token         *regexp.Regexp
	announcements []string
}

// New builds a classifier, filling empty rule fields from DefaultRules.
func New(rules Rules) *Classifier {
	def := DefaultRules()
	if rules.TerminationToken == "" {
		rules.TerminationToken = def.TerminationToken
	}
	if rules.TurnAnnouncements == nil {
		rules.TurnAnnouncements = def.TurnAnnouncements
	}
	if rules.RoutingMarker == "" {
		rules.RoutingMarker = def.RoutingMarker
	}
	if rules.ExecutionMarkers == nil {
		rules.ExecutionMarkers = def.ExecutionMarkers
	}

	announcements := make([]string, 0, len(rules.TurnAnnouncements))
	for _, a := range rules.TurnAnnouncements {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			announcements = append(announcements, a)
		}
	}

	return &Classifier{
		rules:         rules,
		token:         regexp.MustCompile(`(?i)` + regexp.QuoteMeta(rules.TerminationToken)),
		announcements: announcements,
	}
}

// Rules returns the effective rule set.
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Classify applies the rules in order: blank, service signature, termination token,
// content. Calling it twice on the same text yields the same result.
func (c *Classifier) Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Tag: Service}
	}

	if c.isService(trimmed) {
		return Classification{Tag: Service}
	}

	if c.token.MatchString(trimmed) {
		payload := c.stripToken(trimmed)
		return Classification{Tag: Termination, Payload: payload, Hint: c.hint(payload)}
	}

	return Classification{Tag: Content, Payload: trimmed, Hint: c.hint(trimmed)}
}

// stripToken removes every occurrence of the token, including ones formed by joining
// the text around an earlier removal.
func (c *Classifier) stripToken(text string) string {
	for c.token.MatchString(text) {
		text = c.token.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func (c *Classifier) isService(text string) bool {
	lower := strings.ToLower(text)
	for _, a := range c.announcements {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return c.routingOnly(text)
}

// routingOnly reports whether every non-blank line starts with the routing marker.
func (c *Classifier) routingOnly(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, c.rules.RoutingMarker) {
			return false
		}
	}
	return true
}

func (c *Classifier) hint(text string) Hint {
	for _, m := range c.rules.ExecutionMarkers {
		if m != "" && strings.Contains(text, m) {
			return HintExecution
		}
	}
	return HintAgent
}
