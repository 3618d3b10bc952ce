// ABOUTME: Ledger data types for conversations and their utterances
// ABOUTME: Defines the audit records written by the Recorder and read by the HTTP API

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Conversation is the audit record of one task run.
type Conversation struct {
	ID          string
	OwnerKey    string
	Task        string
	State       string // running, terminated, rounds_exhausted, failed
	MaxRounds   int
	Rounds      int
	FinalAnswer string
	Error       string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// Utterance is one emitted turn of a conversation.
type Utterance struct {
	ID             string
	ConversationID string
	Index          int
	Speaker        string
	DisplayRole    string
	Text           string
	Hint           string
	Final          bool
	CreatedAt      time.Time
}

// ConversationEnd carries the terminal fields of a conversation.
type ConversationEnd struct {
	State       string
	Rounds      int
	FinalAnswer string
	Error       string
	EndedAt     time.Time
}

// Ledger is the persistence surface used by the council.
type Ledger interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	FinishConversation(ctx context.Context, id string, end ConversationEnd) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, ownerKey string, limit int) ([]*Conversation, error)

	SaveUtterance(ctx context.Context, u *Utterance) error
	GetUtterances(ctx context.Context, conversationID string) ([]*Utterance, error)

	Close() error
}
