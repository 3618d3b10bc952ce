// ABOUTME: Request handlers for task submission, session reset, team listing and history
// ABOUTME: Submissions answer with JSON or stream each delivery as a server-sent event

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/coven-council/internal/council"
	"github.com/2389/coven-council/internal/roster"
	"github.com/2389/coven-council/internal/session"
	"github.com/2389/coven-council/internal/store"
)

// SubmitRequest is the JSON body of POST /api/tasks.
type SubmitRequest struct {
	Task string `json:"task"`
}

// MessageResponse is one delivery seen by the caller.
type MessageResponse struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// SubmitResponse is the JSON answer of a non-streaming submission.
type SubmitResponse struct {
	Status         string            `json:"status"`
	ConversationID string            `json:"conversation_id,omitempty"`
	FinalAnswer    string            `json:"final_answer,omitempty"`
	Rounds         int               `json:"rounds"`
	Error          string            `json:"error,omitempty"`
	Messages       []MessageResponse `json:"messages"`
}

// RoleResponse describes one team member.
type RoleResponse struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Capability string `json:"capability"`
	// Next lists the roles that may speak after this one. The coordinator has none.
	Next []string `json:"next,omitempty"`
}

// ConversationResponse is a ledger conversation.
type ConversationResponse struct {
	ID          string              `json:"id"`
	Task        string              `json:"task"`
	State       string              `json:"state"`
	MaxRounds   int                 `json:"max_rounds"`
	Rounds      int                 `json:"rounds"`
	FinalAnswer string              `json:"final_answer,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   string              `json:"started_at"`
	EndedAt     string              `json:"ended_at,omitempty"`
	Utterances  []UtteranceResponse `json:"utterances,omitempty"`
}

// UtteranceResponse is a ledger utterance.
type UtteranceResponse struct {
	Index       int    `json:"index"`
	Speaker     string `json:"speaker"`
	DisplayRole string `json:"display_role"`
	Text        string `json:"text"`
	Hint        string `json:"hint"`
	Final       bool   `json:"final"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	next := make(map[roster.RoleID][]string)
	for _, e := range s.svc.Transitions() {
		for _, to := range e.To {
			next[e.From] = append(next[e.From], string(to))
		}
	}

	roles := s.svc.Roles()
	out := make([]RoleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, RoleResponse{
			ID:         string(role.ID),
			Label:      role.Label,
			Capability: string(role.Capability),
			Next:       next[role.ID],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"welcome": s.svc.Welcome(),
		"roles":   out,
	})
}

// handleSubmit handles POST /api/tasks. Clients that accept text/event-stream get one
// "message" event per delivery and a closing "done" event; others get a single JSON
// body once the run ends. A busy session answers 409 before any turn is produced.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		sendJSONError(w, http.StatusBadRequest, "task is required")
		return
	}
	ownerKey := owner(r)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamSubmit(w, r, ownerKey, req.Task)
		return
	}

	sink := &collectSink{}
	out := s.svc.Submit(s.baseCtx, ownerKey, req.Task, sink)
	resp := submitResponse(out, sink.messages())
	switch out.Status {
	case council.StatusBusy:
		writeJSON(w, http.StatusConflict, resp)
	case council.StatusFailed:
		writeJSON(w, http.StatusBadGateway, resp)
	case council.StatusShuttingDown:
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) streamSubmit(w http.ResponseWriter, r *http.Request, ownerKey, task string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if sess, ok := s.svc.Gate().Lookup(ownerKey); ok && sess.Busy() {
		sendJSONError(w, http.StatusConflict, council.BusyNotice)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	out := s.svc.Submit(s.baseCtx, ownerKey, task, sink)
	sink.event("done", submitResponse(out, nil))
}

// handleReset handles DELETE /api/session.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	reply, err := s.svc.Reset(r.Context(), owner(r))
	if errors.Is(err, session.ErrSessionBusy) {
		sendJSONError(w, http.StatusConflict, reply)
		return
	}
	if err != nil {
		s.logger.Error("reset failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": reply})
}

// handleListConversations handles GET /api/conversations?limit=N.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			sendJSONError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	convs, err := s.ledger.ListConversations(r.Context(), owner(r), limit)
	if err != nil {
		s.logger.Error("listing conversations", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleGetConversation handles GET /api/conversations/{id}. Conversations of other
// owners are reported as missing.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	id := chi.URLParam(r, "id")

	c, err := s.ledger.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && c.OwnerKey != owner(r)) {
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("getting conversation", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	utts, err := s.ledger.GetUtterances(r.Context(), id)
	if err != nil {
		s.logger.Error("getting utterances", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := conversationResponse(c)
	resp.Utterances = make([]UtteranceResponse, 0, len(utts))
	for _, u := range utts {
		resp.Utterances = append(resp.Utterances, UtteranceResponse{
			Index:       u.Index,
			Speaker:     u.Speaker,
			DisplayRole: u.DisplayRole,
			Text:        u.Text,
			Hint:        u.Hint,
			Final:       u.Final,
			CreatedAt:   u.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func submitResponse(out council.Outcome, msgs []MessageResponse) SubmitResponse {
	resp := SubmitResponse{
		Status:         out.Status.String(),
		ConversationID: out.ConversationID,
		FinalAnswer:    out.FinalAnswer,
		Rounds:         out.Rounds,
		Messages:       msgs,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if resp.Messages == nil {
		resp.Messages = []MessageResponse{}
	}
	return resp
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:          c.ID,
		Task:        c.Task,
		State:       c.State,
		MaxRounds:   c.MaxRounds,
		Rounds:      c.Rounds,
		FinalAnswer: c.FinalAnswer,
		Error:       c.Error,
		StartedAt:   c.StartedAt.Format(time.RFC3339),
	}
	if c.EndedAt != nil {
		resp.EndedAt = c.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// collectSink keeps deliveries for the JSON answer.
type collectSink struct {
	mu   sync.Mutex
	msgs []MessageResponse
}

func (c *collectSink) Deliver(_ context.Context, text, displayRole string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, MessageResponse{Role: displayRole, Text: text})
	return true
}

func (c *collectSink) messages() []MessageResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MessageResponse(nil), c.msgs...)
}

// sseSink writes each delivery as a "message" event. A write failure means the
// client went away; later deliveries report failure without writing.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	broken  bool
}

func (s *sseSink) Deliver(_ context.Context, text, displayRole string) bool {
	return s.event("message", MessageResponse{Role: displayRole, Text: text})
}

func (s *sseSink) event(name string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return false
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		s.broken = true
		return false
	}
	s.flusher.Flush()
	return true
}
