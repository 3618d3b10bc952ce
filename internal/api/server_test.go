// ABOUTME: Tests for the council HTTP API
// ABOUTME: Auth 401, JSON and SSE submission, busy 409, reset 409, history and metrics routes

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-council/internal/auth"
	"github.com/2389/coven-council/internal/classify"
	"github.com/2389/coven-council/internal/council"
	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/metrics"
	"github.com/2389/coven-council/internal/roster"
	"github.com/2389/coven-council/internal/session"
	"github.com/2389/coven-council/internal/store"
)

type funcProducer func(ctx context.Context, speaker roster.Role, history []engine.Utterance) (string, error)

func (f funcProducer) ProduceTurn(ctx context.Context, speaker roster.Role, history []engine.Utterance) (string, error) {
	return f(ctx, speaker, history)
}

type fixture struct {
	handler  http.Handler
	verifier *auth.JWTVerifier
	ledger   *store.SQLiteStore
	registry *prometheus.Registry
	svc      *council.Service
}

func newFixture(t *testing.T, producer engine.TurnProducer) *fixture {
	t.Helper()

	ledger, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	team, err := roster.New(roster.Default())
	require.NoError(t, err)
	graph, err := roster.NewGraph(roster.UserProxy, roster.DefaultEdges())
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{MaxRounds: 5}, engine.Deps{
		Roster:     team,
		Graph:      graph,
		Classifier: classify.New(classify.DefaultRules()),
		Producer:   producer,
		Observers:  []engine.MessageObserver{store.NewRecorder(ledger, nil), m},
	}, nil)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	svc := council.NewService(eng, session.NewGate(nil, nil), m, nil)
	srv := New(Options{
		Service:  svc,
		Verifier: verifier,
		Ledger:   ledger,
		Gatherer: reg,
	})
	return &fixture{handler: srv.Handler(), verifier: verifier, ledger: ledger, registry: reg, svc: svc}
}

func (f *fixture) do(t *testing.T, method, path, body, subject string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if subject != "" {
		token, err := f.verifier.Generate(subject, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func fixed(reply string) engine.TurnProducer {
	return funcProducer(func(context.Context, roster.Role, []engine.Utterance) (string, error) {
		return reply, nil
	})
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, fixed("x"))
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_RequiresAuth(t *testing.T) {
	f := newFixture(t, fixed("x"))
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/team"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodDelete, "/api/session"},
		{http.MethodGet, "/api/conversations"},
	} {
		rec := f.do(t, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestSubmit_JSON(t *testing.T) {
	f := newFixture(t, fixed("4. TERMINATE"))

	rec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"what is 2+2"}`, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "4.", resp.FinalAnswer)
	assert.Equal(t, 1, resp.Rounds)
	require.Len(t, resp.Messages, 4)
	assert.Equal(t, MessageResponse{Role: council.UserDisplayRole, Text: "what is 2+2"}, resp.Messages[0])
	assert.Equal(t, MessageResponse{Role: engine.FinalDisplayRole, Text: "4."}, resp.Messages[2])

	conv, err := f.ledger.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "api:alice", conv.OwnerKey)
}

func TestSubmit_BadRequests(t *testing.T) {
	f := newFixture(t, fixed("x"))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tasks", `not json`, "alice").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tasks", `{"task":"  "}`, "alice").Code)
}

func TestSubmit_CollaboratorFailure(t *testing.T) {
	f := newFixture(t, funcProducer(func(context.Context, roster.Role, []engine.Utterance) (string, error) {
		return "", assert.AnError
	}))
	rec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"t"}`, "alice")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, assert.AnError.Error())
}

func TestSubmit_BusyAndResetConflict(t *testing.T) {
	entered := make(chan struct{})
	finish := make(chan struct{})
	var once sync.Once
	f := newFixture(t, funcProducer(func(context.Context, roster.Role, []engine.Utterance) (string, error) {
		once.Do(func() { close(entered) })
		<-finish
		return "done TERMINATE", nil
	}))

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- f.do(t, http.MethodPost, "/api/tasks", `{"task":"first"}`, "alice")
	}()
	<-entered

	rec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"second"}`, "alice")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var busy SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &busy))
	assert.Equal(t, "busy", busy.Status)
	assert.Equal(t, []MessageResponse{{Role: council.SystemDisplayRole, Text: council.BusyNotice}}, busy.Messages)

	streamRec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"third"}`, "alice", "Accept", "text/event-stream")
	assert.Equal(t, http.StatusConflict, streamRec.Code)

	rec = f.do(t, http.MethodDelete, "/api/session", "", "alice")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "still running")

	rec = f.do(t, http.MethodDelete, "/api/session", "", "bob")
	assert.Equal(t, http.StatusOK, rec.Code, "other owners are independent")

	close(finish)
	select {
	case first := <-done:
		assert.Equal(t, http.StatusOK, first.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("first submission did not finish")
	}

	rec = f.do(t, http.MethodDelete, "/api/session", "", "alice")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmit_Stream(t *testing.T) {
	f := newFixture(t, fixed("4. TERMINATE"))

	rec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"2+2"}`, "alice", "Accept", "text/event-stream")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []string
	var last string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			last = data
		}
	}
	assert.Equal(t, []string{"message", "message", "message", "message", "done"}, events)

	var done SubmitResponse
	require.NoError(t, json.Unmarshal([]byte(last), &done))
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, "4.", done.FinalAnswer)
}

func TestSubmit_AfterDrain(t *testing.T) {
	f := newFixture(t, fixed("4. TERMINATE"))
	require.NoError(t, f.svc.Drain(context.Background()))

	rec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"2+2"}`, "alice")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "shutting_down", resp.Status)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, council.ShutdownNotice, resp.Messages[0].Text)
}

func TestTeam(t *testing.T) {
	f := newFixture(t, fixed("x"))
	rec := f.do(t, http.MethodGet, "/api/team", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Welcome string         `json:"welcome"`
		Roles   []RoleResponse `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Roles, 5)
	assert.Equal(t, "executor", body.Roles[3].Capability)
	assert.Equal(t, []string{"coder", "user_proxy"}, body.Roles[1].Next)
	assert.Empty(t, body.Roles[4].Next, "the coordinator is not in the transition graph")
	assert.Contains(t, body.Welcome, "🧠 Analyst")
}

func TestHistory(t *testing.T) {
	f := newFixture(t, fixed("4. TERMINATE"))

	rec := f.do(t, http.MethodPost, "/api/tasks", `{"task":"2+2"}`, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var submitted SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = f.do(t, http.MethodGet, "/api/conversations", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Conversations []ConversationResponse `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "terminated", list.Conversations[0].State)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+submitted.ConversationID, "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Len(t, conv.Utterances, 1)
	assert.True(t, conv.Utterances[0].Final)
	assert.Equal(t, "4.", conv.Utterances[0].Text)

	rec = f.do(t, http.MethodGet, "/api/conversations/"+submitted.ConversationID, "", "mallory")
	assert.Equal(t, http.StatusNotFound, rec.Code, "other owners cannot read the transcript")

	rec = f.do(t, http.MethodGet, "/api/conversations?limit=0", "", "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, fixed("4. TERMINATE"))
	f.do(t, http.MethodPost, "/api/tasks", `{"task":"2+2"}`, "alice")

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coven_council_conversations_started_total 1")
}
