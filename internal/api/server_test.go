// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadcomms/brainstormx/internal/aigw"
	"github.com/broadcomms/brainstormx/internal/config"
	"github.com/broadcomms/brainstormx/internal/health"
	"github.com/broadcomms/brainstormx/internal/hub"
	"github.com/broadcomms/brainstormx/internal/orchestrator"
	"github.com/broadcomms/brainstormx/internal/presence"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

type staticGenerator struct{}

func (staticGenerator) Generate(_ context.Context, _ string, tag workshop.ArtifactTag, _ aigw.ContextSnapshot) (*workshop.Artifact, error) {
	return &workshop.Artifact{
		ID:          uuid.NewString(),
		Tag:         tag,
		Content:     "generated " + string(tag),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

type testServer struct {
	orch    *orchestrator.Orchestrator
	tracker *presence.Tracker
	srv     *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := workshop.NewStore()
	h := hub.New(hub.NewMemoryBacklog(1000, time.Hour))
	orch := orchestrator.New(orchestrator.Options{
		Store:        store,
		Hub:          h,
		Gateway:      staticGenerator{},
		QuorumWindow: time.Hour,
	})
	tracker := presence.New(time.Minute, 3, nil)
	hm := health.NewManager("test")

	api := NewServer(orch, h, tracker, nil, hm, config.APIConfig{
		RateLimit:  0, // disabled so tests never trip the limiter
		RateWindow: time.Minute,
	})
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(orch.WaitGenerations)

	return &testServer{orch: orch, tracker: tracker, srv: srv}
}

// do issues a JSON request with identity headers attached.
func (ts *testServer) do(t *testing.T, method, path, participantID, role string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if participantID != "" {
		req.Header.Set(HeaderParticipantID, participantID)
	}
	if role != "" {
		req.Header.Set(HeaderParticipantRole, role)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/sessions", "org-1", "organizer", createSessionRequest{
		Title:       "Q3 roadmap",
		Objective:   "find the next bet",
		DisplayName: "Olga",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decodeBody[workshop.SessionSnapshot](t, resp)
	return snap.ID
}

func TestCreateJoinSnapshot(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decodeBody[joinResponse](t, resp)
	assert.NotEmpty(t, joined.ConnectionID)
	require.NotNil(t, joined.Session)
	assert.Len(t, joined.Session.Participants, 2)

	sid, pid, ok := ts.tracker.Lookup(joined.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, sessionID, sid)
	assert.Equal(t, "mem-1", pid)

	resp = ts.do(t, http.MethodGet, "/v1/sessions/"+sessionID, "mem-1", "member", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[workshop.SessionSnapshot](t, resp)
	assert.Equal(t, "Q3 roadmap", snap.Title)
	assert.Len(t, snap.Participants, 2)
}

func TestMissingIdentityHeaderRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/sessions", "", "", createSessionRequest{Title: "x", DisplayName: "y"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	resp.Body.Close()

	t.Run("unknown session is 404", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/sessions/"+uuid.NewString(), "org-1", "organizer", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("member cannot advance", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/start", "mem-1", "member", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("vote without idea_id is 400", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/votes", "mem-1", "member", voteRequest{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("idea outside working session is 409", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/ideas", "mem-1", "member", ideaRequest{Content: "too early"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestChatRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", "mem-1", "member", chatRequest{Content: "hello room"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[workshop.ChatMessage](t, resp)
	assert.Equal(t, "hello room", msg.Content)
	assert.Equal(t, "mem-1", msg.SenderID)
	assert.NotZero(t, msg.Seq)

	resp = ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", "ghost", "member", chatRequest{Content: "boo"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHeartbeat(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decodeBody[joinResponse](t, resp)

	resp = ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/heartbeat", "mem-1", "member", heartbeatRequest{ConnectionID: joined.ConnectionID})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/heartbeat", "mem-1", "member", heartbeatRequest{ConnectionID: uuid.NewString()})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLeaveUnbindsConnection(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decodeBody[joinResponse](t, resp)

	resp = ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/leave", "mem-1", "member", leaveRequest{ConnectionID: joined.ConnectionID})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, _, ok := ts.tracker.Lookup(joined.ConnectionID)
	assert.False(t, ok)
}

func TestConcludeRemovesSession(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/conclude", "org-1", "organizer", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/sessions/"+sessionID, "org-1", "organizer", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStreamReplay(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	resp.Body.Close()
	for i := 0; i < 3; i++ {
		resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", "mem-1", "member", chatRequest{Content: fmt.Sprintf("message %d", i)})
		resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.srv.URL+"/v1/sessions/"+sessionID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderParticipantID, "mem-1")
	req.Header.Set("Last-Event-ID", "0")

	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	// join + 3 chat messages were committed after creation
	events := readEvents(t, stream, 4)
	assert.Equal(t, workshop.EventParticipantJoined, events[0].Kind)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq, "sequence must be contiguous from 1")
	}
	assert.Equal(t, workshop.EventChatPosted, events[3].Kind)
}

func TestEventStreamResumesMidway(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)
	resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/join", "mem-1", "member", joinRequest{DisplayName: "Mia"})
	resp.Body.Close()
	for i := 0; i < 4; i++ {
		resp := ts.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", "mem-1", "member", chatRequest{Content: fmt.Sprintf("message %d", i)})
		resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.srv.URL+"/v1/sessions/"+sessionID+"/events?last_event_id=3", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderParticipantID, "mem-1")

	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	// seqs 1..5 exist (join + 4 chats); replay starts after 3
	events := readEvents(t, stream, 2)
	assert.Equal(t, uint64(4), events[0].Seq)
	assert.Equal(t, uint64(5), events[1].Seq)
}

func TestEventStreamRejectsBadLastEventID(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/v1/sessions/"+sessionID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderParticipantID, "org-1")
	req.Header.Set("Last-Event-ID", "not-a-number")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// readEvents consumes SSE frames until n data payloads have been decoded.
func readEvents(t *testing.T, resp *http.Response, n int) []workshop.Event {
	t.Helper()

	var events []workshop.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < n {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev workshop.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, n, "stream ended before expected events arrived")
	return events
}
