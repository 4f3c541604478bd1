// SPDX-License-Identifier: MIT

// Package api exposes the workshop orchestrator over HTTP: JSON action
// endpoints, a server-sent-event stream per session, and the operational
// health and metrics surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/broadcomms/brainstormx/internal/archive"
	"github.com/broadcomms/brainstormx/internal/config"
	"github.com/broadcomms/brainstormx/internal/health"
	"github.com/broadcomms/brainstormx/internal/hub"
	"github.com/broadcomms/brainstormx/internal/orchestrator"
	"github.com/broadcomms/brainstormx/internal/presence"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// Server wires the orchestrator and its collaborators into an HTTP router.
type Server struct {
	orch     *orchestrator.Orchestrator
	hub      *hub.Hub
	presence *presence.Tracker
	archive  *archive.Store // optional
	health   *health.Manager
	cfg      config.APIConfig
}

// NewServer builds the HTTP surface. archive may be nil when the daemon
// runs without persistence.
func NewServer(orch *orchestrator.Orchestrator, h *hub.Hub, tracker *presence.Tracker, arch *archive.Store, hm *health.Manager, cfg config.APIConfig) *Server {
	return &Server{
		orch:     orch,
		hub:      h,
		presence: tracker,
		archive:  arch,
		health:   hm,
		cfg:      cfg,
	}
}

// Router assembles the chi router with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(withIdentity)
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimit, s.cfg.RateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, errorBody{
						Error: "rate limit exceeded",
						Code:  "rate_limited",
					})
				}),
			))
		}

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleSnapshot)
			r.Get("/events", s.handleEvents)
			r.Post("/join", s.handleJoin)
			r.Post("/leave", s.handleLeave)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/chat", s.handleChat)
			r.Post("/ideas", s.handleIdea)
			r.Post("/votes", s.handleVote)
			r.Post("/start", s.handleStart)
			r.Post("/advance", s.handleAdvance)
			r.Post("/retry", s.handleRetry)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/conclude", s.handleConclude)
		})

		if s.archive != nil {
			r.Get("/archive", s.handleArchiveList)
			r.Get("/archive/{sessionID}", s.handleArchiveLoad)
			r.Get("/archive/{sessionID}/ranking", s.handleArchiveRanking)
		}
	})

	return r
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// requireCaller rejects requests lacking the trusted identity header.
func requireCaller(w http.ResponseWriter, r *http.Request) (identity, bool) {
	id := callerFrom(r.Context())
	if id.ParticipantID == "" {
		writeBadRequest(w, r, "missing "+HeaderParticipantID+" header")
		return identity{}, false
	}
	return id, true
}

type createSessionRequest struct {
	Title       string `json:"title"`
	Objective   string `json:"objective"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	snap, err := s.orch.CreateSession(r.Context(), id.ParticipantID, req.DisplayName, req.Title, req.Objective)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Snapshot(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
}

type joinResponse struct {
	ConnectionID string                    `json:"connection_id"`
	Session      *workshop.SessionSnapshot `json:"session"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	snap, err := s.orch.Join(r.Context(), sessionID, id.ParticipantID, req.DisplayName, id.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	connID := uuid.NewString()
	s.presence.Bind(sessionID, id.ParticipantID, connID)
	writeJSON(w, http.StatusOK, joinResponse{ConnectionID: connID, Session: snap})
}

type leaveRequest struct {
	ConnectionID string `json:"connection_id,omitempty"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req leaveRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeBadRequest(w, r, "invalid JSON body")
			return
		}
	}
	if req.ConnectionID != "" {
		s.presence.Unbind(req.ConnectionID)
	}
	if err := s.orch.Leave(r.Context(), chi.URLParam(r, "sessionID"), id.ParticipantID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type heartbeatRequest struct {
	ConnectionID string `json:"connection_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decode(r, &req); err != nil || req.ConnectionID == "" {
		writeBadRequest(w, r, "connection_id is required")
		return
	}
	if err := s.presence.Heartbeat(req.ConnectionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	msg, err := s.orch.PostChat(r.Context(), chi.URLParam(r, "sessionID"), id.ParticipantID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type ideaRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleIdea(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req ideaRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	idea, err := s.orch.SubmitIdea(r.Context(), chi.URLParam(r, "sessionID"), id.ParticipantID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idea)
}

type voteRequest struct {
	IdeaID string `json:"idea_id"`
	Weight int    `json:"weight"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := decode(r, &req); err != nil || req.IdeaID == "" {
		writeBadRequest(w, r, "idea_id is required")
		return
	}
	vote, err := s.orch.CastVote(r.Context(), chi.URLParam(r, "sessionID"), id.ParticipantID, req.IdeaID, req.Weight)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.orch.StartSession)
}

type advanceRequest struct {
	From workshop.Stage `json:"from"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if err := decode(r, &req); err != nil || req.From == "" {
		writeBadRequest(w, r, "from stage is required")
		return
	}
	if err := s.orch.AdvanceStage(r.Context(), chi.URLParam(r, "sessionID"), id.ParticipantID, req.From); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.orch.RetryArtifact)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.orch.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.orch.Resume)
}

func (s *Server) handleConclude(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.orch.Conclude)
}

// action runs an organizer-style control operation that takes only the
// session and actor IDs.
func (s *Server) action(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sessionID, actorID string) error) {
	id, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), chi.URLParam(r, "sessionID"), id.ParticipantID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	list, err := s.archive.List(r.Context(), 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleArchiveLoad(w http.ResponseWriter, r *http.Request) {
	snap, err := s.archive.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleArchiveRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := s.archive.Ranking(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}
