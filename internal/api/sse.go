// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/metrics"
)

// keepAliveInterval paces comment frames so idle streams survive proxies.
const keepAliveInterval = 15 * time.Second

// handleEvents streams the ordered session event feed as server-sent
// events. A reconnecting client passes the last sequence it processed via
// the standard Last-Event-ID header (or the last_event_id query parameter)
// and receives every missed event before the live feed resumes. When the
// replay window has expired the stream is refused with 409 backlog_expired
// and the client must refetch the snapshot first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeBadRequest(w, r, "streaming unsupported by connection")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	lastSeen, err := parseLastEventID(r)
	if err != nil {
		writeBadRequest(w, r, "invalid Last-Event-ID")
		return
	}

	sub, err := s.hub.Subscribe(r.Context(), sessionID, lastSeen)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SSEStreamsActive.Inc()
	defer metrics.SSEStreamsActive.Dec()

	logger := log.WithComponentFromContext(r.Context(), "sse").With().
		Str(log.FieldSessionID, sessionID).Logger()
	logger.Debug().Uint64("last_seen", lastSeen).Msg("stream opened")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("client disconnected")
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				// Dropped by the hub: concluded session or the client
				// fell too far behind. The client decides whether to
				// resubscribe with its last processed sequence.
				logger.Debug().Msg("stream closed by hub")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error().Err(err).Uint64(log.FieldSequence, ev.Seq).Msg("event marshal failed")
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
			flusher.Flush()
		}
	}
}

func parseLastEventID(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
