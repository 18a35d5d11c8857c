package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/store"
)

// handleFeedback handles POST /api/feedback. Feedback on an unknown
// session or turn is a 404; an invalid verdict is a 400.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	verdict, err := store.ParseVerdict(req.Verdict)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, ok := s.sessions.Find(req.Session)
	if !ok {
		writeJSONError(w, "unknown session", http.StatusNotFound)
		return
	}

	if err := conv.RecordFeedback(r.Context(), req.Turn, verdict, req.Comment); err != nil {
		if errors.Is(err, chat.ErrUnknownTurn) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.feedbackTotal.WithLabelValues(string(verdict)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

// handleReset handles POST /api/reset. It clears the conversation of a
// live session; resetting an unknown session is a 404.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	conv, ok := s.sessions.Find(req.Session)
	if !ok {
		writeJSONError(w, "unknown session", http.StatusNotFound)
		return
	}
	conv.Reset()
	logging.FromContext(r.Context()).Info("chat: session reset", slog.String("session", req.Session))
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /api/history?session=<id>. Live sessions answer
// from memory; otherwise the transcript store is consulted when configured.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session"))
	if id == "" {
		writeJSONError(w, "session query parameter is required", http.StatusBadRequest)
		return
	}

	resp := historyResponse{Session: id, Turns: []historyTurn{}}

	if conv, ok := s.sessions.Find(id); ok {
		first := conv.FirstTurn()
		for i, t := range conv.History() {
			resp.Turns = append(resp.Turns, historyTurn{Turn: first + i, Question: t.Question, Answer: t.Answer, Sources: nonNil(t.Sources)})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if s.transcripts == nil {
		writeJSONError(w, "unknown session", http.StatusNotFound)
		return
	}
	recs, err := s.transcripts.Turns(r.Context(), id, 0)
	if err != nil {
		logging.FromContext(r.Context()).Error("history: transcript read failed", slog.Any("error", err))
		writeJSONError(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	if len(recs) == 0 {
		writeJSONError(w, "unknown session", http.StatusNotFound)
		return
	}
	for _, rec := range recs {
		resp.Turns = append(resp.Turns, historyTurn{Turn: rec.Index, Question: rec.Question, Answer: rec.Answer, Sources: nonNil(rec.Sources)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
