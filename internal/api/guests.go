package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/guestlink-core/internal/dispatch"
	"github.com/nerrad567/guestlink-core/internal/history"
	"github.com/nerrad567/guestlink-core/internal/link"
)

// scoreRequest is the request body for POST /api/score.
type scoreRequest struct {
	MAC   string `json:"mac"`
	Score *int32 `json:"score"`
}

// handleListGuests returns all guests in registry order.
func (s *Server) handleListGuests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleGuestHistory returns stored reports for one guest, newest first.
func (s *Server) handleGuestHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "report history is disabled")
		return
	}

	mac, err := link.ParseAddress(chi.URLParam(r, "mac"))
	if err != nil {
		writeBadRequest(w, "invalid MAC address")
		return
	}

	limit := history.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, history.MaxListLimit)
	}

	reports, err := s.history.List(r.Context(), mac, limit)
	if err != nil {
		s.logger.Error("listing guest history", "mac", mac.String(), "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if reports == nil {
		reports = []history.Report{}
	}

	writeJSON(w, http.StatusOK, reports)
}

// handleScore pushes a score to one guest over the link.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Score == nil {
		writeBadRequest(w, "score is required")
		return
	}

	mac, err := link.ParseAddress(req.MAC)
	if err != nil {
		writeBadRequest(w, "invalid MAC address")
		return
	}

	err = s.scorer.SendScore(mac, *req.Score)
	switch {
	case err == nil:
		s.logger.Info("score sent",
			"mac", mac.String(),
			"score", *req.Score,
			"subject", subjectFrom(r.Context()),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		if s.scores != nil {
			s.scores.WriteScore(mac.String(), *req.Score, time.Now())
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, dispatch.ErrInvalidTarget):
		writeBadRequest(w, "score target must be a unicast address")
	case errors.Is(err, link.ErrSendTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, "guest did not acknowledge in time")
	case errors.Is(err, link.ErrSendFailed):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "radio reported send failure")
	case errors.Is(err, link.ErrNotInitialized), errors.Is(err, link.ErrClosed):
		writeUnavailable(w, "radio link is not running")
	default:
		s.logger.Error("sending score", "mac", mac.String(), "error", err)
		writeInternalError(w, "failed to send score")
	}
}
