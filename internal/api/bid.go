package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/engine"
)

type bidRequest struct {
	Day  string `json:"day"`
	Slot string `json:"slot"`
	Gpu  int    `json:"gpu"`
}

func (req bidRequest) toInput() engine.BidInput {
	return engine.BidInput{Day: req.Day, Slot: req.Slot, Gpu: req.Gpu}
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	start := time.Now()
	err := s.engine.Bid(username, req.toInput())
	if s.metrics != nil {
		s.metrics.BidLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.BidRejected.Inc()
		}
		writeDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.BidAccepted.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleBulkBid(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	var req struct {
		Bids []bidRequest `json:"bids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	ins := make([]engine.BidInput, len(req.Bids))
	for i, b := range req.Bids {
		ins[i] = b.toInput()
	}
	if err := s.engine.BulkBid(username, ins); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	var req struct {
		Day            string  `json:"day"`
		Slot           string  `json:"slot"`
		Gpu            int     `json:"gpu"`
		PreviousWinner *string `json:"previous_winner"`
		PreviousPrice  int     `json:"previous_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	in := engine.UndoInput{
		Day: req.Day, Slot: req.Slot, Gpu: req.Gpu,
		PreviousWinner: req.PreviousWinner, PreviousPrice: req.PreviousPrice,
	}
	if err := s.engine.Undo(username, in); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	refund, err := s.engine.Release(username, engine.ReleaseInput{Day: req.Day, Slot: req.Slot, Gpu: req.Gpu})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refund": refund})
}

func (s *Server) handleBulkRelease(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	var req struct {
		Slots []bidRequest `json:"slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	ins := make([]engine.ReleaseInput, len(req.Slots))
	for i, sl := range req.Slots {
		ins[i] = engine.ReleaseInput{Day: sl.Day, Slot: sl.Slot, Gpu: sl.Gpu}
	}
	released, refund, err := s.engine.BulkRelease(username, ins)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released_count": released, "refund": refund})
}

func (s *Server) handleDismissOutbid(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	var req struct {
		DayKey string `json:"day_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	if err := s.engine.DismissOutbidNotices(username, req.DayKey); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
