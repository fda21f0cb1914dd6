package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Risk    domain.RiskStatus  `json:"risk"`
		Signals domain.SignalStats `json:"signals"`
	}{
		Risk:    s.risk.Status(),
		Signals: s.store.Stats(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	type positionView struct {
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Quantity      float64 `json:"quantity"`
		OriginalQty   float64 `json:"original_qty"`
		EntryPrice    float64 `json:"entry_price"`
		MarkPrice     float64 `json:"mark_price"`
		GainPct       float64 `json:"gain_pct"`
		Leverage      int     `json:"leverage"`
		TrailingArmed bool    `json:"trailing_armed"`
		TrailingPrice float64 `json:"trailing_price,omitempty"`
		OpenedAt      string  `json:"opened_at"`
	}

	positions := s.risk.Positions()
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			Quantity:      p.Quantity,
			OriginalQty:   p.OriginalQty,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			GainPct:       p.GainPercent(p.MarkPrice),
			Leverage:      p.Leverage,
			TrailingArmed: p.TrailingArmed,
			TrailingPrice: p.TrailingPrice,
			OpenedAt:      p.OpenedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	events := s.matcher.Recent(limitParam(r, 50, 500))
	if events == nil {
		events = []*domain.ConfluenceEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.trades.ListTrades(r.Context(), limitParam(r, 50, 500))
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*domain.TradeRecord{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "manual halt"
	}

	s.risk.HaltTrading(body.Reason)
	s.logger.Warn("Trading halted via API", zap.String("reason", body.Reason))
	s.writeJSON(w, http.StatusOK, s.risk.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.risk.ResumeTrading()
	s.logger.Info("Trading resumed via API")
	s.writeJSON(w, http.StatusOK, s.risk.Status())
}
