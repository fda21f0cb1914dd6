package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
)

// MatcherConfig controls pairing and scoring. Weights and strengths are
// tunable; the defaults carry no special derivation beyond live use.
type MatcherConfig struct {
	Window              time.Duration
	MinScore            float64
	TimeWeight          float64 // default 0.4
	StrengthWeight      float64 // default 0.3
	FreshnessWeight     float64 // default 0.3
	IntensifiedStrength float64 // default 1.0
	PlainStrength       float64 // default 0.8
	HistoryCap          int
}

// ConfluenceMatcher pairs pending opportunity and sentiment signals per
// symbol. Consumption is exactly-once: only a pair that clears the minimum
// score leaves the store, a rejected pair stays eligible for a better
// future pairing.
type ConfluenceMatcher struct {
	cfg    MatcherConfig
	store  *SignalStore
	logger *zap.Logger

	mu      sync.Mutex
	history []*domain.ConfluenceEvent
}

func NewConfluenceMatcher(cfg MatcherConfig, store *SignalStore, logger *zap.Logger) *ConfluenceMatcher {
	if cfg.TimeWeight == 0 && cfg.StrengthWeight == 0 && cfg.FreshnessWeight == 0 {
		cfg.TimeWeight, cfg.StrengthWeight, cfg.FreshnessWeight = 0.4, 0.3, 0.3
	}
	if cfg.IntensifiedStrength == 0 {
		cfg.IntensifiedStrength = 1.0
	}
	if cfg.PlainStrength == 0 {
		cfg.PlainStrength = 0.8
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 50
	}
	return &ConfluenceMatcher{cfg: cfg, store: store, logger: logger}
}

// TryMatch selects the (opportunity, sentiment) pair with the smallest time
// gap for the symbol. Returns nil when no pair falls strictly inside the
// window or the best pair scores below the minimum.
func (m *ConfluenceMatcher) TryMatch(symbol string, now time.Time) *domain.ConfluenceEvent {
	opps, sents := m.store.SignalsFor(symbol)
	if len(opps) == 0 || len(sents) == 0 {
		return nil
	}

	var bestOpp, bestSent *domain.Signal
	bestGap := time.Duration(-1)
	for _, opp := range opps {
		for _, sent := range sents {
			gap := opp.Time.Sub(sent.Time)
			if gap < 0 {
				gap = -gap
			}
			if bestOpp == nil || gap < bestGap ||
				(gap == bestGap && earlierPair(opp, sent, bestOpp, bestSent)) {
				bestOpp, bestSent, bestGap = opp, sent, gap
			}
		}
	}

	if bestGap >= m.cfg.Window {
		return nil
	}

	score := m.score(bestOpp, bestSent, bestGap, now)
	if score < m.cfg.MinScore {
		m.logger.Debug("Confluence pair below minimum score",
			zap.String("symbol", symbol),
			zap.Float64("score", score),
			zap.Float64("gap_sec", bestGap.Seconds()))
		return nil
	}

	if !m.store.Consume(symbol, bestOpp.ID, bestSent.ID) {
		return nil
	}

	event := &domain.ConfluenceEvent{
		Symbol:      symbol,
		Opportunity: bestOpp,
		Sentiment:   bestSent,
		TimeGapSec:  bestGap.Seconds(),
		Score:       score,
		DetectedAt:  now,
	}

	m.mu.Lock()
	m.history = append(m.history, event)
	if len(m.history) > m.cfg.HistoryCap {
		m.history = m.history[len(m.history)-m.cfg.HistoryCap:]
	}
	m.mu.Unlock()

	m.logger.Info("Confluence detected",
		zap.String("symbol", symbol),
		zap.Float64("score", score),
		zap.Float64("gap_sec", event.TimeGapSec),
		zap.String("opportunity_id", bestOpp.ID),
		zap.String("sentiment_id", bestSent.ID))
	return event
}

// Recent returns up to limit events, newest first.
func (m *ConfluenceMatcher) Recent(limit int) []*domain.ConfluenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]*domain.ConfluenceEvent, 0, limit)
	for i := len(m.history) - 1; i >= len(m.history)-limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// score = w_time*closeness + w_strength*strength + w_fresh*freshness.
// Closeness decays linearly across the window, freshness across one hour of
// average signal age, strength separates intensified from plain sentiment.
func (m *ConfluenceMatcher) score(opp, sent *domain.Signal, gap time.Duration, now time.Time) float64 {
	closeness := clamp(1-gap.Seconds()/m.cfg.Window.Seconds(), 0, 1)

	strength := m.cfg.PlainStrength
	if sent.Kind == domain.KindSentimentIntensified {
		strength = m.cfg.IntensifiedStrength
	}

	avgAge := (now.Sub(opp.Time).Seconds() + now.Sub(sent.Time).Seconds()) / 2
	freshness := 1 - clamp(avgAge/3600, 0, 1)

	score := m.cfg.TimeWeight*closeness + m.cfg.StrengthWeight*strength + m.cfg.FreshnessWeight*freshness
	return clamp(score, 0, 1)
}

// earlierPair is the deterministic tie-break for equal gaps: earliest
// opportunity first, then earliest sentiment, then lowest id.
func earlierPair(opp, sent, curOpp, curSent *domain.Signal) bool {
	if !opp.Time.Equal(curOpp.Time) {
		return opp.Time.Before(curOpp.Time)
	}
	if !sent.Time.Equal(curSent.Time) {
		return sent.Time.Before(curSent.Time)
	}
	if opp.ID != curOpp.ID {
		return opp.ID < curOpp.ID
	}
	return sent.ID < curSent.ID
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
