package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
)

const snapshotSchemaVersion = 1

// SignalStoreConfig bounds retention.
type SignalStoreConfig struct {
	Window        time.Duration // confluence window; per-symbol lists pruned at 2x
	RiskRetention time.Duration // intensified signals stay visible this long
	ProcessedCap  int           // max remembered signal ids
}

type symbolSignals struct {
	opportunity []*domain.Signal
	sentiment   []*domain.Signal
}

// SignalStore is the single owner of signal lifetime: a signal enters through
// Add (deduplicated by id), and leaves when the matcher consumes it or the
// age sweep drops it. The store survives restarts through the snapshot store.
type SignalStore struct {
	cfg       SignalStoreConfig
	snapshots domain.SnapshotStore
	logger    *zap.Logger

	mu        sync.Mutex
	signals   map[string]*symbolSignals
	processed map[string]struct{}
	idOrder   []string
	risk      map[string][]time.Time
	dirty     bool
	now       func() time.Time
}

func NewSignalStore(cfg SignalStoreConfig, snapshots domain.SnapshotStore, logger *zap.Logger) *SignalStore {
	if cfg.ProcessedCap <= 0 {
		cfg.ProcessedCap = 1000
	}
	return &SignalStore{
		cfg:       cfg,
		snapshots: snapshots,
		logger:    logger,
		signals:   make(map[string]*symbolSignals),
		processed: make(map[string]struct{}),
		risk:      make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Add stores the signal unless its id was already seen anywhere in the
// retained history. Every call sweeps stale entries from the per-symbol
// lists, so retention never depends on a background job.
func (s *SignalStore) Add(sig *domain.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.processed[sig.ID]; seen {
		return false
	}
	s.rememberIDLocked(sig.ID)

	ss := s.signals[sig.Symbol]
	if ss == nil {
		ss = &symbolSignals{}
		s.signals[sig.Symbol] = ss
	}
	if sig.Kind.IsSentiment() {
		ss.sentiment = append(ss.sentiment, sig)
		if sig.Kind == domain.KindSentimentIntensified {
			s.risk[sig.Symbol] = append(s.risk[sig.Symbol], sig.Time)
		}
	} else {
		ss.opportunity = append(ss.opportunity, sig)
	}

	s.sweepLocked(s.now())
	s.dirty = true
	return true
}

// HasRiskSignal reports whether an intensified sentiment signal arrived for
// the symbol within the risk retention window. Risk signals are advisory
// and never consumed by matching.
func (s *SignalStore) HasRiskSignal(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.RiskRetention)
	for _, ts := range s.risk[symbol] {
		if ts.After(cutoff) {
			return true
		}
	}
	return false
}

// SignalsFor returns copies of the pending lists for the symbol. The signals
// themselves are immutable and shared.
func (s *SignalStore) SignalsFor(symbol string) (opps, sents []*domain.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := s.signals[symbol]
	if ss == nil {
		return nil, nil
	}
	opps = append([]*domain.Signal(nil), ss.opportunity...)
	sents = append([]*domain.Signal(nil), ss.sentiment...)
	return opps, sents
}

// Consume removes a matched pair from the store. Returns false when either
// signal already left (swept or consumed by an earlier match).
func (s *SignalStore) Consume(symbol, oppID, sentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := s.signals[symbol]
	if ss == nil {
		return false
	}
	oi := indexByID(ss.opportunity, oppID)
	si := indexByID(ss.sentiment, sentID)
	if oi < 0 || si < 0 {
		return false
	}
	ss.opportunity = append(ss.opportunity[:oi], ss.opportunity[oi+1:]...)
	ss.sentiment = append(ss.sentiment[:si], ss.sentiment[si+1:]...)
	if len(ss.opportunity) == 0 && len(ss.sentiment) == 0 {
		delete(s.signals, symbol)
	}
	s.dirty = true
	return true
}

// PendingFor counts signals currently stored for the symbol.
func (s *SignalStore) PendingFor(symbol string) domain.KindCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := s.signals[symbol]
	if ss == nil {
		return domain.KindCounts{}
	}
	return domain.KindCounts{
		Opportunity: len(ss.opportunity),
		Sentiment:   len(ss.sentiment),
	}
}

func (s *SignalStore) Stats() domain.SignalStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.SignalStats{
		Symbols:      len(s.signals),
		ProcessedIDs: len(s.idOrder),
	}
	for _, ss := range s.signals {
		st.Opportunity += len(ss.opportunity)
		st.Sentiment += len(ss.sentiment)
	}
	for _, times := range s.risk {
		st.RiskSignals += len(times)
	}
	return st
}

// Restore loads the snapshot written by a previous run and re-runs the age
// sweep before the store accepts new signals. A missing or broken snapshot
// degrades to an empty store.
func (s *SignalStore) Restore() {
	if s.snapshots == nil {
		return
	}
	snap, err := s.snapshots.Load()
	if err != nil {
		s.logger.Warn("Failed to load signal snapshot, starting empty", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, lists := range snap.Signals {
		ss := &symbolSignals{
			opportunity: append([]*domain.Signal(nil), lists.Opportunity...),
			sentiment:   append([]*domain.Signal(nil), lists.Sentiment...),
		}
		s.signals[sym] = ss
	}
	for sym, times := range snap.RiskSignals {
		s.risk[sym] = append([]time.Time(nil), times...)
	}
	for _, id := range snap.ProcessedIDs {
		s.rememberIDLocked(id)
	}
	s.sweepLocked(s.now())

	s.logger.Info("Signal snapshot restored",
		zap.Int("symbols", len(s.signals)),
		zap.Int("processed_ids", len(s.idOrder)),
		zap.Time("saved_at", snap.SavedAt))
}

// Persist writes the snapshot when anything changed since the last write.
// Failures are logged and the store keeps running in memory only.
func (s *SignalStore) Persist() {
	if s.snapshots == nil {
		return
	}
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	if err := s.snapshots.Save(snap); err != nil {
		s.logger.Warn("Failed to persist signal snapshot", zap.Error(err))
	}
}

func (s *SignalStore) rememberIDLocked(id string) {
	if _, seen := s.processed[id]; seen {
		return
	}
	s.processed[id] = struct{}{}
	s.idOrder = append(s.idOrder, id)
	for len(s.idOrder) > s.cfg.ProcessedCap {
		delete(s.processed, s.idOrder[0])
		s.idOrder = s.idOrder[1:]
	}
}

func (s *SignalStore) sweepLocked(now time.Time) {
	cutoff := now.Add(-2 * s.cfg.Window)
	for sym, ss := range s.signals {
		ss.opportunity = dropOlder(ss.opportunity, cutoff)
		ss.sentiment = dropOlder(ss.sentiment, cutoff)
		if len(ss.opportunity) == 0 && len(ss.sentiment) == 0 {
			delete(s.signals, sym)
		}
	}

	riskCutoff := now.Add(-s.cfg.RiskRetention)
	for sym, times := range s.risk {
		kept := make([]time.Time, 0, len(times))
		for _, ts := range times {
			if ts.After(riskCutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(s.risk, sym)
		} else {
			s.risk[sym] = kept
		}
	}
}

func (s *SignalStore) snapshotLocked() *domain.SignalSnapshot {
	snap := &domain.SignalSnapshot{
		SchemaVersion: snapshotSchemaVersion,
		SavedAt:       s.now(),
		Signals:       make(map[string]domain.SymbolSignals, len(s.signals)),
		RiskSignals:   make(map[string][]time.Time, len(s.risk)),
		ProcessedIDs:  append([]string(nil), s.idOrder...),
	}
	for sym, ss := range s.signals {
		snap.Signals[sym] = domain.SymbolSignals{
			Opportunity: append([]*domain.Signal(nil), ss.opportunity...),
			Sentiment:   append([]*domain.Signal(nil), ss.sentiment...),
		}
	}
	for sym, times := range s.risk {
		snap.RiskSignals[sym] = append([]time.Time(nil), times...)
	}
	return snap
}

func dropOlder(list []*domain.Signal, cutoff time.Time) []*domain.Signal {
	kept := list[:0]
	for _, sig := range list {
		if sig.Time.After(cutoff) {
			kept = append(kept, sig)
		}
	}
	return kept
}

func indexByID(list []*domain.Signal, id string) int {
	for i, sig := range list {
		if sig.ID == id {
			return i
		}
	}
	return -1
}
