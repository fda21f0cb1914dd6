package usecase

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/metrics"
)

// BotConfig tunes the orchestrator's background loops and symbol mapping.
type BotConfig struct {
	QuoteSuffix      string        // appended to the base asset for venue symbols, default USDT
	SnapshotInterval time.Duration // signal store persistence, default 60s
	BalanceInterval  time.Duration // account balance refresh, default 60s
	StatusInterval   time.Duration // status log line, default 5m
	EmergencyFile    string        // trading halts while this file exists, default EMERGENCY_STOP
	EmergencyPoll    time.Duration // default 5s
	RiskClosePct     float64       // fraction closed on an intensified sentiment, default 0.5
}

// ConfluenceBot is the orchestrator: it owns the ingestion path from signal
// to order and the background loops around it. Ingestion is synchronous and
// serialized, one signal at a time; a failure for one symbol only aborts that
// symbol's pipeline step, never the loop.
type ConfluenceBot struct {
	cfg      BotConfig
	store    *SignalStore
	matcher  *ConfluenceMatcher
	risk     *RiskManager
	executor *TradeExecutor
	monitor  *PositionMonitor
	exchange domain.Exchange
	repo     domain.TradeRepository
	logger   *zap.Logger

	mu  sync.Mutex
	now func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewConfluenceBot(
	cfg BotConfig,
	store *SignalStore,
	matcher *ConfluenceMatcher,
	risk *RiskManager,
	executor *TradeExecutor,
	monitor *PositionMonitor,
	exchange domain.Exchange,
	repo domain.TradeRepository,
	logger *zap.Logger,
) *ConfluenceBot {
	if cfg.QuoteSuffix == "" {
		cfg.QuoteSuffix = "USDT"
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	if cfg.BalanceInterval <= 0 {
		cfg.BalanceInterval = time.Minute
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Minute
	}
	if cfg.EmergencyFile == "" {
		cfg.EmergencyFile = "EMERGENCY_STOP"
	}
	if cfg.EmergencyPoll <= 0 {
		cfg.EmergencyPoll = 5 * time.Second
	}
	if cfg.RiskClosePct <= 0 {
		cfg.RiskClosePct = 0.5
	}
	return &ConfluenceBot{
		cfg:      cfg,
		store:    store,
		matcher:  matcher,
		risk:     risk,
		executor: executor,
		monitor:  monitor,
		exchange: exchange,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start restores persisted state, primes the account balance and launches the
// background loops.
func (b *ConfluenceBot) Start(ctx context.Context) {
	b.logger.Info("Starting confluence bot",
		zap.String("quoteSuffix", b.cfg.QuoteSuffix),
		zap.String("emergencyFile", b.cfg.EmergencyFile))

	b.store.Restore()
	b.refreshBalance(ctx)
	b.monitor.Start(ctx)
	go b.run(ctx)
}

func (b *ConfluenceBot) run(ctx context.Context) {
	snapshot := time.NewTicker(b.cfg.SnapshotInterval)
	balance := time.NewTicker(b.cfg.BalanceInterval)
	status := time.NewTicker(b.cfg.StatusInterval)
	emergency := time.NewTicker(b.cfg.EmergencyPoll)
	defer snapshot.Stop()
	defer balance.Stop()
	defer status.Stop()
	defer emergency.Stop()

	for {
		select {
		case <-snapshot.C:
			b.store.Persist()
		case <-balance.C:
			b.refreshBalance(ctx)
		case <-status.C:
			b.logStatus()
		case <-emergency.C:
			b.checkEmergencyStop()
		case <-b.stopChan:
			b.logger.Info("Confluence bot stopped")
			return
		case <-ctx.Done():
			b.logger.Info("Confluence bot cancelled")
			return
		}
	}
}

// Stop halts the loops and writes a final signal snapshot.
func (b *ConfluenceBot) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.monitor.Stop()
	b.store.Persist()
}

// OnSignal is the single ingestion entry point. Untracked message types are
// dropped, duplicates are absorbed by the store, and everything downstream of
// a stored signal is best-effort: errors are logged and the call returns.
func (b *ConfluenceBot) OnSignal(ctx context.Context, msgType int, msgID, symbol string, payload map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, ok := domain.KindForMessageType(msgType)
	if !ok {
		metrics.SignalsDropped.WithLabelValues("untracked").Inc()
		b.logger.Debug("Untracked message type ignored",
			zap.Int("type", msgType),
			zap.String("id", msgID))
		return
	}

	base := domain.NormalizeSymbol(symbol)
	if base == "" {
		metrics.SignalsDropped.WithLabelValues("invalid_symbol").Inc()
		b.logger.Warn("Signal with unusable symbol ignored",
			zap.String("symbol", symbol),
			zap.String("id", msgID))
		return
	}

	sig := &domain.Signal{
		ID:          msgID,
		Symbol:      base,
		Kind:        kind,
		MessageType: msgType,
		Time:        b.now(),
		Price:       payloadFloat(payload, "price"),
		Title:       payloadString(payload, "title"),
		Raw:         payload,
	}
	if !b.store.Add(sig) {
		metrics.SignalsDropped.WithLabelValues("duplicate").Inc()
		b.logger.Debug("Duplicate signal ignored", zap.String("id", msgID))
		return
	}
	metrics.SignalsTotal.WithLabelValues(string(kind)).Inc()
	b.logger.Info("Signal stored",
		zap.String("symbol", base),
		zap.String("kind", string(kind)),
		zap.String("id", msgID))

	if kind == domain.KindSentimentIntensified {
		b.applyRiskAdvisory(ctx, base)
	}

	event := b.matcher.TryMatch(base, b.now())
	if event == nil {
		return
	}
	metrics.ConfluenceEvents.Inc()
	b.saveConfluence(ctx, event)
	b.openFromEvent(ctx, event)
}

// PendingSignals exposes per-symbol queue depths for the ops surface.
func (b *ConfluenceBot) PendingSignals(symbol string) domain.KindCounts {
	return b.store.PendingFor(domain.NormalizeSymbol(symbol))
}

// RecentConfluence exposes matcher history for the ops surface.
func (b *ConfluenceBot) RecentConfluence(limit int) []*domain.ConfluenceEvent {
	return b.matcher.Recent(limit)
}

func (b *ConfluenceBot) openFromEvent(ctx context.Context, event *domain.ConfluenceEvent) {
	venueSymbol := event.Symbol + b.cfg.QuoteSuffix

	price, err := b.exchange.GetMarkPrice(ctx, venueSymbol)
	if err != nil {
		b.logger.Warn("Skipping trade, mark price unavailable",
			zap.String("symbol", venueSymbol),
			zap.Error(err))
		return
	}

	rec := b.risk.Recommend(venueSymbol, price, event.Score)
	if rec.Action != domain.ActionBuy {
		b.logger.Info("Trade skipped",
			zap.String("symbol", venueSymbol),
			zap.String("reason", rec.Reason))
		return
	}

	if err := b.executor.OpenPosition(ctx, rec); err != nil {
		b.logger.Error("Failed to open position",
			zap.String("symbol", venueSymbol),
			zap.Error(err))
	}
}

// applyRiskAdvisory reduces an open profitable position once when the
// sentiment around it intensifies. The monitor applies the same rule on its
// ticks; the one-shot flag on the position keeps the two paths from stacking.
func (b *ConfluenceBot) applyRiskAdvisory(ctx context.Context, base string) {
	venueSymbol := base + b.cfg.QuoteSuffix
	pos := b.risk.Position(venueSymbol)
	if pos == nil {
		return
	}

	price, err := b.exchange.GetMarkPrice(ctx, venueSymbol)
	if err != nil {
		price = pos.MarkPrice
	}
	if price <= 0 || pos.GainPercent(price) <= 0 {
		return
	}
	if !b.risk.MarkRiskReduced(venueSymbol) {
		return
	}

	b.logger.Info("Reducing position on intensified sentiment",
		zap.String("symbol", venueSymbol),
		zap.Float64("fraction", b.cfg.RiskClosePct))
	if err := b.executor.PartialClose(ctx, venueSymbol, b.cfg.RiskClosePct, "risk signal"); err != nil {
		b.logger.Error("Failed to reduce position",
			zap.String("symbol", venueSymbol),
			zap.Error(err))
	}
}

func (b *ConfluenceBot) saveConfluence(ctx context.Context, event *domain.ConfluenceEvent) {
	if b.repo == nil {
		return
	}
	if err := b.repo.SaveConfluence(ctx, event); err != nil {
		b.logger.Error("Failed to persist confluence event",
			zap.String("symbol", event.Symbol),
			zap.Error(err))
	}
}

func (b *ConfluenceBot) refreshBalance(ctx context.Context) {
	bal, err := b.exchange.GetBalance(ctx)
	if err != nil {
		b.logger.Warn("Failed to refresh balance", zap.Error(err))
		return
	}
	b.risk.SetBalance(bal.Total, bal.Available)
}

func (b *ConfluenceBot) logStatus() {
	status := b.risk.Status()
	stats := b.store.Stats()
	b.logger.Info("Trader status",
		zap.Bool("tradingEnabled", status.TradingEnabled),
		zap.Int("openPositions", status.OpenPositions),
		zap.Float64("totalBalance", status.TotalBalance),
		zap.Float64("exposureRatio", status.ExposureRatio),
		zap.Int("dailyTrades", status.DailyTrades),
		zap.Float64("dailyPnL", status.DailyPnL),
		zap.Int("pendingOpportunity", stats.Opportunity),
		zap.Int("pendingSentiment", stats.Sentiment),
		zap.Int("riskSignals", stats.RiskSignals))
}

func (b *ConfluenceBot) checkEmergencyStop() {
	if _, err := os.Stat(b.cfg.EmergencyFile); err != nil {
		return
	}
	b.risk.HaltTrading("emergency stop file")
}

func payloadFloat(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

func payloadString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}
