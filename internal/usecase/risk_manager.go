package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/metrics"
)

// RiskConfig holds the account-protection limits. Percent fields are
// fractions (0.05 = 5%).
type RiskConfig struct {
	MaxPositionPct  float64 // balance fraction committed per trade, default 0.05
	MaxDailyTrades  int     // default 15
	MaxDailyLossPct float64 // realized loss fraction that halts trading, default 0.05
	MaxExposurePct  float64 // open notional / balance ceiling, default 0.30
	ReservePct      float64 // available balance floor as fraction of total, default 0.05
	FeeReserve      float64 // quantity multiplier covering fees, default 0.999
	StopLossPct     float64 // default 0.02
	TakeProfit1Pct  float64 // default 0.03
	TakeProfit2Pct  float64 // default 0.06
}

// RiskManager owns the mutable trading state: balances, open positions and
// the daily counters. Every method serializes on one mutex because sizing
// and limit checks are read-modify-write over the shared exposure budget.
type RiskManager struct {
	cfg    RiskConfig
	logger *zap.Logger

	mu           sync.Mutex
	halted       bool
	haltReason   string
	total        float64
	available    float64
	balanceKnown bool
	positions    map[string]*domain.Position
	day          string
	dailyTrades  int
	dailyPnL     float64

	now func() time.Time
}

func NewRiskManager(cfg RiskConfig, logger *zap.Logger) *RiskManager {
	if cfg.MaxPositionPct == 0 {
		cfg.MaxPositionPct = 0.05
	}
	if cfg.MaxDailyTrades == 0 {
		cfg.MaxDailyTrades = 15
	}
	if cfg.MaxDailyLossPct == 0 {
		cfg.MaxDailyLossPct = 0.05
	}
	if cfg.MaxExposurePct == 0 {
		cfg.MaxExposurePct = 0.30
	}
	if cfg.ReservePct == 0 {
		cfg.ReservePct = 0.05
	}
	if cfg.FeeReserve == 0 {
		cfg.FeeReserve = 0.999
	}
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = 0.02
	}
	if cfg.TakeProfit1Pct == 0 {
		cfg.TakeProfit1Pct = 0.03
	}
	if cfg.TakeProfit2Pct == 0 {
		cfg.TakeProfit2Pct = 0.06
	}
	metrics.TradingEnabled.Set(1)
	return &RiskManager{
		cfg:       cfg,
		logger:    logger,
		positions: make(map[string]*domain.Position),
		now:       time.Now,
	}
}

// CanOpen reports whether a new position for the symbol is allowed. Checks
// run in a fixed order and the first failure is the reported reason. A daily
// loss breach halts trading as a side effect.
func (r *RiskManager) CanOpen(symbol string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canOpenLocked(symbol)
}

func (r *RiskManager) canOpenLocked(symbol string) (bool, string) {
	r.rollDayLocked()

	if r.halted {
		return false, fmt.Sprintf("trading halted: %s", r.haltReason)
	}
	if _, ok := r.positions[symbol]; ok {
		return false, fmt.Sprintf("position already open for %s", symbol)
	}
	if r.dailyTrades >= r.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d)", r.cfg.MaxDailyTrades)
	}
	if r.balanceKnown && r.dailyPnL < 0 && -r.dailyPnL >= r.total*r.cfg.MaxDailyLossPct {
		reason := fmt.Sprintf("daily loss limit exceeded (%.2f USDT)", -r.dailyPnL)
		r.haltLocked(reason)
		return false, reason
	}
	if !r.balanceKnown || r.total <= 0 {
		return false, "account balance unknown or zero"
	}
	notional := r.notionalLocked()
	if notional/r.total >= r.cfg.MaxExposurePct {
		return false, fmt.Sprintf("total exposure %.1f%% above limit", notional/r.total*100)
	}
	if r.available < r.total*r.cfg.ReservePct {
		return false, "available balance below minimum reserve"
	}
	return true, ""
}

// Recommend sizes a trade for the symbol at the given price. A CanOpen
// failure yields a Skip recommendation carrying the reason. Quantity scales
// linearly with the confluence score: a perfect score gets full size, the
// minimum gets half.
func (r *RiskManager) Recommend(symbol string, price, score float64) *domain.TradeRecommendation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, reason := r.canOpenLocked(symbol); !ok {
		return &domain.TradeRecommendation{
			Symbol: symbol,
			Action: domain.ActionSkip,
			Reason: reason,
			Score:  score,
		}
	}
	if price <= 0 {
		return &domain.TradeRecommendation{
			Symbol: symbol,
			Action: domain.ActionSkip,
			Reason: "price unavailable",
			Score:  score,
		}
	}

	commit := r.total * r.cfg.MaxPositionPct
	if r.available < commit {
		commit = r.available
	}
	quantity := commit / price * r.cfg.FeeReserve * (0.5 + 0.5*score)

	return &domain.TradeRecommendation{
		Symbol:      symbol,
		Action:      domain.ActionBuy,
		Quantity:    quantity,
		Price:       price,
		StopLoss:    price * (1 - r.cfg.StopLossPct),
		TakeProfit1: price * (1 + r.cfg.TakeProfit1Pct),
		TakeProfit2: price * (1 + r.cfg.TakeProfit2Pct),
		Reason:      "confluence signal",
		RiskLevel:   riskLevelForScore(score),
		Score:       score,
	}
}

func riskLevelForScore(score float64) domain.RiskLevel {
	switch {
	case score >= 0.8:
		return domain.RiskLow
	case score >= 0.6:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// HaltTrading disables new entries until ResumeTrading. Open positions and
// their exit management are unaffected.
func (r *RiskManager) HaltTrading(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haltLocked(reason)
}

func (r *RiskManager) haltLocked(reason string) {
	if r.halted {
		return
	}
	r.halted = true
	r.haltReason = reason
	metrics.TradingEnabled.Set(0)
	r.logger.Warn("Trading halted", zap.String("reason", reason))
}

func (r *RiskManager) ResumeTrading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.halted {
		return
	}
	r.halted = false
	r.haltReason = ""
	metrics.TradingEnabled.Set(1)
	r.logger.Info("Trading resumed")
}

// SetBalance updates the account totals from a venue snapshot.
func (r *RiskManager) SetBalance(total, available float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	r.available = available
	r.balanceKnown = true
	metrics.AccountBalance.WithLabelValues("total").Set(total)
	metrics.AccountBalance.WithLabelValues("available").Set(available)
}

// RecordTrade counts an executed trade and accrues realized P&L into the
// daily counters.
func (r *RiskManager) RecordTrade(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()
	r.dailyTrades++
	r.dailyPnL += pnl
}

// AddPosition registers an opened position. The manager takes ownership of
// the struct; callers must not retain the pointer.
func (r *RiskManager) AddPosition(p *domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.FiredLevels == nil {
		p.FiredLevels = make(map[int]bool)
	}
	r.positions[p.Symbol] = p
	metrics.OpenPositions.Set(float64(len(r.positions)))
}

func (r *RiskManager) RemovePosition(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, symbol)
	metrics.OpenPositions.Set(float64(len(r.positions)))
}

// Position returns a copy of the tracked position, or nil. Mutations go
// through the manager's methods only.
func (r *RiskManager) Position(symbol string) *domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Positions returns copies of all open positions ordered by symbol.
func (r *RiskManager) Positions() []*domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UpdatePositionPrice records the latest mark price and advances the
// high-water mark used by the trailing stop.
func (r *RiskManager) UpdatePositionPrice(symbol string, mark float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok {
		return
	}
	p.MarkPrice = mark
	if mark > p.HighWater {
		p.HighWater = mark
	}
}

// SetTrailingState arms the trailing stop and raises its price. The trailing
// price only ratchets up, a lower value is ignored.
func (r *RiskManager) SetTrailingState(symbol string, armed bool, trailing float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok {
		return
	}
	if armed {
		p.TrailingArmed = true
	}
	if trailing > p.TrailingPrice {
		p.TrailingPrice = trailing
	}
}

// MarkPyramidFired consumes one take-profit level. Returns false when the
// level already fired or no position exists, so each level fires at most
// once per position.
func (r *RiskManager) MarkPyramidFired(symbol string, level int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok {
		return false
	}
	if p.FiredLevels == nil {
		p.FiredLevels = make(map[int]bool)
	}
	if p.FiredLevels[level] {
		return false
	}
	p.FiredLevels[level] = true
	return true
}

// MarkRiskReduced consumes the one-shot risk-signal partial close for the
// position's lifetime.
func (r *RiskManager) MarkRiskReduced(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok || p.RiskReduced {
		return false
	}
	p.RiskReduced = true
	return true
}

// MarkLiqWarned consumes the one-shot liquidation-proximity warning.
func (r *RiskManager) MarkLiqWarned(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok || p.LiqWarned {
		return false
	}
	p.LiqWarned = true
	return true
}

// SetStopOrder records the venue id of the protective stop.
func (r *RiskManager) SetStopOrder(symbol string, orderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.positions[symbol]; ok {
		p.StopOrderID = orderID
	}
}

// ReducePosition subtracts a partially closed quantity.
func (r *RiskManager) ReducePosition(symbol string, qty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	if !ok {
		return
	}
	p.Quantity -= qty
	if p.Quantity < 0 {
		p.Quantity = 0
	}
}

// Status reports the gatekeeper state for the ops surface.
func (r *RiskManager) Status() domain.RiskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()

	notional := r.notionalLocked()
	exposure := 0.0
	if r.total > 0 {
		exposure = notional / r.total
	}
	return domain.RiskStatus{
		TradingEnabled: !r.halted,
		HaltReason:     r.haltReason,
		TotalBalance:   r.total,
		Available:      r.available,
		OpenPositions:  len(r.positions),
		TotalNotional:  notional,
		ExposureRatio:  exposure,
		Day:            r.day,
		DailyTrades:    r.dailyTrades,
		DailyPnL:       r.dailyPnL,
	}
}

func (r *RiskManager) notionalLocked() float64 {
	notional := 0.0
	for _, p := range r.positions {
		notional += p.Quantity * p.EntryPrice
	}
	return notional
}

// Daily counters key on the venue's UTC calendar date. A stale key means a
// new day started; counters reset implicitly, no midnight job.
func (r *RiskManager) rollDayLocked() {
	day := r.now().UTC().Format("2006-01-02")
	if day != r.day {
		r.day = day
		r.dailyTrades = 0
		r.dailyPnL = 0
	}
}
