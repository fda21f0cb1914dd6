package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
)

// PriceSource serves the freshest known price for a symbol without a venue
// round trip. Implementations report a miss when the feed is stale or down.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// MonitorConfig tunes the position monitor loop.
type MonitorConfig struct {
	Interval      time.Duration  // evaluation tick, default 10s
	Trailing      TrailingConfig // trailing stop parameters
	PyramidLevels []PyramidLevel // profit ladder, default DefaultPyramidLevels
	LiqWarnRatio  float64        // warn when |mark-liq|/mark falls below, default 0.30
	RiskClosePct  float64        // fraction closed on a risk signal, default 0.5
}

// PositionMonitor drives the exit logic for open positions: trailing stop,
// pyramid profit taking, liquidation warnings and risk-signal reductions.
// Every tick evaluates each tracked position independently, so one broken
// symbol never starves the others.
type PositionMonitor struct {
	cfg      MonitorConfig
	exchange domain.Exchange
	risk     *RiskManager
	executor *TradeExecutor
	store    *SignalStore
	trailing *TrailingStop
	pyramid  *Pyramiding
	prices   PriceSource
	notifier domain.Notifier
	logger   *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewPositionMonitor(
	cfg MonitorConfig,
	exchange domain.Exchange,
	risk *RiskManager,
	executor *TradeExecutor,
	store *SignalStore,
	prices PriceSource,
	notifier domain.Notifier,
	logger *zap.Logger,
) *PositionMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.LiqWarnRatio <= 0 {
		cfg.LiqWarnRatio = 0.30
	}
	if cfg.RiskClosePct <= 0 {
		cfg.RiskClosePct = 0.5
	}
	return &PositionMonitor{
		cfg:      cfg,
		exchange: exchange,
		risk:     risk,
		executor: executor,
		store:    store,
		trailing: NewTrailingStop(cfg.Trailing),
		pyramid:  NewPyramiding(cfg.PyramidLevels),
		prices:   prices,
		notifier: notifier,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (m *PositionMonitor) Start(ctx context.Context) {
	m.logger.Info("Starting position monitor", zap.Duration("interval", m.cfg.Interval))
	go m.run(ctx)
}

func (m *PositionMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckOnce(ctx)
		case <-m.stopChan:
			m.logger.Info("Position monitor stopped")
			return
		case <-ctx.Done():
			m.logger.Info("Position monitor cancelled")
			return
		}
	}
}

func (m *PositionMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// CheckOnce runs a single evaluation pass over all tracked positions.
func (m *PositionMonitor) CheckOnce(ctx context.Context) {
	for _, pos := range m.risk.Positions() {
		if err := m.checkPosition(ctx, pos); err != nil {
			m.logger.Error("Position check failed",
				zap.String("symbol", pos.Symbol),
				zap.Error(err))
		}
	}
}

func (m *PositionMonitor) checkPosition(ctx context.Context, pos *domain.Position) error {
	symbol := pos.Symbol

	var price float64
	if m.prices != nil {
		if p, ok := m.prices.LastPrice(symbol); ok {
			price = p
		}
	}

	var liqPrice float64
	live, err := m.exchange.GetPosition(ctx, symbol)
	switch {
	case err != nil:
		// Degraded pass: keep managing exits on the cached price and skip
		// the liquidation check until the venue answers again.
		m.logger.Warn("Failed to fetch venue position",
			zap.String("symbol", symbol),
			zap.Error(err))
	case live == nil || live.Quantity == 0:
		m.logger.Warn("Position closed externally, clearing local state",
			zap.String("symbol", symbol))
		if err := m.exchange.CancelAllOrders(ctx, symbol); err != nil {
			m.logger.Warn("Failed to cancel orders",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
		m.risk.RemovePosition(symbol)
		return nil
	default:
		liqPrice = live.LiquidationPrice
		if price == 0 {
			price = live.MarkPrice
		}
	}

	if price == 0 {
		mark, err := m.exchange.GetMarkPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to resolve price for %s: %w", symbol, err)
		}
		price = mark
	}

	m.risk.UpdatePositionPrice(symbol, price)
	pos = m.risk.Position(symbol)
	if pos == nil {
		return nil
	}

	if done, err := m.applyTrailing(ctx, pos, price); done || err != nil {
		return err
	}
	if done, err := m.applyPyramid(ctx, pos, price); done || err != nil {
		return err
	}
	m.checkLiquidation(symbol, price, liqPrice)
	return m.applyRiskSignal(ctx, pos, price)
}

// applyTrailing reports done=true when it closed the position, so the caller
// skips the remaining checks for this tick.
func (m *PositionMonitor) applyTrailing(ctx context.Context, pos *domain.Position, price float64) (bool, error) {
	d := m.trailing.Update(pos, price)
	if !d.Armed {
		return false, nil
	}
	if !pos.TrailingArmed {
		m.logger.Info("Trailing stop armed",
			zap.String("symbol", pos.Symbol),
			zap.Float64("trailing", d.Trailing))
	}
	m.risk.SetTrailingState(pos.Symbol, true, d.Trailing)
	if !d.Trigger {
		return false, nil
	}

	m.logger.Info("Trailing stop triggered",
		zap.String("symbol", pos.Symbol),
		zap.Float64("price", price),
		zap.Float64("trailing", d.Trailing))
	if err := m.executor.ClosePosition(ctx, pos.Symbol, "trailing stop"); err != nil {
		return true, fmt.Errorf("failed to close %s on trailing stop: %w", pos.Symbol, err)
	}
	return true, nil
}

func (m *PositionMonitor) applyPyramid(ctx context.Context, pos *domain.Position, price float64) (bool, error) {
	act := m.pyramid.Check(pos, price)
	if act == nil {
		return false, nil
	}
	// Mark before acting: a level fires at most once even if the close fails.
	if !m.risk.MarkPyramidFired(pos.Symbol, act.Level) {
		return false, nil
	}

	gain := pos.GainPercent(price)
	m.logger.Info("Take-profit level reached",
		zap.String("symbol", pos.Symbol),
		zap.Int("level", act.Level),
		zap.Float64("gainPct", gain),
		zap.Bool("fullClose", act.FullClose))
	m.notifier.TakeProfit(pos.Symbol, act.Level, gain)

	reason := fmt.Sprintf("take profit %d", act.Level)
	var err error
	if act.FullClose {
		err = m.executor.ClosePosition(ctx, pos.Symbol, reason)
	} else {
		err = m.executor.PartialClose(ctx, pos.Symbol, act.Fraction, reason)
	}
	if err != nil {
		return true, fmt.Errorf("failed to take profit on %s: %w", pos.Symbol, err)
	}
	return true, nil
}

func (m *PositionMonitor) checkLiquidation(symbol string, price, liqPrice float64) {
	if liqPrice <= 0 || price <= 0 {
		return
	}
	ratio := math.Abs(price-liqPrice) / price
	if ratio >= m.cfg.LiqWarnRatio {
		return
	}
	if !m.risk.MarkLiqWarned(symbol) {
		return
	}

	m.logger.Warn("Price approaching liquidation",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("liquidation", liqPrice),
		zap.Float64("distancePct", ratio*100))
	m.notifier.Error(symbol, "liquidation",
		fmt.Errorf("price %.4f within %.1f%% of liquidation %.4f", price, ratio*100, liqPrice))
}

func (m *PositionMonitor) applyRiskSignal(ctx context.Context, pos *domain.Position, price float64) error {
	// The store keys signals by base asset, positions carry the venue symbol.
	if m.store == nil || !m.store.HasRiskSignal(domain.NormalizeSymbol(pos.Symbol)) {
		return nil
	}
	if pos.GainPercent(price) <= 0 {
		return nil
	}
	if !m.risk.MarkRiskReduced(pos.Symbol) {
		return nil
	}

	m.logger.Info("Reducing position on intensified sentiment",
		zap.String("symbol", pos.Symbol),
		zap.Float64("fraction", m.cfg.RiskClosePct))
	if err := m.executor.PartialClose(ctx, pos.Symbol, m.cfg.RiskClosePct, "risk signal"); err != nil {
		return fmt.Errorf("failed to reduce %s on risk signal: %w", pos.Symbol, err)
	}
	return nil
}
