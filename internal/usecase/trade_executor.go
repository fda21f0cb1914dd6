package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/metrics"
)

// ExecutorConfig holds venue interaction settings for opening and closing
// positions.
type ExecutorConfig struct {
	Leverage      int           // default 10
	MarginType    string        // default ISOLATED
	OrderAttempts int           // market order attempts on timeout, default 2
	RetryBackoff  time.Duration // fixed wait between attempts, default 2s
	StopRounding  RoundDir      // tick rounding for stop prices, default RoundDown
}

// TradeExecutor turns recommendations into confirmed venue positions and
// closes them on exit triggers. Remote calls for the same symbol never run
// concurrently; distinct symbols may.
type TradeExecutor struct {
	cfg      ExecutorConfig
	exchange domain.Exchange
	risk     *RiskManager
	repo     domain.TradeRepository
	notifier domain.Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	symLocks map[string]*sync.Mutex
}

func NewTradeExecutor(cfg ExecutorConfig, exchange domain.Exchange, risk *RiskManager, repo domain.TradeRepository, notifier domain.Notifier, logger *zap.Logger) *TradeExecutor {
	if cfg.Leverage == 0 {
		cfg.Leverage = 10
	}
	if cfg.MarginType == "" {
		cfg.MarginType = "ISOLATED"
	}
	if cfg.OrderAttempts == 0 {
		cfg.OrderAttempts = 2
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &TradeExecutor{
		cfg:      cfg,
		exchange: exchange,
		risk:     risk,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		symLocks: make(map[string]*sync.Mutex),
	}
}

// lockSymbol serializes executor operations per symbol. A close in flight
// blocks a newly computed trigger for the same instrument.
func (e *TradeExecutor) lockSymbol(symbol string) func() {
	e.mu.Lock()
	l, ok := e.symLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.symLocks[symbol] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// OpenPosition executes a buy recommendation: configure leverage and margin
// (best effort), quantize the size, submit the market order with timeout
// reconciliation, register the actual fill with the risk manager and place
// the protective stop.
func (e *TradeExecutor) OpenPosition(ctx context.Context, rec *domain.TradeRecommendation) error {
	if rec == nil || rec.Action != domain.ActionBuy {
		return fmt.Errorf("recommendation is not actionable")
	}
	symbol := rec.Symbol
	unlock := e.lockSymbol(symbol)
	defer unlock()

	e.applyAccountSettings(ctx, symbol)

	price, err := e.exchange.GetMarkPrice(ctx, symbol)
	if err != nil {
		metrics.OrdersFailed.WithLabelValues("mark_price").Inc()
		return fmt.Errorf("failed to get mark price for %s: %w", symbol, err)
	}

	inst, err := e.exchange.GetInstrument(ctx, symbol)
	if err != nil {
		metrics.OrdersFailed.WithLabelValues("instrument").Inc()
		return fmt.Errorf("failed to get instrument for %s: %w", symbol, err)
	}

	qty := RoundToStep(rec.Quantity, inst.LotStep, RoundDown)
	if qty < inst.MinQty {
		// Rounding down fell below the venue minimum. If the raw size was
		// valid, take the smallest tradable quantity instead of dropping
		// the order.
		if rec.Quantity < inst.MinQty {
			return fmt.Errorf("quantity %.8f below instrument minimum %.8f for %s", rec.Quantity, inst.MinQty, symbol)
		}
		qty = RoundToStep(inst.MinQty, inst.LotStep, RoundUp)
	}
	if inst.MinNotional > 0 && qty*price < inst.MinNotional {
		return fmt.Errorf("notional %.2f below instrument minimum %.2f for %s", qty*price, inst.MinNotional, symbol)
	}

	clientID := uuid.New().String()
	e.logger.Info("Opening position",
		zap.String("symbol", symbol),
		zap.Float64("quantity", qty),
		zap.Float64("price", price),
		zap.Float64("score", rec.Score),
		zap.String("client_order_id", clientID))

	order, err := e.submitMarketOrder(ctx, symbol, domain.OrderBuy, qty, clientID, false)
	if err != nil {
		metrics.OrdersFailed.WithLabelValues("entry").Inc()
		e.notifier.Error(symbol, "entry", err)
		return fmt.Errorf("failed to place entry order for %s: %w", symbol, err)
	}

	// The venue's copy is authoritative for fill status and executed
	// quantity. Reconstructed orders have no id to query.
	if order.OrderID != 0 {
		if fresh, err := e.exchange.GetOrder(ctx, symbol, order.OrderID); err == nil {
			order = fresh
		} else {
			e.logger.Warn("Failed to verify order, using local copy",
				zap.String("symbol", symbol),
				zap.Int64("order_id", order.OrderID),
				zap.Error(err))
		}
	}
	if !order.Filled() || order.ExecutedQty <= 0 {
		metrics.OrdersFailed.WithLabelValues("entry").Inc()
		return fmt.Errorf("entry order for %s not filled: status %s", symbol, order.Status)
	}

	executed := order.ExecutedQty
	entry := order.AvgPrice
	if entry <= 0 {
		entry = price
	}

	e.risk.AddPosition(&domain.Position{
		Symbol:        symbol,
		Side:          domain.SideLong,
		Quantity:      executed,
		OriginalQty:   executed,
		EntryPrice:    entry,
		Leverage:      e.cfg.Leverage,
		MarginType:    e.cfg.MarginType,
		MarkPrice:     entry,
		HighWater:     entry,
		FiredLevels:   make(map[int]bool),
		ClientOrderID: clientID,
		OpenedAt:      time.Now(),
	})

	e.placeProtectiveStop(ctx, symbol, executed, rec.StopLoss, inst.TickSize)

	e.risk.RecordTrade(0)
	metrics.TradesTotal.WithLabelValues("open").Inc()
	e.notifier.PositionOpened(symbol, executed, entry, rec)
	e.saveTrade(ctx, &domain.TradeRecord{
		Symbol:     symbol,
		Action:     "open",
		Side:       domain.OrderBuy,
		Quantity:   executed,
		EntryPrice: entry,
		Reason:     rec.Reason,
		Score:      rec.Score,
		CreatedAt:  time.Now(),
	})
	e.refreshBalance(ctx)

	e.logger.Info("Position opened",
		zap.String("symbol", symbol),
		zap.Float64("executed_qty", executed),
		zap.Float64("entry_price", entry),
		zap.Bool("reconstructed", order.Reconstructed))
	return nil
}

// applyAccountSettings sets leverage and margin type before an entry. Both
// are best effort: a venue answer of "no need to change" is success, any
// other failure leaves the existing settings in place.
func (e *TradeExecutor) applyAccountSettings(ctx context.Context, symbol string) {
	err := e.withRetry(ctx, func() error {
		return e.exchange.SetLeverage(ctx, symbol, e.cfg.Leverage)
	})
	if err != nil && !domain.IsNoChange(err) {
		e.logger.Warn("Failed to set leverage, keeping venue settings",
			zap.String("symbol", symbol),
			zap.Int("leverage", e.cfg.Leverage),
			zap.Error(err))
	}

	err = e.withRetry(ctx, func() error {
		return e.exchange.SetMarginType(ctx, symbol, e.cfg.MarginType)
	})
	if err != nil && !domain.IsNoChange(err) {
		e.logger.Warn("Failed to set margin type, keeping venue settings",
			zap.String("symbol", symbol),
			zap.String("margin_type", e.cfg.MarginType),
			zap.Error(err))
	}
}

func (e *TradeExecutor) placeProtectiveStop(ctx context.Context, symbol string, qty, stopLoss, tickSize float64) {
	stopPrice := RoundToStep(stopLoss, tickSize, e.cfg.StopRounding)
	stop, err := e.exchange.PlaceStopMarketOrder(ctx, symbol, domain.OrderSell, qty, stopPrice)
	if err != nil {
		// The position stands unprotected until an operator intervenes.
		metrics.OrdersFailed.WithLabelValues("stop_loss").Inc()
		e.logger.Warn("Failed to place protective stop",
			zap.String("symbol", symbol),
			zap.Float64("stop_price", stopPrice),
			zap.Error(err))
		e.notifier.Error(symbol, "stop_loss", err)
		return
	}
	e.risk.SetStopOrder(symbol, stop.OrderID)
	e.notifier.StopLossPlaced(symbol, qty, stopPrice)
	e.logger.Info("Protective stop placed",
		zap.String("symbol", symbol),
		zap.Float64("stop_price", stopPrice),
		zap.Int64("order_id", stop.OrderID))
}

// ClosePosition fully closes the tracked position with a reduce-only market
// order, cancels remaining open orders and records realized P&L.
func (e *TradeExecutor) ClosePosition(ctx context.Context, symbol, reason string) error {
	unlock := e.lockSymbol(symbol)
	defer unlock()
	return e.closeFull(ctx, symbol, reason)
}

func (e *TradeExecutor) closeFull(ctx context.Context, symbol, reason string) error {
	tracked := e.risk.Position(symbol)
	if tracked == nil {
		return domain.ErrNoPosition
	}

	// The venue copy decides quantity and entry; local state may be stale.
	live, err := e.exchange.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch position for %s: %w", symbol, err)
	}
	if live == nil || live.Quantity == 0 {
		e.logger.Warn("Position already flat on venue, clearing local state",
			zap.String("symbol", symbol))
		if err := e.exchange.CancelAllOrders(ctx, symbol); err != nil {
			e.logger.Warn("Failed to cancel open orders",
				zap.String("symbol", symbol), zap.Error(err))
		}
		e.risk.RemovePosition(symbol)
		return nil
	}

	qty := math.Abs(live.Quantity)
	if inst, err := e.exchange.GetInstrument(ctx, symbol); err == nil {
		qty = RoundToStep(qty, inst.LotStep, RoundDown)
	} else {
		e.logger.Warn("Failed to get instrument, closing with raw quantity",
			zap.String("symbol", symbol), zap.Error(err))
	}

	order, err := e.submitMarketOrder(ctx, symbol, closeSide(tracked.Side), qty, uuid.New().String(), true)
	if err != nil {
		metrics.OrdersFailed.WithLabelValues("close").Inc()
		e.notifier.Error(symbol, "close", err)
		return fmt.Errorf("failed to close position for %s: %w", symbol, err)
	}

	executed := order.ExecutedQty
	if executed <= 0 {
		executed = qty
	}
	exit := order.AvgPrice
	if exit <= 0 {
		exit = live.MarkPrice
	}
	pnl := realizedPnL(tracked.Side, live.EntryPrice, exit, executed)

	if err := e.exchange.CancelAllOrders(ctx, symbol); err != nil {
		e.logger.Warn("Failed to cancel open orders after close",
			zap.String("symbol", symbol), zap.Error(err))
	}

	e.risk.RemovePosition(symbol)
	e.risk.RecordTrade(pnl)
	metrics.TradesTotal.WithLabelValues("close").Inc()
	e.notifier.PositionClosed(symbol, executed, exit, pnl, reason)
	e.saveTrade(ctx, &domain.TradeRecord{
		Symbol:      symbol,
		Action:      "close",
		Side:        closeSide(tracked.Side),
		Quantity:    executed,
		EntryPrice:  live.EntryPrice,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		Reason:      reason,
		CreatedAt:   time.Now(),
	})
	e.refreshBalance(ctx)

	e.logger.Info("Position closed",
		zap.String("symbol", symbol),
		zap.Float64("quantity", executed),
		zap.Float64("exit_price", exit),
		zap.Float64("pnl", pnl),
		zap.String("reason", reason))
	return nil
}

// PartialClose sells a fraction of the position's original quantity. The
// position record and its protective stop stay in place. A fraction of 1 or
// a slice that would flatten the position becomes a full close.
func (e *TradeExecutor) PartialClose(ctx context.Context, symbol string, fraction float64, reason string) error {
	unlock := e.lockSymbol(symbol)
	defer unlock()

	if fraction >= 1 {
		return e.closeFull(ctx, symbol, reason)
	}
	if fraction <= 0 {
		return fmt.Errorf("invalid close fraction %v for %s", fraction, symbol)
	}

	tracked := e.risk.Position(symbol)
	if tracked == nil {
		return domain.ErrNoPosition
	}

	live, err := e.exchange.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch position for %s: %w", symbol, err)
	}
	if live == nil || live.Quantity == 0 {
		e.logger.Warn("Position already flat on venue, clearing local state",
			zap.String("symbol", symbol))
		e.risk.RemovePosition(symbol)
		return nil
	}

	inst, err := e.exchange.GetInstrument(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to get instrument for %s: %w", symbol, err)
	}

	// Fractions anchor to the opening size so repeated partial closes take
	// equal slices, not shrinking ones.
	qty := RoundToStep(tracked.OriginalQty*fraction, inst.LotStep, RoundDown)
	if qty <= 0 {
		e.logger.Warn("Partial close below lot step, skipping",
			zap.String("symbol", symbol),
			zap.Float64("fraction", fraction))
		return nil
	}
	if qty >= math.Abs(live.Quantity) {
		return e.closeFull(ctx, symbol, reason)
	}

	order, err := e.submitMarketOrder(ctx, symbol, closeSide(tracked.Side), qty, uuid.New().String(), true)
	if err != nil {
		metrics.OrdersFailed.WithLabelValues("partial_close").Inc()
		e.notifier.Error(symbol, "partial_close", err)
		return fmt.Errorf("failed to partially close %s: %w", symbol, err)
	}

	executed := order.ExecutedQty
	if executed <= 0 {
		executed = qty
	}
	exit := order.AvgPrice
	if exit <= 0 {
		exit = live.MarkPrice
	}
	pnl := realizedPnL(tracked.Side, live.EntryPrice, exit, executed)

	e.risk.ReducePosition(symbol, executed)
	e.risk.RecordTrade(pnl)
	metrics.TradesTotal.WithLabelValues("partial_close").Inc()
	e.notifier.PartialClose(symbol, executed, exit, pnl, reason)
	e.saveTrade(ctx, &domain.TradeRecord{
		Symbol:      symbol,
		Action:      "partial_close",
		Side:        closeSide(tracked.Side),
		Quantity:    executed,
		EntryPrice:  live.EntryPrice,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		Reason:      reason,
		CreatedAt:   time.Now(),
	})
	e.refreshBalance(ctx)

	e.logger.Info("Position partially closed",
		zap.String("symbol", symbol),
		zap.Float64("quantity", executed),
		zap.Float64("pnl", pnl),
		zap.String("reason", reason))
	return nil
}

// submitMarketOrder places the order with a bounded number of attempts.
// Only timeout-class errors retry; before each retry the order is looked up
// by its client order id because the venue may have executed it despite the
// dropped response. For entries a nonzero live position is the fallback
// proof of execution.
func (e *TradeExecutor) submitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientID string, reduceOnly bool) (*domain.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.OrderAttempts; attempt++ {
		start := time.Now()
		order, err := e.exchange.PlaceMarketOrder(ctx, symbol, side, qty, clientID, reduceOnly)
		metrics.OrderLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			return order, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if recovered := e.reconcileOrder(ctx, symbol, side, clientID, reduceOnly); recovered != nil {
			return recovered, nil
		}
		if attempt < e.cfg.OrderAttempts {
			e.logger.Warn("Order attempt failed, retrying",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.RetryBackoff):
			}
		}
	}
	return nil, fmt.Errorf("order failed after %d attempts: %w", e.cfg.OrderAttempts, lastErr)
}

func (e *TradeExecutor) reconcileOrder(ctx context.Context, symbol string, side domain.OrderSide, clientID string, reduceOnly bool) *domain.Order {
	order, err := e.exchange.GetOrderByClientID(ctx, symbol, clientID)
	if err == nil && order != nil {
		e.logger.Info("Recovered order by client id",
			zap.String("symbol", symbol),
			zap.String("client_order_id", clientID),
			zap.String("status", string(order.Status)))
		return order
	}

	if reduceOnly {
		return nil
	}
	pos, err := e.exchange.GetPosition(ctx, symbol)
	if err != nil || pos == nil || pos.Quantity == 0 {
		return nil
	}
	e.logger.Warn("Order response lost but position exists, treating as filled",
		zap.String("symbol", symbol),
		zap.Float64("position_qty", pos.Quantity))
	return &domain.Order{
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		Type:          "MARKET",
		Status:        domain.OrderStatusFilled,
		OrigQty:       math.Abs(pos.Quantity),
		ExecutedQty:   math.Abs(pos.Quantity),
		AvgPrice:      pos.EntryPrice,
		Reconstructed: true,
		Time:          time.Now(),
	}
}

func (e *TradeExecutor) withRetry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.OrderAttempts; attempt++ {
		if lastErr = call(); lastErr == nil {
			return nil
		}
		if !domain.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt < e.cfg.OrderAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.RetryBackoff):
			}
		}
	}
	return lastErr
}

func (e *TradeExecutor) refreshBalance(ctx context.Context) {
	bal, err := e.exchange.GetBalance(ctx)
	if err != nil {
		e.logger.Warn("Failed to refresh balance", zap.Error(err))
		return
	}
	e.risk.SetBalance(bal.Total, bal.Available)
}

func (e *TradeExecutor) saveTrade(ctx context.Context, trade *domain.TradeRecord) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to persist trade record",
			zap.String("symbol", trade.Symbol),
			zap.String("action", trade.Action),
			zap.Error(err))
	}
}

func closeSide(side domain.Side) domain.OrderSide {
	if side == domain.SideShort {
		return domain.OrderBuy
	}
	return domain.OrderSell
}

func realizedPnL(side domain.Side, entry, exit, qty float64) float64 {
	if side == domain.SideShort {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}
