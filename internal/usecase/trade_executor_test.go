package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/usecase"
)

var (
	errVenueTimeout = &domain.VenueError{HTTPStatus: 504, Code: -1007, Msg: "Timeout waiting for response from backend server."}
	errVenueMargin  = &domain.VenueError{HTTPStatus: 400, Code: -2019, Msg: "Margin is insufficient."}
)

type orderCall struct {
	Symbol     string
	Side       domain.OrderSide
	Qty        float64
	ClientID   string
	ReduceOnly bool
}

type stopCall struct {
	Symbol    string
	Qty       float64
	StopPrice float64
}

// mockExchange is a canned-value venue. Function fields override the default
// behavior per test; call records let tests assert what reached the venue.
type mockExchange struct {
	mu sync.Mutex

	balance    *domain.AccountBalance
	balanceErr error
	markPrice  float64
	markErr    error
	position   *domain.VenuePosition
	posErr     error
	instrument *domain.Instrument
	instErr    error

	leverageErr error
	marginErr   error
	cancelErr   error

	placeFn    func(call orderCall) (*domain.Order, error)
	stopFn     func(call stopCall) (*domain.Order, error)
	getOrderFn func(symbol string, orderID int64) (*domain.Order, error)
	byClientFn func(symbol, clientID string) (*domain.Order, error)

	orders     []orderCall
	stops      []stopCall
	cancels    []string
	posQueries int
	nextID     int64
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		balance:   &domain.AccountBalance{Asset: "USDT", Total: 1000, Available: 950},
		markPrice: 100,
		instrument: &domain.Instrument{
			Symbol:      "BTCUSDT",
			Status:      "TRADING",
			LotStep:     0.001,
			MinQty:      0.001,
			TickSize:    0.01,
			MinNotional: 5,
		},
		nextID: 40,
	}
}

func (m *mockExchange) GetBalance(ctx context.Context) (*domain.AccountBalance, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if m.markErr != nil {
		return 0, m.markErr
	}
	return m.markPrice, nil
}

func (m *mockExchange) GetPosition(ctx context.Context, symbol string) (*domain.VenuePosition, error) {
	m.mu.Lock()
	m.posQueries++
	m.mu.Unlock()
	if m.posErr != nil {
		return nil, m.posErr
	}
	return m.position, nil
}

func (m *mockExchange) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	if m.instErr != nil {
		return nil, m.instErr
	}
	return m.instrument, nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return m.leverageErr
}

func (m *mockExchange) SetMarginType(ctx context.Context, symbol, marginType string) error {
	return m.marginErr
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientOrderID string, reduceOnly bool) (*domain.Order, error) {
	call := orderCall{Symbol: symbol, Side: side, Qty: qty, ClientID: clientOrderID, ReduceOnly: reduceOnly}
	m.mu.Lock()
	m.orders = append(m.orders, call)
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	if m.placeFn != nil {
		return m.placeFn(call)
	}
	return &domain.Order{
		OrderID:       id,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          "MARKET",
		Status:        domain.OrderStatusFilled,
		OrigQty:       qty,
		ExecutedQty:   qty,
		AvgPrice:      m.markPrice,
		Time:          time.Now(),
	}, nil
}

func (m *mockExchange) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, stopPrice float64) (*domain.Order, error) {
	call := stopCall{Symbol: symbol, Qty: qty, StopPrice: stopPrice}
	m.mu.Lock()
	m.stops = append(m.stops, call)
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	if m.stopFn != nil {
		return m.stopFn(call)
	}
	return &domain.Order{
		OrderID:   id,
		Symbol:    symbol,
		Side:      side,
		Type:      "STOP_MARKET",
		Status:    domain.OrderStatusNew,
		OrigQty:   qty,
		StopPrice: stopPrice,
		Time:      time.Now(),
	}, nil
}

func (m *mockExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.Order, error) {
	if m.getOrderFn != nil {
		return m.getOrderFn(symbol, orderID)
	}
	return nil, &domain.VenueError{HTTPStatus: 400, Code: -2013, Msg: "Order does not exist."}
}

func (m *mockExchange) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*domain.Order, error) {
	if m.byClientFn != nil {
		return m.byClientFn(symbol, clientOrderID)
	}
	return nil, &domain.VenueError{HTTPStatus: 400, Code: -2013, Msg: "Order does not exist."}
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	m.cancels = append(m.cancels, symbol)
	m.mu.Unlock()
	return m.cancelErr
}

func (m *mockExchange) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockNotifier struct {
	mu      sync.Mutex
	opened  []string
	closed  []string
	partial []string
	stops   []string
	profits []int
	errs    []string
}

func (n *mockNotifier) PositionOpened(symbol string, qty, price float64, rec *domain.TradeRecommendation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, symbol)
}

func (n *mockNotifier) PositionClosed(symbol string, qty, exitPrice, pnl float64, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, symbol)
}

func (n *mockNotifier) PartialClose(symbol string, qty, exitPrice, pnl float64, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partial = append(n.partial, symbol)
}

func (n *mockNotifier) StopLossPlaced(symbol string, qty, stopPrice float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops = append(n.stops, symbol)
}

func (n *mockNotifier) TakeProfit(symbol string, level int, gainPct float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.profits = append(n.profits, level)
}

func (n *mockNotifier) Error(symbol, stage string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, symbol+":"+stage)
}

func (n *mockNotifier) hasError(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.errs {
		if e == key {
			return true
		}
	}
	return false
}

type mockRepo struct {
	mu      sync.Mutex
	trades  []*domain.TradeRecord
	events  []*domain.ConfluenceEvent
	saveErr error
}

func (r *mockRepo) SaveTrade(ctx context.Context, trade *domain.TradeRecord) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *mockRepo) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.TradeRecord(nil), r.trades...), nil
}

func (r *mockRepo) SaveConfluence(ctx context.Context, event *domain.ConfluenceEvent) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *mockRepo) ListConfluence(ctx context.Context, limit int) ([]*domain.ConfluenceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.ConfluenceEvent(nil), r.events...), nil
}

func (r *mockRepo) DailyPnL(ctx context.Context, day string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for _, t := range r.trades {
		total += t.RealizedPnL
	}
	return total, nil
}

func (r *mockRepo) tradeActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, t.Action)
	}
	return out
}

type execEnv struct {
	exec     *usecase.TradeExecutor
	risk     *usecase.RiskManager
	exchange *mockExchange
	notifier *mockNotifier
	repo     *mockRepo
}

func newExecEnv(t *testing.T) *execEnv {
	t.Helper()
	ex := newMockExchange()
	risk := usecase.NewRiskManager(riskConfig(), zap.NewNop())
	risk.SetBalance(1000, 950)
	notifier := &mockNotifier{}
	repo := &mockRepo{}
	exec := usecase.NewTradeExecutor(usecase.ExecutorConfig{
		Leverage:      10,
		MarginType:    "ISOLATED",
		OrderAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}, ex, risk, repo, notifier, zap.NewNop())
	return &execEnv{exec: exec, risk: risk, exchange: ex, notifier: notifier, repo: repo}
}

func buyRec(symbol string, qty float64) *domain.TradeRecommendation {
	return &domain.TradeRecommendation{
		Symbol:      symbol,
		Action:      domain.ActionBuy,
		Quantity:    qty,
		Price:       100,
		StopLoss:    98,
		TakeProfit1: 103,
		TakeProfit2: 106,
		Reason:      "confluence signal",
		RiskLevel:   domain.RiskLow,
		Score:       0.9,
	}
}

func TestOpenPositionRegistersExecutedQuantity(t *testing.T) {
	env := newExecEnv(t)

	// The local order copy says nothing filled; the venue's authoritative
	// answer reports a smaller executed quantity than requested.
	env.exchange.placeFn = func(call orderCall) (*domain.Order, error) {
		return &domain.Order{
			OrderID:       41,
			ClientOrderID: call.ClientID,
			Symbol:        call.Symbol,
			Side:          call.Side,
			Status:        domain.OrderStatusNew,
		}, nil
	}
	env.exchange.getOrderFn = func(symbol string, orderID int64) (*domain.Order, error) {
		return &domain.Order{
			OrderID:     orderID,
			Symbol:      symbol,
			Side:        domain.OrderBuy,
			Status:      domain.OrderStatusFilled,
			OrigQty:     0.5,
			ExecutedQty: 0.499,
			AvgPrice:    100.02,
		}, nil
	}
	env.exchange.balance = &domain.AccountBalance{Asset: "USDT", Total: 990, Available: 900}

	if err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pos := env.risk.Position("BTCUSDT")
	if pos == nil {
		t.Fatal("position not registered")
	}
	if !floatEquals(pos.Quantity, 0.499) {
		t.Errorf("registered quantity = %v, want venue-verified 0.499", pos.Quantity)
	}
	if !floatEquals(pos.EntryPrice, 100.02) {
		t.Errorf("entry price = %v, want 100.02", pos.EntryPrice)
	}
	if !floatEquals(pos.OriginalQty, 0.499) {
		t.Errorf("original quantity = %v", pos.OriginalQty)
	}

	if len(env.exchange.stops) != 1 {
		t.Fatalf("expected 1 stop order, got %d", len(env.exchange.stops))
	}
	stop := env.exchange.stops[0]
	if !floatEquals(stop.Qty, 0.499) || !floatEquals(stop.StopPrice, 98) {
		t.Errorf("stop = %+v, want qty 0.499 at 98", stop)
	}

	if actions := env.repo.tradeActions(); len(actions) != 1 || actions[0] != "open" {
		t.Errorf("persisted actions = %v", actions)
	}
	if len(env.notifier.opened) != 1 || len(env.notifier.stops) != 1 {
		t.Errorf("notifications: opened=%v stops=%v", env.notifier.opened, env.notifier.stops)
	}

	status := env.risk.Status()
	if status.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1", status.DailyTrades)
	}
	if !floatEquals(status.TotalBalance, 990) {
		t.Errorf("balance not refreshed: %v", status.TotalBalance)
	}
}

func TestOpenPositionSynthesizesFillAfterTimeout(t *testing.T) {
	env := newExecEnv(t)

	// Every submit times out, the order lookup knows nothing, but the venue
	// holds a live position: the order went through.
	env.exchange.placeFn = func(call orderCall) (*domain.Order, error) {
		return nil, errVenueTimeout
	}
	env.exchange.position = &domain.VenuePosition{
		Symbol:     "BTCUSDT",
		Quantity:   0.5,
		EntryPrice: 100.05,
		MarkPrice:  100,
	}

	if err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5)); err != nil {
		t.Fatalf("open must succeed via reconciliation: %v", err)
	}

	if n := env.exchange.orderCount(); n != 1 {
		t.Errorf("order submitted %d times, want 1 (reconciled before retry)", n)
	}
	pos := env.risk.Position("BTCUSDT")
	if pos == nil {
		t.Fatal("position not registered")
	}
	if !floatEquals(pos.Quantity, 0.5) || !floatEquals(pos.EntryPrice, 100.05) {
		t.Errorf("position = qty %v entry %v, want observed 0.5 at 100.05", pos.Quantity, pos.EntryPrice)
	}
	if actions := env.repo.tradeActions(); len(actions) != 1 || actions[0] != "open" {
		t.Errorf("persisted actions = %v", actions)
	}
}

func TestOpenPositionRecoversOrderByClientID(t *testing.T) {
	env := newExecEnv(t)

	env.exchange.placeFn = func(call orderCall) (*domain.Order, error) {
		return nil, errVenueTimeout
	}
	recovered := &domain.Order{
		OrderID:     77,
		Symbol:      "BTCUSDT",
		Side:        domain.OrderBuy,
		Status:      domain.OrderStatusFilled,
		OrigQty:     0.5,
		ExecutedQty: 0.5,
		AvgPrice:    100.1,
	}
	env.exchange.byClientFn = func(symbol, clientID string) (*domain.Order, error) {
		recovered.ClientOrderID = clientID
		return recovered, nil
	}
	env.exchange.getOrderFn = func(symbol string, orderID int64) (*domain.Order, error) {
		return recovered, nil
	}

	if err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5)); err != nil {
		t.Fatalf("open must succeed via client id lookup: %v", err)
	}

	if n := env.exchange.orderCount(); n != 1 {
		t.Errorf("order submitted %d times, want 1", n)
	}
	if env.exchange.posQueries != 0 {
		t.Errorf("position probed %d times, client id hit should short-circuit", env.exchange.posQueries)
	}
	pos := env.risk.Position("BTCUSDT")
	if pos == nil || !floatEquals(pos.EntryPrice, 100.1) {
		t.Errorf("position = %+v", pos)
	}
}

func TestOpenPositionAbortsOnBusinessError(t *testing.T) {
	env := newExecEnv(t)
	env.exchange.placeFn = func(call orderCall) (*domain.Order, error) {
		return nil, errVenueMargin
	}

	err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5))
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := env.exchange.orderCount(); n != 1 {
		t.Errorf("business errors must not retry: %d attempts", n)
	}
	if env.risk.Position("BTCUSDT") != nil {
		t.Error("no position may be registered")
	}
	if !env.notifier.hasError("BTCUSDT:entry") {
		t.Error("entry failure must notify")
	}
	if len(env.repo.tradeActions()) != 0 {
		t.Error("nothing to persist on a failed entry")
	}
	if env.risk.Status().DailyTrades != 0 {
		t.Error("failed entry must not count as a trade")
	}
}

func TestOpenPositionStopFailureKeepsPosition(t *testing.T) {
	env := newExecEnv(t)
	env.exchange.stopFn = func(call stopCall) (*domain.Order, error) {
		return nil, &domain.VenueError{HTTPStatus: 400, Code: -2021, Msg: "Order would immediately trigger."}
	}

	if err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5)); err != nil {
		t.Fatalf("stop failure must not fail the open: %v", err)
	}

	pos := env.risk.Position("BTCUSDT")
	if pos == nil {
		t.Fatal("position must stand without its stop")
	}
	if pos.StopOrderID != 0 {
		t.Errorf("stop order id = %d, want none", pos.StopOrderID)
	}
	if !env.notifier.hasError("BTCUSDT:stop_loss") {
		t.Error("unprotected position must be reported")
	}
	if len(env.notifier.stops) != 0 {
		t.Error("no stop-placed notification on failure")
	}
}

func TestOpenPositionRejectsBelowMinimum(t *testing.T) {
	env := newExecEnv(t)

	err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.0004))
	if err == nil {
		t.Fatal("sub-minimum quantity must be rejected")
	}
	if env.exchange.orderCount() != 0 {
		t.Error("no order may reach the venue")
	}
}

func TestOpenPositionRoundsUpToMinimum(t *testing.T) {
	env := newExecEnv(t)
	env.exchange.instrument = &domain.Instrument{
		Symbol:   "BTCUSDT",
		Status:   "TRADING",
		LotStep:  0.002,
		MinQty:   0.003,
		TickSize: 0.01,
	}

	// 0.0035 rounds down to 0.002, under the 0.003 minimum; the raw value
	// is valid so the order takes the smallest tradable step above it.
	if err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.0035)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if env.exchange.orderCount() != 1 {
		t.Fatal("expected one order")
	}
	if got := env.exchange.orders[0].Qty; !floatEquals(got, 0.004) {
		t.Errorf("submitted quantity = %v, want 0.004", got)
	}
}

func TestOpenPositionAbortsWithoutMarkPrice(t *testing.T) {
	env := newExecEnv(t)
	env.exchange.markErr = domain.ErrPriceUnavailable

	err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5))
	if err == nil {
		t.Fatal("missing mark price must abort")
	}
	if env.exchange.orderCount() != 0 || env.risk.Position("BTCUSDT") != nil {
		t.Error("abort must leave no side effects")
	}
}

func TestClosePositionRealizesPnL(t *testing.T) {
	env := newExecEnv(t)
	env.risk.AddPosition(openPosition("BTCUSDT", 0.5, 100))
	env.exchange.position = &domain.VenuePosition{
		Symbol:     "BTCUSDT",
		Quantity:   0.5,
		EntryPrice: 100,
		MarkPrice:  103,
	}
	env.exchange.placeFn = func(call orderCall) (*domain.Order, error) {
		if !call.ReduceOnly {
			return nil, fmt.Errorf("close must be reduce-only")
		}
		return &domain.Order{
			OrderID:     50,
			Symbol:      call.Symbol,
			Side:        call.Side,
			Status:      domain.OrderStatusFilled,
			OrigQty:     call.Qty,
			ExecutedQty: call.Qty,
			AvgPrice:    103.1,
		}, nil
	}

	if err := env.exec.ClosePosition(context.Background(), "BTCUSDT", "trailing stop"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if env.risk.Position("BTCUSDT") != nil {
		t.Error("position must be removed")
	}
	if len(env.exchange.cancels) != 1 {
		t.Errorf("open orders canceled %d times, want 1", len(env.exchange.cancels))
	}
	if env.exchange.orders[0].Side != domain.OrderSell {
		t.Errorf("close side = %s, want SELL", env.exchange.orders[0].Side)
	}

	status := env.risk.Status()
	if !floatEquals(status.DailyPnL, 1.55) { // (103.1 - 100) * 0.5
		t.Errorf("daily pnl = %v, want 1.55", status.DailyPnL)
	}
	if actions := env.repo.tradeActions(); len(actions) != 1 || actions[0] != "close" {
		t.Errorf("persisted actions = %v", actions)
	}
	if len(env.notifier.closed) != 1 {
		t.Error("close must notify")
	}
}

func TestPartialCloseKeepsPositionAndStop(t *testing.T) {
	env := newExecEnv(t)
	env.risk.AddPosition(openPosition("BTCUSDT", 0.5, 100))
	env.exchange.markPrice = 103
	env.exchange.position = &domain.VenuePosition{
		Symbol:     "BTCUSDT",
		Quantity:   0.5,
		EntryPrice: 100,
		MarkPrice:  103,
	}

	if err := env.exec.PartialClose(context.Background(), "BTCUSDT", 0.3, "take profit 1"); err != nil {
		t.Fatalf("partial close failed: %v", err)
	}

	pos := env.risk.Position("BTCUSDT")
	if pos == nil {
		t.Fatal("partial close must keep the position")
	}
	if !floatEquals(pos.Quantity, 0.35) {
		t.Errorf("remaining quantity = %v, want 0.35", pos.Quantity)
	}
	if !floatEquals(pos.OriginalQty, 0.5) {
		t.Errorf("original quantity = %v, want 0.5", pos.OriginalQty)
	}
	if !floatEquals(env.exchange.orders[0].Qty, 0.15) { // 0.5 * 0.3
		t.Errorf("closed slice = %v, want 0.15", env.exchange.orders[0].Qty)
	}
	if len(env.exchange.cancels) != 0 {
		t.Error("partial close must not cancel the protective stop")
	}
	if actions := env.repo.tradeActions(); len(actions) != 1 || actions[0] != "partial_close" {
		t.Errorf("persisted actions = %v", actions)
	}
	// (103 - 100) * 0.15 against the fill price.
	if status := env.risk.Status(); !floatEquals(status.DailyPnL, 0.45) {
		t.Errorf("daily pnl = %v, want 0.45", status.DailyPnL)
	}
}

func TestPartialCloseFullFractionClosesAll(t *testing.T) {
	env := newExecEnv(t)
	env.risk.AddPosition(openPosition("BTCUSDT", 0.5, 100))
	env.exchange.position = &domain.VenuePosition{
		Symbol:     "BTCUSDT",
		Quantity:   0.5,
		EntryPrice: 100,
		MarkPrice:  108,
	}

	if err := env.exec.PartialClose(context.Background(), "BTCUSDT", 1.0, "take profit 3"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if env.risk.Position("BTCUSDT") != nil {
		t.Error("fraction 1.0 must fully close")
	}
	if len(env.exchange.cancels) != 1 {
		t.Error("full close must cancel remaining orders")
	}
}

func TestCloseWhenVenueFlatClearsState(t *testing.T) {
	env := newExecEnv(t)
	env.risk.AddPosition(openPosition("BTCUSDT", 0.5, 100))
	env.exchange.position = nil // venue reports no position

	if err := env.exec.ClosePosition(context.Background(), "BTCUSDT", "trailing stop"); err != nil {
		t.Fatalf("flat close failed: %v", err)
	}
	if env.risk.Position("BTCUSDT") != nil {
		t.Error("local state must be cleared")
	}
	if env.exchange.orderCount() != 0 {
		t.Error("no close order for a flat position")
	}
}

func TestCloseWithoutPositionReturnsError(t *testing.T) {
	env := newExecEnv(t)

	err := env.exec.ClosePosition(context.Background(), "BTCUSDT", "manual")
	if !errors.Is(err, domain.ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
}

func TestOpenPositionContinuesOnNoChangeResponses(t *testing.T) {
	env := newExecEnv(t)
	env.exchange.leverageErr = &domain.VenueError{HTTPStatus: 400, Code: -4046, Msg: "No need to change margin type."}
	env.exchange.marginErr = &domain.VenueError{HTTPStatus: 400, Code: -4046, Msg: "No need to change margin type."}

	if err := env.exec.OpenPosition(context.Background(), buyRec("BTCUSDT", 0.5)); err != nil {
		t.Fatalf("no-change responses must not block the open: %v", err)
	}
	if env.risk.Position("BTCUSDT") == nil {
		t.Error("position must open with existing venue settings")
	}
}
