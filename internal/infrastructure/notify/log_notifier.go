package notify

import (
	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
)

// Events selects which trade lifecycle events are delivered. The zero value
// is everything off; DefaultEvents enables all of them.
type Events struct {
	Opened     bool `yaml:"opened"`
	Closed     bool `yaml:"closed"`
	Partial    bool `yaml:"partial"`
	StopLoss   bool `yaml:"stop_loss"`
	TakeProfit bool `yaml:"take_profit"`
	Errors     bool `yaml:"errors"`
}

func DefaultEvents() Events {
	return Events{
		Opened:     true,
		Closed:     true,
		Partial:    true,
		StopLoss:   true,
		TakeProfit: true,
		Errors:     true,
	}
}

// LogNotifier writes trade events to the structured log. Chat delivery sits
// behind the same domain.Notifier interface in deployments that carry it.
type LogNotifier struct {
	events Events
	logger *zap.Logger
}

func NewLogNotifier(events Events, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{events: events, logger: logger}
}

func (n *LogNotifier) PositionOpened(symbol string, qty, price float64, rec *domain.TradeRecommendation) {
	if !n.events.Opened {
		return
	}
	fields := []zap.Field{
		zap.String("symbol", symbol),
		zap.Float64("quantity", qty),
		zap.Float64("price", price),
	}
	if rec != nil {
		fields = append(fields,
			zap.Float64("stopLoss", rec.StopLoss),
			zap.Float64("takeProfit1", rec.TakeProfit1),
			zap.Float64("takeProfit2", rec.TakeProfit2),
			zap.Float64("score", rec.Score),
			zap.String("reason", rec.Reason))
	}
	n.logger.Info("POSITION OPENED", fields...)
}

func (n *LogNotifier) PositionClosed(symbol string, qty, exitPrice, pnl float64, reason string) {
	if !n.events.Closed {
		return
	}
	n.logger.Info("POSITION CLOSED",
		zap.String("symbol", symbol),
		zap.Float64("quantity", qty),
		zap.Float64("exitPrice", exitPrice),
		zap.Float64("pnl", pnl),
		zap.String("reason", reason))
}

func (n *LogNotifier) PartialClose(symbol string, qty, exitPrice, pnl float64, reason string) {
	if !n.events.Partial {
		return
	}
	n.logger.Info("PARTIAL CLOSE",
		zap.String("symbol", symbol),
		zap.Float64("quantity", qty),
		zap.Float64("exitPrice", exitPrice),
		zap.Float64("pnl", pnl),
		zap.String("reason", reason))
}

func (n *LogNotifier) StopLossPlaced(symbol string, qty, stopPrice float64) {
	if !n.events.StopLoss {
		return
	}
	n.logger.Info("STOP LOSS PLACED",
		zap.String("symbol", symbol),
		zap.Float64("quantity", qty),
		zap.Float64("stopPrice", stopPrice))
}

func (n *LogNotifier) TakeProfit(symbol string, level int, gainPct float64) {
	if !n.events.TakeProfit {
		return
	}
	n.logger.Info("TAKE PROFIT",
		zap.String("symbol", symbol),
		zap.Int("level", level),
		zap.Float64("gainPct", gainPct))
}

func (n *LogNotifier) Error(symbol, stage string, err error) {
	if !n.events.Errors {
		return
	}
	n.logger.Error("TRADE EVENT ERROR",
		zap.String("symbol", symbol),
		zap.String("stage", stage),
		zap.Error(err))
}
