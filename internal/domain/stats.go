package domain

// RiskStatus is a point-in-time snapshot of the risk manager state.
type RiskStatus struct {
	TradingEnabled bool    `json:"trading_enabled"`
	HaltReason     string  `json:"halt_reason,omitempty"`
	TotalBalance   float64 `json:"total_balance"`
	Available      float64 `json:"available"`
	OpenPositions  int     `json:"open_positions"`
	TotalNotional  float64 `json:"total_notional"`
	ExposureRatio  float64 `json:"exposure_ratio"`
	Day            string  `json:"day"`
	DailyTrades    int     `json:"daily_trades"`
	DailyPnL       float64 `json:"daily_pnl"`
}

// KindCounts is the pending signal breakdown for one symbol.
type KindCounts struct {
	Opportunity int `json:"opportunity"`
	Sentiment   int `json:"sentiment"`
}

// SignalStats summarizes the signal store for status reporting.
type SignalStats struct {
	Symbols      int `json:"symbols"`
	Opportunity  int `json:"opportunity"`
	Sentiment    int `json:"sentiment"`
	RiskSignals  int `json:"risk_signals"`
	ProcessedIDs int `json:"processed_ids"`
}
