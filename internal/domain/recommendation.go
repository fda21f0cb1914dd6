package domain

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSkip Action = "SKIP"
)

// RiskLevel labels recommendation confidence derived from the confluence score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// TradeRecommendation is the risk manager's sized answer to a confluence
// event. Produced fresh per event and consumed once by the executor.
type TradeRecommendation struct {
	Symbol      string
	Action      Action
	Quantity    float64
	Price       float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
	Reason      string
	RiskLevel   RiskLevel
	Score       float64
}
