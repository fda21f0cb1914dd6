package domain

import (
	"strings"
	"time"
)

type SignalKind string

const (
	KindOpportunity          SignalKind = "opportunity"
	KindSentiment            SignalKind = "sentiment"
	KindSentimentIntensified SignalKind = "sentiment_intensified"
)

// Message types assigned by the alert source. Anything else is untracked
// and dropped at the ingestion boundary.
const (
	MsgTypeOpportunity          = 110
	MsgTypeSentimentIntensified = 112
	MsgTypeSentiment            = 113
)

// KindForMessageType maps a wire message type to a tracked signal kind.
func KindForMessageType(msgType int) (SignalKind, bool) {
	switch msgType {
	case MsgTypeOpportunity:
		return KindOpportunity, true
	case MsgTypeSentiment:
		return KindSentiment, true
	case MsgTypeSentimentIntensified:
		return KindSentimentIntensified, true
	}
	return "", false
}

// IsSentiment reports whether the kind sits on the sentiment side of a pair.
func (k SignalKind) IsSentiment() bool {
	return k == KindSentiment || k == KindSentimentIntensified
}

// Signal is a single deduplicated market alert. Immutable once stored.
type Signal struct {
	ID          string                 `json:"id"`
	Symbol      string                 `json:"symbol"`
	Kind        SignalKind             `json:"kind"`
	MessageType int                    `json:"message_type"`
	Time        time.Time              `json:"time"`
	Price       float64                `json:"price,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
}

// ConfluenceEvent records an accepted (opportunity, sentiment) pair for one
// symbol. Both constituent signals are consumed when the event is created.
type ConfluenceEvent struct {
	Symbol      string    `json:"symbol"`
	Opportunity *Signal   `json:"opportunity"`
	Sentiment   *Signal   `json:"sentiment"`
	TimeGapSec  float64   `json:"time_gap_sec"`
	Score       float64   `json:"score"`
	DetectedAt  time.Time `json:"detected_at"`
}

// NormalizeSymbol reduces source spellings ("$btc", "BTC/USDT", "btcusdt")
// to the bare upper-case base asset.
func NormalizeSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	s = strings.TrimPrefix(s, "$")
	if i := strings.IndexAny(s, "/:"); i >= 0 {
		s = s[:i]
	}
	s = strings.ToUpper(s)
	s = strings.TrimSuffix(s, "USDT")
	return s
}

// SignalSnapshot is the durable image of the signal store, written as one
// JSON document and reloaded on startup.
type SignalSnapshot struct {
	SchemaVersion int                      `json:"schema_version"`
	SavedAt       time.Time                `json:"saved_at"`
	Signals       map[string]SymbolSignals `json:"signals"`
	RiskSignals   map[string][]time.Time   `json:"risk_signals,omitempty"`
	ProcessedIDs  []string                 `json:"processed_ids"`
}

type SymbolSignals struct {
	Opportunity []*Signal `json:"opportunity,omitempty"`
	Sentiment   []*Signal `json:"sentiment,omitempty"`
}
