package domain

// Instrument carries the venue trading filters for one futures symbol.
// Order quantities must be multiples of LotStep, stop prices multiples of
// TickSize.
type Instrument struct {
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	LotStep     float64 `json:"lot_step"`
	MinQty      float64 `json:"min_qty"`
	TickSize    float64 `json:"tick_size"`
	MinNotional float64 `json:"min_notional"`
}

// AccountBalance is the quote-asset futures wallet snapshot.
type AccountBalance struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}
