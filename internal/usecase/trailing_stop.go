package usecase

import "github.com/vitos/crypto_signal_trader/internal/domain"

// TrailingConfig controls when the trailing stop arms and how far it trails.
// Percent fields are whole percents (2.0 = 2%).
type TrailingConfig struct {
	ActivationPct float64 // unrealized gain that arms the stop, default 2.0
	CallbackPct   float64 // trail distance below the high-water mark, default 1.5
}

// TrailingDecision is what the monitor applies back to the tracked position.
// Trailing carries the ratcheted stop price whenever Armed is set.
type TrailingDecision struct {
	Armed    bool
	Trailing float64
	Trigger  bool
}

// TrailingStop computes trailing-stop decisions from position snapshots. It
// holds no per-symbol state: the high-water mark, armed flag and trailing
// price live on the Position owned by the risk manager.
type TrailingStop struct {
	cfg TrailingConfig
}

func NewTrailingStop(cfg TrailingConfig) *TrailingStop {
	if cfg.ActivationPct == 0 {
		cfg.ActivationPct = 2.0
	}
	if cfg.CallbackPct == 0 {
		cfg.CallbackPct = 1.5
	}
	return &TrailingStop{cfg: cfg}
}

// Update evaluates the position at the given price. Once the gain from entry
// reaches the activation threshold the stop arms at high-water × (1 −
// callback); while armed the trailing price only ratchets up. A price at or
// below the trailing price triggers a full close.
func (t *TrailingStop) Update(pos *domain.Position, price float64) TrailingDecision {
	high := pos.HighWater
	if price > high {
		high = price
	}

	armed := pos.TrailingArmed
	if !armed && pos.GainPercent(price) >= t.cfg.ActivationPct {
		armed = true
	}
	if !armed {
		return TrailingDecision{}
	}

	trailing := high * (1 - t.cfg.CallbackPct/100)
	if trailing < pos.TrailingPrice {
		trailing = pos.TrailingPrice
	}
	return TrailingDecision{
		Armed:    true,
		Trailing: trailing,
		Trigger:  price <= trailing,
	}
}
