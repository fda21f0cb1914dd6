package usecase

import "github.com/vitos/crypto_signal_trader/internal/domain"

// PyramidLevel is one rung of the profit-taking ladder. Fraction is the share
// of the original position size to close when the gain crosses GainPct; a
// fraction of 1.0 closes whatever remains.
type PyramidLevel struct {
	GainPct  float64
	Fraction float64
}

// DefaultPyramidLevels returns the standard three-step ladder: 30% off at
// +3%, another 30% at +5%, full exit at +8%.
func DefaultPyramidLevels() []PyramidLevel {
	return []PyramidLevel{
		{GainPct: 3.0, Fraction: 0.3},
		{GainPct: 5.0, Fraction: 0.3},
		{GainPct: 8.0, Fraction: 1.0},
	}
}

// PyramidAction tells the monitor which level fired. Level is 1-based for
// logs and notifications.
type PyramidAction struct {
	Level     int
	GainPct   float64
	Fraction  float64
	FullClose bool
}

// Pyramiding walks the ladder against position snapshots. Fired levels are
// recorded on the Position, so each rung fires at most once even when the
// price oscillates around its threshold.
type Pyramiding struct {
	levels []PyramidLevel
}

func NewPyramiding(levels []PyramidLevel) *Pyramiding {
	if len(levels) == 0 {
		levels = DefaultPyramidLevels()
	}
	return &Pyramiding{levels: levels}
}

// Check returns the first ladder level that the current gain has crossed and
// that has not fired yet, or nil when nothing is due. A single large move
// still fires one level per tick; the next tick picks up the following rung.
func (p *Pyramiding) Check(pos *domain.Position, price float64) *PyramidAction {
	gain := pos.GainPercent(price)
	for i, lvl := range p.levels {
		level := i + 1
		if pos.FiredLevels[level] {
			continue
		}
		if gain >= lvl.GainPct {
			return &PyramidAction{
				Level:     level,
				GainPct:   lvl.GainPct,
				Fraction:  lvl.Fraction,
				FullClose: lvl.Fraction >= 1.0,
			}
		}
	}
	return nil
}
