package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/usecase"
)

func trailingPosition(entry float64) *domain.Position {
	return &domain.Position{
		Symbol:      "BTCUSDT",
		Side:        domain.SideLong,
		Quantity:    0.5,
		OriginalQty: 0.5,
		EntryPrice:  entry,
		HighWater:   entry,
	}
}

func TestTrailingArmsAtActivationGain(t *testing.T) {
	ts := usecase.NewTrailingStop(usecase.TrailingConfig{ActivationPct: 2.0, CallbackPct: 1.5})
	pos := trailingPosition(100)

	d := ts.Update(pos, 101.9)
	require.False(t, d.Armed, "gain below activation must not arm")

	d = ts.Update(pos, 102.0)
	require.True(t, d.Armed)
	require.InDelta(t, 100.47, d.Trailing, 1e-9)
	require.False(t, d.Trigger)
}

func TestTrailingStopLifecycle(t *testing.T) {
	ts := usecase.NewTrailingStop(usecase.TrailingConfig{ActivationPct: 2.0, CallbackPct: 1.5})
	pos := trailingPosition(100)

	d := ts.Update(pos, 103)
	require.True(t, d.Armed)
	require.InDelta(t, 101.455, d.Trailing, 1e-9)
	require.False(t, d.Trigger)

	// The monitor writes the decision back before the next tick.
	pos.TrailingArmed = true
	pos.TrailingPrice = d.Trailing
	pos.HighWater = 103

	d = ts.Update(pos, 101.4)
	require.True(t, d.Armed)
	require.InDelta(t, 101.455, d.Trailing, 1e-9)
	require.True(t, d.Trigger)
}

func TestTrailingRatchetsOnlyUp(t *testing.T) {
	ts := usecase.NewTrailingStop(usecase.TrailingConfig{ActivationPct: 2.0, CallbackPct: 1.5})
	pos := trailingPosition(100)
	pos.TrailingArmed = true
	pos.TrailingPrice = 101.455
	pos.HighWater = 103

	d := ts.Update(pos, 102)
	require.InDelta(t, 101.455, d.Trailing, 1e-9, "pullback below the high must not lower the stop")
	require.False(t, d.Trigger)

	d = ts.Update(pos, 104)
	require.InDelta(t, 102.44, d.Trailing, 1e-9)
	require.False(t, d.Trigger)

	pos.TrailingPrice = d.Trailing
	pos.HighWater = 104

	d = ts.Update(pos, 102.4)
	require.True(t, d.Trigger)
}

func TestTrailingTriggersAtExactStopPrice(t *testing.T) {
	ts := usecase.NewTrailingStop(usecase.TrailingConfig{ActivationPct: 2.0, CallbackPct: 1.5})
	pos := trailingPosition(100)
	pos.TrailingArmed = true
	pos.TrailingPrice = 101.455
	pos.HighWater = 103

	d := ts.Update(pos, 101.455)
	require.True(t, d.Trigger)
}

func TestTrailingDefaultsApplied(t *testing.T) {
	ts := usecase.NewTrailingStop(usecase.TrailingConfig{})
	pos := trailingPosition(100)

	d := ts.Update(pos, 102)
	require.True(t, d.Armed, "default activation is a 2%% gain")
	require.InDelta(t, 100.47, d.Trailing, 1e-9)
}
