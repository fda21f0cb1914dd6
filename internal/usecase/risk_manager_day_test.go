package usecase

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

// Daily counters key on the UTC calendar date, so a trade at 23:59 UTC and a
// check at 00:01 UTC land on different days with no midnight job involved.
func TestDailyCountersResetOnUTCDate(t *testing.T) {
	rm := NewRiskManager(RiskConfig{MaxDailyTrades: 2}, zap.NewNop())
	rm.SetBalance(1000, 950)

	day1 := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	rm.now = func() time.Time { return day1 }

	rm.RecordTrade(-10)
	rm.RecordTrade(-10)
	if ok, _ := rm.CanOpen("BTCUSDT"); ok {
		t.Fatal("limit of 2 trades must reject the third")
	}

	status := rm.Status()
	if status.DailyTrades != 2 || status.DailyPnL != -20 {
		t.Fatalf("day1 counters: trades=%d pnl=%v", status.DailyTrades, status.DailyPnL)
	}

	day2 := day1.Add(2 * time.Minute) // 00:01 UTC next day
	rm.now = func() time.Time { return day2 }

	status = rm.Status()
	if status.DailyTrades != 0 || status.DailyPnL != 0 {
		t.Errorf("day2 counters not reset: trades=%d pnl=%v", status.DailyTrades, status.DailyPnL)
	}
	if status.Day != "2025-03-11" {
		t.Errorf("day = %s, want 2025-03-11", status.Day)
	}
	if ok, reason := rm.CanOpen("BTCUSDT"); !ok {
		t.Errorf("new day must clear the trade limit: %q", reason)
	}
}

// A daily-loss halt is sticky: the counters reset at midnight but the halt
// stays until an operator resumes.
func TestLossHaltSurvivesDayRollover(t *testing.T) {
	rm := NewRiskManager(RiskConfig{}, zap.NewNop())
	rm.SetBalance(1000, 950)

	day1 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rm.now = func() time.Time { return day1 }

	rm.RecordTrade(-80)
	if ok, _ := rm.CanOpen("BTCUSDT"); ok {
		t.Fatal("80 USDT loss on a 1000 USDT account must halt")
	}

	rm.now = func() time.Time { return day1.Add(24 * time.Hour) }
	if ok, reason := rm.CanOpen("BTCUSDT"); ok {
		t.Errorf("halt must survive the day rollover, got approval (%q)", reason)
	}

	rm.ResumeTrading()
	if ok, _ := rm.CanOpen("BTCUSDT"); !ok {
		t.Error("resume must re-enable trading")
	}
}
