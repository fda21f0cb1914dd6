package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_signal_trader/internal/infrastructure/storage"
)

func main() {
	dbPath := "trader.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	trades, err := store.ListTrades(ctx, 20)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Last %d trades:\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- #%d %s %s %s qty=%f entry=%f exit=%f pnl=%f reason=%q at=%s\n",
			t.ID, t.Symbol, t.Action, t.Side, t.Quantity,
			t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.Reason,
			t.CreatedAt.Format(time.RFC3339))
	}

	events, err := store.ListConfluence(ctx, 10)
	if err != nil {
		fmt.Printf("Failed to list confluence events: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nLast %d confluence events:\n", len(events))
	for _, e := range events {
		fmt.Printf("- %s gap=%.1fs score=%.3f opp=%s sent=%s at=%s\n",
			e.Symbol, e.TimeGapSec, e.Score, e.Opportunity.ID, e.Sentiment.ID,
			e.DetectedAt.Format(time.RFC3339))
	}

	day := time.Now().UTC().Format("2006-01-02")
	pnl, err := store.DailyPnL(ctx, day)
	if err != nil {
		fmt.Printf("Failed to compute daily PnL: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nRealized PnL for %s: %f\n", day, pnl)
}
