package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/vitos/crypto_signal_trader/internal/infrastructure/storage"
)

type SymbolResult struct {
	Symbol   string
	Closes   int
	Wins     int
	Losses   int
	WinRate  float64
	TotalPnL float64
}

type ReasonResult struct {
	Reason   string
	Closes   int
	TotalPnL float64
}

// Offline trade-history report: per-symbol and per-exit-reason realized P&L
// over everything in the database.
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

	trades, err := store.ListTrades(context.Background(), 10000)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}

	bySymbol := make(map[string]*SymbolResult)
	byReason := make(map[string]*ReasonResult)

	for _, t := range trades {
		if t.Action == "open" {
			continue
		}

		sym := bySymbol[t.Symbol]
		if sym == nil {
			sym = &SymbolResult{Symbol: t.Symbol}
			bySymbol[t.Symbol] = sym
		}
		sym.Closes++
		sym.TotalPnL += t.RealizedPnL
		if t.RealizedPnL >= 0 {
			sym.Wins++
		} else {
			sym.Losses++
		}

		reason := t.Reason
		if reason == "" {
			reason = "(none)"
		}
		rr := byReason[reason]
		if rr == nil {
			rr = &ReasonResult{Reason: reason}
			byReason[reason] = rr
		}
		rr.Closes++
		rr.TotalPnL += t.RealizedPnL
	}

	if len(bySymbol) == 0 {
		fmt.Println("No closed trades recorded yet.")
		return
	}

	symbols := make([]*SymbolResult, 0, len(bySymbol))
	for _, r := range bySymbol {
		if r.Closes > 0 {
			r.WinRate = float64(r.Wins) / float64(r.Closes) * 100
		}
		symbols = append(symbols, r)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i].TotalPnL > symbols[j].TotalPnL
	})

	fmt.Printf("Per-symbol results (%d symbols):\n", len(symbols))
	fmt.Printf("%-12s | %-8s | %-6s | %-6s | %-10s | %s\n", "Symbol", "Closes", "Wins", "Losses", "Win %", "PnL")
	fmt.Println("-----------------------------------------------------------------")
	for _, r := range symbols {
		fmt.Printf("%-12s | %-8d | %-6d | %-6d | %-10.1f | %.4f\n",
			r.Symbol, r.Closes, r.Wins, r.Losses, r.WinRate, r.TotalPnL)
	}

	reasons := make([]*ReasonResult, 0, len(byReason))
	for _, r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		return reasons[i].TotalPnL > reasons[j].TotalPnL
	})

	fmt.Printf("\nPer-exit-reason results:\n")
	fmt.Printf("%-20s | %-8s | %s\n", "Reason", "Closes", "PnL")
	fmt.Println("----------------------------------------")
	for _, r := range reasons {
		fmt.Printf("%-20s | %-8d | %.4f\n", r.Reason, r.Closes, r.TotalPnL)
	}
}
