package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_signal_trader/internal/infrastructure/exchange"
)

type Config struct {
	Venue struct {
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		BaseURL    string `yaml:"base_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"venue"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	symbol := "BTCUSDT"
	if len(os.Args) > 2 {
		symbol = os.Args[2]
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Binance Futures interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Venue.BaseURL)
	if len(cfg.Venue.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Venue.APIKey[:4])
	}

	venue := exchange.NewBinanceAdapter(
		cfg.Venue.APIKey, cfg.Venue.APISecret,
		cfg.Venue.BaseURL, time.Duration(cfg.Venue.TimeoutSec)*time.Second, zap.NewNop())
	ctx := context.Background()

	price, err := venue.GetMarkPrice(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get mark price: %v\n", err)
	} else {
		fmt.Printf("✅ Mark Price (%s): %f\n", symbol, price)
	}

	inst, err := venue.GetInstrument(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get instrument: %v\n", err)
	} else {
		fmt.Printf("✅ Instrument (%s): LotStep=%f, TickSize=%f, MinQty=%f, MinNotional=%f\n",
			symbol, inst.LotStep, inst.TickSize, inst.MinQty, inst.MinNotional)
	}

	balance, err := venue.GetBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Balance: Total=%f, Available=%f\n", balance.Total, balance.Available)
	}

	pos, err := venue.GetPosition(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else if pos.Quantity == 0 {
		fmt.Printf("✅ Position (%s): flat\n", symbol)
	} else {
		fmt.Printf("✅ Position (%s): Qty=%f, Entry=%f, Mark=%f, Liq=%f, PnL=%f\n",
			symbol, pos.Quantity, pos.EntryPrice, pos.MarkPrice, pos.LiquidationPrice, pos.UnrealizedPnL)
	}
}
