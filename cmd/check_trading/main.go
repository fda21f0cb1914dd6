package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/infrastructure/exchange"
)

type Config struct {
	Venue struct {
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		BaseURL    string `yaml:"base_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"venue"`
	Trading struct {
		Leverage   int    `yaml:"leverage"`
		MarginType string `yaml:"margin_type"`
	} `yaml:"trading"`
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

// Places and immediately flattens a minimum-size position. Run against a
// testnet endpoint; this trades real size on production keys.
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

	venue := exchange.NewBinanceAdapter(
		cfg.Venue.APIKey, cfg.Venue.APISecret,
		cfg.Venue.BaseURL, time.Duration(cfg.Venue.TimeoutSec)*time.Second, zap.NewNop())
	ctx := context.Background()

	fmt.Printf("Testing trading setup on %s (%s)...\n", cfg.Venue.BaseURL, symbol)

	leverage := cfg.Trading.Leverage
	if leverage == 0 {
		leverage = 10
	}
	marginType := cfg.Trading.MarginType
	if marginType == "" {
		marginType = "ISOLATED"
	}

	if err := venue.SetLeverage(ctx, symbol, leverage); err != nil {
		fmt.Printf("❌ Failed to set leverage: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Leverage set to %dx\n", leverage)

	if err := venue.SetMarginType(ctx, symbol, marginType); err != nil {
		if domain.IsNoChange(err) {
			fmt.Printf("✅ Margin type already %s\n", marginType)
		} else {
			fmt.Printf("❌ Failed to set margin type: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("✅ Margin type set to %s\n", marginType)
	}

	inst, err := venue.GetInstrument(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get instrument: %v\n", err)
		os.Exit(1)
	}
	qty := inst.MinQty
	fmt.Printf("Placing market buy (qty: %f)...\n", qty)

	order, err := venue.PlaceMarketOrder(ctx, symbol, domain.OrderBuy, qty, "check-"+uuid.NewString(), false)
	if err != nil {
		fmt.Printf("❌ Failed to buy: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Buy order placed: id=%d status=%s avgPrice=%f\n", order.OrderID, order.Status, order.AvgPrice)

	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Second)
		pos, err := venue.GetPosition(ctx, symbol)
		if err != nil {
			fmt.Printf("⚠️ Failed to get position (attempt %d): %v\n", i+1, err)
			continue
		}
		if pos.Quantity != 0 {
			fmt.Printf("✅ Position: Qty=%f, Entry=%f, Liq=%f\n", pos.Quantity, pos.EntryPrice, pos.LiquidationPrice)
			break
		}
		fmt.Printf("⏳ Waiting for position... (Qty=%f)\n", pos.Quantity)
	}

	fmt.Println("Flattening...")
	if _, err := venue.PlaceMarketOrder(ctx, symbol, domain.OrderSell, qty, "check-"+uuid.NewString(), true); err != nil {
		fmt.Printf("❌ Failed to close: %v\n", err)
		os.Exit(1)
	}
	if err := venue.CancelAllOrders(ctx, symbol); err != nil {
		fmt.Printf("⚠️ Failed to cancel orders: %v\n", err)
	}
	fmt.Println("✅ Position closed")
}
