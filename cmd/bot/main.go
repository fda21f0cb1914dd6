package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_signal_trader/internal/infrastructure/exchange"
	"github.com/vitos/crypto_signal_trader/internal/infrastructure/logger"
	"github.com/vitos/crypto_signal_trader/internal/infrastructure/notify"
	"github.com/vitos/crypto_signal_trader/internal/infrastructure/storage"
	"github.com/vitos/crypto_signal_trader/internal/ipc"
	"github.com/vitos/crypto_signal_trader/internal/usecase"
	"github.com/vitos/crypto_signal_trader/internal/web"
)

type Config struct {
	Venue struct {
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		BaseURL    string `yaml:"base_url"`
		WSURL      string `yaml:"ws_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"venue"`
	Trading struct {
		Leverage     int      `yaml:"leverage"`
		MarginType   string   `yaml:"margin_type"`
		QuoteSuffix  string   `yaml:"quote_suffix"`
		WatchSymbols []string `yaml:"watch_symbols"`
	} `yaml:"trading"`
	Confluence struct {
		WindowSec           int     `yaml:"window_sec"`
		MinScore            float64 `yaml:"min_score"`
		TimeWeight          float64 `yaml:"time_weight"`
		StrengthWeight      float64 `yaml:"strength_weight"`
		FreshnessWeight     float64 `yaml:"freshness_weight"`
		IntensifiedStrength float64 `yaml:"intensified_strength"`
		PlainStrength       float64 `yaml:"plain_strength"`
		RiskRetentionMin    int     `yaml:"risk_retention_min"`
		HistoryCap          int     `yaml:"history_cap"`
		ProcessedCap        int     `yaml:"processed_cap"`
		SnapshotSec         int     `yaml:"snapshot_sec"`
	} `yaml:"confluence"`
	Risk struct {
		MaxPositionPct  float64 `yaml:"max_position_pct"`
		MaxExposurePct  float64 `yaml:"max_exposure_pct"`
		MaxDailyTrades  int     `yaml:"max_daily_trades"`
		MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
		ReservePct      float64 `yaml:"reserve_pct"`
		FeeReserve      float64 `yaml:"fee_reserve"`
		StopLossPct     float64 `yaml:"stop_loss_pct"`
		TakeProfit1Pct  float64 `yaml:"take_profit1_pct"`
		TakeProfit2Pct  float64 `yaml:"take_profit2_pct"`
	} `yaml:"risk"`
	Exits struct {
		TrailingActivationPct float64 `yaml:"trailing_activation_pct"`
		TrailingCallbackPct   float64 `yaml:"trailing_callback_pct"`
		PyramidLevels         []struct {
			GainPct  float64 `yaml:"gain_pct"`
			Fraction float64 `yaml:"fraction"`
		} `yaml:"pyramid_levels"`
		MonitorSec   int     `yaml:"monitor_sec"`
		LiqWarnRatio float64 `yaml:"liq_warn_ratio"`
		RiskClosePct float64 `yaml:"risk_close_pct"`
	} `yaml:"exits"`
	Loops struct {
		BalanceSec    int    `yaml:"balance_sec"`
		StatusSec     int    `yaml:"status_sec"`
		EmergencyFile string `yaml:"emergency_file"`
	} `yaml:"loops"`
	IPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"ipc"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath       string `yaml:"db_path"`
		SnapshotPath string `yaml:"snapshot_path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Notify notify.Events `yaml:"notify"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Absent sections fall back here; component constructors default the rest.
	cfg := &Config{Notify: notify.DefaultEvents()}
	cfg.Server.Port = 8085
	cfg.Storage.DBPath = "trader.db"
	cfg.Storage.SnapshotPath = "signals_snapshot.json"
	cfg.Logging.Level = "info"

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	repo, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer repo.Close()
	snapshots := storage.NewFileSnapshotStore(cfg.Storage.SnapshotPath)

	venue := exchange.NewBinanceAdapter(
		cfg.Venue.APIKey, cfg.Venue.APISecret,
		cfg.Venue.BaseURL, seconds(cfg.Venue.TimeoutSec), log)

	store := usecase.NewSignalStore(usecase.SignalStoreConfig{
		Window:        seconds(cfg.Confluence.WindowSec),
		RiskRetention: time.Duration(cfg.Confluence.RiskRetentionMin) * time.Minute,
		ProcessedCap:  cfg.Confluence.ProcessedCap,
	}, snapshots, log)

	matcher := usecase.NewConfluenceMatcher(usecase.MatcherConfig{
		Window:              seconds(cfg.Confluence.WindowSec),
		MinScore:            cfg.Confluence.MinScore,
		TimeWeight:          cfg.Confluence.TimeWeight,
		StrengthWeight:      cfg.Confluence.StrengthWeight,
		FreshnessWeight:     cfg.Confluence.FreshnessWeight,
		IntensifiedStrength: cfg.Confluence.IntensifiedStrength,
		PlainStrength:       cfg.Confluence.PlainStrength,
		HistoryCap:          cfg.Confluence.HistoryCap,
	}, store, log)

	risk := usecase.NewRiskManager(usecase.RiskConfig{
		MaxPositionPct:  cfg.Risk.MaxPositionPct,
		MaxDailyTrades:  cfg.Risk.MaxDailyTrades,
		MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
		MaxExposurePct:  cfg.Risk.MaxExposurePct,
		ReservePct:      cfg.Risk.ReservePct,
		FeeReserve:      cfg.Risk.FeeReserve,
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfit1Pct:  cfg.Risk.TakeProfit1Pct,
		TakeProfit2Pct:  cfg.Risk.TakeProfit2Pct,
	}, log)

	notifier := notify.NewLogNotifier(cfg.Notify, log)

	executor := usecase.NewTradeExecutor(usecase.ExecutorConfig{
		Leverage:   cfg.Trading.Leverage,
		MarginType: cfg.Trading.MarginType,
	}, venue, risk, repo, notifier, log)

	stream := exchange.NewMarkPriceStream(cfg.Venue.WSURL, cfg.Trading.WatchSymbols, 0, log)

	levels := make([]usecase.PyramidLevel, 0, len(cfg.Exits.PyramidLevels))
	for _, l := range cfg.Exits.PyramidLevels {
		levels = append(levels, usecase.PyramidLevel{GainPct: l.GainPct, Fraction: l.Fraction})
	}
	monitor := usecase.NewPositionMonitor(usecase.MonitorConfig{
		Interval: seconds(cfg.Exits.MonitorSec),
		Trailing: usecase.TrailingConfig{
			ActivationPct: cfg.Exits.TrailingActivationPct,
			CallbackPct:   cfg.Exits.TrailingCallbackPct,
		},
		PyramidLevels: levels,
		LiqWarnRatio:  cfg.Exits.LiqWarnRatio,
		RiskClosePct:  cfg.Exits.RiskClosePct,
	}, venue, risk, executor, store, stream, notifier, log)

	bot := usecase.NewConfluenceBot(usecase.BotConfig{
		QuoteSuffix:      cfg.Trading.QuoteSuffix,
		SnapshotInterval: seconds(cfg.Confluence.SnapshotSec),
		BalanceInterval:  seconds(cfg.Loops.BalanceSec),
		StatusInterval:   seconds(cfg.Loops.StatusSec),
		EmergencyFile:    cfg.Loops.EmergencyFile,
		RiskClosePct:     cfg.Exits.RiskClosePct,
	}, store, matcher, risk, executor, monitor, venue, repo, log)

	signals := ipc.NewServer(ipc.Config{Addr: cfg.IPC.Addr}, bot, log)
	server := web.NewServer(cfg.Server.Port, risk, store, matcher, repo, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.Trading.WatchSymbols) > 0 {
		stream.Start(ctx)
	}
	bot.Start(ctx)
	if err := signals.Start(ctx); err != nil {
		log.Fatal("Failed to start signal server", zap.Error(err))
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	signals.Stop()
	bot.Stop()
	stream.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down web server", zap.Error(err))
	}
}
