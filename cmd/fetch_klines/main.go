// Command fetch_klines exports recent candles for one symbol to CSV, e.g. to inspect
// the regime reference series offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autoTrader/config"
	"autoTrader/internal/adapters/alpacaclient"
	"autoTrader/internal/adapters/binanceclient"
	"autoTrader/internal/adapters/logger"
	"autoTrader/internal/marketdata"
	"autoTrader/internal/ports"
	"autoTrader/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "", "Symbol to fetch (defaults to REGIME_SYMBOL)")
	interval := flag.String("interval", "", "Candle interval (defaults to REGIME_CANDLE_INTERVAL)")
	limit := flag.Int("limit", 500, "Number of most recent candles")
	outDir := flag.String("out", "data", "Output directory")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *symbol == "" {
		*symbol = cfg.RegimeSymbol
	}
	if *interval == "" {
		*interval = cfg.RegimeCandleInterval
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	// 3. Initialize Exchange Client
	var client ports.Broker
	if cfg.Broker == "alpaca" {
		client, err = alpacaclient.New(alpacaclient.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaSecretKey,
			BaseURL:   cfg.AlpacaBaseURL,
			Logger:    appLogger,
		})
	} else {
		client, err = binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			QuoteAsset: cfg.QuoteAsset,
			Logger:     appLogger,
		})
	}
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize exchange client: %v", err)
	}
	feed, err := marketdata.New(client, appLogger, marketdata.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize market data feed: %v", err)
	}

	// 4. Fetch and Write
	klines, err := feed.Candles(ctx, strings.ToUpper(*symbol), *interval, *limit)
	if err != nil {
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"symbol": *symbol, "interval": *interval, "count": len(klines)})

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s.csv", strings.ToUpper(*symbol), *interval, time.Now().UTC().Format("20060102T1504")))
	file, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Error creating CSV: %v", err)
	}
	if err := utils.WriteKlinesCSV(file, klines); err != nil {
		file.Close()
		log.Fatalf("Error writing CSV: %v", err)
	}
	if err := file.Close(); err != nil {
		log.Fatalf("Error closing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
