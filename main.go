package main

import (
	"context"
	"io"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"autoTrader/config"
	"autoTrader/internal/adapters/alpacaclient"
	"autoTrader/internal/adapters/binanceclient"
	"autoTrader/internal/adapters/httpapi"
	"autoTrader/internal/adapters/jsonstore"
	"autoTrader/internal/adapters/logger"
	"autoTrader/internal/adapters/paper"
	"autoTrader/internal/adapters/postgres"
	"autoTrader/internal/adapters/sqlite"
	"autoTrader/internal/adapters/telegram"
	"autoTrader/internal/app"
	"autoTrader/internal/domain"
	"autoTrader/internal/exitconfirm"
	"autoTrader/internal/marketdata"
	"autoTrader/internal/ports"
	"autoTrader/internal/regime"
	"autoTrader/internal/risk"
	"autoTrader/internal/strategy"
)

const (
	logBackups      = 5
	statusPushEvery = 2 * time.Second
	dailyWarnEvery  = 10 * time.Minute
	regimeCandles   = 60
	regimeMAPeriod  = 20
)

// store is what the engine needs from the persistence adapter.
type store interface {
	ports.StateStore
	ports.TradeJournal
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger *logger.StdLogger
	if cfg.LogFile != "" {
		rotator, err := logger.NewRotator(cfg.LogFile, cfg.LogMaxBytes, logBackups)
		if err != nil {
			log.Fatalf("FATAL: Failed to open log file: %v", err)
		}
		defer rotator.Close()
		appLogger = logger.NewStdLoggerTo(io.MultiWriter(os.Stderr, rotator), cfg.LogLevel)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "file": cfg.LogFile})

	// 3. Initialize Repository
	repo, closeRepo, err := openStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize state store")
		log.Fatalf("FATAL: Failed to initialize state store: %v", err)
	}
	defer closeRepo()
	appLogger.Info(ctx, "State store initialized", map[string]interface{}{"store": cfg.Store})

	// 4. Initialize Exchange Clients
	brokers, universe, tickers, err := openBrokers(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exchange client")
		log.Fatalf("FATAL: Failed to initialize exchange client: %v", err)
	}
	appLogger.Info(ctx, "Exchange clients initialized", map[string]interface{}{
		"broker": cfg.Broker, "live": brokers[domain.ModeLive] != nil,
	})

	// 5. Initialize Market Data, Strategy and Risk Components
	data := brokers[domain.ModePaper]
	feed, err := marketdata.New(data, appLogger, marketdata.DefaultConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize market data feed: %v", err)
	}
	evaluator, err := strategy.New(strategy.DefaultConfig(), appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading strategy")
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	detector, err := regime.New(regime.Config{
		Enabled:   cfg.AutoTune,
		Symbol:    cfg.RegimeSymbol,
		Interval:  cfg.RegimeCandleInterval,
		Candles:   regimeCandles,
		MAPeriod:  regimeMAPeriod,
		Every:     cfg.RegimeInterval,
		BullEnter: cfg.BullEnter,
		BullExit:  cfg.BullExit,
		BearEnter: cfg.BearEnter,
		BearExit:  cfg.BearExit,
	}, feed, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize regime detector: %v", err)
	}
	riskCfg := risk.DefaultConfig()
	riskCfg.SpreadMax = cfg.RiskSpreadMax
	riskCfg.DepthMin = cfg.RiskDepthMin
	riskCfg.WhaleRatio = cfg.RiskWhaleRatio
	riskCfg.WickRatio = cfg.RiskWickRatio
	riskCfg.WickCount = cfg.RiskWickCount
	riskCfg.TTL = cfg.RiskCheckTTL
	riskCfg.CandleInterval = cfg.CandleInterval
	classifier, err := risk.NewClassifier(riskCfg, feed, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk classifier: %v", err)
	}
	confirmer := exitconfirm.New(exitconfirm.Config{
		TTL: cfg.ExitConfirmTTL,
		Thresholds: map[exitconfirm.Key]int{
			exitconfirm.KeyStopLoss:   cfg.ExitConfirmSL,
			exitconfirm.KeyDrop:       cfg.ExitConfirmDrop,
			exitconfirm.KeyTrailingTP: cfg.ExitConfirmTPDrop,
		},
	})
	appLogger.Info(ctx, "Strategy and risk components initialized")

	// 6. Initialize Engine
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engine, err := app.NewEngine(cfg, app.Dependencies{
		Brokers:   brokers,
		Universe:  universe,
		Tickers:   tickers,
		Feed:      feed,
		Signals:   evaluator,
		Regime:    detector,
		Risk:      classifier,
		Daily:     risk.NewDailyGuard(cfg.DailyMaxLossPct, dailyWarnEvery),
		Confirmer: confirmer,
		Store:     repo,
		Journal:   repo,
		Notifier:  telegram.New(cfg.TelegramToken, cfg.TelegramChatID, appLogger),
		Metrics:   app.NewMetrics(reg),
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize engine")
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}
	engine.Restore(ctx)
	appLogger.Info(ctx, "Engine initialized", map[string]interface{}{"mode": string(cfg.TradingMode), "running": engine.Running()})

	// 7. Start the Control Loop and Control Surface
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := engine.Run(ctx); err != nil {
			appLogger.Error(ctx, err, "Control loop exited with error")
		}
	}()

	server, err := httpapi.New(engine, appLogger, reg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize control surface: %v", err)
	}
	if err := server.Run(ctx, cfg.HTTPAddr, statusPushEvery); err != nil {
		appLogger.Error(ctx, err, "Control surface exited with error")
		stop()
	}

	// 8. Shut Down
	engine.Shutdown()
	<-loopDone
	appLogger.Info(context.Background(), "Application finished gracefully.")
}

func openStore(ctx context.Context, cfg *config.Config, appLogger ports.Logger) (store, func(), error) {
	switch cfg.Store {
	case "postgres":
		repo, err := postgres.Connect(ctx, cfg.DatabaseURL, appLogger)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "json":
		repo, err := jsonstore.New(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	default:
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing database repository")
			}
		}, nil
	}
}

// openBrokers returns the order routing per mode. The paper broker simulates fills on
// the exchange's market data; live routing exists only when credentials are configured.
func openBrokers(cfg *config.Config, appLogger ports.Logger) (map[domain.TradingMode]ports.Broker, ports.UniverseSource, ports.TickerSource, error) {
	var (
		data     ports.Broker
		live     ports.Broker
		universe ports.UniverseSource
		tickers  ports.TickerSource
	)
	switch cfg.Broker {
	case "alpaca":
		client, err := alpacaclient.New(alpacaclient.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaSecretKey,
			BaseURL:   cfg.AlpacaBaseURL,
			Logger:    appLogger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		data, live = client, client
	default:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			QuoteAsset: cfg.QuoteAsset,
			Logger:     appLogger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		data, universe, tickers = client, client, client
		if cfg.APIKey != "" && cfg.SecretKey != "" {
			live = client
		}
	}

	brokers := map[domain.TradingMode]ports.Broker{
		domain.ModePaper: paper.New(data, appLogger, cfg.PaperStartBalance),
	}
	if live != nil {
		brokers[domain.ModeLive] = live
	}
	return brokers, universe, tickers, nil
}
