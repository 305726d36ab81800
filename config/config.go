package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autoTrader/internal/adapters/logger" // Import the logger package for LogLevel
	"autoTrader/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Broker
	Broker          string // binance | alpaca
	APIKey          string // Binance
	SecretKey       string // Binance
	IsTestnet       bool
	AlpacaAPIKey    string
	AlpacaSecretKey string
	AlpacaBaseURL   string
	QuoteAsset      string

	// Mode
	TradingMode       domain.TradingMode
	PaperStartBalance float64
	AutoStart         bool

	// Sizing
	TradeAmount      float64 // Quote amount per entry
	CashSafetyMargin float64 // Required free cash is TradeAmount * (1 + margin)
	MaxPositions     int     // Concurrent non-protected positions

	// Universe
	WatchSymbols    []string
	WatchTopN       int
	TrendingSymbols []string // Majors shown in the trending view
	CandleInterval  string   // Entry signal candles, e.g., "3m"
	Blacklist       []string
	StopList        []string
	Protected       []string

	// Exits (percentages, negative for drops)
	TrailingAfterTPDrop float64
	TrailingGeneralDrop float64
	ProtectStopLoss     float64
	ReentryRecoveryPct  float64
	SellCooldown        time.Duration
	BuyFailCooldown     time.Duration

	// Exit confirmation
	ExitConfirmTTL    time.Duration
	ExitConfirmSL     int
	ExitConfirmDrop   int
	ExitConfirmTPDrop int

	// Regime
	AutoTune             bool
	RegimeSymbol         string
	RegimeCandleInterval string
	RegimeInterval       time.Duration
	BullEnter            float64
	BullExit             float64
	BearEnter            float64
	BearExit             float64

	// Risk
	RiskSpreadMax  float64
	RiskDepthMin   float64
	RiskWhaleRatio float64
	RiskWickRatio  float64
	RiskWickCount  int
	RiskCheckTTL   time.Duration

	// Cadence (in ticks)
	TickInterval        time.Duration
	TickErrorBackoff    time.Duration
	RegimeEvery         int
	BalanceEvery        int
	DailyRiskEvery      int
	ReportEvery         int
	ReconcileEvery      int
	ProtectMonitorEvery int
	UniverseEvery       int
	DailyMaxLossPct     float64
	ReportInterval      time.Duration

	// Order wait
	OrderWait time.Duration
	OrderPoll time.Duration

	// Storage
	Store       string // sqlite | json | postgres
	DBPath      string
	StateDir    string
	DatabaseURL string

	// Notifications
	TelegramToken  string
	TelegramChatID string

	// Control surface
	HTTPAddr string

	// Logging
	LogLevel    logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFile     string
	LogMaxBytes int64
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Broker
	cfg.Broker = strings.ToLower(getEnv("BROKER", "binance"))
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.AlpacaAPIKey = getEnv("ALPACA_API_KEY", "")
	cfg.AlpacaSecretKey = getEnv("ALPACA_API_SECRET", "")
	cfg.AlpacaBaseURL = getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets")
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))

	cfg.TradingMode = domain.TradingMode(strings.ToLower(getEnv("TRADING_MODE", string(domain.ModePaper))))
	if !cfg.TradingMode.Valid() {
		errs = append(errs, "TRADING_MODE must be 'paper' or 'live'")
	}

	switch cfg.Broker {
	case "binance":
		// Keys are only needed for signed endpoints; paper mode runs on public data
		if cfg.TradingMode == domain.ModeLive && (cfg.APIKey == "" || cfg.SecretKey == "") {
			errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set for live trading")
		}
	case "alpaca":
		if cfg.AlpacaAPIKey == "" || cfg.AlpacaSecretKey == "" {
			errs = append(errs, "ALPACA_API_KEY and ALPACA_API_SECRET must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported BROKER '%s'", cfg.Broker))
	}

	cfg.PaperStartBalance, err = getEnvAsFloatRequired("PAPER_START_BALANCE", 1_000_000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_START_BALANCE: %v", err))
	} else if cfg.PaperStartBalance <= 0 {
		errs = append(errs, "PAPER_START_BALANCE must be positive")
	}
	cfg.AutoStart = getEnvAsBool("AUTO_START", false)

	// Sizing
	cfg.TradeAmount, err = getEnvAsFloatRequired("TRADE_AMOUNT", 100_000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_AMOUNT: %v", err))
	} else if cfg.TradeAmount <= 0 {
		errs = append(errs, "TRADE_AMOUNT must be positive")
	}
	cfg.CashSafetyMargin = getEnvAsFloat("CASH_SAFETY_MARGIN", 0.01)
	if cfg.CashSafetyMargin < 0 {
		errs = append(errs, "CASH_SAFETY_MARGIN cannot be negative")
	}
	cfg.MaxPositions, err = getEnvAsIntRequired("MAX_POSITIONS", 6)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITIONS: %v", err))
	} else if cfg.MaxPositions <= 0 {
		errs = append(errs, "MAX_POSITIONS must be positive")
	}

	// Universe
	cfg.WatchSymbols = getEnvAsList("WATCH_SYMBOLS", nil)
	cfg.WatchTopN = getEnvAsInt("WATCH_TOP_N", 20)
	cfg.TrendingSymbols = getEnvAsList("TRENDING_SYMBOLS", []string{"BTCUSDT", "ETHUSDT", "XRPUSDT", "ADAUSDT", "SOLUSDT", "DOGEUSDT"})
	if cfg.WatchTopN <= 0 && len(cfg.WatchSymbols) == 0 {
		errs = append(errs, "either WATCH_SYMBOLS or a positive WATCH_TOP_N must be set")
	}
	cfg.CandleInterval = getEnv("CANDLE_INTERVAL", "3m")
	cfg.Blacklist = getEnvAsList("BLACK_LIST", nil)
	cfg.StopList = getEnvAsList("STOP_LIST", nil)
	cfg.Protected = getEnvAsList("PROTECTED_LIST", nil)

	// Exits
	cfg.TrailingAfterTPDrop = getEnvAsFloat("TRAILING_AFTER_TP_DROP", -1.0)
	cfg.TrailingGeneralDrop = getEnvAsFloat("TRAILING_GENERAL_DROP", -2.5)
	cfg.ProtectStopLoss = getEnvAsFloat("PROTECT_STOP_LOSS", -5.0)
	if cfg.TrailingAfterTPDrop >= 0 || cfg.TrailingGeneralDrop >= 0 || cfg.ProtectStopLoss >= 0 {
		errs = append(errs, "TRAILING_AFTER_TP_DROP, TRAILING_GENERAL_DROP and PROTECT_STOP_LOSS must be negative")
	}
	cfg.ReentryRecoveryPct = getEnvAsFloat("REENTRY_RECOVERY_PCT", 1.0)
	cfg.SellCooldown = getEnvAsDuration("SELL_COOLDOWN", 30*time.Minute)
	cfg.BuyFailCooldown = getEnvAsDuration("BUY_FAIL_COOLDOWN", 60*time.Second)

	// Exit confirmation
	cfg.ExitConfirmTTL = getEnvAsDuration("EXIT_CONFIRM_TTL", 12*time.Second)
	cfg.ExitConfirmSL = getEnvAsInt("EXIT_CONFIRM_SL", 3)
	cfg.ExitConfirmDrop = getEnvAsInt("EXIT_CONFIRM_DROP", 3)
	cfg.ExitConfirmTPDrop = getEnvAsInt("EXIT_CONFIRM_TPDROP", 2)
	if cfg.ExitConfirmSL <= 0 || cfg.ExitConfirmDrop <= 0 || cfg.ExitConfirmTPDrop <= 0 {
		errs = append(errs, "exit confirmation thresholds must be positive")
	}

	// Regime
	cfg.AutoTune = getEnvAsBool("AUTO_TUNE", true)
	cfg.RegimeSymbol = getEnv("REGIME_SYMBOL", "BTCUSDT")
	cfg.RegimeCandleInterval = getEnv("REGIME_CANDLE_INTERVAL", "15m")
	cfg.RegimeInterval = getEnvAsDuration("REGIME_INTERVAL", 60*time.Second)
	cfg.BullEnter = getEnvAsFloat("BULL_ENTER", 0.005)
	cfg.BullExit = getEnvAsFloat("BULL_EXIT", 0.002)
	cfg.BearEnter = getEnvAsFloat("BEAR_ENTER", -0.005)
	cfg.BearExit = getEnvAsFloat("BEAR_EXIT", -0.002)
	if !(cfg.BullEnter > cfg.BullExit && cfg.BullExit > 0 && 0 > cfg.BearExit && cfg.BearExit > cfg.BearEnter) {
		errs = append(errs, "regime bands must satisfy BULL_ENTER > BULL_EXIT > 0 > BEAR_EXIT > BEAR_ENTER")
	}

	// Risk
	cfg.RiskSpreadMax = getEnvAsFloat("RISK_SPREAD_MAX", 0.006)
	cfg.RiskDepthMin = getEnvAsFloat("RISK_DEPTH_MIN", 50_000)
	cfg.RiskWhaleRatio = getEnvAsFloat("RISK_WHALE_RATIO", 0.75)
	cfg.RiskWickRatio = getEnvAsFloat("RISK_WICK_RATIO", 0.70)
	cfg.RiskWickCount = getEnvAsInt("RISK_WICK_COUNT", 6)
	cfg.RiskCheckTTL = getEnvAsDuration("RISK_CHECK_TTL", 10*time.Second)

	// Cadence
	cfg.TickInterval = getEnvAsDuration("TICK_INTERVAL", time.Second)
	if cfg.TickInterval <= 0 {
		errs = append(errs, "TICK_INTERVAL must be positive")
	}
	cfg.TickErrorBackoff = getEnvAsDuration("TICK_ERROR_BACKOFF", 5*time.Second)
	cfg.RegimeEvery = getEnvAsInt("REGIME_EVERY", 10)
	cfg.BalanceEvery = getEnvAsInt("BALANCE_EVERY", 20)
	cfg.DailyRiskEvery = getEnvAsInt("DAILY_RISK_EVERY", 30)
	cfg.ReportEvery = getEnvAsInt("REPORT_EVERY", 60)
	cfg.ReconcileEvery = getEnvAsInt("RECONCILE_EVERY", 20)
	cfg.ProtectMonitorEvery = getEnvAsInt("PROTECT_MONITOR_EVERY", 60)
	cfg.UniverseEvery = getEnvAsInt("UNIVERSE_EVERY", 300)
	cfg.DailyMaxLossPct = getEnvAsFloat("DAILY_MAX_LOSS_PCT", -3.0)
	cfg.ReportInterval = getEnvAsDuration("REPORT_INTERVAL", time.Hour)

	// Order wait
	cfg.OrderWait = getEnvAsDuration("ORDER_WAIT", 5*time.Second)
	cfg.OrderPoll = getEnvAsDuration("ORDER_POLL", 500*time.Millisecond)
	if cfg.OrderWait <= 0 || cfg.OrderPoll <= 0 || cfg.OrderPoll > cfg.OrderWait {
		errs = append(errs, "ORDER_WAIT and ORDER_POLL must be positive with ORDER_POLL <= ORDER_WAIT")
	}

	// Storage
	cfg.Store = strings.ToLower(getEnv("STORE", "sqlite"))
	cfg.DBPath = getEnv("DB_PATH", "./data/autotrader.db")
	cfg.StateDir = getEnv("STATE_DIR", "./data")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	switch cfg.Store {
	case "sqlite", "json":
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL must be set for STORE=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported STORE '%s'", cfg.Store))
	}

	// Notifications
	cfg.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8001")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxBytes = int64(getEnvAsInt("LOG_MAX_BYTES", 10<<20))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "30m") or bare seconds ("60").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value into upper-cased, trimmed symbols.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
