package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// TradingMode selects which broker and ledger the engine drives.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// Valid reports whether m is a known trading mode.
func (m TradingMode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "SL"
	CloseReasonTakeProfit   CloseReason = "TP_TRAILING"
	CloseReasonTrailingDrop CloseReason = "DROP"
	CloseReasonTimeLimit    CloseReason = "TIME_LIMIT"
	CloseReasonProtectStop  CloseReason = "PROTECT_STOP"
	CloseReasonManual       CloseReason = "MANUAL"
	CloseReasonPanic        CloseReason = "PANIC"
	CloseReasonReconciled   CloseReason = "RECONCILED" // Broker no longer holds the instrument
	CloseReasonUnknown      CloseReason = "Unknown"
)

// EntryReason names the signal that produced a buy intent.
type EntryReason string

const (
	EntryReasonPump    EntryReason = "PUMP"    // Volume breakout with aligned averages
	EntryReasonRSIDip  EntryReason = "RSI_DIP" // Oversold inside an uptrend
	EntryReasonReentry EntryReason = "REENTRY" // Buy-back of a protected instrument
	EntryReasonManual  EntryReason = "MANUAL"
)

// Severity classifies operator-facing events.
type Severity string

const (
	SeverityInfo   Severity = "INFO"
	SeverityBuy    Severity = "BUY"
	SeveritySell   Severity = "SELL"
	SeverityError  Severity = "ERROR"
	SeveritySystem Severity = "SYSTEM"
	SeverityReport Severity = "REPORT"
	SeverityRisk   Severity = "RISK"
)

// Notifiable reports whether events of this severity are pushed to the notifier.
func (s Severity) Notifiable() bool {
	return s != SeverityInfo
}
