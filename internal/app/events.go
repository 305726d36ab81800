package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autoTrader/internal/domain"
)

const (
	maxEvents         = 150
	maxBalancePoints  = 60
	balancePointStamp = "15:04"
)

// Event is one operator-facing log line shown on the status surface.
type Event struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      domain.Severity `json:"type"`
	Message   string          `json:"message"`
}

// eventLog keeps the newest events first. It has its own lock so it can be written
// with or without the engine lock held.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	seq    int
}

func (l *eventLog) add(now time.Time, severity domain.Severity, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := now.Format("15:04:05")
	l.seq++
	e := Event{ID: fmt.Sprintf("%s-%d", ts, l.seq), Timestamp: ts, Type: severity, Message: msg}
	l.events = append([]Event{e}, l.events...)
	if len(l.events) > maxEvents {
		l.events = l.events[:maxEvents]
	}
}

func (l *eventLog) list() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// BalancePoint is one minute of the balance chart.
type BalancePoint struct {
	Time    string  `json:"time"`
	Balance float64 `json:"balance"`
}

// appendBalance adds at most one point per minute and keeps the last maxBalancePoints.
func appendBalance(history []BalancePoint, now time.Time, balance float64) []BalancePoint {
	stamp := now.Format(balancePointStamp)
	if n := len(history); n > 0 && history[n-1].Time == stamp {
		return history
	}
	history = append(history, BalancePoint{Time: stamp, Balance: balance})
	if len(history) > maxBalancePoints {
		history = history[len(history)-maxBalancePoints:]
	}
	return history
}

// emit logs msg, records it for the status surface and forwards notifiable severities.
// Must not be called with e.mu held: the notifier may block for its timeout.
func (e *Engine) emit(ctx context.Context, severity domain.Severity, msg string, fields ...map[string]interface{}) {
	switch severity {
	case domain.SeverityError:
		e.logger.Error(ctx, nil, msg, fields...)
	case domain.SeverityRisk:
		e.logger.Warn(ctx, msg, fields...)
	default:
		e.logger.Info(ctx, msg, fields...)
	}
	e.events.add(e.now(), severity, msg)
	if severity.Notifiable() && e.notifier != nil {
		e.notifier.Notify(ctx, msg, severity)
	}
}
