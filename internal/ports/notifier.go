package ports

import (
	"context"

	"autoTrader/internal/domain"
)

// Notifier pushes operator messages to an external channel.
// Implementations are fire-and-forget: delivery failures are swallowed.
type Notifier interface {
	Notify(ctx context.Context, msg string, severity domain.Severity)
}
