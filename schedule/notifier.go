package schedule

import (
	"context"

	"github.com/meridianretail/availability/internal/logger"
)

// Notifier is the external collaborator told about state transitions as
// their instants arrive. Delivery guarantees and message content are its
// problem; the processor only promises at-most-once, best-effort calls.
type Notifier interface {
	NotifyStateChange(ctx context.Context, productID, label string) error
}

// LogNotifier logs transitions instead of delivering them. The default when
// no real collaborator is wired.
type LogNotifier struct{}

func (LogNotifier) NotifyStateChange(ctx context.Context, productID, label string) error {
	logger.Info("state change", "productId", productID, "transition", label)
	return nil
}
