package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatusChanged is emitted when an order reaches a terminal status.
type StatusChanged struct {
	OrderID    string          `json:"order_id"`
	StatusID   int             `json:"status_id"`
	Status     string          `json:"status"`
	Outcome    string          `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Source     string          `json:"source"`
	ServiceRef string          `json:"service_ref,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChanged) error
	Close() error
}

// Noop drops every event. It is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishStatusChanged(context.Context, StatusChanged) error { return nil }

func (Noop) Close() error { return nil }
