package ledger

import (
	"context"
	"errors"

	"gorm.io/datatypes"

	"github.com/example/smartpay/internal/models"
)

var (
	ErrNotFound         = errors.New("ledger: not found")
	ErrDuplicateSession = errors.New("ledger: session already recorded")
)

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	Status     string
	CustomerID string
}

// Snapshot is the mutable status mirror kept on a session row.
type Snapshot struct {
	Status   string
	StatusID int
	Payload  datatypes.JSON
}

// Store is the persistence boundary of the ledger. Implementations must make
// AppendObservation atomic: either both rows are stored or neither is.
type Store interface {
	CreateSession(ctx context.Context, s *models.PaymentSession) error
	FindSession(ctx context.Context, orderID string) (*models.PaymentSession, error)
	ListSessions(ctx context.Context, f SessionFilter, limit, offset int) ([]models.PaymentSession, int64, error)
	UpdateSnapshot(ctx context.Context, orderID string, snap Snapshot) error

	AppendObservation(ctx context.Context, detail *models.TransactionDetail, history *models.PaymentStatusHistory) error
	AppendSecurityLog(ctx context.Context, entry *models.SecurityAuditLog) error

	TransactionDetails(ctx context.Context, orderID string) ([]models.TransactionDetail, error)
	StatusHistory(ctx context.Context, orderID string) ([]models.PaymentStatusHistory, error)
	SecurityLogs(ctx context.Context, orderID string) ([]models.SecurityAuditLog, error)
}
