package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/example/smartpay/internal/models"
	"github.com/example/smartpay/internal/status"
)

// Ledger is the only writer of payment records. Observations of one order are
// serialized; inserts and reads go straight to the store.
type Ledger struct {
	store  Store
	logger *zap.Logger
	orders *orderLocks
}

func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		logger: logger.With(zap.String("component", "ledger")),
		orders: newOrderLocks(),
	}
}

// SessionRecord is a newly created gateway session.
type SessionRecord struct {
	OrderID           string
	GatewaySessionID  string
	CustomerID        string
	CustomerEmail     string
	CustomerPhone     string
	Amount            decimal.Decimal
	Currency          string
	Description       string
	PaymentLinkWeb    string
	PaymentLinkMobile string
	Payload           json.RawMessage
	Status            string
	StatusID          int
	ServiceRef        string
	UserID            string
	ExpiresAt         *time.Time
}

// Observation is one status reading of an order. SignatureVerified is nil when
// the reading did not come from a signed callback.
type Observation struct {
	OrderID           string
	TxnID             string
	Status            string
	StatusID          int
	Source            string
	RawResponse       json.RawMessage
	RawInbound        json.RawMessage
	SignatureVerified *bool
	ClientIP          string
	UserAgent         string
	ChangedBy         string
	Note              string
}

// Trusted reports whether the observation may affect history and the snapshot.
func (o Observation) Trusted() bool {
	return o.SignatureVerified == nil || *o.SignatureVerified
}

// Recorded is the outcome of RecordObservation. StatusChanged is set only when
// the session snapshot moved to a different status id.
type Recorded struct {
	Detail        *models.TransactionDetail
	StatusChanged bool
}

// SecurityEvent is a suspicious inbound event.
type SecurityEvent struct {
	OrderID     string
	Severity    string
	Type        string
	Description string
	Payload     json.RawMessage
	ClientIP    string
	UserAgent   string
}

// AuditTrail is everything recorded for one order, each list newest first.
type AuditTrail struct {
	OrderID      string                        `json:"order_id"`
	Session      *models.PaymentSession        `json:"session"`
	Transactions []models.TransactionDetail    `json:"transactions"`
	History      []models.PaymentStatusHistory `json:"status_history"`
	SecurityLogs []models.SecurityAuditLog     `json:"security_logs"`
}

func (l *Ledger) RecordSession(ctx context.Context, rec SessionRecord) (*models.PaymentSession, error) {
	session := &models.PaymentSession{
		OrderID:           rec.OrderID,
		GatewaySessionID:  rec.GatewaySessionID,
		CustomerID:        rec.CustomerID,
		CustomerEmail:     rec.CustomerEmail,
		CustomerPhone:     rec.CustomerPhone,
		Amount:            rec.Amount,
		Currency:          rec.Currency,
		Description:       rec.Description,
		PaymentLinkWeb:    rec.PaymentLinkWeb,
		PaymentLinkMobile: rec.PaymentLinkMobile,
		SessionPayload:    jsonColumn(rec.Payload),
		Status:            rec.Status,
		StatusID:          rec.StatusID,
		ServiceRef:        rec.ServiceRef,
		UserID:            rec.UserID,
		ExpiresAt:         rec.ExpiresAt,
	}

	if err := l.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("record session %s: %w", rec.OrderID, err)
	}
	return session, nil
}

// RecordObservation appends the transaction detail and, for trusted readings,
// the status history row in one store transaction. The session snapshot is
// refreshed afterwards; a failure there is logged and does not fail the call.
func (l *Ledger) RecordObservation(ctx context.Context, obs Observation) (*Recorded, error) {
	unlock := l.orders.lock(obs.OrderID)
	defer unlock()

	detail := &models.TransactionDetail{
		OrderID:           obs.OrderID,
		TxnID:             obs.TxnID,
		Status:            obs.Status,
		StatusID:          obs.StatusID,
		Source:            obs.Source,
		RawResponse:       jsonColumn(obs.RawResponse),
		RawInbound:        jsonColumn(obs.RawInbound),
		SignatureVerified: obs.SignatureVerified,
		ClientIP:          obs.ClientIP,
		UserAgent:         obs.UserAgent,
		Note:              obs.Note,
	}

	if !obs.Trusted() {
		if err := l.store.AppendObservation(ctx, detail, nil); err != nil {
			return nil, fmt.Errorf("record observation %s: %w", obs.OrderID, err)
		}
		return &Recorded{Detail: detail}, nil
	}

	session, err := l.store.FindSession(ctx, obs.OrderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("record observation %s: %w", obs.OrderID, err)
	}

	history := &models.PaymentStatusHistory{
		OrderID:   obs.OrderID,
		Status:    obs.Status,
		StatusID:  obs.StatusID,
		ChangedBy: obs.ChangedBy,
		Note:      obs.Note,
	}
	if history.ChangedBy == "" {
		history.ChangedBy = obs.Source
	}
	if session != nil {
		history.PreviousStatus = session.Status
		history.PreviousStatusID = session.StatusID
	}

	if err := l.store.AppendObservation(ctx, detail, history); err != nil {
		return nil, fmt.Errorf("record observation %s: %w", obs.OrderID, err)
	}

	if session == nil {
		l.logger.Warn("Observation recorded for unknown session", zap.String("order_id", obs.OrderID))
		return &Recorded{Detail: detail}, nil
	}
	if status.IsTerminal(session.StatusID) && !status.IsTerminal(obs.StatusID) {
		l.logger.Info("Keeping terminal snapshot",
			zap.String("order_id", obs.OrderID),
			zap.Int("snapshot_status_id", session.StatusID),
			zap.Int("observed_status_id", obs.StatusID))
		return &Recorded{Detail: detail}, nil
	}

	snap := Snapshot{Status: obs.Status, StatusID: obs.StatusID, Payload: jsonColumn(obs.RawResponse)}
	if err := l.store.UpdateSnapshot(ctx, obs.OrderID, snap); err != nil {
		l.logger.Error("Failed to update session snapshot",
			zap.String("order_id", obs.OrderID),
			zap.Int("status_id", obs.StatusID),
			zap.Error(err))
		return &Recorded{Detail: detail}, nil
	}
	return &Recorded{Detail: detail, StatusChanged: session.StatusID != obs.StatusID}, nil
}

func (l *Ledger) RecordSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	entry := &models.SecurityAuditLog{
		OrderID:           ev.OrderID,
		Severity:          ev.Severity,
		VulnerabilityType: ev.Type,
		Description:       ev.Description,
		EventPayload:      jsonColumn(ev.Payload),
		ClientIP:          ev.ClientIP,
		UserAgent:         ev.UserAgent,
	}

	if err := l.store.AppendSecurityLog(ctx, entry); err != nil {
		return fmt.Errorf("record security event %s: %w", ev.OrderID, err)
	}
	l.logger.Warn("Security event recorded",
		zap.String("order_id", ev.OrderID),
		zap.String("severity", ev.Severity),
		zap.String("type", ev.Type))
	return nil
}

func (l *Ledger) GetSession(ctx context.Context, orderID string) (*models.PaymentSession, error) {
	return l.store.FindSession(ctx, orderID)
}

func (l *Ledger) ListSessions(ctx context.Context, f SessionFilter, limit, offset int) ([]models.PaymentSession, int64, error) {
	return l.store.ListSessions(ctx, f, limit, offset)
}

// GetAuditTrail loads the four record kinds concurrently. It returns
// ErrNotFound when nothing at all is recorded for orderID.
func (l *Ledger) GetAuditTrail(ctx context.Context, orderID string) (*AuditTrail, error) {
	trail := &AuditTrail{OrderID: orderID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		session, err := l.store.FindSession(gctx, orderID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		trail.Session = session
		return err
	})
	g.Go(func() error {
		rows, err := l.store.TransactionDetails(gctx, orderID)
		trail.Transactions = rows
		return err
	})
	g.Go(func() error {
		rows, err := l.store.StatusHistory(gctx, orderID)
		trail.History = rows
		return err
	})
	g.Go(func() error {
		rows, err := l.store.SecurityLogs(gctx, orderID)
		trail.SecurityLogs = rows
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("audit trail %s: %w", orderID, err)
	}
	if trail.Session == nil && len(trail.Transactions) == 0 && len(trail.History) == 0 && len(trail.SecurityLogs) == 0 {
		return nil, ErrNotFound
	}
	return trail, nil
}

// jsonColumn keeps raw payloads storable in a jsonb column: invalid JSON is
// stored as a JSON string.
func jsonColumn(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return datatypes.JSON(quoted)
}
