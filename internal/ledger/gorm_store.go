package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/example/smartpay/internal/models"
)

const newestFirst = "created_at DESC, id DESC"

// GormStore persists the ledger through gorm (postgres in production).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateSession(ctx context.Context, session *models.PaymentSession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *GormStore) FindSession(ctx context.Context, orderID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

func (s *GormStore) ListSessions(ctx context.Context, f SessionFilter, limit, offset int) ([]models.PaymentSession, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.PaymentSession{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.CustomerID != "" {
		query = query.Where("customer_id = ?", f.CustomerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	var sessions []models.PaymentSession
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *GormStore) UpdateSnapshot(ctx context.Context, orderID string, snap Snapshot) error {
	updates := map[string]interface{}{
		"status":    snap.Status,
		"status_id": snap.StatusID,
	}
	if len(snap.Payload) > 0 {
		updates["session_payload"] = snap.Payload
	}

	res := s.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("order_id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AppendObservation(ctx context.Context, detail *models.TransactionDetail, history *models.PaymentStatusHistory) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(detail).Error; err != nil {
			return fmt.Errorf("append transaction detail: %w", err)
		}
		if history == nil {
			return nil
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("append status history: %w", err)
		}
		return nil
	})
}

func (s *GormStore) AppendSecurityLog(ctx context.Context, entry *models.SecurityAuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append security log: %w", err)
	}
	return nil
}

func (s *GormStore) TransactionDetails(ctx context.Context, orderID string) ([]models.TransactionDetail, error) {
	var rows []models.TransactionDetail
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order(newestFirst).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load transaction details: %w", err)
	}
	return rows, nil
}

func (s *GormStore) StatusHistory(ctx context.Context, orderID string) ([]models.PaymentStatusHistory, error) {
	var rows []models.PaymentStatusHistory
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order(newestFirst).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	return rows, nil
}

func (s *GormStore) SecurityLogs(ctx context.Context, orderID string) ([]models.SecurityAuditLog, error) {
	var rows []models.SecurityAuditLog
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order(newestFirst).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load security logs: %w", err)
	}
	return rows, nil
}
