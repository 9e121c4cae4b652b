package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/smartpay/internal/models"
)

// MemoryStore keeps the ledger in process memory. It backs the mock
// environment when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.PaymentSession
	details  []models.TransactionDetail
	history  []models.PaymentStatusHistory
	security []models.SecurityAuditLog
	nextID   uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.PaymentSession)}
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.PaymentSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.OrderID]; ok {
		return ErrDuplicateSession
	}
	if err := session.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now()
	session.CreatedAt, session.UpdatedAt = now, now

	cp := *session
	s.sessions[session.OrderID] = &cp
	return nil
}

func (s *MemoryStore) FindSession(ctx context.Context, orderID string) (*models.PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, f SessionFilter, limit, offset int) ([]models.PaymentSession, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	matched := make([]models.PaymentSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if f.Status != "" && session.Status != f.Status {
			continue
		}
		if f.CustomerID != "" && session.CustomerID != f.CustomerID {
			continue
		}
		matched = append(matched, *session)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.PaymentSession{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) UpdateSnapshot(ctx context.Context, orderID string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[orderID]
	if !ok {
		return ErrNotFound
	}
	session.Status = snap.Status
	session.StatusID = snap.StatusID
	if len(snap.Payload) > 0 {
		session.SessionPayload = snap.Payload
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AppendObservation(ctx context.Context, detail *models.TransactionDetail, history *models.PaymentStatusHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stamp(&detail.LogModel)
	s.details = append(s.details, *detail)
	if history != nil {
		s.stamp(&history.LogModel)
		s.history = append(s.history, *history)
	}
	return nil
}

func (s *MemoryStore) AppendSecurityLog(ctx context.Context, entry *models.SecurityAuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stamp(&entry.LogModel)
	s.security = append(s.security, *entry)
	return nil
}

func (s *MemoryStore) TransactionDetails(ctx context.Context, orderID string) ([]models.TransactionDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []models.TransactionDetail
	for i := len(s.details) - 1; i >= 0; i-- {
		if s.details[i].OrderID == orderID {
			rows = append(rows, s.details[i])
		}
	}
	return rows, nil
}

func (s *MemoryStore) StatusHistory(ctx context.Context, orderID string) ([]models.PaymentStatusHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []models.PaymentStatusHistory
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].OrderID == orderID {
			rows = append(rows, s.history[i])
		}
	}
	return rows, nil
}

func (s *MemoryStore) SecurityLogs(ctx context.Context, orderID string) ([]models.SecurityAuditLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []models.SecurityAuditLog
	for i := len(s.security) - 1; i >= 0; i-- {
		if s.security[i].OrderID == orderID {
			rows = append(rows, s.security[i])
		}
	}
	return rows, nil
}

// stamp assigns the next id and creation time; callers hold mu.
func (s *MemoryStore) stamp(m *models.LogModel) {
	s.nextID++
	m.ID = s.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
}
