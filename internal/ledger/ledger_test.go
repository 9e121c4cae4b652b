package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/smartpay/internal/ledger"
	"github.com/example/smartpay/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func seedSession(t *testing.T, l *ledger.Ledger, orderID string) {
	t.Helper()
	_, err := l.RecordSession(context.Background(), ledger.SessionRecord{
		OrderID:    orderID,
		CustomerID: "cust-1",
		Amount:     decimal.NewFromInt(1000),
		Currency:   "INR",
		Status:     "NEW",
		StatusID:   10,
	})
	require.NoError(t, err)
}

func TestRecordSession_Duplicate(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	seedSession(t, l, "ORD1")

	_, err := l.RecordSession(context.Background(), ledger.SessionRecord{OrderID: "ORD1"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateSession)
}

func TestRecordObservation_UpdatesSnapshotAndHistory(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	seedSession(t, l, "ORD1")

	_, err := l.RecordObservation(ctx, ledger.Observation{
		OrderID:     "ORD1",
		Status:      "CHARGED",
		StatusID:    21,
		Source:      models.SourcePoll,
		RawResponse: json.RawMessage(`{"status":"CHARGED"}`),
	})
	require.NoError(t, err)

	session, err := l.GetSession(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, 21, session.StatusID)
	assert.Equal(t, "CHARGED", session.Status)
	assert.JSONEq(t, `{"status":"CHARGED"}`, string(session.SessionPayload))

	trail, err := l.GetAuditTrail(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, trail.History, 1)
	assert.Equal(t, "NEW", trail.History[0].PreviousStatus)
	assert.Equal(t, 10, trail.History[0].PreviousStatusID)
	assert.Equal(t, models.SourcePoll, trail.History[0].ChangedBy)
	require.Len(t, trail.Transactions, 1)
	assert.Nil(t, trail.Transactions[0].SignatureVerified)
}

func TestRecordObservation_InterleavedWritesAllPersist(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	seedSession(t, l, "ORD1")

	var wg sync.WaitGroup
	sources := []string{models.SourceWebhook, models.SourcePoll}
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			_, err := l.RecordObservation(ctx, ledger.Observation{
				OrderID:  "ORD1",
				Status:   "PENDING_VBV",
				StatusID: 23,
				Source:   src,
				Note:     fmt.Sprintf("writer %d", i),
			})
			assert.NoError(t, err)
		}(i, src)
	}
	wg.Wait()

	trail, err := l.GetAuditTrail(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, trail.Transactions, 2)
	require.Len(t, trail.History, 2)
	assert.Greater(t, trail.Transactions[0].ID, trail.Transactions[1].ID, "newest first")
	assert.ElementsMatch(t, sources, []string{trail.Transactions[0].Source, trail.Transactions[1].Source})
}

func TestRecordObservation_TerminalSnapshotNotRegressed(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	seedSession(t, l, "ORD1")

	_, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "CHARGED", StatusID: 21, Source: models.SourceWebhook})
	require.NoError(t, err)
	_, err = l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "PENDING_VBV", StatusID: 23, Source: models.SourceWebhook})
	require.NoError(t, err)

	session, err := l.GetSession(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, 21, session.StatusID)

	trail, err := l.GetAuditTrail(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, trail.History, 2)
	assert.Equal(t, 23, trail.History[0].StatusID)
	assert.Equal(t, 21, trail.History[0].PreviousStatusID)
}

func TestRecordObservation_UnverifiedWritesDetailOnly(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	seedSession(t, l, "ORD1")

	_, err := l.RecordObservation(ctx, ledger.Observation{
		OrderID:           "ORD1",
		Status:            "CHARGED",
		StatusID:          21,
		Source:            models.SourceWebhook,
		RawInbound:        json.RawMessage(`{"order_id":"ORD1","signature":"forged"}`),
		SignatureVerified: boolPtr(false),
	})
	require.NoError(t, err)

	session, err := l.GetSession(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, 10, session.StatusID)

	trail, err := l.GetAuditTrail(ctx, "ORD1")
	require.NoError(t, err)
	assert.Empty(t, trail.History)
	require.Len(t, trail.Transactions, 1)
	require.NotNil(t, trail.Transactions[0].SignatureVerified)
	assert.False(t, *trail.Transactions[0].SignatureVerified)
}

type failingSnapshotStore struct {
	ledger.Store
}

func (failingSnapshotStore) UpdateSnapshot(context.Context, string, ledger.Snapshot) error {
	return errors.New("connection reset")
}

func TestRecordObservation_SnapshotFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	store := failingSnapshotStore{Store: ledger.NewMemoryStore()}
	l := ledger.New(store, zap.New(core))
	seedSession(t, l, "ORD1")

	_, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "CHARGED", StatusID: 21, Source: models.SourcePoll})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("Failed to update session snapshot").Len())
	trail, err := l.GetAuditTrail(ctx, "ORD1")
	require.NoError(t, err)
	assert.Len(t, trail.History, 1)
}

type failingAppendStore struct {
	ledger.Store
}

func (failingAppendStore) AppendObservation(context.Context, *models.TransactionDetail, *models.PaymentStatusHistory) error {
	return errors.New("disk full")
}

func TestRecordObservation_AppendFailurePropagates(t *testing.T) {
	l := ledger.New(failingAppendStore{Store: ledger.NewMemoryStore()}, zap.NewNop())
	seedSession(t, l, "ORD1")

	_, err := l.RecordObservation(context.Background(), ledger.Observation{OrderID: "ORD1", StatusID: 21, Source: models.SourcePoll})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRecordSecurityEvent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())

	err := l.RecordSecurityEvent(ctx, ledger.SecurityEvent{
		OrderID:  "ORD9",
		Severity: models.SeverityHigh,
		Type:     models.VulnSignatureMismatch,
		Payload:  json.RawMessage(`not json`),
	})
	require.NoError(t, err)

	trail, err := l.GetAuditTrail(ctx, "ORD9")
	require.NoError(t, err)
	assert.Nil(t, trail.Session)
	require.Len(t, trail.SecurityLogs, 1)
	assert.Equal(t, models.SeverityHigh, trail.SecurityLogs[0].Severity)
	assert.JSONEq(t, `"not json"`, string(trail.SecurityLogs[0].EventPayload))
}

func TestGetAuditTrail_NotFound(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())

	_, err := l.GetAuditTrail(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListSessions_FilterAndPage(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	for i := 0; i < 5; i++ {
		seedSession(t, l, fmt.Sprintf("ORD%d", i))
	}
	_, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD2", Status: "CHARGED", StatusID: 21, Source: models.SourcePoll})
	require.NoError(t, err)

	page, total, err := l.ListSessions(ctx, ledger.SessionFilter{}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	charged, total, err := l.ListSessions(ctx, ledger.SessionFilter{Status: "CHARGED"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, charged, 1)
	assert.Equal(t, "ORD2", charged[0].OrderID)
}

func TestRecordObservation_ReportsStatusChangeOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	seedSession(t, l, "ORD1")

	rec, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "PENDING_VBV", StatusID: 23, Source: models.SourcePoll})
	require.NoError(t, err)
	assert.True(t, rec.StatusChanged)
	require.NotNil(t, rec.Detail)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "CHARGED", StatusID: 21, Source: models.SourceStatusCheck})
			assert.NoError(t, err)
			if err == nil && rec.StatusChanged {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, changes)

	rec, err = l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "PENDING_VBV", StatusID: 23, Source: models.SourceWebhook})
	require.NoError(t, err)
	assert.False(t, rec.StatusChanged)
}

func TestRecordObservation_SnapshotFailureIsNotAChange(t *testing.T) {
	l := ledger.New(failingSnapshotStore{Store: ledger.NewMemoryStore()}, zap.NewNop())
	seedSession(t, l, "ORD1")

	rec, err := l.RecordObservation(context.Background(), ledger.Observation{OrderID: "ORD1", Status: "CHARGED", StatusID: 21, Source: models.SourcePoll})
	require.NoError(t, err)
	assert.False(t, rec.StatusChanged)
}

type blockingAppendStore struct {
	ledger.Store
	blockOrder string
	entered    chan struct{}
	release    chan struct{}
}

func (s blockingAppendStore) AppendObservation(ctx context.Context, d *models.TransactionDetail, h *models.PaymentStatusHistory) error {
	if d.OrderID == s.blockOrder {
		close(s.entered)
		<-s.release
	}
	return s.Store.AppendObservation(ctx, d, h)
}

func TestRecordObservation_OrdersDoNotBlockEachOther(t *testing.T) {
	ctx := context.Background()
	store := blockingAppendStore{
		Store:      ledger.NewMemoryStore(),
		blockOrder: "ORD1",
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	l := ledger.New(store, zap.NewNop())
	seedSession(t, l, "ORD1")
	seedSession(t, l, "ORD2")

	done := make(chan error, 1)
	go func() {
		_, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD1", Status: "CHARGED", StatusID: 21, Source: models.SourcePoll})
		done <- err
	}()
	<-store.entered

	_, err := l.RecordObservation(ctx, ledger.Observation{OrderID: "ORD2", Status: "CHARGED", StatusID: 21, Source: models.SourcePoll})
	require.NoError(t, err)

	err = l.RecordSecurityEvent(ctx, ledger.SecurityEvent{OrderID: "ORD1", Severity: models.SeverityHigh, Type: models.VulnSignatureMismatch})
	require.NoError(t, err)

	close(store.release)
	require.NoError(t, <-done)
}
