package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/smartpay/internal/status"
)

// Mock is a deterministic in-process gateway used for the "mock" environment
// and for tests. Orders default to CHARGED unless scripted otherwise.
type Mock struct {
	mu       sync.Mutex
	orders   map[string]*mockOrder
	scripted map[string][]status.Code
	baseURL  string
}

type mockOrder struct {
	amount   decimal.Decimal
	currency string
	statuses []status.Code
	calls    int
}

func NewMock() *Mock {
	return &Mock{
		orders:   make(map[string]*mockOrder),
		scripted: make(map[string][]status.Code),
		baseURL:  "https://mock.smartgateway.local",
	}
}

// Script sets the sequence of status ids returned by successive GetStatus calls
// for orderID. The last id repeats once the sequence is exhausted. An empty
// script is ignored.
func (m *Mock) Script(orderID string, codes ...status.Code) {
	if len(codes) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.statuses = codes
		o.calls = 0
		return
	}
	m.scripted[orderID] = codes
}

func (m *Mock) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = NewOrderID()
	}

	m.mu.Lock()
	codes, ok := m.scripted[orderID]
	if !ok {
		codes = []status.Code{status.CodeCharged}
	}
	delete(m.scripted, orderID)
	m.orders[orderID] = &mockOrder{amount: req.Amount, currency: req.Currency, statuses: codes}
	m.mu.Unlock()

	result := &SessionResult{
		ID:      "mock_" + orderID,
		OrderID: orderID,
		Status:  "NEW",
		PaymentLinks: PaymentLinks{
			Web:    fmt.Sprintf("%s/pay/%s", m.baseURL, orderID),
			Mobile: fmt.Sprintf("%s/pay/%s?mobile=true", m.baseURL, orderID),
			Expiry: time.Now().Add(15 * time.Minute).UTC().Format(time.RFC3339),
		},
	}
	raw, _ := json.Marshal(result)
	result.Raw = raw
	return result, nil
}

func (m *Mock) GetStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	o, ok := m.orders[q.OrderID]
	if !ok {
		m.mu.Unlock()
		return nil, &Error{Op: "get status", StatusCode: 404, Body: []byte(`{"error_message":"order not found"}`)}
	}
	idx := o.calls
	if idx >= len(o.statuses) {
		idx = len(o.statuses) - 1
	}
	code := o.statuses[idx]
	o.calls++
	amount, currency := o.amount, o.currency
	m.mu.Unlock()

	cls, _ := status.Lookup(code)
	result := &StatusResult{
		OrderID:  q.OrderID,
		ID:       "mock_" + q.OrderID,
		Status:   cls.Name,
		StatusID: int(code),
		TxnID:    fmt.Sprintf("mock-txn-%s", q.OrderID),
		Amount:   amount,
		Currency: currency,
	}
	raw, _ := json.Marshal(result)
	result.Raw = raw
	return result, nil
}

func (m *Mock) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &RefundResult{
		Success:  true,
		OrderID:  req.OrderID,
		RefundID: NewRefundReference(),
		Status:   "PENDING",
		Amount:   req.Amount,
	}
	raw, _ := json.Marshal(result)
	result.Raw = raw
	return result, nil
}
