package gateway_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/smartpay/internal/gateway"
	"github.com/example/smartpay/internal/status"
)

func testConfig(baseURL string) gateway.Config {
	return gateway.Config{
		Environment:         gateway.EnvSandbox,
		BaseURL:             baseURL,
		APIKey:              "test_api_key",
		MerchantID:          "SG123",
		ResponseKey:         "response_key",
		PaymentPageClientID: "hdfcmaster",
		ReturnURL:           "https://shop.example/return",
	}
}

func TestNewClient_ConfigErrors(t *testing.T) {
	cases := map[string]func(*gateway.Config){
		"api key":      func(c *gateway.Config) { c.APIKey = "" },
		"merchant id":  func(c *gateway.Config) { c.MerchantID = " " },
		"response key": func(c *gateway.Config) { c.ResponseKey = "" },
		"environment":  func(c *gateway.Config) { c.Environment = "staging" },
	}

	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := testConfig("")
			mutate(&cfg)

			client, err := gateway.NewClient(cfg, zap.NewNop())
			require.Error(t, err)
			assert.Nil(t, client)

			var cfgErr *gateway.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, field, cfgErr.Field)
		})
	}
}

func TestConfig_ResolvedBaseURL(t *testing.T) {
	cfg := testConfig("")
	assert.Equal(t, "https://smartgatewayuat.hdfcbank.com", cfg.ResolvedBaseURL())

	cfg.Environment = gateway.EnvProduction
	assert.Equal(t, "https://smartgateway.hdfcbank.com", cfg.ResolvedBaseURL())

	cfg.BaseURL = "http://localhost:9999/"
	assert.Equal(t, "http://localhost:9999", cfg.ResolvedBaseURL())
}

func TestCreateSession_SendsSandboxRequest(t *testing.T) {
	var (
		gotHeaders http.Header
		gotPath    string
		gotBody    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "ordeh_123",
			"order_id": "ORD1",
			"status": "NEW",
			"payment_links": {"web": "https://smartgatewayuat.hdfcbank.com/pay/ORD1", "expiry": "2026-01-01T10:00:00Z"},
			"sdk_payload": {"requestId": "abc"}
		}`))
	}))
	defer srv.Close()

	client, err := gateway.NewClient(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	res, err := client.CreateSession(context.Background(), gateway.SessionRequest{
		OrderID:  "ORD1",
		Amount:   decimal.NewFromInt(1000),
		Currency: "INR",
		Customer: gateway.Customer{ID: "cust-1", Email: "a@b.test", Phone: "9999999999"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/session", gotPath)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test_api_key:")), gotHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "SG123", gotHeaders.Get("x-merchantid"))
	assert.Equal(t, "cust-1", gotHeaders.Get("x-customerid"))

	assert.Equal(t, "ORD1", gotBody["order_id"])
	assert.Equal(t, "1000.00", gotBody["amount"])
	assert.Equal(t, "INR", gotBody["currency"])
	assert.Equal(t, "paymentPage", gotBody["action"])
	assert.Equal(t, "hdfcmaster", gotBody["payment_page_client_id"])
	assert.Equal(t, "https://shop.example/return", gotBody["return_url"])

	assert.Equal(t, "ordeh_123", res.ID)
	assert.Equal(t, "ORD1", res.OrderID)
	assert.NotEmpty(t, res.PaymentLinks.Web)
	expiry, ok := res.PaymentLinks.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, 2026, expiry.Year())
	assert.NotEmpty(t, res.Raw)
}

func TestCreateSession_GeneratesOrderID(t *testing.T) {
	var sentID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		sentID, _ = body["order_id"].(string)
		_, _ = w.Write([]byte(`{"id":"s1","status":"NEW","payment_links":{"web":"https://x"}}`))
	}))
	defer srv.Close()

	client, err := gateway.NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	res, err := client.CreateSession(context.Background(), gateway.SessionRequest{
		Amount:   decimal.RequireFromString("10.5"),
		Customer: gateway.Customer{ID: "c"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^ORD[0-9A-F]{32}$`, sentID)
	assert.Equal(t, sentID, res.OrderID)
}

func TestGetStatus_Charged(t *testing.T) {
	var gotHeaders http.Header
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		gotHeaders = r.Header.Clone()
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{
			"order_id": "ORD1",
			"id": "ordeh_123",
			"status": "CHARGED",
			"status_id": 21,
			"txn_id": "txn-9",
			"amount": 1000,
			"currency": "INR",
			"payment_method_type": "CARD",
			"payment_method": "VISA",
			"payment_gateway_response": {"resp_code": "00"}
		}`))
	}))
	defer srv.Close()

	client, err := gateway.NewClient(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	res, err := client.GetStatus(context.Background(), gateway.StatusQuery{OrderID: "ORD1", CustomerID: "cust-1"})
	require.NoError(t, err)

	assert.Equal(t, "/orders/ORD1", gotPath)
	assert.Equal(t, "2023-06-30", gotHeaders.Get("version"))
	assert.Equal(t, "cust-1", gotHeaders.Get("x-customerid"))

	assert.Equal(t, 21, res.StatusID)
	assert.Equal(t, "CHARGED", res.Status)
	assert.Equal(t, "txn-9", res.TxnID)
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Amount))
	assert.JSONEq(t, `{"resp_code":"00"}`, string(res.PaymentGatewayResponse))

	cls := status.NewClassifier(nil).Classify(res.StatusID)
	assert.True(t, cls.IsTerminal)
	assert.Equal(t, status.OutcomeSuccess, cls.Outcome)
}

func TestGetStatus_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_message":"bad key"}`))
	}))
	defer srv.Close()

	client, err := gateway.NewClient(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetStatus(context.Background(), gateway.StatusQuery{OrderID: "ORD1"})
	require.Error(t, err)

	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Equal(t, "get status", gwErr.Op)
	assert.Contains(t, string(gwErr.Body), "bad key")
}

func TestGetStatus_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := gateway.NewClient(testConfig(url), zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetStatus(context.Background(), gateway.StatusQuery{OrderID: "ORD1"})
	require.Error(t, err)

	var gwErr *gateway.Error
	assert.False(t, errors.As(err, &gwErr))
}

func TestProcessRefund(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		id, _ := body["unique_request_id"].(string)
		_, _ = w.Write([]byte(`{"order_id":"ORD1","status":"CHARGED","refunds":[{"unique_request_id":"` + id + `","status":"PENDING"}]}`))
	}))
	defer srv.Close()

	client, err := gateway.NewClient(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	res, err := client.ProcessRefund(context.Background(), gateway.RefundRequest{
		OrderID: "ORD1",
		Amount:  decimal.RequireFromString("250"),
		Note:    "customer request",
	})
	require.NoError(t, err)

	assert.Equal(t, "250.00", body["amount"])
	assert.Regexp(t, `^RFD[0-9A-F]{32}$`, res.RefundID)
	assert.Equal(t, res.RefundID, body["unique_request_id"])
	assert.Equal(t, "PENDING", res.Status)
	assert.True(t, res.Success)
}

func TestNewOrderID_UniqueUnderConcurrency(t *testing.T) {
	const total = 10000
	const workers = 16

	pattern := regexp.MustCompile(`^ORD[0-9A-F]{32}$`)
	ids := make(chan string, total)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				ids <- gateway.NewOrderID()
			}
		}(total / workers)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, total)
	for id := range ids {
		require.True(t, pattern.MatchString(id), id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate order id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, (total/workers)*workers)
}

func TestMock_ScriptedStatuses(t *testing.T) {
	m := gateway.NewMock()
	ctx := context.Background()

	m.Script("ORD-A", status.CodePendingVBV, status.CodeAuthorizing, status.CodeCharged)
	_, err := m.CreateSession(ctx, gateway.SessionRequest{OrderID: "ORD-A", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	var got []int
	for i := 0; i < 4; i++ {
		res, err := m.GetStatus(ctx, gateway.StatusQuery{OrderID: "ORD-A"})
		require.NoError(t, err)
		got = append(got, res.StatusID)
	}
	assert.Equal(t, []int{23, 28, 21, 21}, got)

	_, err = m.GetStatus(ctx, gateway.StatusQuery{OrderID: "missing"})
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
}

func TestMock_EmptyScriptKeepsDefault(t *testing.T) {
	m := gateway.NewMock()
	ctx := context.Background()

	m.Script("ORD-B")
	_, err := m.CreateSession(ctx, gateway.SessionRequest{OrderID: "ORD-B", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	m.Script("ORD-B")

	res, err := m.GetStatus(ctx, gateway.StatusQuery{OrderID: "ORD-B"})
	require.NoError(t, err)
	assert.Equal(t, int(status.CodeCharged), res.StatusID)
}
