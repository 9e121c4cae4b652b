package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Environments understood by the client.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
	EnvMock       = "mock"
)

const (
	sandboxBaseURL    = "https://smartgatewayuat.hdfcbank.com"
	productionBaseURL = "https://smartgateway.hdfcbank.com"

	statusAPIVersion = "2023-06-30"
	defaultTimeout   = 15 * time.Second
)

// Gateway is the set of outbound operations against the bank.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error)
	GetStatus(ctx context.Context, q StatusQuery) (*StatusResult, error)
	ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// Config holds per-environment endpoint and credential settings.
type Config struct {
	Environment         string
	BaseURL             string
	APIKey              string
	MerchantID          string
	ResponseKey         string
	PaymentPageClientID string
	ReturnURL           string
	Timeout             time.Duration
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("gateway config: %s %s", e.Field, e.Reason)
}

// Validate fails on the first missing credential or unknown environment.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvSandbox, EnvProduction, EnvMock:
	default:
		return &ConfigError{Field: "environment", Reason: fmt.Sprintf("must be one of sandbox, production, mock (got %q)", c.Environment)}
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigError{Field: "api key", Reason: "is required"}
	}
	if strings.TrimSpace(c.MerchantID) == "" {
		return &ConfigError{Field: "merchant id", Reason: "is required"}
	}
	if strings.TrimSpace(c.ResponseKey) == "" {
		return &ConfigError{Field: "response key", Reason: "is required"}
	}
	return nil
}

// ResolvedBaseURL returns the configured base URL or the environment default.
func (c Config) ResolvedBaseURL() string {
	if base := strings.TrimSpace(c.BaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	if c.Environment == EnvProduction {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// Error is a non-2xx response from the bank.
type Error struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s failed: status %d, body: %s", e.Op, e.StatusCode, string(e.Body))
}

// Customer identifies the payer.
type Customer struct {
	ID        string `json:"customer_id" validate:"required,max=128"`
	Email     string `json:"customer_email" validate:"omitempty,email"`
	Phone     string `json:"customer_phone" validate:"omitempty,max=20"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SessionRequest is the input of CreateSession. OrderID is generated when empty.
type SessionRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Customer    Customer
	Description string
	ReturnURL   string
}

type sessionBody struct {
	OrderID             string `json:"order_id"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency,omitempty"`
	CustomerID          string `json:"customer_id"`
	CustomerEmail       string `json:"customer_email,omitempty"`
	CustomerPhone       string `json:"customer_phone,omitempty"`
	FirstName           string `json:"first_name,omitempty"`
	LastName            string `json:"last_name,omitempty"`
	PaymentPageClientID string `json:"payment_page_client_id,omitempty"`
	Action              string `json:"action"`
	ReturnURL           string `json:"return_url,omitempty"`
	Description         string `json:"description,omitempty"`
}

// PaymentLinks are the hosted payment page URLs returned by the bank.
type PaymentLinks struct {
	Web    string `json:"web"`
	Mobile string `json:"mobile,omitempty"`
	Expiry string `json:"expiry,omitempty"`
}

// ExpiresAt parses the link expiry, reporting false when absent or malformed.
func (l PaymentLinks) ExpiresAt() (time.Time, bool) {
	if l.Expiry == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, l.Expiry)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SessionResult is the bank's answer to CreateSession.
type SessionResult struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	PaymentLinks PaymentLinks    `json:"payment_links"`
	SDKPayload   json.RawMessage `json:"sdk_payload,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// StatusQuery selects the order to look up. CustomerID fills x-customerid.
type StatusQuery struct {
	OrderID    string
	CustomerID string
}

// StatusResult is the bank's order status response.
type StatusResult struct {
	OrderID                string          `json:"order_id"`
	ID                     string          `json:"id"`
	Status                 string          `json:"status"`
	StatusID               int             `json:"status_id"`
	TxnID                  string          `json:"txn_id"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	PaymentMethodType      string          `json:"payment_method_type"`
	PaymentMethod          string          `json:"payment_method"`
	PaymentGatewayResponse json.RawMessage `json:"payment_gateway_response,omitempty"`
	Raw                    json.RawMessage `json:"-"`
}

// RefundRequest is the input of ProcessRefund.
type RefundRequest struct {
	OrderID string
	Amount  decimal.Decimal
	Note    string
}

type refundBody struct {
	OrderID         string `json:"order_id"`
	Amount          string `json:"amount"`
	UniqueRequestID string `json:"unique_request_id"`
	Note            string `json:"note,omitempty"`
}

// RefundResult is the typed outcome of a refund submission.
type RefundResult struct {
	Success   bool            `json:"success"`
	OrderID   string          `json:"order_id"`
	RefundID  string          `json:"refund_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	ErrorCode string          `json:"error_code,omitempty"`
	Raw       json.RawMessage `json:"-"`
}
