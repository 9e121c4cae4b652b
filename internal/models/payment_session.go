package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentSession is one order registered with the gateway. Rows are never deleted;
// only the status snapshot columns change after creation.
type PaymentSession struct {
	BaseModel
	OrderID           string          `gorm:"size:64;uniqueIndex;not null" json:"order_id"`
	GatewaySessionID  string          `gorm:"size:128" json:"gateway_session_id"`
	CustomerID        string          `gorm:"size:128;index" json:"customer_id"`
	CustomerEmail     string          `gorm:"size:255" json:"customer_email"`
	CustomerPhone     string          `gorm:"size:32" json:"customer_phone"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency          string          `gorm:"size:3;not null;default:INR" json:"currency"`
	Description       string          `json:"description"`
	PaymentLinkWeb    string          `json:"payment_link_web"`
	PaymentLinkMobile string          `json:"payment_link_mobile"`
	SessionPayload    datatypes.JSON  `json:"session_payload"`
	Status            string          `gorm:"size:64;index" json:"status"`
	StatusID          int             `json:"status_id"`
	ServiceRef        string          `gorm:"size:128;index" json:"service_ref"`
	UserID            string          `gorm:"size:128;index" json:"user_id"`
	ExpiresAt         *time.Time      `json:"expires_at"`
}
