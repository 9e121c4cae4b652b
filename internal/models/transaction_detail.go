package models

import "gorm.io/datatypes"

// Observation sources.
const (
	SourceWebhook     = "webhook"
	SourcePoll        = "poll"
	SourceStatusCheck = "status_check"
	SourceRefund      = "refund"
)

// TransactionDetail is one observed gateway state, trusted or not.
type TransactionDetail struct {
	LogModel
	OrderID           string         `gorm:"size:64;index;not null" json:"order_id"`
	TxnID             string         `gorm:"size:128" json:"txn_id"`
	Status            string         `gorm:"size:64" json:"status"`
	StatusID          int            `json:"status_id"`
	Source            string         `gorm:"size:32;not null" json:"source"`
	RawResponse       datatypes.JSON `json:"raw_response"`
	RawInbound        datatypes.JSON `json:"raw_inbound"`
	SignatureVerified *bool          `json:"signature_verified"`
	ClientIP          string         `gorm:"size:64" json:"client_ip"`
	UserAgent         string         `json:"user_agent"`
	Note              string         `json:"note"`
}
