package models

import "gorm.io/datatypes"

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	VulnSignatureMismatch = "signature_mismatch"
	VulnMissingSignature  = "missing_signature"
	VulnReplayAttempt     = "replay_attempt"
)

// SecurityAuditLog records a suspicious inbound event.
type SecurityAuditLog struct {
	LogModel
	OrderID           string         `gorm:"size:64;index" json:"order_id"`
	Severity          string         `gorm:"size:16;not null" json:"severity"`
	VulnerabilityType string         `gorm:"size:64;not null" json:"vulnerability_type"`
	Description       string         `json:"description"`
	EventPayload      datatypes.JSON `json:"event_payload"`
	ClientIP          string         `gorm:"size:64" json:"client_ip"`
	UserAgent         string         `json:"user_agent"`
}
