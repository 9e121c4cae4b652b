package gateway

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewOrderID returns a globally unique order id. UUIDv7 combines a millisecond
// timestamp, a per-process monotonic sequence and random bits.
func NewOrderID() string {
	return newReference("ORD")
}

// NewRefundReference returns a unique refund request id.
func NewRefundReference() string {
	return newReference("RFD")
}

func newReference(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + strings.ToUpper(hex.EncodeToString(id[:]))
}
