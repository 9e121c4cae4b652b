package models

// PaymentStatusHistory records each trusted status observation for an order.
type PaymentStatusHistory struct {
	LogModel
	OrderID          string `gorm:"size:64;index;not null" json:"order_id"`
	Status           string `gorm:"size:64" json:"status"`
	PreviousStatus   string `gorm:"size:64" json:"previous_status"`
	StatusID         int    `json:"status_id"`
	PreviousStatusID int    `json:"previous_status_id"`
	ChangedBy        string `gorm:"size:64" json:"changed_by"`
	Note             string `json:"note"`
}

func (PaymentStatusHistory) TableName() string {
	return "payment_status_history"
}
