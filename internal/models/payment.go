package models

import "time"

type PaymentStatus string

const (
	PaymentOverdue            PaymentStatus = "overdue"
	PaymentDueToday           PaymentStatus = "due-today"
	PaymentDueTomorrow        PaymentStatus = "due-tomorrow"
	PaymentPendingDownPayment PaymentStatus = "pending-down-payment"
)

// PaymentAlert is a derived reminder. It is recomputed on every scan and
// never stored.
type PaymentAlert struct {
	VehicleID     string           `json:"vehicle_id"`
	VehicleTitle  string           `json:"vehicle_title"`
	BuyerName     string           `json:"buyer_name"`
	PaymentAmount float64          `json:"payment_amount"`
	DueDate       time.Time        `json:"due_date"`
	Status        PaymentStatus    `json:"status"`
	DaysOverdue   int              `json:"days_overdue,omitempty"`
	Frequency     PaymentFrequency `json:"frequency,omitempty"`
}

// PaymentScanResult is the full output of one scan cycle.
type PaymentScanResult struct {
	PendingDownPayments   []PaymentRecord      `json:"pending_down_payments"`
	Overdue               []PaymentRecord      `json:"overdue"`
	DueToday              []PaymentRecord      `json:"due_today"`
	DueTomorrow           []PaymentRecord      `json:"due_tomorrow"`
	ExpiringSubscriptions []SubscriptionRecord `json:"expiring_subscriptions"`
	ScannedAt             time.Time            `json:"scanned_at"`
}

// Records returns every payment record, most urgent first.
func (r PaymentScanResult) Records() []PaymentRecord {
	out := make([]PaymentRecord, 0, r.Count())
	out = append(out, r.Overdue...)
	out = append(out, r.DueToday...)
	out = append(out, r.PendingDownPayments...)
	out = append(out, r.DueTomorrow...)
	return out
}

// Count is the number of payment alerts across every bucket.
func (r PaymentScanResult) Count() int {
	return len(r.PendingDownPayments) + len(r.Overdue) + len(r.DueToday) + len(r.DueTomorrow)
}
