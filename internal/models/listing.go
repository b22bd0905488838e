package models

import (
	"fmt"
	"strings"
	"time"
)

type PaymentFrequency string

const (
	FrequencyDaily    PaymentFrequency = "daily"
	FrequencyWeekly   PaymentFrequency = "weekly"
	FrequencyBiweekly PaymentFrequency = "biweekly"
	FrequencyMonthly  PaymentFrequency = "monthly"
)

// Listing is a vehicle listed on the marketplace.
type Listing struct {
	ID               string     `bson:"_id" json:"id"`
	OwnerID          string     `bson:"ownerId" json:"owner_id"`
	Make             string     `bson:"make,omitempty" json:"make,omitempty"`
	Model            string     `bson:"model,omitempty" json:"model,omitempty"`
	Year             int        `bson:"year,omitempty" json:"year,omitempty"`
	Price            float64    `bson:"price,omitempty" json:"price,omitempty"`
	PremiumPaid      bool       `bson:"premiumPaid" json:"premium_paid"`
	PremiumExpiresAt *time.Time `bson:"premiumExpiresAt,omitempty" json:"premium_expires_at,omitempty"`
	CreatedAt        time.Time  `bson:"createdAt" json:"created_at"`
	Sale             *Sale      `bson:"sale,omitempty" json:"sale,omitempty"`
	Financing        *Financing `bson:"financing,omitempty" json:"financing,omitempty"`
}

// Sale describes a pending sale of the vehicle.
type Sale struct {
	Pending             bool    `bson:"pending" json:"pending"`
	BuyerName           string  `bson:"buyerName,omitempty" json:"buyer_name,omitempty"`
	DownPayment         float64 `bson:"downPayment,omitempty" json:"down_payment,omitempty"`
	DownPaymentReceived bool    `bson:"downPaymentReceived" json:"down_payment_received"`
}

// Financing describes a recurring rent-to-own or financing plan.
type Financing struct {
	Active          bool             `bson:"active" json:"active"`
	Frequency       PaymentFrequency `bson:"frequency" json:"frequency"`
	BuyerName       string           `bson:"buyerName,omitempty" json:"buyer_name,omitempty"`
	DailyPrice      float64          `bson:"dailyPrice,omitempty" json:"daily_price,omitempty"`
	WeeklyPrice     float64          `bson:"weeklyPrice,omitempty" json:"weekly_price,omitempty"`
	BiweeklyPrice   float64          `bson:"biweeklyPrice,omitempty" json:"biweekly_price,omitempty"`
	MonthlyPrice    float64          `bson:"monthlyPrice,omitempty" json:"monthly_price,omitempty"`
	StartDate       *time.Time       `bson:"startDate,omitempty" json:"start_date,omitempty"`
	LastPaymentDate *time.Time       `bson:"lastPaymentDate,omitempty" json:"last_payment_date,omitempty"`
}

// PriceFor returns the stored installment for the plan's frequency.
func (f Financing) PriceFor() float64 {
	switch f.Frequency {
	case FrequencyDaily:
		return f.DailyPrice
	case FrequencyWeekly:
		return f.WeeklyPrice
	case FrequencyBiweekly:
		return f.BiweeklyPrice
	case FrequencyMonthly:
		return f.MonthlyPrice
	}
	return 0
}

// Title renders "Year Make Model", skipping missing parts.
func (l Listing) Title() string {
	var parts []string
	if l.Year > 0 {
		parts = append(parts, fmt.Sprint(l.Year))
	}
	if l.Make != "" {
		parts = append(parts, l.Make)
	}
	if l.Model != "" {
		parts = append(parts, l.Model)
	}
	if len(parts) == 0 {
		return "Unknown vehicle"
	}
	return strings.Join(parts, " ")
}
