package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
)

const unknownText = "Unknown"

// NotificationOptions overrides the derived parts of a notification.
type NotificationOptions struct {
	ID        string
	Timestamp *time.Time
	IsMissed  bool
}

// routes is the fixed UI destination for each notification type.
var routes = map[models.NotificationType]models.Action{
	models.TypeUser:         {Tab: models.DashboardTabAdmin, SubTab: "users"},
	models.TypeListing:      {Tab: models.DashboardTabAdmin, SubTab: "listings"},
	models.TypePhoto:        {Tab: models.DashboardTabAdmin, SubTab: "photo-requests"},
	models.TypePremium:      {Tab: models.DashboardTabAdmin, SubTab: "premium-requests"},
	models.TypeRent:         {Tab: models.DashboardTabMyProperties, SubTab: "financing"},
	models.TypeSubscription: {Tab: models.DashboardTabMyProperties, SubTab: "premium"},
}

// anchorPrefix is the DOM id prefix the UI uses for the row of a record.
var anchorPrefix = map[models.NotificationType]string{
	models.TypeUser:         "user-",
	models.TypeListing:      "listing-",
	models.TypePhoto:        "photo-request-",
	models.TypePremium:      "premium-request-",
	models.TypeRent:         "vehicle-",
	models.TypeSubscription: "vehicle-",
}

// NotificationID synthesizes the stable ID of a notification.
func NotificationID(t models.NotificationType, sourceID string) string {
	if sourceID == "" {
		sourceID = "unknown"
	}
	return fmt.Sprintf("%s-%s", t, sourceID)
}

// NewNotification turns a raw record into a notification. It never fails: a
// nil or mismatched record produces placeholder text.
func NewNotification(t models.NotificationType, rec models.Record, opts NotificationOptions) models.Notification {
	var sourceID string
	var ts time.Time
	if rec != nil {
		sourceID = rec.SourceID()
		ts = rec.OccurredAt()
	}

	n := models.Notification{
		ID:        NotificationID(t, sourceID),
		Type:      t,
		Timestamp: ts,
		IsMissed:  opts.IsMissed,
		Urgency:   models.UrgencyInfo,
		Data:      rec,
	}
	if opts.ID != "" {
		n.ID = opts.ID
	}
	if opts.Timestamp != nil {
		n.Timestamp = *opts.Timestamp
	}

	if action, ok := routes[t]; ok {
		n.Action = action
		if sourceID != "" {
			n.Action.Anchor = anchorPrefix[t] + sourceID
		}
	} else {
		n.Action = models.Action{Tab: models.DashboardTabMyProperties}
	}

	switch t {
	case models.TypeUser:
		r, _ := rec.(models.UserRecord)
		n.Title = "New user registered"
		n.Subtitle = userLabel(r)
	case models.TypeListing:
		r, _ := rec.(models.ListingRecord)
		n.Title = "New listing: " + r.Title()
		n.Subtitle = priceLabel(r.Price)
		if r.PremiumPaid {
			n.Subtitle = "Premium · " + n.Subtitle
			n.Urgency = models.UrgencyWarning
		}
	case models.TypePhoto:
		r, _ := rec.(models.PhotoRequestRecord)
		n.Title = "Photo request"
		n.Subtitle = orUnknown(r.VehicleTitle, "Unknown vehicle") + " · " + orUnknown(r.Requester, unknownText)
		if r.Location != "" {
			n.Subtitle += " · " + r.Location
		}
	case models.TypePremium:
		r, _ := rec.(models.PremiumRequestRecord)
		n.Title = "Premium request"
		n.Subtitle = orUnknown(r.VehicleTitle, "Unknown vehicle") + " · " + orUnknown(r.Plan, "Standard")
		if r.Amount > 0 {
			n.Subtitle += " · " + formatMoney(r.Amount)
		}
		n.Urgency = models.UrgencyWarning
	case models.TypeRent:
		r, _ := rec.(models.PaymentRecord)
		n.Title = paymentTitle(r.Alert)
		n.Subtitle = orUnknown(r.Alert.BuyerName, unknownText) + " · " +
			orUnknown(r.Alert.VehicleTitle, "Unknown vehicle") + " · " + formatMoney(r.Alert.PaymentAmount)
		n.Urgency = paymentUrgency(r.Alert.Status)
	case models.TypeSubscription:
		r, _ := rec.(models.SubscriptionRecord)
		n.Title = "Premium placement ending"
		n.Subtitle = r.Listing.Title() + " · " + expiryLabel(r.DaysLeft)
		n.Urgency = models.UrgencyWarning
	default:
		n.Title = "Notification"
		n.Subtitle = unknownText
	}
	return n
}

func paymentTitle(a models.PaymentAlert) string {
	switch a.Status {
	case models.PaymentOverdue:
		if a.DaysOverdue == 1 {
			return "Payment overdue (1 day)"
		}
		return fmt.Sprintf("Payment overdue (%d days)", a.DaysOverdue)
	case models.PaymentDueToday:
		return "Payment due today"
	case models.PaymentDueTomorrow:
		return "Payment due tomorrow"
	case models.PaymentPendingDownPayment:
		return "Down payment pending"
	}
	return "Payment reminder"
}

func paymentUrgency(s models.PaymentStatus) models.Urgency {
	switch s {
	case models.PaymentOverdue:
		return models.UrgencyCritical
	case models.PaymentDueToday, models.PaymentPendingDownPayment:
		return models.UrgencyWarning
	}
	return models.UrgencyInfo
}

// ReminderText re-derives a copyable payment reminder from the record kept on
// a rent notification. The installment is recomputed from the stored
// financing plan rather than taken from display text.
func ReminderText(n models.Notification, now time.Time) (string, error) {
	r, ok := n.Data.(models.PaymentRecord)
	if !ok || n.Type != models.TypeRent {
		return "", ErrNoReminder
	}

	alert := r.Alert
	buyer := orUnknown(alert.BuyerName, "there")
	vehicle := orUnknown(alert.VehicleTitle, r.Listing.Title())

	if alert.Status == models.PaymentPendingDownPayment {
		amount := alert.PaymentAmount
		if r.Listing.Sale != nil && r.Listing.Sale.DownPayment > 0 {
			amount = r.Listing.Sale.DownPayment
		}
		return fmt.Sprintf("Hi %s, this is a reminder that the down payment of %s for the %s is still pending.",
			buyer, formatMoney(amount), vehicle), nil
	}

	amount := alert.PaymentAmount
	frequency := string(alert.Frequency)
	if f := r.Listing.Financing; f != nil {
		if p := f.PriceFor(); p > 0 {
			amount = p
		}
		frequency = string(f.Frequency)
	}
	if frequency != "" {
		frequency += " "
	}

	var when string
	switch alert.Status {
	case models.PaymentOverdue:
		days := alert.DaysOverdue
		if days == 0 {
			days = daysBetween(alert.DueDate, now, now.Location())
		}
		when = fmt.Sprintf("was due on %s (%d days ago)", alert.DueDate.Format("Jan 2"), days)
	case models.PaymentDueToday:
		when = "is due today"
	case models.PaymentDueTomorrow:
		when = "is due tomorrow"
	default:
		when = "is due on " + alert.DueDate.Format("Jan 2")
	}

	return fmt.Sprintf("Hi %s, this is a reminder that your %spayment of %s for the %s %s.",
		buyer, frequency, formatMoney(amount), vehicle, when), nil
}

func userLabel(r models.UserRecord) string {
	switch {
	case r.DisplayName != "" && r.Email != "":
		return fmt.Sprintf("%s (%s)", r.DisplayName, r.Email)
	case r.DisplayName != "":
		return r.DisplayName
	case r.Email != "":
		return r.Email
	case r.Phone != "":
		return r.Phone
	}
	return unknownText
}

func priceLabel(price float64) string {
	if price <= 0 {
		return "Price not set"
	}
	return formatMoney(price)
}

func expiryLabel(days int) string {
	switch {
	case days <= 0:
		return "expires today"
	case days == 1:
		return "expires tomorrow"
	}
	return fmt.Sprintf("expires in %d days", days)
}

func orUnknown(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// formatMoney renders 12500 as "$12,500" and 149.5 as "$149.50".
func formatMoney(v float64) string {
	neg := v < 0
	v = math.Abs(v)
	cents := int64(math.Round(v * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := "$" + b.String()
	if frac := cents % 100; frac != 0 {
		out += fmt.Sprintf(".%02d", frac)
	}
	if neg {
		out = "-" + out
	}
	return out
}
