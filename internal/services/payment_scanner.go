package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/Dias221467/Vehicle_Marketplace/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// subscriptionWarningDays is how far ahead premium expiry is reported.
const subscriptionWarningDays = 3

// ListingSource returns the listings owned by a user.
type ListingSource interface {
	ListByOwner(ctx context.Context, ownerID string) ([]models.Listing, error)
}

// ScanPayments buckets the payment state of every listing owned by ownerID.
// It works at day granularity in now's location; time of day is ignored.
func ScanPayments(listings []models.Listing, ownerID string, now time.Time) models.PaymentScanResult {
	loc := now.Location()
	today := dateOf(now, loc)
	result := models.PaymentScanResult{ScannedAt: now}

	for _, l := range listings {
		if l.OwnerID != ownerID {
			continue
		}

		if s := l.Sale; s != nil && s.Pending && !s.DownPaymentReceived {
			result.PendingDownPayments = append(result.PendingDownPayments, models.PaymentRecord{
				Alert: models.PaymentAlert{
					VehicleID:     l.ID,
					VehicleTitle:  l.Title(),
					BuyerName:     s.BuyerName,
					PaymentAmount: s.DownPayment,
					DueDate:       today,
					Status:        models.PaymentPendingDownPayment,
				},
				Listing: l,
			})
		}

		if f := l.Financing; f != nil && f.Active {
			if rec, ok := financingAlert(l, *f, today, loc); ok {
				switch rec.Alert.Status {
				case models.PaymentOverdue:
					result.Overdue = append(result.Overdue, rec)
				case models.PaymentDueToday:
					result.DueToday = append(result.DueToday, rec)
				case models.PaymentDueTomorrow:
					result.DueTomorrow = append(result.DueTomorrow, rec)
				}
			}
		}

		if l.PremiumPaid && l.PremiumExpiresAt != nil {
			days := daysBetween(today, dateOf(*l.PremiumExpiresAt, loc), loc)
			if days >= 0 && days <= subscriptionWarningDays {
				result.ExpiringSubscriptions = append(result.ExpiringSubscriptions, models.SubscriptionRecord{
					Listing:   l,
					ExpiresAt: *l.PremiumExpiresAt,
					DaysLeft:  days,
				})
			}
		}
	}
	return result
}

func financingAlert(l models.Listing, f models.Financing, today time.Time, loc *time.Location) (models.PaymentRecord, bool) {
	base := f.LastPaymentDate
	if base == nil {
		base = f.StartDate
	}
	if base == nil {
		logrus.WithField("vehicleID", l.ID).Debug("Active financing without payment or start date")
		return models.PaymentRecord{}, false
	}

	due, ok := nextDueDate(dateOf(*base, loc), f.Frequency)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"vehicleID": l.ID,
			"frequency": f.Frequency,
		}).Warn("Unknown payment frequency")
		return models.PaymentRecord{}, false
	}

	alert := models.PaymentAlert{
		VehicleID:     l.ID,
		VehicleTitle:  l.Title(),
		BuyerName:     f.BuyerName,
		PaymentAmount: f.PriceFor(),
		DueDate:       due,
		Frequency:     f.Frequency,
	}
	if alert.BuyerName == "" && l.Sale != nil {
		alert.BuyerName = l.Sale.BuyerName
	}

	delta := daysBetween(today, due, loc)
	switch {
	case delta < 0:
		alert.Status = models.PaymentOverdue
		alert.DaysOverdue = -delta
	case delta == 0:
		alert.Status = models.PaymentDueToday
	case delta == 1:
		alert.Status = models.PaymentDueTomorrow
	default:
		return models.PaymentRecord{}, false
	}
	return models.PaymentRecord{Alert: alert, Listing: l}, true
}

// nextDueDate adds one payment period to the last payment date.
func nextDueDate(last time.Time, freq models.PaymentFrequency) (time.Time, bool) {
	switch freq {
	case models.FrequencyDaily:
		return last.AddDate(0, 0, 1), true
	case models.FrequencyWeekly:
		return last.AddDate(0, 0, 7), true
	case models.FrequencyBiweekly:
		return last.AddDate(0, 0, 14), true
	case models.FrequencyMonthly:
		return last.AddDate(0, 1, 0), true
	}
	return time.Time{}, false
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b; rounding absorbs DST shifts.
func daysBetween(a, b time.Time, loc *time.Location) int {
	return int(math.Round(dateOf(b, loc).Sub(dateOf(a, loc)).Hours() / 24))
}

// PaymentAlertScanner recomputes payment alerts on a fixed interval.
type PaymentAlertScanner struct {
	listings  ListingSource
	scheduler *scheduler.Scheduler
	interval  time.Duration
	location  *time.Location
	now       func() time.Time
}

// NewPaymentAlertScanner creates a scanner. A nil scheduler disables the
// recurring run; only the eager first scan happens.
func NewPaymentAlertScanner(listings ListingSource, sched *scheduler.Scheduler, interval time.Duration, loc *time.Location) *PaymentAlertScanner {
	if loc == nil {
		loc = time.Local
	}
	return &PaymentAlertScanner{
		listings:  listings,
		scheduler: sched,
		interval:  interval,
		location:  loc,
		now:       time.Now,
	}
}

// Scan fetches the owner's listings and buckets them against today.
func (s *PaymentAlertScanner) Scan(ctx context.Context, ownerID string) (models.PaymentScanResult, error) {
	listings, err := s.listings.ListByOwner(ctx, ownerID)
	if err != nil {
		return models.PaymentScanResult{}, fmt.Errorf("failed to scan payments: %w", err)
	}
	return ScanPayments(listings, ownerID, s.now().In(s.location)), nil
}

// Start scans once right away and then on every interval, handing each full
// result to onResult. A failed scan keeps the previous result in place.
func (s *PaymentAlertScanner) Start(ctx context.Context, ownerID string, onResult func(models.PaymentScanResult)) *ScanHandle {
	ctx, cancel := context.WithCancel(ctx)
	job := &paymentScanJob{ctx: ctx, scanner: s, ownerID: ownerID, onResult: onResult}

	job.Run()

	h := &ScanHandle{cancel: cancel}
	if s.scheduler != nil && s.interval > 0 {
		h.token = s.scheduler.Every(s.interval, job)
	}
	return h
}

// ScanHandle is the cancellation token of a running scanner.
type ScanHandle struct {
	cancel context.CancelFunc
	token  *scheduler.Token
	once   sync.Once
}

// Stop cancels the recurring scan and any scan in flight.
func (h *ScanHandle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.token.Cancel()
		h.cancel()
	})
}

type paymentScanJob struct {
	ctx      context.Context
	scanner  *PaymentAlertScanner
	ownerID  string
	onResult func(models.PaymentScanResult)
}

func (j *paymentScanJob) Run() {
	if j.ctx.Err() != nil {
		return
	}

	result, err := j.scanner.Scan(j.ctx, j.ownerID)
	if err != nil {
		if j.ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"ownerID": j.ownerID,
				"error":   err,
			}).Warn("Payment scan failed, keeping previous alerts")
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"ownerID":  j.ownerID,
		"alerts":   result.Count(),
		"expiring": len(result.ExpiringSubscriptions),
	}).Debug("Payment scan completed")
	j.onResult(result)
}
