package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func userRec(id string, at time.Time) models.UserRecord {
	return models.UserRecord{ID: id, DisplayName: "User " + id, Email: id + "@example.com", CreatedAt: at}
}

func userNote(id string, at time.Time) models.Notification {
	return NewNotification(models.TypeUser, userRec(id, at), NotificationOptions{})
}

func ids(ns []models.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func TestDismissedNotificationIsNeverReadded(t *testing.T) {
	w := &fakeWriter{}
	m := NewNotificationManager(w, ManagerOptions{})

	require.True(t, m.Add(userNote("u1", baseTime)))
	require.NoError(t, m.Dismiss(context.Background(), "user-u1"))

	assert.Empty(t, m.Notifications())
	assert.Equal(t, [][]string{{"user-u1"}}, w.addCalls())

	assert.False(t, m.Add(userNote("u1", baseTime)))
	m.HandleBatch(SourceUsers, feed.Batch{Records: []models.Record{userRec("u1", baseTime)}})
	assert.Empty(t, m.Notifications())
}

func TestDismissIsIdempotent(t *testing.T) {
	w := &fakeWriter{}
	m := NewNotificationManager(w, ManagerOptions{})
	m.Add(userNote("u1", baseTime))

	require.NoError(t, m.Dismiss(context.Background(), "user-u1"))
	require.NoError(t, m.Dismiss(context.Background(), "user-u1"))
	assert.Len(t, w.addCalls(), 1)
}

func TestDismissUnknownIDStillSuppresses(t *testing.T) {
	w := &fakeWriter{}
	m := NewNotificationManager(w, ManagerOptions{})

	require.NoError(t, m.Dismiss(context.Background(), "user-ghost"))
	assert.True(t, m.IsDismissed("user-ghost"))
	assert.False(t, m.Add(userNote("ghost", baseTime)))
}

func TestDismissKeepsLocalStateWhenWriteFails(t *testing.T) {
	w := &fakeWriter{err: errors.New("offline")}
	m := NewNotificationManager(w, ManagerOptions{})
	m.Add(userNote("u1", baseTime))

	require.NoError(t, m.Dismiss(context.Background(), "user-u1"))
	assert.Empty(t, m.Notifications())
	assert.True(t, m.IsDismissed("user-u1"))
}

func TestRentAlertsAreNotDismissible(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})

	assert.ErrorIs(t, m.Dismiss(context.Background(), "rent-v1"), ErrNotDismissible)
	_, err := m.DismissAll(context.Background(), models.TypeRent)
	assert.ErrorIs(t, err, ErrNotDismissible)

	rent := NewNotification(models.TypeRent, models.PaymentRecord{Alert: models.PaymentAlert{VehicleID: "v1"}}, NotificationOptions{})
	assert.False(t, m.Add(rent))
}

func TestDismissAllWritesOnce(t *testing.T) {
	w := &fakeWriter{}
	m := NewNotificationManager(w, ManagerOptions{})
	for i := 0; i < 4; i++ {
		m.Add(userNote(fmt.Sprintf("u%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}
	m.Add(NewNotification(models.TypePhoto, models.PhotoRequestRecord{ID: "p1", CreatedAt: baseTime}, NotificationOptions{}))

	n, err := m.DismissAll(context.Background(), models.TypeUser)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	calls := w.addCalls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"user-u0", "user-u1", "user-u2", "user-u3"}, calls[0])
	assert.Equal(t, []string{"photo-p1"}, ids(m.Notifications()))

	n, err = m.DismissAll(context.Background(), models.TypeUser)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, w.addCalls(), 1)
}

func TestPerTypeCapEvictsOldest(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{MaxPerType: 3})
	for i := 1; i <= 5; i++ {
		m.Add(userNote(fmt.Sprintf("u%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}
	m.Add(NewNotification(models.TypePhoto, models.PhotoRequestRecord{ID: "p1", CreatedAt: baseTime}, NotificationOptions{}))

	assert.Equal(t, []string{"user-u5", "user-u4", "user-u3"}, ids(m.GetByType(models.TypeUser)))
	assert.Len(t, m.GetByType(models.TypePhoto), 1)
}

func TestDuplicateIDIsIgnored(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	assert.True(t, m.Add(userNote("u1", baseTime)))
	assert.False(t, m.Add(userNote("u1", baseTime)))
	assert.Len(t, m.Notifications(), 1)
}

func TestInitialSnapshotClassification(t *testing.T) {
	lastVisit := baseTime
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{AdminLastVisit: &lastVisit})
	assert.Equal(t, SourceUninitialized, m.SourceState(SourceUsers))

	m.BeginSource(SourceUsers)
	assert.Equal(t, SourceInitialSnapshot, m.SourceState(SourceUsers))

	// newest first, as the feed delivers it
	m.HandleBatch(SourceUsers, feed.Batch{Initial: true, Records: []models.Record{
		userRec("new2", baseTime.Add(2*time.Hour)),
		userRec("new1", baseTime.Add(time.Hour)),
		userRec("old", baseTime.Add(-time.Hour)),
	}})
	assert.Equal(t, SourceLive, m.SourceState(SourceUsers))

	got := m.Notifications()
	assert.Equal(t, []string{"user-new2", "user-new1"}, ids(got))
	for _, n := range got {
		assert.True(t, n.IsMissed)
	}

	m.HandleBatch(SourceUsers, feed.Batch{Records: []models.Record{userRec("live", baseTime.Add(3*time.Hour))}})
	got = m.Notifications()
	require.Len(t, got, 3)
	assert.Equal(t, "user-live", got[0].ID)
	assert.False(t, got[0].IsMissed)

	c := m.GetCounts()
	assert.Equal(t, 2, c.Missed)
	assert.Equal(t, 3, c.User)
}

func TestInitialSnapshotWithoutLastVisitAddsNothing(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	m.BeginSource(SourceListings)
	m.HandleBatch(SourceListings, feed.Batch{Initial: true, Records: []models.Record{
		models.ListingRecord{Listing: models.Listing{ID: "l1", CreatedAt: baseTime}},
	}})

	assert.Empty(t, m.Notifications())
	assert.Equal(t, SourceLive, m.SourceState(SourceListings))

	// records seen in the snapshot are not replayed as live
	m.HandleBatch(SourceListings, feed.Batch{Records: []models.Record{
		models.ListingRecord{Listing: models.Listing{ID: "l1", CreatedAt: baseTime}},
	}})
	assert.Empty(t, m.Notifications())
}

func TestRecreatedDismissedIDStaysSuppressed(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{Dismissed: []string{"listing-l1"}})

	m.BeginSource(SourceListings)
	m.HandleBatch(SourceListings, feed.Batch{Initial: true})
	m.HandleBatch(SourceListings, feed.Batch{Records: []models.Record{
		models.ListingRecord{Listing: models.Listing{ID: "l1", CreatedAt: baseTime.Add(time.Hour)}},
	}})
	assert.Empty(t, m.Notifications())
}

func TestApplyDismissedFromAnotherDevice(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	m.Add(userNote("u1", baseTime))
	m.Add(userNote("u2", baseTime))

	m.ApplyDismissed([]string{"user-u1", "listing-x"})
	assert.Equal(t, []string{"user-u2"}, ids(m.Notifications()))
	assert.True(t, m.IsDismissed("listing-x"))
}

func TestApplyDismissedAdoptsClearedSet(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{Dismissed: []string{"user-a", "user-b"}})

	m.ApplyDismissed([]string{"user-c"})
	assert.False(t, m.IsDismissed("user-a"))
	assert.False(t, m.IsDismissed("user-b"))
	assert.True(t, m.IsDismissed("user-c"))
	assert.True(t, m.Add(userNote("a", baseTime)))

	m.ApplyDismissed([]string{"user-c", "user-d"})
	assert.True(t, m.IsDismissed("user-c"))
	assert.True(t, m.IsDismissed("user-d"))
}

func TestCarriedPendingSurfacesInInitialSnapshot(t *testing.T) {
	lastVisit := baseTime
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{AdminLastVisit: &lastVisit})
	m.CarryPending([]string{"user-shown-elsewhere", "listing-other"})
	m.BeginSource(SourceUsers)

	m.HandleBatch(SourceUsers, feed.Batch{Initial: true, Records: []models.Record{
		userRec("shown-elsewhere", baseTime.Add(-time.Hour)),
		userRec("seen", baseTime.Add(-2*time.Hour)),
	}})

	got := m.GetByType(models.TypeUser)
	require.Len(t, got, 1)
	assert.Equal(t, "user-shown-elsewhere", got[0].ID)
	assert.True(t, got[0].IsMissed)
}

func TestCountsIncludePaymentScan(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	m.Add(userNote("u1", baseTime))
	m.Add(NewNotification(models.TypePremium, models.PremiumRequestRecord{ID: "pr1"}, NotificationOptions{}))

	m.SetPaymentAlerts(models.PaymentScanResult{
		Overdue:             []models.PaymentRecord{{Alert: models.PaymentAlert{VehicleID: "v1", Status: models.PaymentOverdue}}},
		PendingDownPayments: []models.PaymentRecord{{Alert: models.PaymentAlert{VehicleID: "v2", Status: models.PaymentPendingDownPayment}}},
	})

	c := m.GetCounts()
	assert.Equal(t, 1, c.User)
	assert.Equal(t, 1, c.Premium)
	assert.Equal(t, 2, c.Rent)
	assert.Equal(t, 4, c.Total)
	assert.Equal(t, 2, c.Get(models.TypeRent))

	rent := m.GetByType(models.TypeRent)
	assert.Equal(t, []string{"rent-v1", "rent-v2-down-payment"}, ids(rent))
	assert.Equal(t, models.UrgencyCritical, rent[0].Urgency)
}

func TestSubscriptionNotificationsFollowScan(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	sub := func(id string) models.SubscriptionRecord {
		return models.SubscriptionRecord{Listing: models.Listing{ID: id}, ExpiresAt: baseTime, DaysLeft: 1}
	}

	m.SetPaymentAlerts(models.PaymentScanResult{ExpiringSubscriptions: []models.SubscriptionRecord{sub("a"), sub("b")}})
	assert.ElementsMatch(t, []string{"subscription-a", "subscription-b"}, ids(m.GetByType(models.TypeSubscription)))

	m.SetPaymentAlerts(models.PaymentScanResult{ExpiringSubscriptions: []models.SubscriptionRecord{sub("b")}})
	assert.Equal(t, []string{"subscription-b"}, ids(m.GetByType(models.TypeSubscription)))
	assert.Equal(t, 1, m.GetCounts().Subscription)
}

func TestHandleClick(t *testing.T) {
	w := &fakeWriter{}
	m := NewNotificationManager(w, ManagerOptions{})
	m.Add(NewNotification(models.TypePhoto, models.PhotoRequestRecord{ID: "p1"}, NotificationOptions{}))
	m.SetPaymentAlerts(models.PaymentScanResult{
		DueToday: []models.PaymentRecord{{Alert: models.PaymentAlert{VehicleID: "v1", Status: models.PaymentDueToday}}},
	})

	action, err := m.HandleClick(context.Background(), "photo-p1")
	require.NoError(t, err)
	assert.Equal(t, models.Action{Tab: models.DashboardTabAdmin, SubTab: "photo-requests", Anchor: "photo-request-p1"}, action)
	assert.True(t, m.IsDismissed("photo-p1"))

	action, err = m.HandleClick(context.Background(), "rent-v1")
	require.NoError(t, err)
	assert.Equal(t, "financing", action.SubTab)
	assert.Len(t, m.GetByType(models.TypeRent), 1)

	_, err = m.HandleClick(context.Background(), "user-nope")
	assert.ErrorIs(t, err, ErrUnknownNotification)
}

func TestHandleBadgeClick(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	m.Add(userNote("u1", baseTime))

	route, err := m.HandleBadgeClick(models.TypeUser)
	require.NoError(t, err)
	assert.Equal(t, "users", route.Action.SubTab)
	assert.Len(t, route.Notifications, 1)

	_, err = m.HandleBadgeClick("bogus")
	assert.Error(t, err)
}

func TestPendingListsArePersisted(t *testing.T) {
	w := &fakeWriter{}
	m := NewNotificationManager(w, ManagerOptions{})
	m.Add(userNote("u1", baseTime))
	m.Add(NewNotification(models.TypeListing, models.ListingRecord{Listing: models.Listing{ID: "l1"}}, NotificationOptions{}))

	last := w.lastSave()
	require.NotNil(t, last)
	assert.Equal(t, []string{"user-u1"}, last[models.PrefPendingUserNotifications])
	assert.Equal(t, []string{"listing-l1"}, last[models.PrefPendingListingNotifications])

	require.NoError(t, m.Dismiss(context.Background(), "user-u1"))
	assert.Equal(t, []string{}, w.lastSave()[models.PrefPendingUserNotifications])
}

func TestOnChangeIsDebounced(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{Debounce: 30 * time.Millisecond})
	defer m.Close()

	var calls atomic.Int32
	var last atomic.Value
	m.OnChange(func(s Snapshot) {
		calls.Add(1)
		last.Store(s)
	})

	for i := 0; i < 5; i++ {
		m.Add(userNote(fmt.Sprintf("u%d", i), baseTime))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 5, last.Load().(Snapshot).Counts.User)
}

func TestOnChangeUnsubscribe(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	var calls int
	unsubscribe := m.OnChange(func(Snapshot) { calls++ })

	m.Add(userNote("u1", baseTime))
	unsubscribe()
	m.Add(userNote("u2", baseTime))
	assert.Equal(t, 1, calls)
}

func TestClosedManagerRejectsWork(t *testing.T) {
	m := NewNotificationManager(&fakeWriter{}, ManagerOptions{})
	m.Close()

	assert.False(t, m.Add(userNote("u1", baseTime)))
	assert.ErrorIs(t, m.Dismiss(context.Background(), "user-u1"), ErrSessionClosed)
	_, err := m.DismissAll(context.Background(), models.TypeUser)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
