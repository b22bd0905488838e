package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPerType is the per-type retention cap when none is configured.
const DefaultMaxPerType = 50

// Source names a live collection feed.
type Source string

const (
	SourceUsers           Source = "users"
	SourceListings        Source = "listings"
	SourcePhotoRequests   Source = "photoRequests"
	SourcePremiumRequests Source = "premiumRequests"
)

// sourceTypes maps each feed to the notification type it produces.
var sourceTypes = map[Source]models.NotificationType{
	SourceUsers:           models.TypeUser,
	SourceListings:        models.TypeListing,
	SourcePhotoRequests:   models.TypePhoto,
	SourcePremiumRequests: models.TypePremium,
}

// SourceState is the lifecycle of one feed.
type SourceState int

const (
	SourceUninitialized SourceState = iota
	SourceInitialSnapshot
	SourceLive
)

func (s SourceState) String() string {
	switch s {
	case SourceInitialSnapshot:
		return "INITIAL_SNAPSHOT"
	case SourceLive:
		return "LIVE"
	}
	return "UNINITIALIZED"
}

type sourceState struct {
	state SourceState
	known map[string]struct{}
}

// DismissalWriter persists what the manager decides.
type DismissalWriter interface {
	AddDismissed(ctx context.Context, ids ...string) error
	SaveMultiple(ctx context.Context, partial map[string]interface{}) error
}

// Counts are the badge numbers shown by the UI.
type Counts struct {
	User         int `json:"user"`
	Listing      int `json:"listing"`
	Photo        int `json:"photo"`
	Premium      int `json:"premium"`
	Rent         int `json:"rent"`
	Subscription int `json:"subscription"`
	Missed       int `json:"missed"`
	Total        int `json:"total"`
}

// Get returns the count for one type.
func (c Counts) Get(t models.NotificationType) int {
	switch t {
	case models.TypeUser:
		return c.User
	case models.TypeListing:
		return c.Listing
	case models.TypePhoto:
		return c.Photo
	case models.TypePremium:
		return c.Premium
	case models.TypeRent:
		return c.Rent
	case models.TypeSubscription:
		return c.Subscription
	}
	return 0
}

// Snapshot is what the UI projection renders.
type Snapshot struct {
	Counts        Counts                   `json:"counts"`
	Notifications []models.Notification    `json:"notifications"`
	RentAlerts    []models.Notification    `json:"rentAlerts"`
	Payments      models.PaymentScanResult `json:"payments"`
}

// BadgeRoute is the answer to a badge click.
type BadgeRoute struct {
	Type          models.NotificationType `json:"type"`
	Action        models.Action           `json:"action"`
	Notifications []models.Notification   `json:"notifications"`
}

// ManagerOptions configures a NotificationManager.
type ManagerOptions struct {
	MaxPerType     int
	Debounce       time.Duration
	AdminLastVisit *time.Time
	Dismissed      []string
}

// NotificationManager owns the in-memory notification list of one session.
// All state changes happen under mu; listeners are called without it.
type NotificationManager struct {
	writer     DismissalWriter
	maxPerType int
	debounce   time.Duration
	ctx        context.Context
	cancel     context.CancelFunc

	mu           sync.Mutex
	items        []models.Notification // newest first
	index        map[string]struct{}
	dismissed    map[string]struct{}
	sources      map[Source]*sourceState
	lastVisit    *time.Time
	carried      map[string]struct{}
	payments     models.PaymentScanResult
	rentAlerts   []models.Notification
	listeners    map[int]func(Snapshot)
	nextListener int
	timer        *time.Timer
	pendingDirty bool
	closed       bool
}

// NewNotificationManager creates an empty manager.
func NewNotificationManager(writer DismissalWriter, opts ManagerOptions) *NotificationManager {
	if opts.MaxPerType <= 0 {
		opts.MaxPerType = DefaultMaxPerType
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &NotificationManager{
		writer:     writer,
		maxPerType: opts.MaxPerType,
		debounce:   opts.Debounce,
		ctx:        ctx,
		cancel:     cancel,
		index:      make(map[string]struct{}),
		dismissed:  make(map[string]struct{}),
		sources:    make(map[Source]*sourceState),
		lastVisit:  opts.AdminLastVisit,
		carried:    make(map[string]struct{}),
		listeners:  make(map[int]func(Snapshot)),
	}
	for _, id := range opts.Dismissed {
		m.dismissed[id] = struct{}{}
	}
	return m
}

// SetAdminLastVisit sets the cut-off used to classify initial snapshots.
func (m *NotificationManager) SetAdminLastVisit(t *time.Time) {
	m.mu.Lock()
	m.lastVisit = t
	m.mu.Unlock()
}

// CarryPending marks IDs another device still shows as pending. Once a last
// visit is recorded, the initial snapshot surfaces them as missed even when
// they predate it.
func (m *NotificationManager) CarryPending(ids []string) {
	m.mu.Lock()
	for _, id := range ids {
		m.carried[id] = struct{}{}
	}
	m.mu.Unlock()
}

// SourceState reports the lifecycle state of a feed.
func (m *NotificationManager) SourceState(src Source) SourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[src]; ok {
		return s.state
	}
	return SourceUninitialized
}

// BeginSource moves a feed into INITIAL_SNAPSHOT. It is called right before
// subscribing.
func (m *NotificationManager) BeginSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.source(src)
	if s.state == SourceUninitialized {
		s.state = SourceInitialSnapshot
	}
}

// HandleBatch classifies a feed delivery. In INITIAL_SNAPSHOT, records newer
// than the admin's last visit or carried over from another device become
// missed notifications and the rest are only remembered. In LIVE, every unseen record becomes a live notification.
func (m *NotificationManager) HandleBatch(src Source, batch feed.Batch) {
	t, ok := sourceTypes[src]
	if !ok {
		logrus.WithField("source", src).Warn("Batch from unknown source ignored")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	s := m.source(src)
	classify := batch.Initial && s.state != SourceLive

	added := 0
	// oldest first so the newest ends up at the head of the list
	for i := len(batch.Records) - 1; i >= 0; i-- {
		rec := batch.Records[i]
		if rec == nil {
			continue
		}
		id := NotificationID(t, rec.SourceID())
		if _, seen := s.known[id]; seen {
			continue
		}
		s.known[id] = struct{}{}

		if classify {
			if m.lastVisit == nil {
				continue
			}
			_, carried := m.carried[id]
			if !carried && !rec.OccurredAt().After(*m.lastVisit) {
				continue
			}
			if m.addLocked(NewNotification(t, rec, NotificationOptions{IsMissed: true})) {
				added++
			}
			continue
		}
		if m.addLocked(NewNotification(t, rec, NotificationOptions{})) {
			added++
		}
	}
	prev := s.state
	s.state = SourceLive
	m.mu.Unlock()

	if prev != SourceLive {
		logrus.WithFields(logrus.Fields{
			"source": src,
			"from":   prev.String(),
			"missed": added,
		}).Info("Notification source is live")
	}
	if added > 0 {
		m.publish()
	}
}

// HandleFeedError logs a feed failure. Existing notifications stay.
func (m *NotificationManager) HandleFeedError(src Source, err error) {
	logrus.WithFields(logrus.Fields{
		"source": src,
		"error":  err,
	}).Error("Notification feed failed; serving existing notifications")
}

// Add inserts n at the head of the list unless its ID is dismissed or
// already present. Rent alerts come only from SetPaymentAlerts.
func (m *NotificationManager) Add(n models.Notification) bool {
	if n.Type == models.TypeRent {
		logrus.WithField("id", n.ID).Warn("Rent alerts are derived from payment scans, not added directly")
		return false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	ok := m.addLocked(n)
	m.mu.Unlock()

	if ok {
		m.publish()
	}
	return ok
}

// Dismiss suppresses id for good, removes it from the list and persists the
// dismissed set. Dismissing twice is the same as dismissing once.
func (m *NotificationManager) Dismiss(ctx context.Context, id string) error {
	if isRentID(id) {
		logrus.WithField("id", id).Warn("Payment alerts cannot be dismissed")
		return ErrNotDismissible
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if _, done := m.dismissed[id]; done {
		m.mu.Unlock()
		return nil
	}
	m.dismissed[id] = struct{}{}
	removed := m.removeLocked(func(n models.Notification) bool { return n.ID == id })
	m.mu.Unlock()

	if removed == 0 {
		logrus.WithField("id", id).Warn("Dismissed a notification that is not in the live list")
	}
	if err := m.writer.AddDismissed(ctx, id); err != nil {
		logrus.WithFields(logrus.Fields{
			"id":    id,
			"error": err,
		}).Error("Failed to persist dismissal")
	}
	m.publish()
	return nil
}

// DismissAll dismisses every notification of type t with a single write and
// returns how many were removed.
func (m *NotificationManager) DismissAll(ctx context.Context, t models.NotificationType) (int, error) {
	if t == models.TypeRent {
		return 0, ErrNotDismissible
	}
	if !t.Valid() {
		logrus.WithField("type", t).Warn("Dismiss-all for unknown notification type ignored")
		return 0, fmt.Errorf("unknown notification type %q", t)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrSessionClosed
	}
	var ids []string
	for _, n := range m.items {
		if n.Type == t {
			ids = append(ids, n.ID)
			m.dismissed[n.ID] = struct{}{}
		}
	}
	m.removeLocked(func(n models.Notification) bool { return n.Type == t })
	m.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := m.writer.AddDismissed(ctx, ids...); err != nil {
		logrus.WithFields(logrus.Fields{
			"type":  t,
			"count": len(ids),
			"error": err,
		}).Error("Failed to persist bulk dismissal")
	}
	m.publish()
	return len(ids), nil
}

// ApplyDismissed merges a dismissed set received from another device and
// drops the matching notifications. The set only shrinks through an explicit
// clear, so a remote set missing local entries replaces the local one.
func (m *NotificationManager) ApplyDismissed(ids []string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	incoming := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		incoming[id] = struct{}{}
	}
	cleared := false
	for id := range m.dismissed {
		if _, ok := incoming[id]; !ok {
			cleared = true
			break
		}
	}
	if cleared {
		m.dismissed = make(map[string]struct{}, len(incoming))
	}
	for id := range incoming {
		m.dismissed[id] = struct{}{}
	}
	removed := m.removeLocked(func(n models.Notification) bool {
		_, ok := incoming[n.ID]
		return ok
	})
	m.mu.Unlock()

	if cleared {
		logrus.WithField("remaining", len(incoming)).Info("Dismissed set cleared on another device")
	}
	if removed > 0 {
		logrus.WithField("removed", removed).Debug("Applied dismissals from another device")
		m.publish()
	}
}

// ResetDismissed replaces the dismissed set after an explicit admin clear.
func (m *NotificationManager) ResetDismissed(ids []string) {
	m.mu.Lock()
	m.dismissed = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.dismissed[id] = struct{}{}
	}
	m.mu.Unlock()
}

// IsDismissed reports whether id is suppressed.
func (m *NotificationManager) IsDismissed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dismissed[id]
	return ok
}

// SetPaymentAlerts replaces the payment state with a fresh scan result.
// Subscription notifications follow the scan: new ones are added, ones that
// no longer apply are dropped.
func (m *NotificationManager) SetPaymentAlerts(result models.PaymentScanResult) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.payments = result
	m.rentAlerts = rentNotifications(result)

	current := make(map[string]struct{}, len(result.ExpiringSubscriptions))
	for _, rec := range result.ExpiringSubscriptions {
		n := NewNotification(models.TypeSubscription, rec, NotificationOptions{})
		current[n.ID] = struct{}{}
		m.addLocked(n)
	}
	m.removeLocked(func(n models.Notification) bool {
		if n.Type != models.TypeSubscription {
			return false
		}
		_, ok := current[n.ID]
		return !ok
	})
	m.mu.Unlock()

	m.publish()
}

func rentNotifications(result models.PaymentScanResult) []models.Notification {
	records := result.Records()
	out := make([]models.Notification, 0, len(records))
	for _, rec := range records {
		opts := NotificationOptions{}
		if rec.Alert.Status == models.PaymentPendingDownPayment {
			opts.ID = NotificationID(models.TypeRent, rec.Alert.VehicleID) + "-down-payment"
		}
		out = append(out, NewNotification(models.TypeRent, rec, opts))
	}
	return out
}

// GetCounts returns per-type counts. Rent comes from the last payment scan.
func (m *NotificationManager) GetCounts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countsLocked()
}

func (m *NotificationManager) countsLocked() Counts {
	var c Counts
	for _, n := range m.items {
		switch n.Type {
		case models.TypeUser:
			c.User++
		case models.TypeListing:
			c.Listing++
		case models.TypePhoto:
			c.Photo++
		case models.TypePremium:
			c.Premium++
		case models.TypeSubscription:
			c.Subscription++
		}
		if n.IsMissed {
			c.Missed++
		}
	}
	c.Rent = m.payments.Count()
	c.Total = c.User + c.Listing + c.Photo + c.Premium + c.Rent + c.Subscription
	return c
}

// GetByType returns notifications of type t, newest first.
func (m *NotificationManager) GetByType(t models.NotificationType) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == models.TypeRent {
		return append([]models.Notification(nil), m.rentAlerts...)
	}
	var out []models.Notification
	for _, n := range m.items {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Notifications returns the live list, newest first.
func (m *NotificationManager) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.items...)
}

// Find looks a notification up by ID, payment alerts included.
func (m *NotificationManager) Find(id string) (models.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(id)
}

func (m *NotificationManager) findLocked(id string) (models.Notification, bool) {
	for _, n := range m.items {
		if n.ID == id {
			return n, true
		}
	}
	for _, n := range m.rentAlerts {
		if n.ID == id {
			return n, true
		}
	}
	return models.Notification{}, false
}

// HandleClick returns where the UI should navigate for id. Clicking a regular
// notification also dismisses it; payment alerts stay until resolved.
func (m *NotificationManager) HandleClick(ctx context.Context, id string) (models.Action, error) {
	n, ok := m.Find(id)
	if !ok {
		logrus.WithField("id", id).Warn("Click on unknown notification")
		return models.Action{}, ErrUnknownNotification
	}
	if n.Type == models.TypeRent {
		return n.Action, nil
	}
	if err := m.Dismiss(ctx, id); err != nil {
		return n.Action, err
	}
	return n.Action, nil
}

// HandleBadgeClick returns the section a badge opens and its notifications.
func (m *NotificationManager) HandleBadgeClick(t models.NotificationType) (BadgeRoute, error) {
	action, ok := routes[t]
	if !ok {
		logrus.WithField("type", t).Warn("Click on unknown badge")
		return BadgeRoute{}, fmt.Errorf("unknown notification type %q", t)
	}
	return BadgeRoute{Type: t, Action: action, Notifications: m.GetByType(t)}, nil
}

// Snapshot returns the full state for rendering.
func (m *NotificationManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *NotificationManager) snapshotLocked() Snapshot {
	return Snapshot{
		Counts:        m.countsLocked(),
		Notifications: append([]models.Notification{}, m.items...),
		RentAlerts:    append([]models.Notification{}, m.rentAlerts...),
		Payments:      m.payments,
	}
}

// OnChange registers fn to receive a snapshot after every change. Bursts are
// collapsed into one call per debounce window.
func (m *NotificationManager) OnChange(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Close stops publishing and makes every later call a no-op.
func (m *NotificationManager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.listeners = make(map[int]func(Snapshot))
	m.mu.Unlock()
	m.cancel()
}

func (m *NotificationManager) source(src Source) *sourceState {
	s, ok := m.sources[src]
	if !ok {
		s = &sourceState{known: make(map[string]struct{})}
		m.sources[src] = s
	}
	return s
}

// addLocked prepends n and evicts the oldest of its type beyond the cap.
func (m *NotificationManager) addLocked(n models.Notification) bool {
	if _, ok := m.dismissed[n.ID]; ok {
		return false
	}
	if _, ok := m.index[n.ID]; ok {
		return false
	}

	m.items = append([]models.Notification{n}, m.items...)
	m.index[n.ID] = struct{}{}
	m.markPending(n.Type)

	count := 0
	for i := 0; i < len(m.items); i++ {
		if m.items[i].Type != n.Type {
			continue
		}
		count++
		if count > m.maxPerType {
			delete(m.index, m.items[i].ID)
			m.items = append(m.items[:i], m.items[i+1:]...)
			i--
		}
	}
	return true
}

// removeLocked drops every item matching fn and keeps the order of the rest.
func (m *NotificationManager) removeLocked(match func(models.Notification) bool) int {
	kept := m.items[:0]
	removed := 0
	for _, n := range m.items {
		if match(n) {
			delete(m.index, n.ID)
			m.markPending(n.Type)
			removed++
			continue
		}
		kept = append(kept, n)
	}
	m.items = kept
	return removed
}

func (m *NotificationManager) markPending(t models.NotificationType) {
	if t == models.TypeUser || t == models.TypeListing {
		m.pendingDirty = true
	}
}

// publish schedules a snapshot for the listeners. With no debounce it is
// delivered right away.
func (m *NotificationManager) publish() {
	if m.debounce <= 0 {
		m.flush()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.debounce, m.flush)
}

func (m *NotificationManager) flush() {
	m.mu.Lock()
	m.timer = nil
	if m.closed {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}

	var pending map[string]interface{}
	if m.pendingDirty {
		m.pendingDirty = false
		users, listings := []string{}, []string{}
		for _, n := range m.items {
			switch n.Type {
			case models.TypeUser:
				users = append(users, n.ID)
			case models.TypeListing:
				listings = append(listings, n.ID)
			}
		}
		pending = map[string]interface{}{
			models.PrefPendingUserNotifications:    users,
			models.PrefPendingListingNotifications: listings,
		}
	}
	m.mu.Unlock()

	if pending != nil {
		if err := m.writer.SaveMultiple(m.ctx, pending); err != nil && m.ctx.Err() == nil {
			logrus.WithError(err).Warn("Failed to mirror pending notifications")
		}
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

func isRentID(id string) bool {
	return strings.HasPrefix(id, string(models.TypeRent)+"-")
}
