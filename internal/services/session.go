package services

import (
	"context"
	"sync"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultFeedLimit is how many records each admin feed loads initially.
const DefaultFeedLimit = 50

// FeedSource is a live collection feed.
type FeedSource interface {
	SubscribeRecent(ctx context.Context, limit int, onBatch feed.BatchHandler, onErr feed.ErrorHandler) (*feed.Subscription, error)
}

// adminSources is the order admin feeds are opened in.
var adminSources = []Source{SourceUsers, SourceListings, SourcePhotoRequests, SourcePremiumRequests}

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Preferences PreferenceRepository
	Feeds       map[Source]FeedSource
	Scanner     *PaymentAlertScanner
	MaxPerType  int
	FeedLimit   int
	Debounce    time.Duration
	Now         func() time.Time
}

func (d SessionDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Session is everything the notification core keeps for one signed-in
// identity: its preference cache, its notification list and the live
// subscriptions feeding them.
type Session struct {
	identity models.Identity
	deps     SessionDeps
	store    *PreferencesStore
	manager  *NotificationManager

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	inits  singleflight.Group
	subs   feed.Group

	mu          sync.Mutex
	initialized bool
	closed      bool
	scan        *ScanHandle
	unbind      func()
}

// NewSession creates an idle session. Nothing is subscribed until Init.
func NewSession(identity models.Identity, deps SessionDeps) *Session {
	if deps.FeedLimit <= 0 {
		deps.FeedLimit = DefaultFeedLimit
	}
	store := NewPreferencesStore(deps.Preferences, identity.UserID)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		identity: identity,
		deps:     deps,
		store:    store,
		manager: NewNotificationManager(store, ManagerOptions{
			MaxPerType: deps.MaxPerType,
			Debounce:   deps.Debounce,
		}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Identity returns the identity the session belongs to.
func (s *Session) Identity() models.Identity { return s.identity }

// Manager returns the notification list of the session.
func (s *Session) Manager() *NotificationManager { return s.manager }

// Preferences returns the preference store of the session.
func (s *Session) Preferences() *PreferencesStore { return s.store }

// Done is closed when the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Initialized reports whether Init has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Init loads preferences and starts every subscription. Concurrent and
// repeated calls share a single initialization. The subscriptions live until
// Destroy, not until ctx is done; ctx only bounds how long the caller waits.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.initialized:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ch := s.inits.DoChan("init", func() (interface{}, error) {
		return nil, s.init()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) init() error {
	s.mu.Lock()
	done := s.initialized
	s.mu.Unlock()
	if done {
		return nil
	}

	log := logrus.WithFields(logrus.Fields{
		"userID": s.identity.UserID,
		"admin":  s.identity.IsAdmin,
	})

	prefs, err := s.store.Load(s.ctx, true)
	if err != nil {
		log.WithError(err).Warn("Starting session with default preferences")
	}
	s.manager.ResetDismissed(prefs.DismissedNotifications)
	s.manager.SetAdminLastVisit(prefs.AdminLastVisit)
	if s.identity.IsAdmin {
		s.manager.CarryPending(carriedPending(prefs))
	}

	if err := s.store.StartRealtimeSync(s.ctx); err != nil {
		log.WithError(err).Warn("Session runs without cross-device sync")
	}
	unbind := s.store.OnPreferenceChange(func(ch PreferenceChange) {
		if ch.Key == models.PrefDismissedNotifications {
			s.manager.ApplyDismissed(ch.Preferences.DismissedNotifications)
		}
	})

	if s.identity.IsAdmin {
		for _, src := range adminSources {
			s.startFeed(src)
		}
	}

	var scan *ScanHandle
	if s.deps.Scanner != nil {
		scan = s.deps.Scanner.Start(s.ctx, s.identity.UserID, s.manager.SetPaymentAlerts)
	}

	if s.identity.IsAdmin {
		if _, err := s.store.RecordAdminVisit(s.ctx, s.deps.now()); err != nil {
			log.WithError(err).Warn("Failed to record admin visit")
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unbind()
		scan.Stop()
		return ErrSessionClosed
	}
	s.unbind = unbind
	s.scan = scan
	s.initialized = true
	s.mu.Unlock()

	log.WithField("feeds", s.subs.Len()).Info("Notification session started")
	return nil
}

// carriedPending lists the pending IDs of other devices that are still live.
func carriedPending(prefs models.PreferenceSet) []string {
	var ids []string
	for _, list := range [][]string{prefs.PendingUserNotifications, prefs.PendingListingNotifications} {
		for _, id := range list {
			if !prefs.HasDismissed(id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (s *Session) startFeed(src Source) {
	source, ok := s.deps.Feeds[src]
	if !ok || source == nil {
		logrus.WithField("source", src).Warn("No feed configured for source")
		return
	}

	s.manager.BeginSource(src)
	sub, err := source.SubscribeRecent(s.ctx, s.deps.FeedLimit,
		func(b feed.Batch) { s.manager.HandleBatch(src, b) },
		func(err error) { s.manager.HandleFeedError(src, err) },
	)
	if err != nil {
		s.manager.HandleFeedError(src, err)
		return
	}
	s.subs.Add(sub)
}

// ClearDismissed empties the dismissed set of the session owner and records
// the action in the admin activity log.
func (s *Session) ClearDismissed(ctx context.Context) error {
	if err := s.store.ClearDismissed(ctx); err != nil {
		return err
	}
	s.manager.ResetDismissed(nil)
	if _, err := s.store.LogAdminActivity(ctx, s.identity.UserID, "clear_dismissed", "Cleared dismissed notifications"); err != nil {
		logrus.WithError(err).Warn("Failed to log dismissed reset")
	}
	return nil
}

// Destroy stops every subscription and drops all cached state. Safe to call
// more than once.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	scan, unbind := s.scan, s.unbind
	s.scan, s.unbind = nil, nil
	close(s.done)
	s.mu.Unlock()

	s.cancel()
	s.subs.Close()
	scan.Stop()
	if unbind != nil {
		unbind()
	}
	s.store.Reset()
	s.manager.Close()

	logrus.WithField("userID", s.identity.UserID).Info("Notification session closed")
}

// SessionManager keeps one Session per signed-in identity.
type SessionManager struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager.
func NewSessionManager(deps SessionDeps) *SessionManager {
	return &SessionManager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Get returns the initialized session of identity, creating it on first use.
// A change of role replaces the session.
func (m *SessionManager) Get(ctx context.Context, identity models.Identity) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[identity.UserID]
	var stale *Session
	if ok && s.identity.IsAdmin != identity.IsAdmin {
		stale, ok = s, false
	}
	if !ok {
		s = NewSession(identity, m.deps)
		m.sessions[identity.UserID] = s
	}
	m.mu.Unlock()

	if stale != nil {
		stale.Destroy()
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *SessionManager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Logout destroys the session of userID.
func (m *SessionManager) Logout(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		s.Destroy()
	}
	return ok
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll destroys every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Destroy()
	}
}
