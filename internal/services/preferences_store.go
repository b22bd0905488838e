package services

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// PreferenceRepository is the durable side of the preference document.
type PreferenceRepository interface {
	GetPreferences(ctx context.Context, userID string) (models.PreferenceSet, error)
	MergePreferences(ctx context.Context, userID string, fields map[string]interface{}) error
	AddDismissed(ctx context.Context, userID string, ids []string) error
	PushActivity(ctx context.Context, userID string, entry models.ActivityLogEntry) error
	WatchPreferences(ctx context.Context, userID string, onChange func(models.PreferenceSet), onErr feed.ErrorHandler) (*feed.Subscription, error)
}

// PreferenceChange describes one field that changed through realtime sync.
type PreferenceChange struct {
	Key         string
	Value       interface{}
	Preferences models.PreferenceSet
}

// PreferencesStore caches the preference document of the signed-in user and
// keeps it in step with other devices.
type PreferencesStore struct {
	repo  PreferenceRepository
	loads singleflight.Group

	mu          sync.Mutex
	userID      string
	cache       *models.PreferenceSet
	generation  uint64
	sync        *feed.Subscription
	syncStarted bool
	// dismissals written locally but not yet acknowledged by the store
	inflight map[string]int
	// field writes not yet acknowledged, keyed by preference key
	writes    map[string]*pendingWrite
	callbacks map[int]func(PreferenceChange)
	nextCB    int
}

type pendingWrite struct {
	value interface{}
	count int
}

// NewPreferencesStore creates a store bound to userID.
func NewPreferencesStore(repo PreferenceRepository, userID string) *PreferencesStore {
	return &PreferencesStore{
		repo:      repo,
		userID:    userID,
		inflight:  make(map[string]int),
		writes:    make(map[string]*pendingWrite),
		callbacks: make(map[int]func(PreferenceChange)),
	}
}

// SetIdentity binds the store to another user. The cache and the sync
// subscription of the previous user are dropped first.
func (s *PreferencesStore) SetIdentity(userID string) {
	s.mu.Lock()
	same := s.userID == userID
	s.mu.Unlock()
	if same {
		return
	}

	s.Reset()
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// UserID returns the bound identity.
func (s *PreferencesStore) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Load returns the cached preferences, reading them from the store when the
// cache is empty or forceRefresh is set. Concurrent callers share one read.
// On failure the last known preferences (or defaults) are returned with the
// error.
func (s *PreferencesStore) Load(ctx context.Context, forceRefresh bool) (models.PreferenceSet, error) {
	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return models.DefaultPreferences(), ErrNoIdentity
	}
	if !forceRefresh && s.cache != nil {
		cached := s.cache.Clone()
		s.mu.Unlock()
		return cached, nil
	}
	gen := s.generation
	s.mu.Unlock()

	v, err, shared := s.loads.Do(userID, func() (interface{}, error) {
		prefs, err := s.repo.GetPreferences(ctx, userID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.generation == gen && s.userID == userID {
			s.overlayLocal(&prefs)
			c := prefs.Clone()
			s.cache = &c
		}
		s.mu.Unlock()
		return prefs, nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"error":  err,
		}).Warn("Failed to load preferences, serving last known state")

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cache != nil {
			return s.cache.Clone(), err
		}
		return models.DefaultPreferences(), err
	}

	if shared {
		logrus.WithField("userID", userID).Debug("Joined in-flight preference load")
	}
	return v.(models.PreferenceSet).Clone(), nil
}

// Preferences returns the cache without touching the store.
func (s *PreferencesStore) Preferences() (models.PreferenceSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return models.DefaultPreferences(), false
	}
	return s.cache.Clone(), true
}

// Save writes a single preference.
func (s *PreferencesStore) Save(ctx context.Context, key string, value interface{}) error {
	return s.SaveMultiple(ctx, map[string]interface{}{key: value})
}

// SaveMultiple updates the cache right away and then merges the fields into
// the durable document. A failed write is logged and the local value is kept.
// Values that do not fit their key are skipped.
func (s *PreferencesStore) SaveMultiple(ctx context.Context, partial map[string]interface{}) error {
	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return ErrNoIdentity
	}

	// validate against a scratch set so every key is checked even without a cache
	scratch := models.PreferenceSet{}
	if s.cache != nil {
		scratch = s.cache.Clone()
	}
	fields := make(map[string]interface{}, len(partial))
	for key, value := range partial {
		if err := scratch.Set(key, value); err != nil {
			logrus.WithFields(logrus.Fields{
				"userID": userID,
				"key":    key,
				"error":  err,
			}).Warn("Ignoring invalid preference value")
			continue
		}
		fields[key], _ = scratch.Get(key)
	}
	if s.cache != nil {
		s.cache = &scratch
	}
	gen := s.generation
	for key, value := range fields {
		w, ok := s.writes[key]
		if !ok {
			w = &pendingWrite{}
			s.writes[key] = w
		}
		w.value = value
		w.count++
	}
	s.mu.Unlock()

	if len(fields) == 0 {
		return nil
	}
	err := s.repo.MergePreferences(ctx, userID, fields)

	s.mu.Lock()
	if s.generation == gen {
		for key := range fields {
			if w := s.writes[key]; w != nil {
				if w.count--; w.count <= 0 {
					delete(s.writes, key)
				}
			}
		}
	}
	s.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"keys":   sortedKeys(fields),
			"error":  err,
		}).Error("Preference write failed; local value kept")
		return err
	}
	return nil
}

// AddDismissed unions ids into the dismissed set, locally first and then in
// the durable document.
func (s *PreferencesStore) AddDismissed(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return ErrNoIdentity
	}
	for _, id := range ids {
		s.inflight[id]++
	}
	if s.cache != nil {
		s.cache.DismissedNotifications = union(s.cache.DismissedNotifications, ids)
	}
	s.mu.Unlock()

	err := s.repo.AddDismissed(ctx, userID, ids)

	s.mu.Lock()
	for _, id := range ids {
		if s.inflight[id]--; s.inflight[id] <= 0 {
			delete(s.inflight, id)
		}
	}
	s.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"count":  len(ids),
			"error":  err,
		}).Error("Dismissal write failed; local dismissal kept")
	}
	return err
}

// ClearDismissed empties the dismissed set. This is the only path that
// shrinks it.
func (s *PreferencesStore) ClearDismissed(ctx context.Context) error {
	return s.Save(ctx, models.PrefDismissedNotifications, []string{})
}

// RecordAdminVisit stores now as the admin's last visit and returns the
// previous value.
func (s *PreferencesStore) RecordAdminVisit(ctx context.Context, now time.Time) (*time.Time, error) {
	prev, _ := s.Preferences()
	err := s.Save(ctx, models.PrefAdminLastVisit, now.UTC())
	return prev.AdminLastVisit, err
}

// SetDashboardTab stores the selected dashboard tab.
func (s *PreferencesStore) SetDashboardTab(ctx context.Context, tab string) error {
	return s.Save(ctx, models.PrefDashboardTab, tab)
}

// MarkSiteUpdateSeen stores the last site update version the user has seen.
func (s *PreferencesStore) MarkSiteUpdateSeen(ctx context.Context, version string) error {
	return s.Save(ctx, models.PrefLastSeenSiteUpdate, version)
}

// LogAdminActivity prepends an entry to the admin activity log, keeping the
// newest MaxActivityLogEntries.
func (s *PreferencesStore) LogAdminActivity(ctx context.Context, actorID, action, details string) (models.ActivityLogEntry, error) {
	entry := models.ActivityLogEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Details:   details,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return entry, ErrNoIdentity
	}
	if s.cache != nil {
		log := append([]models.ActivityLogEntry{entry}, s.cache.AdminActivityLog...)
		if len(log) > models.MaxActivityLogEntries {
			log = log[:models.MaxActivityLogEntries]
		}
		s.cache.AdminActivityLog = log
	}
	s.mu.Unlock()

	if err := s.repo.PushActivity(ctx, userID, entry); err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"action": action,
			"error":  err,
		}).Error("Failed to persist admin activity")
		return entry, err
	}
	return entry, nil
}

// OnPreferenceChange registers cb for changes that arrive through realtime
// sync. The returned func unregisters it.
func (s *PreferencesStore) OnPreferenceChange(cb func(PreferenceChange)) func() {
	s.mu.Lock()
	id := s.nextCB
	s.nextCB++
	s.callbacks[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.callbacks, id)
		s.mu.Unlock()
	}
}

// StartRealtimeSync subscribes to the durable document and mirrors every
// remote change into the cache. Calling it again is a no-op.
func (s *PreferencesStore) StartRealtimeSync(ctx context.Context) error {
	s.mu.Lock()
	if s.syncStarted || s.userID == "" {
		s.mu.Unlock()
		return nil
	}
	s.syncStarted = true
	userID, gen := s.userID, s.generation
	s.mu.Unlock()

	sub, err := s.repo.WatchPreferences(ctx, userID,
		func(remote models.PreferenceSet) { s.applyRemote(userID, gen, remote) },
		func(err error) {
			logrus.WithFields(logrus.Fields{
				"userID": userID,
				"error":  err,
			}).Error("Preference sync stopped; cache keeps last known state")
		},
	)
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.syncStarted = false
		}
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"error":  err,
		}).Error("Failed to start preference sync")
		return fmt.Errorf("failed to start preference sync: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// reset while subscribing
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sync = sub
	s.mu.Unlock()
	return nil
}

// Reset drops the cache and stops realtime sync. Call it whenever the
// signed-in identity changes.
func (s *PreferencesStore) Reset() {
	s.mu.Lock()
	s.generation++
	s.cache = nil
	s.syncStarted = false
	s.inflight = make(map[string]int)
	s.writes = make(map[string]*pendingWrite)
	sub := s.sync
	s.sync = nil
	s.mu.Unlock()

	sub.Unsubscribe()
}

func (s *PreferencesStore) applyRemote(userID string, gen uint64, remote models.PreferenceSet) {
	s.mu.Lock()
	if s.generation != gen || s.userID != userID {
		s.mu.Unlock()
		return
	}

	s.overlayLocal(&remote)

	var old models.PreferenceSet
	if s.cache != nil {
		old = *s.cache
	}
	next := remote.Clone()
	s.cache = &next

	var changes []PreferenceChange
	for _, key := range changedKeys(old, remote) {
		v, _ := remote.Get(key)
		changes = append(changes, PreferenceChange{Key: key, Value: v, Preferences: remote.Clone()})
	}
	callbacks := make([]func(PreferenceChange), 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()

	for _, ch := range changes {
		for _, cb := range callbacks {
			cb(ch)
		}
	}
}

// overlayLocal keeps unacknowledged local writes in a stored snapshot, so a
// read that raced a write never rolls the cache back. Caller holds s.mu.
func (s *PreferencesStore) overlayLocal(p *models.PreferenceSet) {
	for key, w := range s.writes {
		if err := p.Set(key, w.value); err != nil {
			logrus.WithFields(logrus.Fields{
				"key":   key,
				"error": err,
			}).Debug("Pending write not applied to snapshot")
		}
	}
	p.DismissedNotifications = s.withInflight(p.DismissedNotifications)
}

// withInflight keeps unacknowledged local dismissals in a remote snapshot.
// Caller holds s.mu.
func (s *PreferencesStore) withInflight(ids []string) []string {
	if len(s.inflight) == 0 {
		return ids
	}
	pending := make([]string, 0, len(s.inflight))
	for id := range s.inflight {
		pending = append(pending, id)
	}
	sort.Strings(pending)
	return union(ids, pending)
}

var trackedKeys = []string{
	models.PrefDismissedNotifications,
	models.PrefDashboardTab,
	models.PrefLastSeenSiteUpdate,
	models.PrefAdminLastVisit,
	models.PrefPendingUserNotifications,
	models.PrefPendingListingNotifications,
	models.PrefAdminActivityLog,
}

func changedKeys(old, next models.PreferenceSet) []string {
	var keys []string
	for _, key := range trackedKeys {
		a, _ := old.Get(key)
		b, _ := next.Get(key)
		if !sameValue(a, b) {
			keys = append(keys, key)
		}
	}
	extra := map[string]struct{}{}
	for k := range old.Extra {
		extra[k] = struct{}{}
	}
	for k := range next.Extra {
		extra[k] = struct{}{}
	}
	var extraKeys []string
	for k := range extra {
		if !reflect.DeepEqual(old.Extra[k], next.Extra[k]) {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)
	return append(keys, extraKeys...)
}

// sameValue treats nil and empty slices as equal and compares times by
// instant.
func sameValue(a, b interface{}) bool {
	switch av := a.(type) {
	case []string:
		bv, _ := b.([]string)
		if len(av) == 0 && len(bv) == 0 {
			return true
		}
	case []models.ActivityLogEntry:
		bv, _ := b.([]models.ActivityLogEntry)
		if len(av) == 0 && len(bv) == 0 {
			return true
		}
	case *time.Time:
		bv, _ := b.(*time.Time)
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return av.Equal(*bv)
	}
	return reflect.DeepEqual(a, b)
}

func union(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
