package services

import (
	"context"
	"sync"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
)

// fakePrefRepo is an in-memory preference store that pushes every write to
// its watchers, the way a change stream would.
type fakePrefRepo struct {
	mu       sync.Mutex
	docs     map[string]models.PreferenceSet
	gets     int
	getGate  chan struct{}
	getErr   error
	mergeErr error
	addErr   error
	watchErr error
	merges   []map[string]interface{}
	adds     [][]string
	watchers map[int]fakeWatcher
	nextW    int

	// when set, MergePreferences signals mergeEntered and waits on mergeGate
	mergeEntered chan struct{}
	mergeGate    chan struct{}
}

type fakeWatcher struct {
	userID   string
	onChange func(models.PreferenceSet)
}

func newFakePrefRepo() *fakePrefRepo {
	return &fakePrefRepo{
		docs:     make(map[string]models.PreferenceSet),
		watchers: make(map[int]fakeWatcher),
	}
}

func (f *fakePrefRepo) GetPreferences(ctx context.Context, userID string) (models.PreferenceSet, error) {
	f.mu.Lock()
	f.gets++
	gate, err := f.getGate, f.getErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return models.PreferenceSet{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[userID]; ok {
		return doc.Clone(), nil
	}
	return models.DefaultPreferences(), nil
}

func (f *fakePrefRepo) MergePreferences(ctx context.Context, userID string, fields map[string]interface{}) error {
	f.mu.Lock()
	entered, gate := f.mergeEntered, f.mergeGate
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	if f.mergeErr != nil {
		f.mu.Unlock()
		return f.mergeErr
	}
	f.merges = append(f.merges, fields)
	doc := f.docLocked(userID)
	for k, v := range fields {
		if err := doc.Set(k, v); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.docs[userID] = doc
	f.mu.Unlock()

	f.notify(userID)
	return nil
}

func (f *fakePrefRepo) AddDismissed(ctx context.Context, userID string, ids []string) error {
	f.mu.Lock()
	if f.addErr != nil {
		f.mu.Unlock()
		return f.addErr
	}
	f.adds = append(f.adds, append([]string(nil), ids...))
	doc := f.docLocked(userID)
	doc.DismissedNotifications = union(doc.DismissedNotifications, ids)
	f.docs[userID] = doc
	f.mu.Unlock()

	f.notify(userID)
	return nil
}

func (f *fakePrefRepo) PushActivity(ctx context.Context, userID string, entry models.ActivityLogEntry) error {
	f.mu.Lock()
	doc := f.docLocked(userID)
	log := append([]models.ActivityLogEntry{entry}, doc.AdminActivityLog...)
	if len(log) > models.MaxActivityLogEntries {
		log = log[:models.MaxActivityLogEntries]
	}
	doc.AdminActivityLog = log
	f.docs[userID] = doc
	f.mu.Unlock()

	f.notify(userID)
	return nil
}

func (f *fakePrefRepo) WatchPreferences(ctx context.Context, userID string, onChange func(models.PreferenceSet), onErr feed.ErrorHandler) (*feed.Subscription, error) {
	f.mu.Lock()
	if f.watchErr != nil {
		f.mu.Unlock()
		return nil, f.watchErr
	}
	id := f.nextW
	f.nextW++
	f.watchers[id] = fakeWatcher{userID: userID, onChange: onChange}
	f.mu.Unlock()

	return feed.Start(ctx, func(ctx context.Context) {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}), nil
}

// remoteWrite simulates another device changing the document.
func (f *fakePrefRepo) remoteWrite(userID string, mutate func(*models.PreferenceSet)) {
	f.mu.Lock()
	doc := f.docLocked(userID)
	mutate(&doc)
	f.docs[userID] = doc
	f.mu.Unlock()

	f.notify(userID)
}

func (f *fakePrefRepo) watcherCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

func (f *fakePrefRepo) doc(userID string) models.PreferenceSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docLocked(userID).Clone()
}

func (f *fakePrefRepo) addCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.adds...)
}

func (f *fakePrefRepo) docLocked(userID string) models.PreferenceSet {
	doc, ok := f.docs[userID]
	if !ok {
		doc = models.DefaultPreferences()
	}
	return doc.Clone()
}

func (f *fakePrefRepo) notify(userID string) {
	f.mu.Lock()
	doc := f.docLocked(userID)
	var targets []func(models.PreferenceSet)
	for _, w := range f.watchers {
		if w.userID == userID {
			targets = append(targets, w.onChange)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(doc.Clone())
	}
}

// fakeWriter records what a NotificationManager persists.
type fakeWriter struct {
	mu    sync.Mutex
	adds  [][]string
	saves []map[string]interface{}
	err   error
}

func (w *fakeWriter) AddDismissed(ctx context.Context, ids ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.adds = append(w.adds, append([]string(nil), ids...))
	return w.err
}

func (w *fakeWriter) SaveMultiple(ctx context.Context, partial map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saves = append(w.saves, partial)
	return w.err
}

func (w *fakeWriter) addCalls() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]string(nil), w.adds...)
}

func (w *fakeWriter) lastSave() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.saves) == 0 {
		return nil
	}
	return w.saves[len(w.saves)-1]
}

// fakeFeed delivers a fixed initial snapshot and lets tests push inserts.
type fakeFeed struct {
	mu         sync.Mutex
	initial    []models.Record
	err        error
	onBatch    feed.BatchHandler
	onErr      feed.ErrorHandler
	subscribed int
	limit      int
}

func (f *fakeFeed) SubscribeRecent(ctx context.Context, limit int, onBatch feed.BatchHandler, onErr feed.ErrorHandler) (*feed.Subscription, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.subscribed++
	f.limit = limit
	f.onBatch, f.onErr = onBatch, onErr
	initial := append([]models.Record(nil), f.initial...)
	f.mu.Unlock()

	onBatch(feed.Batch{Initial: true, Records: initial})
	return feed.Start(ctx, func(ctx context.Context) { <-ctx.Done() }), nil
}

func (f *fakeFeed) push(rec models.Record) {
	f.mu.Lock()
	fn := f.onBatch
	f.mu.Unlock()
	fn(feed.Batch{Records: []models.Record{rec}})
}

func (f *fakeFeed) fail(err error) {
	f.mu.Lock()
	fn := f.onErr
	f.mu.Unlock()
	fn(err)
}

// fakeListings serves listings for the payment scanner.
type fakeListings struct {
	mu       sync.Mutex
	listings []models.Listing
	err      error
	calls    int
}

func (f *fakeListings) ListByOwner(ctx context.Context, ownerID string) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Listing
	for _, l := range f.listings {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListings) set(listings []models.Listing, err error) {
	f.mu.Lock()
	f.listings, f.err = listings, err
	f.mu.Unlock()
}
