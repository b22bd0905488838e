package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesRoundTrip(t *testing.T) {
	repo := newFakePrefRepo()
	ctx := context.Background()
	visit := baseTime

	s := NewPreferencesStore(repo, "u1")
	require.NoError(t, s.SaveMultiple(ctx, map[string]interface{}{
		models.PrefDashboardTab:       models.DashboardTabAdmin,
		models.PrefLastSeenSiteUpdate: "2025.03",
		models.PrefAdminLastVisit:     visit,
		"theme":                       "dark",
	}))
	require.NoError(t, s.AddDismissed(ctx, "user-a", "listing-b"))

	fresh := NewPreferencesStore(repo, "u1")
	got, err := fresh.Load(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, models.DashboardTabAdmin, got.DashboardTab)
	require.NotNil(t, got.LastSeenSiteUpdate)
	assert.Equal(t, "2025.03", *got.LastSeenSiteUpdate)
	require.NotNil(t, got.AdminLastVisit)
	assert.True(t, visit.Equal(*got.AdminLastVisit))
	assert.Equal(t, []string{"user-a", "listing-b"}, got.DismissedNotifications)
	assert.Equal(t, "dark", got.Extra["theme"])
}

func TestLoadWithoutDocumentReturnsDefaults(t *testing.T) {
	s := NewPreferencesStore(newFakePrefRepo(), "u1")
	got, err := s.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferences(), got)
}

func TestLoadSharesInflightRead(t *testing.T) {
	repo := newFakePrefRepo()
	repo.getGate = make(chan struct{})
	s := NewPreferencesStore(repo, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Load(context.Background(), true)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(repo.getGate)
	wg.Wait()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, 1, repo.gets)
}

func TestLoadUsesCacheUnlessForced(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()

	_, err := s.Load(ctx, false)
	require.NoError(t, err)
	_, err = s.Load(ctx, false)
	require.NoError(t, err)
	_, err = s.Load(ctx, true)
	require.NoError(t, err)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, 2, repo.gets)
}

func TestLoadFailureServesLastKnownState(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()

	got, err := s.Load(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.SetDashboardTab(ctx, models.DashboardTabAdmin))

	repo.getErr = errors.New("unavailable")
	got, err = s.Load(ctx, true)
	assert.Error(t, err)
	assert.Equal(t, models.DashboardTabAdmin, got.DashboardTab)

	cold := NewPreferencesStore(repo, "u2")
	got, err = cold.Load(ctx, false)
	assert.Error(t, err)
	assert.Equal(t, models.DefaultPreferences(), got)
}

func TestWriteFailureKeepsLocalValue(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)

	repo.mergeErr = errors.New("write rejected")
	assert.Error(t, s.SetDashboardTab(ctx, models.DashboardTabAdmin))

	got, ok := s.Preferences()
	require.True(t, ok)
	assert.Equal(t, models.DashboardTabAdmin, got.DashboardTab)
}

func TestInvalidValuesAreSkipped(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")

	require.NoError(t, s.SaveMultiple(context.Background(), map[string]interface{}{
		models.PrefDashboardTab:       "garage",
		models.PrefLastSeenSiteUpdate: "v2",
	}))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.merges, 1)
	assert.NotContains(t, repo.merges[0], models.PrefDashboardTab)
	assert.Contains(t, repo.merges[0], models.PrefLastSeenSiteUpdate)
}

func TestStoreWithoutIdentity(t *testing.T) {
	s := NewPreferencesStore(newFakePrefRepo(), "")
	_, err := s.Load(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.ErrorIs(t, s.Save(context.Background(), models.PrefDashboardTab, models.DashboardTabAdmin), ErrNoIdentity)
}

func TestRealtimeSyncMirrorsRemoteChanges(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.StartRealtimeSync(ctx))
	require.NoError(t, s.StartRealtimeSync(ctx))
	assert.Equal(t, 1, repo.watcherCount())

	var mu sync.Mutex
	var changes []PreferenceChange
	s.OnPreferenceChange(func(ch PreferenceChange) {
		mu.Lock()
		changes = append(changes, ch)
		mu.Unlock()
	})

	repo.remoteWrite("u1", func(p *models.PreferenceSet) {
		p.DismissedNotifications = []string{"user-x"}
	})

	got, _ := s.Preferences()
	assert.Equal(t, []string{"user-x"}, got.DismissedNotifications)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, models.PrefDismissedNotifications, changes[0].Key)
	assert.Equal(t, []string{"user-x"}, changes[0].Value)
}

func TestResetStopsSyncAndDropsCache(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.StartRealtimeSync(ctx))

	s.Reset()
	assert.Equal(t, 0, repo.watcherCount())
	_, ok := s.Preferences()
	assert.False(t, ok)

	// a remote change after reset must not repopulate the cache
	repo.remoteWrite("u1", func(p *models.PreferenceSet) { p.DashboardTab = models.DashboardTabAdmin })
	_, ok = s.Preferences()
	assert.False(t, ok)
}

func TestSetIdentityRebindsStore(t *testing.T) {
	repo := newFakePrefRepo()
	repo.remoteWrite("u2", func(p *models.PreferenceSet) { p.DashboardTab = models.DashboardTabAdmin })

	s := NewPreferencesStore(repo, "u1")
	got, err := s.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, models.DashboardTabMyProperties, got.DashboardTab)

	s.SetIdentity("u2")
	assert.Equal(t, "u2", s.UserID())
	got, err = s.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, models.DashboardTabAdmin, got.DashboardTab)
}

func TestActivityLogIsCapped(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)

	var last models.ActivityLogEntry
	for i := 0; i < models.MaxActivityLogEntries+5; i++ {
		last, err = s.LogAdminActivity(ctx, "u1", "approve_listing", "listing")
		require.NoError(t, err)
	}

	got, _ := s.Preferences()
	assert.Len(t, got.AdminActivityLog, models.MaxActivityLogEntries)
	assert.Equal(t, last.ID, got.AdminActivityLog[0].ID)
	assert.Len(t, repo.doc("u1").AdminActivityLog, models.MaxActivityLogEntries)
}

func TestRecordAdminVisitReturnsPrevious(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)

	prev, err := s.RecordAdminVisit(ctx, baseTime)
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = s.RecordAdminVisit(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.True(t, baseTime.Equal(*prev))
}

func TestClearDismissed(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)

	require.NoError(t, s.AddDismissed(ctx, "user-a"))
	require.NoError(t, s.ClearDismissed(ctx))
	assert.Empty(t, repo.doc("u1").DismissedNotifications)
}

func TestReadDuringWriteKeepsLocalValue(t *testing.T) {
	repo := newFakePrefRepo()
	s := NewPreferencesStore(repo, "u1")
	ctx := context.Background()
	_, err := s.Load(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.StartRealtimeSync(ctx))
	defer s.Reset()

	repo.mergeEntered = make(chan struct{})
	repo.mergeGate = make(chan struct{})
	written := make(chan error, 1)
	go func() { written <- s.SetDashboardTab(ctx, models.DashboardTabAdmin) }()
	<-repo.mergeEntered

	got, err := s.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, models.DashboardTabAdmin, got.DashboardTab)

	version := "v3"
	repo.remoteWrite("u1", func(p *models.PreferenceSet) { p.LastSeenSiteUpdate = &version })
	got, ok := s.Preferences()
	require.True(t, ok)
	assert.Equal(t, models.DashboardTabAdmin, got.DashboardTab)
	require.NotNil(t, got.LastSeenSiteUpdate)
	assert.Equal(t, "v3", *got.LastSeenSiteUpdate)

	close(repo.mergeGate)
	require.NoError(t, <-written)
	assert.Equal(t, models.DashboardTabAdmin, repo.doc("u1").DashboardTab)

	// acknowledged writes no longer shadow the stored document
	repo.remoteWrite("u1", func(p *models.PreferenceSet) { p.DashboardTab = models.DashboardTabMyProperties })
	got, _ = s.Preferences()
	assert.Equal(t, models.DashboardTabMyProperties, got.DashboardTab)
}
