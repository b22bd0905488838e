package models

import (
	"fmt"
	"time"
)

// Preference keys as stored under the "preferences" sub-document.
const (
	PrefDismissedNotifications      = "dismissedNotifications"
	PrefDashboardTab                = "dashboardTab"
	PrefLastSeenSiteUpdate          = "lastSeenSiteUpdate"
	PrefAdminLastVisit              = "adminLastVisit"
	PrefPendingUserNotifications    = "pendingUserNotifications"
	PrefPendingListingNotifications = "pendingListingNotifications"
	PrefAdminActivityLog            = "adminActivityLog"
)

const (
	DashboardTabMyProperties = "myProperties"
	DashboardTabAdmin        = "admin"

	// MaxActivityLogEntries caps adminActivityLog, newest first.
	MaxActivityLogEntries = 100
)

// PreferenceSet is the durable per-user preference document.
type PreferenceSet struct {
	DismissedNotifications      []string               `bson:"dismissedNotifications,omitempty" json:"dismissedNotifications"`
	DashboardTab                string                 `bson:"dashboardTab,omitempty" json:"dashboardTab"`
	LastSeenSiteUpdate          *string                `bson:"lastSeenSiteUpdate,omitempty" json:"lastSeenSiteUpdate"`
	AdminLastVisit              *time.Time             `bson:"adminLastVisit,omitempty" json:"adminLastVisit"`
	PendingUserNotifications    []string               `bson:"pendingUserNotifications,omitempty" json:"pendingUserNotifications"`
	PendingListingNotifications []string               `bson:"pendingListingNotifications,omitempty" json:"pendingListingNotifications"`
	AdminActivityLog            []ActivityLogEntry     `bson:"adminActivityLog,omitempty" json:"adminActivityLog"`
	Extra                       map[string]interface{} `bson:",inline" json:"extra,omitempty"`
}

// DefaultPreferences is what a user without a stored document starts with.
func DefaultPreferences() PreferenceSet {
	return PreferenceSet{
		DismissedNotifications:      []string{},
		DashboardTab:                DashboardTabMyProperties,
		PendingUserNotifications:    []string{},
		PendingListingNotifications: []string{},
		AdminActivityLog:            []ActivityLogEntry{},
	}
}

// Clone returns a deep copy so callers cannot mutate a cached set.
func (p PreferenceSet) Clone() PreferenceSet {
	out := p
	out.DismissedNotifications = cloneStrings(p.DismissedNotifications)
	out.PendingUserNotifications = cloneStrings(p.PendingUserNotifications)
	out.PendingListingNotifications = cloneStrings(p.PendingListingNotifications)
	if p.AdminActivityLog != nil {
		out.AdminActivityLog = append([]ActivityLogEntry{}, p.AdminActivityLog...)
	}
	if p.LastSeenSiteUpdate != nil {
		v := *p.LastSeenSiteUpdate
		out.LastSeenSiteUpdate = &v
	}
	if p.AdminLastVisit != nil {
		v := *p.AdminLastVisit
		out.AdminLastVisit = &v
	}
	if p.Extra != nil {
		out.Extra = make(map[string]interface{}, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Get returns the value stored under key in its durable shape.
func (p PreferenceSet) Get(key string) (interface{}, bool) {
	switch key {
	case PrefDismissedNotifications:
		return p.DismissedNotifications, true
	case PrefDashboardTab:
		return p.DashboardTab, true
	case PrefLastSeenSiteUpdate:
		return p.LastSeenSiteUpdate, true
	case PrefAdminLastVisit:
		return p.AdminLastVisit, true
	case PrefPendingUserNotifications:
		return p.PendingUserNotifications, true
	case PrefPendingListingNotifications:
		return p.PendingListingNotifications, true
	case PrefAdminActivityLog:
		return p.AdminActivityLog, true
	}
	v, ok := p.Extra[key]
	return v, ok
}

// Set assigns value to key. Known keys are type-checked; values decoded from
// JSON ([]interface{}, RFC 3339 strings) are accepted. Unknown keys land in
// Extra.
func (p *PreferenceSet) Set(key string, value interface{}) error {
	switch key {
	case PrefDismissedNotifications, PrefPendingUserNotifications, PrefPendingListingNotifications:
		ids, err := toStrings(value)
		if err != nil {
			return fmt.Errorf("preference %q: %w", key, err)
		}
		switch key {
		case PrefDismissedNotifications:
			p.DismissedNotifications = ids
		case PrefPendingUserNotifications:
			p.PendingUserNotifications = ids
		default:
			p.PendingListingNotifications = ids
		}
	case PrefDashboardTab:
		tab, ok := value.(string)
		if !ok || (tab != DashboardTabMyProperties && tab != DashboardTabAdmin) {
			return fmt.Errorf("preference %q: invalid tab %v", key, value)
		}
		p.DashboardTab = tab
	case PrefLastSeenSiteUpdate:
		switch v := value.(type) {
		case nil:
			p.LastSeenSiteUpdate = nil
		case string:
			p.LastSeenSiteUpdate = &v
		case *string:
			p.LastSeenSiteUpdate = v
		default:
			return fmt.Errorf("preference %q: expected string, got %T", key, value)
		}
	case PrefAdminLastVisit:
		t, err := toTime(value)
		if err != nil {
			return fmt.Errorf("preference %q: %w", key, err)
		}
		p.AdminLastVisit = t
	case PrefAdminActivityLog:
		entries, ok := value.([]ActivityLogEntry)
		if !ok {
			return fmt.Errorf("preference %q: expected activity entries, got %T", key, value)
		}
		if len(entries) > MaxActivityLogEntries {
			entries = entries[:MaxActivityLogEntries]
		}
		p.AdminActivityLog = entries
	default:
		if p.Extra == nil {
			p.Extra = make(map[string]interface{})
		}
		p.Extra[key] = value
	}
	return nil
}

// HasDismissed reports whether id is in the dismissed set.
func (p PreferenceSet) HasDismissed(id string) bool {
	for _, d := range p.DismissedNotifications {
		if d == id {
			return true
		}
	}
	return false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func toStrings(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string list, got %T", value)
}

func toTime(value interface{}) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case *time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, fmt.Errorf("expected timestamp, got %T", value)
}
