package models

import (
	"time"
)

// NotificationType is the kind of domain event a notification describes.
type NotificationType string

const (
	TypeUser         NotificationType = "user"
	TypeListing      NotificationType = "listing"
	TypePhoto        NotificationType = "photo"
	TypePremium      NotificationType = "premium"
	TypeRent         NotificationType = "rent"
	TypeSubscription NotificationType = "subscription"
)

// NotificationTypes lists every known type in badge order.
var NotificationTypes = []NotificationType{
	TypeUser, TypeListing, TypePhoto, TypePremium, TypeRent, TypeSubscription,
}

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyWarning  Urgency = "warning"
	UrgencyInfo     Urgency = "info"
)

// Action tells the UI where a click on a notification should land.
type Action struct {
	Tab    string `json:"tab"`
	SubTab string `json:"sub_tab,omitempty"`
	Anchor string `json:"anchor,omitempty"`
}

// Notification is an in-memory notification. It is never persisted; only its
// ID may end up in the dismissed set.
type Notification struct {
	ID        string           `json:"id"`   // {type}-{sourceRecordId}
	Type      NotificationType `json:"type"` // user, listing, photo, premium, rent, subscription
	Title     string           `json:"title"`
	Subtitle  string           `json:"subtitle"`
	Timestamp time.Time        `json:"timestamp"` // time of the underlying event
	IsMissed  bool             `json:"is_missed"`
	Urgency   Urgency          `json:"urgency"`
	Action    Action           `json:"action"`
	Data      Record           `json:"data,omitempty"` // source record, kept for re-derivation
}
