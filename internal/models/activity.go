package models

import (
	"time"
)

// ActivityLogEntry is one admin action recorded in the preference document.
type ActivityLogEntry struct {
	ID        string    `bson:"id" json:"id"`
	Action    string    `bson:"action" json:"action"`   // e.g. "dismiss_all", "clear_dismissed"
	Details   string    `bson:"details" json:"details"` // free-form description
	ActorID   string    `bson:"actorId" json:"actor_id"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
