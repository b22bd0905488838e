package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const preferencesField = "preferences"

// isoLayout is the millisecond ISO-8601 form adminLastVisit is stored in.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// preferencesDocument projects the preference sub-document. It is decoded
// loosely first because adminLastVisit may be stored as a string or a date.
type preferencesDocument struct {
	Preferences bson.D `bson:"preferences"`
}

// PreferencesRepository reads and writes the preference sub-document of the
// per-user document in the users collection.
type PreferencesRepository struct {
	collection *mongo.Collection
}

// NewPreferencesRepository creates a new instance of PreferencesRepository.
func NewPreferencesRepository(db *mongo.Database) *PreferencesRepository {
	return &PreferencesRepository{
		collection: db.Collection("users"),
	}
}

// GetPreferences returns the stored preferences, or defaults when the user
// has no document yet.
func (r *PreferencesRepository) GetPreferences(ctx context.Context, userID string) (models.PreferenceSet, error) {
	var doc preferencesDocument
	opts := options.FindOne().SetProjection(bson.M{preferencesField: 1})
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		logrus.WithField("userID", userID).Info("No preference document yet, using defaults")
		return models.DefaultPreferences(), nil
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"error":  err,
		}).Warn("Failed to load preferences")
		return models.PreferenceSet{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	return decodePreferences(doc.Preferences)
}

// MergePreferences sets the given fields without touching the others. The
// document is created on first write.
func (r *PreferencesRepository) MergePreferences(ctx context.Context, userID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": PreferenceUpdate(fields)},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"error":  err,
		}).Error("Failed to save preferences")
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// AddDismissed unions ids into the dismissed set so concurrent devices never
// overwrite each other's dismissals.
func (r *PreferencesRepository) AddDismissed(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$addToSet": bson.M{
			preferencesField + "." + models.PrefDismissedNotifications: bson.M{"$each": ids},
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"count":  len(ids),
			"error":  err,
		}).Error("Failed to persist dismissed notifications")
		return fmt.Errorf("failed to persist dismissed notifications: %w", err)
	}
	return nil
}

// PushActivity prepends entry to the admin activity log and trims it to the
// newest MaxActivityLogEntries in the same update.
func (r *PreferencesRepository) PushActivity(ctx context.Context, userID string, entry models.ActivityLogEntry) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$push": bson.M{
			preferencesField + "." + models.PrefAdminActivityLog: bson.M{
				"$each":     []models.ActivityLogEntry{entry},
				"$position": 0,
				"$slice":    models.MaxActivityLogEntries,
			},
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"userID": userID,
			"action": entry.Action,
			"error":  err,
		}).Error("Failed to append admin activity")
		return fmt.Errorf("failed to append admin activity: %w", err)
	}
	return nil
}

// WatchPreferences streams the full preference set after every change to the
// user's document.
func (r *PreferencesRepository) WatchPreferences(ctx context.Context, userID string, onChange func(models.PreferenceSet), onErr feed.ErrorHandler) (*feed.Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: userID}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := r.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch preferences: %w", err)
	}

	return feed.Start(ctx, func(ctx context.Context) {
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var event struct {
				FullDocument *preferencesDocument `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				logrus.WithError(err).Warn("Skipping malformed preference change")
				continue
			}
			if event.FullDocument == nil {
				// deleted document; nothing to mirror
				continue
			}
			prefs, err := decodePreferences(event.FullDocument.Preferences)
			if err != nil {
				logrus.WithError(err).Warn("Skipping undecodable preference change")
				continue
			}
			onChange(prefs)
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			onErr(fmt.Errorf("preference change stream stopped: %w", err))
		}
	}), nil
}

// PreferenceUpdate prefixes keys with the sub-document path for $set.
// adminLastVisit is written as an ISO-8601 string.
func PreferenceUpdate(fields map[string]interface{}) bson.M {
	update := bson.M{}
	for k, v := range fields {
		if k == models.PrefAdminLastVisit {
			v = isoString(v)
		}
		update[preferencesField+"."+k] = v
	}
	return update
}

func isoString(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(isoLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(isoLayout)
	}
	return v
}

// decodePreferences turns a stored sub-document into a PreferenceSet,
// accepting adminLastVisit both as an ISO-8601 string and as a BSON date.
func decodePreferences(stored bson.D) (models.PreferenceSet, error) {
	fields := bson.D{}
	for _, e := range stored {
		if s, ok := e.Value.(string); ok && e.Key == models.PrefAdminLastVisit {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"value": s,
					"error": err,
				}).Warn("Ignoring unreadable adminLastVisit")
				continue
			}
			e.Value = t
		}
		fields = append(fields, e)
	}

	raw, err := bson.Marshal(fields)
	if err != nil {
		return models.PreferenceSet{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	var prefs models.PreferenceSet
	if err := bson.Unmarshal(raw, &prefs); err != nil {
		return models.PreferenceSet{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return withDefaults(prefs), nil
}

func withDefaults(p models.PreferenceSet) models.PreferenceSet {
	if p.DismissedNotifications == nil {
		p.DismissedNotifications = []string{}
	}
	if p.DashboardTab == "" {
		p.DashboardTab = models.DashboardTabMyProperties
	}
	if p.PendingUserNotifications == nil {
		p.PendingUserNotifications = []string{}
	}
	if p.PendingListingNotifications == nil {
		p.PendingListingNotifications = []string{}
	}
	if p.AdminActivityLog == nil {
		p.AdminActivityLog = []models.ActivityLogEntry{}
	}
	return p
}
