package repository

import (
	"context"
	"fmt"

	"github.com/Dias221467/Vehicle_Marketplace/internal/feed"
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RecordFeed is an ordered, limited query over one collection that stays
// subscribed to inserts.
type RecordFeed[T models.Record] struct {
	collection *mongo.Collection
	name       string
}

// NewRecordFeed creates a feed over the named collection. Documents must
// carry a "createdAt" field.
func NewRecordFeed[T models.Record](db *mongo.Database, name string) *RecordFeed[T] {
	return &RecordFeed[T]{
		collection: db.Collection(name),
		name:       name,
	}
}

// Recent returns up to limit records, newest first.
func (r *RecordFeed[T]) Recent(ctx context.Context, limit int) ([]models.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.name, err)
	}
	defer cursor.Close(ctx)

	var records []models.Record
	for cursor.Next(ctx) {
		var rec T
		if err := cursor.Decode(&rec); err != nil {
			logrus.WithFields(logrus.Fields{
				"collection": r.name,
				"error":      err,
			}).Warn("Skipping malformed feed document")
			continue
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.name, err)
	}
	return records, nil
}

// SubscribeRecent delivers the initial snapshot and then every inserted
// record. The change stream is opened before the snapshot query so no insert
// falls between the two.
func (r *RecordFeed[T]) SubscribeRecent(ctx context.Context, limit int, onBatch feed.BatchHandler, onErr feed.ErrorHandler) (*feed.Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			// upserted preference documents have no createdAt and are not new records
			{Key: "fullDocument.createdAt", Value: bson.M{"$exists": true}},
		}}},
	}
	stream, err := r.collection.Watch(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", r.name, err)
	}

	initial, err := r.Recent(ctx, limit)
	if err != nil {
		stream.Close(ctx)
		return nil, err
	}

	return feed.Start(ctx, func(ctx context.Context) {
		defer stream.Close(context.Background())

		onBatch(feed.Batch{Initial: true, Records: initial})

		for stream.Next(ctx) {
			var event struct {
				FullDocument T `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				logrus.WithFields(logrus.Fields{
					"collection": r.name,
					"error":      err,
				}).Warn("Skipping malformed change event")
				continue
			}
			onBatch(feed.Batch{Records: []models.Record{event.FullDocument}})
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			onErr(fmt.Errorf("%s change stream stopped: %w", r.name, err))
		}
	}), nil
}
