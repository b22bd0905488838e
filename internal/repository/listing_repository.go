package repository

import (
	"context"
	"fmt"

	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ListingRepository handles vehicle listing queries.
type ListingRepository struct {
	*RecordFeed[models.ListingRecord]
	collection *mongo.Collection
}

// NewListingRepository creates a new instance of ListingRepository.
func NewListingRepository(db *mongo.Database) *ListingRepository {
	return &ListingRepository{
		RecordFeed: NewRecordFeed[models.ListingRecord](db, "listings"),
		collection: db.Collection("listings"),
	}
}

// ListByOwner returns every listing owned by ownerID.
func (r *ListingRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.collection.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listings: %w", err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"ownerID": ownerID,
		"count":   len(listings),
	}).Debug("Listings fetched for owner")
	return listings, nil
}
