package repository

import (
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// NewPhotoRequestFeed returns the feed of professional photo requests.
func NewPhotoRequestFeed(db *mongo.Database) *RecordFeed[models.PhotoRequestRecord] {
	return NewRecordFeed[models.PhotoRequestRecord](db, "photoRequests")
}

// NewPremiumRequestFeed returns the feed of premium upgrade requests.
func NewPremiumRequestFeed(db *mongo.Database) *RecordFeed[models.PremiumRequestRecord] {
	return NewRecordFeed[models.PremiumRequestRecord](db, "premiumRequests")
}
