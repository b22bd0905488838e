package repository

import (
	"github.com/Dias221467/Vehicle_Marketplace/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserRepository exposes the marketplace users collection as a feed of
// newly registered accounts. Preference sub-documents live in the same
// collection; see PreferencesRepository.
type UserRepository struct {
	*RecordFeed[models.UserRecord]
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		RecordFeed: NewRecordFeed[models.UserRecord](db, "users"),
	}
}
