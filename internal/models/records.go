package models

import "time"

// Record is a raw domain record that can be turned into a notification.
type Record interface {
	Kind() NotificationType
	SourceID() string
	OccurredAt() time.Time
}

// UserRecord is a marketplace account from the users feed.
type UserRecord struct {
	ID          string    `bson:"_id" json:"id"`
	DisplayName string    `bson:"displayName,omitempty" json:"display_name,omitempty"`
	Email       string    `bson:"email,omitempty" json:"email,omitempty"`
	Phone       string    `bson:"phone,omitempty" json:"phone,omitempty"`
	CreatedAt   time.Time `bson:"createdAt" json:"created_at"`
}

func (r UserRecord) Kind() NotificationType { return TypeUser }
func (r UserRecord) SourceID() string       { return r.ID }
func (r UserRecord) OccurredAt() time.Time  { return r.CreatedAt }

// ListingRecord wraps a vehicle listing from the listings feed.
type ListingRecord struct {
	Listing `bson:",inline"`
}

func (r ListingRecord) Kind() NotificationType { return TypeListing }
func (r ListingRecord) SourceID() string       { return r.ID }
func (r ListingRecord) OccurredAt() time.Time  { return r.CreatedAt }

// PhotoRequestRecord is a seller's request for professional vehicle photos.
type PhotoRequestRecord struct {
	ID           string    `bson:"_id" json:"id"`
	VehicleID    string    `bson:"vehicleId,omitempty" json:"vehicle_id,omitempty"`
	VehicleTitle string    `bson:"vehicleTitle,omitempty" json:"vehicle_title,omitempty"`
	RequesterID  string    `bson:"userId,omitempty" json:"requester_id,omitempty"`
	Requester    string    `bson:"userName,omitempty" json:"requester,omitempty"`
	Location     string    `bson:"location,omitempty" json:"location,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"created_at"`
}

func (r PhotoRequestRecord) Kind() NotificationType { return TypePhoto }
func (r PhotoRequestRecord) SourceID() string       { return r.ID }
func (r PhotoRequestRecord) OccurredAt() time.Time  { return r.CreatedAt }

// PremiumRequestRecord is a seller's request to upgrade a listing to premium.
type PremiumRequestRecord struct {
	ID           string    `bson:"_id" json:"id"`
	VehicleID    string    `bson:"vehicleId,omitempty" json:"vehicle_id,omitempty"`
	VehicleTitle string    `bson:"vehicleTitle,omitempty" json:"vehicle_title,omitempty"`
	Requester    string    `bson:"userName,omitempty" json:"requester,omitempty"`
	Plan         string    `bson:"plan,omitempty" json:"plan,omitempty"`
	Amount       float64   `bson:"amount,omitempty" json:"amount,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"created_at"`
}

func (r PremiumRequestRecord) Kind() NotificationType { return TypePremium }
func (r PremiumRequestRecord) SourceID() string       { return r.ID }
func (r PremiumRequestRecord) OccurredAt() time.Time  { return r.CreatedAt }

// PaymentRecord carries a computed payment alert together with the listing it
// was derived from, so reminder text can be recomputed later.
type PaymentRecord struct {
	Alert   PaymentAlert `json:"alert"`
	Listing Listing      `json:"listing"`
}

func (r PaymentRecord) Kind() NotificationType { return TypeRent }
func (r PaymentRecord) SourceID() string       { return r.Alert.VehicleID }
func (r PaymentRecord) OccurredAt() time.Time  { return r.Alert.DueDate }

// SubscriptionRecord is a premium listing whose paid placement is ending.
type SubscriptionRecord struct {
	Listing   Listing   `json:"listing"`
	ExpiresAt time.Time `json:"expires_at"`
	DaysLeft  int       `json:"days_left"`
}

func (r SubscriptionRecord) Kind() NotificationType { return TypeSubscription }
func (r SubscriptionRecord) SourceID() string       { return r.Listing.ID }
func (r SubscriptionRecord) OccurredAt() time.Time  { return r.ExpiresAt }
