package feed

import "github.com/Dias221467/Vehicle_Marketplace/internal/models"

// Batch is one delivery from a collection feed. The first delivery of every
// subscription is the initial snapshot (Initial=true, newest first); every
// later delivery carries records inserted after the subscription started.
type Batch struct {
	Initial bool
	Records []models.Record
}

// BatchHandler receives feed deliveries.
type BatchHandler func(Batch)

// ErrorHandler receives stream failures. The stream has stopped when it is
// called.
type ErrorHandler func(error)
