package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// SoulChart is the composite result document produced by the analysis
// pipeline. This service only reads it; the schema is owned by the pipeline,
// so everything beyond the lookup key is carried opaquely.
type SoulChart struct {
	ID          bson.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	OwnerID     string         `bson:"ownerId" json:"ownerId"`
	OwnerName   string         `bson:"ownerName,omitempty" json:"ownerName,omitempty"`
	Summary     string         `bson:"summary,omitempty" json:"summary,omitempty"`
	Sections    map[string]any `bson:"sections,omitempty" json:"sections,omitempty"`
	GeneratedAt time.Time      `bson:"generatedAt" json:"generatedAt"`
	UpdatedAt   time.Time      `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}
