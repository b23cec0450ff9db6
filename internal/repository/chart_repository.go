package repository

import (
	"context"
	"errors"
	"fmt"
	"soulchart-share-service/internal/database/mongo"
	"soulchart-share-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodb "go.mongodb.org/mongo-driver/v2/mongo"
)

// ChartRepository reads soul chart documents. The collection is written by
// the analysis pipeline; this service never mutates it.
type ChartRepository struct {
	collection *mongodb.Collection
}

// NewChartRepository creates a new chart repository
func NewChartRepository() *ChartRepository {
	return &ChartRepository{
		collection: mongo.GetCollection("soul_charts"),
	}
}

// GetByOwnerID retrieves the owner's chart. Returns nil, nil when the owner
// has no chart document.
func (r *ChartRepository) GetByOwnerID(ctx context.Context, ownerID string) (*models.SoulChart, error) {
	var chart models.SoulChart
	err := r.collection.FindOne(ctx, bson.M{"ownerId": ownerID}).Decode(&chart)
	if err != nil {
		if errors.Is(err, mongodb.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load soul chart: %w", err)
	}
	return &chart, nil
}
