package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"soulchart-share-service/internal/database/mongo"
	"soulchart-share-service/internal/models"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodb "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type PermissionRepository struct {
	collection *mongodb.Collection
}

// NewPermissionRepository creates a new share permission repository
func NewPermissionRepository() *PermissionRepository {
	return &PermissionRepository{
		collection: mongo.GetCollection("share_permissions"),
	}
}

// CreateIndexes sets up the unique capability-token index and the owner
// listing index.
func (r *PermissionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongodb.IndexModel{
		{
			Keys:    bson.D{{Key: "permissionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create share permission indexes: %w", err)
	}
	return nil
}

// Create inserts a new permission record. The permissionId is unique, so an
// insert can never silently overwrite an existing grant.
func (r *PermissionRepository) Create(ctx context.Context, permission *models.SharePermission) error {
	_, err := r.collection.InsertOne(ctx, permission)
	if err != nil {
		log.Printf("Error creating share permission: %v", err)
		return fmt.Errorf("failed to create share permission: %w", err)
	}
	return nil
}

// GetByID retrieves a permission by its capability token. Returns nil, nil
// when no record exists.
func (r *PermissionRepository) GetByID(ctx context.Context, permissionID string) (*models.SharePermission, error) {
	var permission models.SharePermission
	err := r.collection.FindOne(ctx, bson.M{"permissionId": permissionID}).Decode(&permission)
	if err != nil {
		if errors.Is(err, mongodb.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load share permission: %w", err)
	}
	return &permission, nil
}

// ListByOwner retrieves all permissions issued by one owner, newest first.
func (r *PermissionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.SharePermission, error) {
	opts := options.Find().SetSort(bson.M{"createdAt": -1})
	cursor, err := r.collection.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list share permissions: %w", err)
	}
	defer cursor.Close(ctx)

	var permissions []*models.SharePermission
	if err = cursor.All(ctx, &permissions); err != nil {
		return nil, fmt.Errorf("failed to decode share permissions: %w", err)
	}
	return permissions, nil
}

// MarkStatus flips the status from an expected prior value. The filter on the
// prior status keeps the state lattice one-way: a record that already left
// `from` is never touched. Returns whether a document was updated.
func (r *PermissionRepository) MarkStatus(ctx context.Context, permissionID string, from, to models.PermissionStatus) (bool, error) {
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"permissionId": permissionID, "status": from},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update share permission status: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// RecordView atomically consumes one view. The filter pins the expected prior
// usageCount and active status, so two racing viewers can never both consume
// the same slot; the loser simply matches nothing. Returns the post-increment
// record, or nil, nil when the conditional update found no match.
func (r *PermissionRepository) RecordView(ctx context.Context, permissionID, viewerID string, priorCount int, now time.Time) (*models.SharePermission, error) {
	filter := bson.M{
		"permissionId": permissionID,
		"status":       models.PermissionStatusActive,
		"usageCount":   priorCount,
	}
	update := bson.M{
		"$inc": bson.M{"usageCount": 1},
		"$set": bson.M{
			"grantedTo":    viewerID,
			"lastViewedAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.SharePermission
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongodb.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to record share permission view: %w", err)
	}
	return &updated, nil
}
