package event

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypePermissionCreated   EventType = "permission.created"
	EventTypePermissionViewed    EventType = "permission.viewed"
	EventTypePermissionExpired   EventType = "permission.expired"
	EventTypePermissionExhausted EventType = "permission.exhausted"
)

// BaseEvent represents the common fields for all events
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

// PermissionEvent represents a share permission lifecycle event
type PermissionEvent struct {
	BaseEvent
	PermissionID   string    `json:"permissionId"`
	OwnerID        string    `json:"ownerId"`
	ViewerID       string    `json:"viewerId,omitempty"`
	UsageCount     int       `json:"usageCount,omitempty"`
	RemainingViews int       `json:"remainingViews"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func newPermissionEvent(eventType EventType, permissionID, ownerID string) *PermissionEvent {
	return &PermissionEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      eventType,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		PermissionID: permissionID,
		OwnerID:      ownerID,
	}
}

// NewPermissionCreatedEvent creates a new permission created event
func NewPermissionCreatedEvent(permissionID, ownerID string, usageLimit int, expiresAt time.Time) *PermissionEvent {
	e := newPermissionEvent(EventTypePermissionCreated, permissionID, ownerID)
	e.RemainingViews = usageLimit
	e.ExpiresAt = expiresAt
	return e
}

// NewPermissionViewedEvent creates a new permission viewed event
func NewPermissionViewedEvent(permissionID, ownerID, viewerID string, usageCount, remainingViews int, expiresAt time.Time) *PermissionEvent {
	e := newPermissionEvent(EventTypePermissionViewed, permissionID, ownerID)
	e.ViewerID = viewerID
	e.UsageCount = usageCount
	e.RemainingViews = remainingViews
	e.ExpiresAt = expiresAt
	return e
}

// NewPermissionExpiredEvent creates a new permission expired event
func NewPermissionExpiredEvent(permissionID, ownerID string, expiresAt time.Time) *PermissionEvent {
	e := newPermissionEvent(EventTypePermissionExpired, permissionID, ownerID)
	e.ExpiresAt = expiresAt
	return e
}

// NewPermissionExhaustedEvent creates a new permission exhausted event
func NewPermissionExhaustedEvent(permissionID, ownerID string, usageCount int, expiresAt time.Time) *PermissionEvent {
	e := newPermissionEvent(EventTypePermissionExhausted, permissionID, ownerID)
	e.UsageCount = usageCount
	e.ExpiresAt = expiresAt
	return e
}

func generateEventID() string {
	return uuid.NewString()
}
