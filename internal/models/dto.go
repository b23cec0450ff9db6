package models

import "time"

// CreatePermissionRequest is the body of POST /protected/share/permissions.
type CreatePermissionRequest struct {
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
}

// CreatePermissionResponse returns only what the share link needs. The full
// record (including ownerId) is never echoed back.
type CreatePermissionResponse struct {
	PermissionID string    `json:"permissionId"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UsageLimit   int       `json:"usageLimit"`
}

// VerifyPermissionRequest is the body of
// POST /protected/share/permissions/verify. ViewerID is a fallback for
// deployments without the gateway; the X-User-ID header wins when present.
type VerifyPermissionRequest struct {
	PermissionID string `json:"permissionId"`
	ViewerID     string `json:"viewerId,omitempty"`
}

// VerifyPermissionResponse carries the released chart together with the
// post-increment view budget.
type VerifyPermissionResponse struct {
	Chart          *SoulChart `json:"chart"`
	RemainingViews int        `json:"remainingViews"`
	ExpiresAt      time.Time  `json:"expiresAt"`
}
