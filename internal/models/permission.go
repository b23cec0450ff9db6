package models

import "time"

type PermissionStatus string

const (
	PermissionStatusActive  PermissionStatus = "active"
	PermissionStatusExpired PermissionStatus = "expired"
	PermissionStatusUsed    PermissionStatus = "used"
	PermissionStatusRevoked PermissionStatus = "revoked"
)

// SharePermission is a time-boxed, count-limited grant allowing viewers to
// read one owner's soul chart. The permissionId doubles as the capability
// token carried in share links.
type SharePermission struct {
	PermissionID string           `bson:"permissionId" json:"permissionId"`
	OwnerID      string           `bson:"ownerId" json:"ownerId"`
	OwnerName    string           `bson:"ownerName" json:"ownerName"` // display name as of share time, never refreshed
	ExpiresAt    time.Time        `bson:"expiresAt" json:"expiresAt"`
	UsageLimit   int              `bson:"usageLimit" json:"usageLimit"`
	UsageCount   int              `bson:"usageCount" json:"usageCount"`
	Status       PermissionStatus `bson:"status" json:"status"`
	GrantedTo    string           `bson:"grantedTo,omitempty" json:"grantedTo,omitempty"` // most recent successful viewer
	LastViewedAt *time.Time       `bson:"lastViewedAt,omitempty" json:"lastViewedAt,omitempty"`
	CreatedAt    time.Time        `bson:"createdAt" json:"createdAt"`
}

// RemainingViews reports how many successful verifications are left.
func (p *SharePermission) RemainingViews() int {
	remaining := p.UsageLimit - p.UsageCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpiredAt reports whether the grant lifetime has elapsed at the given
// instant, independent of the persisted status.
func (p *SharePermission) IsExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// IsExhausted reports whether the usage limit has been reached.
func (p *SharePermission) IsExhausted() bool {
	return p.UsageCount >= p.UsageLimit
}

// IsTerminal reports whether the status can no longer transition. Once a
// permission leaves active it never returns.
func (p *SharePermission) IsTerminal() bool {
	return p.Status != PermissionStatusActive
}
