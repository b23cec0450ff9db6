package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"soulchart-share-service/internal/config"
	"soulchart-share-service/internal/event"
	"soulchart-share-service/internal/models"
	"strings"
	"time"
)

var (
	ErrInvalidInput       = errors.New("ownerId and ownerName are required")
	ErrPermissionNotFound = errors.New("share permission not found")
	ErrPermissionExpired  = errors.New("share permission has expired")
	ErrUsageExceeded      = errors.New("share permission view limit reached")
	ErrPermissionRevoked  = errors.New("share permission has been revoked")
	ErrChartNotFound      = errors.New("no soul chart found for this owner")
	ErrGrantContention    = errors.New("could not record view due to concurrent access")
)

// grantAttempts bounds the re-read loop when a conditional view update loses
// a race. Each retry re-runs the full state machine, so a permission drained
// by concurrent viewers resolves to UsageExceeded, not an extra grant.
const grantAttempts = 3

// PermissionStore is the persistence surface the verifier state machine
// relies on. RecordView must be conditional on the prior usageCount and
// active status so usageCount can never exceed usageLimit under concurrency.
type PermissionStore interface {
	Create(ctx context.Context, permission *models.SharePermission) error
	GetByID(ctx context.Context, permissionID string) (*models.SharePermission, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.SharePermission, error)
	MarkStatus(ctx context.Context, permissionID string, from, to models.PermissionStatus) (bool, error)
	RecordView(ctx context.Context, permissionID, viewerID string, priorCount int, now time.Time) (*models.SharePermission, error)
}

// ChartStore reads the externally owned chart collection.
type ChartStore interface {
	GetByOwnerID(ctx context.Context, ownerID string) (*models.SoulChart, error)
}

// ChartCache is an optional read-through cache for chart documents.
// Permission state is never cached; it gates access and is always read fresh.
type ChartCache interface {
	SaveStructCached(ctx context.Context, key string, model any, expiry time.Duration) error
	GetStructCached(ctx context.Context, key string, model any) error
}

// GrantResult is a successful verification: the released chart plus the
// post-increment permission record.
type GrantResult struct {
	Chart      *models.SoulChart
	Permission *models.SharePermission
}

type PermissionService struct {
	permissions PermissionStore
	charts      ChartStore
	cache       ChartCache
	events      event.Publisher
	share       config.ShareConfig
	now         func() time.Time
}

// NewPermissionService creates a new share permission service
func NewPermissionService(permissions PermissionStore, charts ChartStore, cache ChartCache, events event.Publisher, share config.ShareConfig) *PermissionService {
	return &PermissionService{
		permissions: permissions,
		charts:      charts,
		cache:       cache,
		events:      events,
		share:       share,
		now:         time.Now,
	}
}

// CreatePermission mints a new time-boxed, count-limited grant for the
// owner's chart and returns the full record. Only the token, expiry and
// limit are exposed to the caller by the handler.
func (s *PermissionService) CreatePermission(ctx context.Context, ownerID, ownerName string) (*models.SharePermission, error) {
	ownerID = strings.TrimSpace(ownerID)
	ownerName = strings.TrimSpace(ownerName)
	if ownerID == "" || ownerName == "" {
		return nil, ErrInvalidInput
	}

	permissionID, err := newPermissionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate permission token: %w", err)
	}

	now := s.now()
	permission := &models.SharePermission{
		PermissionID: permissionID,
		OwnerID:      ownerID,
		OwnerName:    ownerName,
		ExpiresAt:    now.Add(s.share.GrantLifetime),
		UsageLimit:   s.share.UsageLimit,
		UsageCount:   0,
		Status:       models.PermissionStatusActive,
		CreatedAt:    now,
	}

	if err := s.permissions.Create(ctx, permission); err != nil {
		return nil, err
	}

	if s.events != nil {
		if err := s.events.PublishPermissionCreated(ctx, permission); err != nil {
			log.Printf("Failed to publish permission created event: %v", err)
		}
	}

	return permission, nil
}

// VerifyAndFetch runs the verification state machine and, on success,
// releases the owner's chart. Checks run in strict order: existence, status,
// expiry, usage. Expiry and exhaustion are lazy transitions: they are
// detected here, persisted, and only then rejected, so subsequent attempts
// short-circuit on the cheaper status check.
func (s *PermissionService) VerifyAndFetch(ctx context.Context, permissionID, viewerID string) (*GrantResult, error) {
	if strings.TrimSpace(permissionID) == "" || strings.TrimSpace(viewerID) == "" {
		return nil, ErrInvalidInput
	}

	now := s.now()

	var granted *models.SharePermission
	for attempt := 0; attempt < grantAttempts; attempt++ {
		permission, err := s.permissions.GetByID(ctx, permissionID)
		if err != nil {
			return nil, err
		}
		if permission == nil {
			return nil, ErrPermissionNotFound
		}

		switch permission.Status {
		case models.PermissionStatusActive:
		case models.PermissionStatusExpired:
			return nil, ErrPermissionExpired
		case models.PermissionStatusUsed:
			return nil, ErrUsageExceeded
		default:
			return nil, ErrPermissionRevoked
		}

		if permission.IsExpiredAt(now) {
			s.markTerminal(ctx, permission, models.PermissionStatusExpired)
			return nil, ErrPermissionExpired
		}

		if permission.IsExhausted() {
			s.markTerminal(ctx, permission, models.PermissionStatusUsed)
			return nil, ErrUsageExceeded
		}

		granted, err = s.permissions.RecordView(ctx, permissionID, viewerID, permission.UsageCount, now)
		if err != nil {
			return nil, err
		}
		if granted != nil {
			break
		}
		// Lost the race for this view slot; re-read and re-evaluate.
	}
	if granted == nil {
		return nil, ErrGrantContention
	}

	if s.events != nil {
		if err := s.events.PublishPermissionViewed(ctx, granted, viewerID); err != nil {
			log.Printf("Failed to publish permission viewed event: %v", err)
		}
	}

	// The view above is already committed; a missing chart does not roll it
	// back.
	chart, err := s.loadChart(ctx, granted.OwnerID)
	if err != nil {
		return nil, err
	}
	if chart == nil {
		return nil, ErrChartNotFound
	}

	return &GrantResult{Chart: chart, Permission: granted}, nil
}

// ListOwnerPermissions returns every grant the owner has issued, newest
// first, so the app can render link state.
func (s *PermissionService) ListOwnerPermissions(ctx context.Context, ownerID string) ([]*models.SharePermission, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidInput
	}
	return s.permissions.ListByOwner(ctx, ownerID)
}

// markTerminal persists a lazy transition out of active. The conditional
// status filter keeps the lattice one-way; if another request already
// recorded the transition there is nothing left to do.
func (s *PermissionService) markTerminal(ctx context.Context, permission *models.SharePermission, to models.PermissionStatus) {
	changed, err := s.permissions.MarkStatus(ctx, permission.PermissionID, models.PermissionStatusActive, to)
	if err != nil {
		log.Printf("Failed to mark share permission %s as %s: %v", permission.PermissionID, to, err)
		return
	}
	if !changed || s.events == nil {
		return
	}

	permission.Status = to
	switch to {
	case models.PermissionStatusExpired:
		if err := s.events.PublishPermissionExpired(ctx, permission); err != nil {
			log.Printf("Failed to publish permission expired event: %v", err)
		}
	case models.PermissionStatusUsed:
		if err := s.events.PublishPermissionExhausted(ctx, permission); err != nil {
			log.Printf("Failed to publish permission exhausted event: %v", err)
		}
	}
}

func (s *PermissionService) loadChart(ctx context.Context, ownerID string) (*models.SoulChart, error) {
	cacheKey := "soulchart:owner:" + ownerID

	if s.cache != nil {
		var cached models.SoulChart
		if err := s.cache.GetStructCached(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	chart, err := s.charts.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if chart != nil && s.cache != nil {
		if err := s.cache.SaveStructCached(ctx, cacheKey, chart, s.share.ChartCacheTTL); err != nil {
			log.Printf("Failed to cache soul chart for owner %s: %v", ownerID, err)
		}
	}

	return chart, nil
}

// newPermissionID generates the capability token: 128 random bits rendered
// as 32 lowercase hex characters. Uniqueness is probabilistic; the store's
// unique index is the backstop.
func newPermissionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
