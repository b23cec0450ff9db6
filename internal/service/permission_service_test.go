package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"soulchart-share-service/internal/config"
	"soulchart-share-service/internal/models"
	"testing"
	"time"
)

type fakePermissionStore struct {
	records       map[string]*models.SharePermission
	createErr     error
	getErr        error
	markCalls     int
	viewConflicts int // RecordView returns no match this many times
}

func newFakePermissionStore() *fakePermissionStore {
	return &fakePermissionStore{records: map[string]*models.SharePermission{}}
}

func (f *fakePermissionStore) Create(ctx context.Context, permission *models.SharePermission) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.records[permission.PermissionID]; exists {
		return errors.New("duplicate permissionId")
	}
	copied := *permission
	f.records[permission.PermissionID] = &copied
	return nil
}

func (f *fakePermissionStore) GetByID(ctx context.Context, permissionID string) (*models.SharePermission, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.records[permissionID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (f *fakePermissionStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.SharePermission, error) {
	var out []*models.SharePermission
	for _, record := range f.records {
		if record.OwnerID == ownerID {
			copied := *record
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakePermissionStore) MarkStatus(ctx context.Context, permissionID string, from, to models.PermissionStatus) (bool, error) {
	f.markCalls++
	record, ok := f.records[permissionID]
	if !ok || record.Status != from {
		return false, nil
	}
	record.Status = to
	return true, nil
}

func (f *fakePermissionStore) RecordView(ctx context.Context, permissionID, viewerID string, priorCount int, now time.Time) (*models.SharePermission, error) {
	if f.viewConflicts > 0 {
		f.viewConflicts--
		// Simulate losing the race: another viewer consumed the slot.
		if record, ok := f.records[permissionID]; ok && record.Status == models.PermissionStatusActive {
			record.UsageCount++
		}
		return nil, nil
	}

	record, ok := f.records[permissionID]
	if !ok || record.Status != models.PermissionStatusActive || record.UsageCount != priorCount {
		return nil, nil
	}
	record.UsageCount++
	record.GrantedTo = viewerID
	viewed := now
	record.LastViewedAt = &viewed
	copied := *record
	return &copied, nil
}

type fakeChartStore struct {
	charts map[string]*models.SoulChart
	calls  int
}

func (f *fakeChartStore) GetByOwnerID(ctx context.Context, ownerID string) (*models.SoulChart, error) {
	f.calls++
	chart, ok := f.charts[ownerID]
	if !ok {
		return nil, nil
	}
	copied := *chart
	return &copied, nil
}

type fakeCache struct {
	entries map[string][]byte
}

func (f *fakeCache) SaveStructCached(ctx context.Context, key string, model any, expiry time.Duration) error {
	encoded, err := json.Marshal(model)
	if err != nil {
		return err
	}
	f.entries[key] = encoded
	return nil
}

func (f *fakeCache) GetStructCached(ctx context.Context, key string, model any) error {
	encoded, ok := f.entries[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(encoded, model)
}

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) record(kind string) error {
	f.published = append(f.published, kind)
	return nil
}

func (f *fakePublisher) PublishPermissionCreated(ctx context.Context, permission *models.SharePermission) error {
	return f.record("created")
}

func (f *fakePublisher) PublishPermissionViewed(ctx context.Context, permission *models.SharePermission, viewerID string) error {
	return f.record("viewed")
}

func (f *fakePublisher) PublishPermissionExpired(ctx context.Context, permission *models.SharePermission) error {
	return f.record("expired")
}

func (f *fakePublisher) PublishPermissionExhausted(ctx context.Context, permission *models.SharePermission) error {
	return f.record("exhausted")
}

func (f *fakePublisher) Close() error { return nil }

type testEnv struct {
	service   *PermissionService
	store     *fakePermissionStore
	charts    *fakeChartStore
	publisher *fakePublisher
	now       *time.Time
}

func newTestEnv() *testEnv {
	store := newFakePermissionStore()
	charts := &fakeChartStore{charts: map[string]*models.SoulChart{
		"u1": {OwnerID: "u1", Summary: "a calm and steady soul"},
	}}
	publisher := &fakePublisher{}
	share := config.ShareConfig{
		GrantLifetime: 7 * 24 * time.Hour,
		UsageLimit:    3,
		ChartCacheTTL: 5 * time.Minute,
	}

	svc := NewPermissionService(store, charts, nil, publisher, share)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	env := &testEnv{service: svc, store: store, charts: charts, publisher: publisher, now: &now}
	svc.now = func() time.Time { return *env.now }
	return env
}

func TestCreatePermissionDefaults(t *testing.T) {
	env := newTestEnv()

	permission, err := env.service.CreatePermission(context.Background(), "u1", "Kim")
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	if permission.UsageLimit != 3 {
		t.Errorf("Expected usageLimit 3, got %d", permission.UsageLimit)
	}
	if permission.UsageCount != 0 {
		t.Errorf("Expected usageCount 0, got %d", permission.UsageCount)
	}
	if permission.Status != models.PermissionStatusActive {
		t.Errorf("Expected status active, got %s", permission.Status)
	}
	wantExpiry := env.now.Add(7 * 24 * time.Hour)
	if !permission.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("Expected expiresAt %v, got %v", wantExpiry, permission.ExpiresAt)
	}
	if permission.OwnerName != "Kim" {
		t.Errorf("Expected ownerName Kim, got %s", permission.OwnerName)
	}

	stored := env.store.records[permission.PermissionID]
	if stored == nil {
		t.Fatal("Expected permission to be persisted")
	}

	if got := env.publisher.published; len(got) != 1 || got[0] != "created" {
		t.Errorf("Expected a single created event, got %v", got)
	}
}

func TestCreatePermissionValidation(t *testing.T) {
	env := newTestEnv()

	testCases := []struct {
		name      string
		ownerID   string
		ownerName string
	}{
		{"missing owner id", "", "Kim"},
		{"missing owner name", "u1", ""},
		{"blank owner id", "   ", "Kim"},
		{"both missing", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.CreatePermission(context.Background(), tc.ownerID, tc.ownerName)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if len(env.store.records) != 0 {
		t.Errorf("Expected no records persisted, got %d", len(env.store.records))
	}
}

func TestCreatePermissionStoreFailure(t *testing.T) {
	env := newTestEnv()
	env.store.createErr = errors.New("mongo unavailable")

	_, err := env.service.CreatePermission(context.Background(), "u1", "Kim")
	if err == nil {
		t.Fatal("Expected an error when the store is unavailable")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Errorf("Store failure should not surface as invalid input: %v", err)
	}
}

func TestPermissionTokenFormat(t *testing.T) {
	tokenPattern := regexp.MustCompile(`^[0-9a-f]{32}$`)
	seen := map[string]bool{}

	for i := 0; i < 100; i++ {
		token, err := newPermissionID()
		if err != nil {
			t.Fatalf("newPermissionID failed: %v", err)
		}
		if !tokenPattern.MatchString(token) {
			t.Fatalf("Token %q is not 32 lowercase hex characters", token)
		}
		if seen[token] {
			t.Fatalf("Token %q generated twice", token)
		}
		seen[token] = true
	}
}

func TestVerifyConsumesViewsThenExhausts(t *testing.T) {
	env := newTestEnv()

	permission, err := env.service.CreatePermission(context.Background(), "u1", "Kim")
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	for i, wantRemaining := range []int{2, 1, 0} {
		result, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, fmt.Sprintf("v%d", i+1))
		if err != nil {
			t.Fatalf("Verification %d failed: %v", i+1, err)
		}
		if got := result.Permission.RemainingViews(); got != wantRemaining {
			t.Errorf("Verification %d: expected %d remaining views, got %d", i+1, wantRemaining, got)
		}
		if result.Chart == nil || result.Chart.OwnerID != "u1" {
			t.Errorf("Verification %d: expected the owner's chart, got %+v", i+1, result.Chart)
		}
	}

	// The third use succeeds and leaves the record active; exhaustion is
	// discovered on the next attempt.
	stored := env.store.records[permission.PermissionID]
	if stored.UsageCount != 3 {
		t.Errorf("Expected usageCount 3, got %d", stored.UsageCount)
	}
	if stored.Status != models.PermissionStatusActive {
		t.Errorf("Expected status still active after final use, got %s", stored.Status)
	}

	_, err = env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v4")
	if !errors.Is(err, ErrUsageExceeded) {
		t.Fatalf("Expected ErrUsageExceeded on the 4th attempt, got %v", err)
	}
	if stored.Status != models.PermissionStatusUsed {
		t.Errorf("Expected persisted status used, got %s", stored.Status)
	}
	if stored.UsageCount != 3 {
		t.Errorf("Exhaustion must not change usageCount, got %d", stored.UsageCount)
	}

	// A later attempt short-circuits at the status check without another
	// status write.
	marksBefore := env.store.markCalls
	_, err = env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v5")
	if !errors.Is(err, ErrUsageExceeded) {
		t.Fatalf("Expected ErrUsageExceeded after exhaustion was recorded, got %v", err)
	}
	if env.store.markCalls != marksBefore {
		t.Errorf("Expected no further status writes, got %d extra", env.store.markCalls-marksBefore)
	}
}

func TestVerifyRecordsViewer(t *testing.T) {
	env := newTestEnv()

	permission, _ := env.service.CreatePermission(context.Background(), "u1", "Kim")

	if _, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "viewer-a"); err != nil {
		t.Fatalf("Verification failed: %v", err)
	}

	stored := env.store.records[permission.PermissionID]
	if stored.GrantedTo != "viewer-a" {
		t.Errorf("Expected grantedTo viewer-a, got %q", stored.GrantedTo)
	}
	if stored.LastViewedAt == nil || !stored.LastViewedAt.Equal(*env.now) {
		t.Errorf("Expected lastViewedAt %v, got %v", *env.now, stored.LastViewedAt)
	}

	// The most recent viewer overwrites the previous one.
	if _, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "viewer-b"); err != nil {
		t.Fatalf("Second verification failed: %v", err)
	}
	if stored.GrantedTo != "viewer-b" {
		t.Errorf("Expected grantedTo viewer-b, got %q", stored.GrantedTo)
	}
}

func TestVerifyExpiredPermission(t *testing.T) {
	env := newTestEnv()

	permission, _ := env.service.CreatePermission(context.Background(), "u1", "Kim")

	*env.now = env.now.Add(8 * 24 * time.Hour)

	_, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v1")
	if !errors.Is(err, ErrPermissionExpired) {
		t.Fatalf("Expected ErrPermissionExpired, got %v", err)
	}

	stored := env.store.records[permission.PermissionID]
	if stored.Status != models.PermissionStatusExpired {
		t.Errorf("Expected persisted status expired, got %s", stored.Status)
	}
	if stored.UsageCount != 0 {
		t.Errorf("Expiry must not consume a view, got usageCount %d", stored.UsageCount)
	}

	// Expiry wins regardless of remaining views, and later attempts reject
	// at the status check.
	marksBefore := env.store.markCalls
	_, err = env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v2")
	if !errors.Is(err, ErrPermissionExpired) {
		t.Fatalf("Expected ErrPermissionExpired on the follow-up attempt, got %v", err)
	}
	if env.store.markCalls != marksBefore {
		t.Errorf("Expected no further status writes after expiry was recorded")
	}

	if got := env.publisher.published; len(got) != 2 || got[1] != "expired" {
		t.Errorf("Expected created+expired events, got %v", got)
	}
}

func TestVerifyUnknownPermission(t *testing.T) {
	env := newTestEnv()

	_, err := env.service.VerifyAndFetch(context.Background(), "feedfacefeedfacefeedfacefeedface", "v1")
	if !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("Expected ErrPermissionNotFound, got %v", err)
	}
	if env.store.markCalls != 0 {
		t.Errorf("Unknown permission must not trigger any status write")
	}
}

func TestVerifyTerminalStatuses(t *testing.T) {
	env := newTestEnv()

	testCases := []struct {
		status  models.PermissionStatus
		wantErr error
	}{
		{models.PermissionStatusExpired, ErrPermissionExpired},
		{models.PermissionStatusUsed, ErrUsageExceeded},
		{models.PermissionStatusRevoked, ErrPermissionRevoked},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			id := "token-" + string(tc.status)
			env.store.records[id] = &models.SharePermission{
				PermissionID: id,
				OwnerID:      "u1",
				Status:       tc.status,
				UsageLimit:   3,
				ExpiresAt:    env.now.Add(time.Hour),
			}

			_, err := env.service.VerifyAndFetch(context.Background(), id, "v1")
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
			if env.store.records[id].UsageCount != 0 {
				t.Errorf("Terminal status must not consume a view")
			}
		})
	}

	if env.store.markCalls != 0 {
		t.Errorf("Terminal statuses must not trigger status writes, got %d", env.store.markCalls)
	}
}

func TestVerifyInputValidation(t *testing.T) {
	env := newTestEnv()

	if _, err := env.service.VerifyAndFetch(context.Background(), "", "v1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for missing permissionId, got %v", err)
	}
	if _, err := env.service.VerifyAndFetch(context.Background(), "sometoken", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for missing viewerId, got %v", err)
	}
}

func TestVerifyMissingChartAfterCommittedView(t *testing.T) {
	env := newTestEnv()

	permission, _ := env.service.CreatePermission(context.Background(), "u2", "Lee")

	_, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v1")
	if !errors.Is(err, ErrChartNotFound) {
		t.Fatalf("Expected ErrChartNotFound, got %v", err)
	}

	// The view is committed before the chart read; a missing chart does not
	// roll it back.
	stored := env.store.records[permission.PermissionID]
	if stored.UsageCount != 1 {
		t.Errorf("Expected usageCount 1 after the committed view, got %d", stored.UsageCount)
	}
	if stored.GrantedTo != "v1" {
		t.Errorf("Expected grantedTo v1, got %q", stored.GrantedTo)
	}
}

func TestVerifyRetriesOnViewConflict(t *testing.T) {
	env := newTestEnv()

	permission, _ := env.service.CreatePermission(context.Background(), "u1", "Kim")
	env.store.viewConflicts = 1

	result, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v1")
	if err != nil {
		t.Fatalf("Expected the retry to succeed after one conflict, got %v", err)
	}

	// The racing viewer consumed one slot, this call another.
	stored := env.store.records[permission.PermissionID]
	if stored.UsageCount != 2 {
		t.Errorf("Expected usageCount 2 after conflict plus grant, got %d", stored.UsageCount)
	}
	if got := result.Permission.RemainingViews(); got != 1 {
		t.Errorf("Expected 1 remaining view, got %d", got)
	}
}

func TestVerifyConflictDrainsToExhaustion(t *testing.T) {
	env := newTestEnv()

	permission, _ := env.service.CreatePermission(context.Background(), "u1", "Kim")
	stored := env.store.records[permission.PermissionID]
	stored.UsageCount = 2
	// Every attempt loses its race, so racers drain the final slot.
	env.store.viewConflicts = 1

	_, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v1")
	if !errors.Is(err, ErrUsageExceeded) {
		t.Fatalf("Expected ErrUsageExceeded once racers drained the grant, got %v", err)
	}
	if stored.UsageCount != 3 {
		t.Errorf("Expected usageCount capped at 3, got %d", stored.UsageCount)
	}
	if stored.Status != models.PermissionStatusUsed {
		t.Errorf("Expected persisted status used, got %s", stored.Status)
	}
}

func TestVerifyUsesChartCache(t *testing.T) {
	env := newTestEnv()
	cache := &fakeCache{entries: map[string][]byte{}}
	env.service.cache = cache

	permission, _ := env.service.CreatePermission(context.Background(), "u1", "Kim")

	if _, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v1"); err != nil {
		t.Fatalf("First verification failed: %v", err)
	}
	if env.charts.calls != 1 {
		t.Fatalf("Expected one chart store read, got %d", env.charts.calls)
	}

	if _, err := env.service.VerifyAndFetch(context.Background(), permission.PermissionID, "v2"); err != nil {
		t.Fatalf("Second verification failed: %v", err)
	}
	if env.charts.calls != 1 {
		t.Errorf("Expected the second read to hit the cache, store reads: %d", env.charts.calls)
	}
}

func TestListOwnerPermissions(t *testing.T) {
	env := newTestEnv()

	if _, err := env.service.CreatePermission(context.Background(), "u1", "Kim"); err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}
	if _, err := env.service.CreatePermission(context.Background(), "u1", "Kim"); err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	permissions, err := env.service.ListOwnerPermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListOwnerPermissions failed: %v", err)
	}
	if len(permissions) != 2 {
		t.Errorf("Expected 2 permissions, got %d", len(permissions))
	}

	if _, err := env.service.ListOwnerPermissions(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty owner, got %v", err)
	}
}
