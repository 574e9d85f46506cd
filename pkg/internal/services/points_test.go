package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	localCache "git.koecan.jp/koecan/server/pkg/internal/cache"
	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[any]any
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[any]any)}
}

func (v *memoryStore) Get(_ context.Context, key any) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if value, ok := v.items[key]; ok {
		return value, nil
	}
	return nil, errors.New("value not found in store")
}

func (v *memoryStore) GetWithTTL(ctx context.Context, key any) (any, time.Duration, error) {
	value, err := v.Get(ctx, key)
	return value, 0, err
}

func (v *memoryStore) Set(_ context.Context, key any, value any, _ ...store.Option) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items[key] = value
	return nil
}

func (v *memoryStore) Delete(_ context.Context, key any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.items, key)
	return nil
}

func (v *memoryStore) Invalidate(ctx context.Context, _ ...store.InvalidateOption) error {
	return v.Clear(ctx)
}

func (v *memoryStore) Clear(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = make(map[any]any)
	return nil
}

func (v *memoryStore) GetType() string {
	return "memory"
}

func TestEnsureMonitorProfileKeepsExisting(t *testing.T) {
	setupDatabase(t)

	first, err := EnsureMonitorProfile(database.C, "monitor-1", "山田", "yamada@example.com")
	require.NoError(t, err)
	second, err := EnsureMonitorProfile(database.C, "monitor-1", "", "")
	require.NoError(t, err)

	assert.Equal(t, first.ReferralCode, second.ReferralCode)
	assert.Equal(t, "山田", second.Name)
}

func TestRegenerateReferralCode(t *testing.T) {
	setupDatabase(t)

	profile, err := EnsureMonitorProfile(database.C, "monitor-1", "", "")
	require.NoError(t, err)

	code, err := RegenerateReferralCode("monitor-1")
	require.NoError(t, err)
	assert.Regexp(t, `^KOECAN-[A-Z0-9]{8}$`, code)
	assert.NotEqual(t, profile.ReferralCode, code)

	profile, err = GetMonitorProfile("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, code, profile.ReferralCode)
}

func TestUpdateNotificationPreference(t *testing.T) {
	setupDatabase(t)

	profile, err := UpdateNotificationPreference("monitor-1", NotificationPreference{
		LineUserID: lo.ToPtr("U123"),
		PushOptIn:  lo.ToPtr(true),
		PushToken:  lo.ToPtr("token-a"),
	})
	require.NoError(t, err)
	assert.True(t, profile.IsLineLinked)
	assert.True(t, profile.PushOptIn)

	profile, err = UpdateNotificationPreference("monitor-1", NotificationPreference{
		IsLineLinked: lo.ToPtr(false),
		PushToken:    lo.ToPtr("token-a"),
	})
	require.NoError(t, err)

	stored, err := GetMonitorProfile("monitor-1")
	require.NoError(t, err)
	assert.False(t, stored.IsLineLinked)
	assert.Empty(t, stored.LineUserID)
	assert.True(t, stored.PushOptIn)
	assert.Equal(t, []string{"token-a"}, []string(stored.PushTokens))
}

func TestUpdateNotificationPreferenceKeepsBalance(t *testing.T) {
	setupDatabase(t)
	grantPoints(t, "monitor-1", 100)

	// Credit points inside the preference update, as a settlement committing
	// between the profile read and the write would.
	var credited atomic.Bool
	require.NoError(t, database.C.Callback().Update().Before("gorm:update").Register("test:concurrent_settle", func(db *gorm.DB) {
		if db.Statement.Table != "monitor_profiles" || !credited.CompareAndSwap(false, true) {
			return
		}
		db.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE monitor_profiles SET points = points + 30 WHERE user_id = ?", "monitor-1")
	}))

	profile, err := UpdateNotificationPreference("monitor-1", NotificationPreference{PushOptIn: lo.ToPtr(true)})
	require.NoError(t, err)
	require.True(t, credited.Load())
	assert.True(t, profile.PushOptIn)
	assert.Equal(t, 130, profile.Points)

	stored, err := GetMonitorProfile("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, 130, stored.Points)

	profile, err = UpdateNotificationPreference("monitor-1", NotificationPreference{})
	require.NoError(t, err)
	assert.Equal(t, 130, profile.Points)
}

func TestListPointTransactions(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	for idx := 0; idx < 3; idx++ {
		survey := createSampleSurvey(t)
		freezeTime(t, testNow.Add(time.Duration(idx)*time.Minute))
		_, err := SubmitResponse(survey.ID, "monitor-1", completeAnswers(survey))
		require.NoError(t, err)
	}

	items, count, err := ListPointTransactions("monitor-1", 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
	require.Len(t, items, 2)
	assert.True(t, items[0].HappenedAt.After(items[1].HappenedAt))
}

func TestGetDashboard(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	answered := createSampleSurvey(t)
	open := createSampleSurvey(t)

	spec := sampleSpec()
	spec.TargetTags = []string{"student"}
	_, err := NewSurveyBuilder(spec).Submit(PersistSurvey)
	require.NoError(t, err)

	_, err = SubmitResponse(answered.ID, "monitor-1", completeAnswers(answered))
	require.NoError(t, err)

	dashboard, err := GetDashboard("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, 30, dashboard.Profile.Points)
	assert.EqualValues(t, 1, dashboard.AnsweredCount)
	require.Len(t, dashboard.AvailableSurveys, 1)
	assert.Equal(t, open.ID, dashboard.AvailableSurveys[0].ID)
	assert.Len(t, dashboard.RecentTransactions, 1)

	require.NoError(t, database.C.Model(&models.MonitorProfile{}).Where("user_id = ?", "monitor-1").Update("tags", `["student"]`).Error)
	dashboard, err = GetDashboard("monitor-1")
	require.NoError(t, err)
	assert.Len(t, dashboard.AvailableSurveys, 2)
}

func TestGetDashboardCachesUntilInvalidated(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)
	localCache.S = newMemoryStore()
	t.Cleanup(func() { localCache.S = nil })

	survey := createSampleSurvey(t)

	dashboard, err := GetDashboard("monitor-1")
	require.NoError(t, err)
	assert.Zero(t, dashboard.Profile.Points)

	require.NoError(t, database.C.Model(&models.MonitorProfile{}).Where("user_id = ?", "monitor-1").Update("points", 99).Error)
	dashboard, err = GetDashboard("monitor-1")
	require.NoError(t, err)
	assert.Zero(t, dashboard.Profile.Points)

	_, err = SubmitResponse(survey.ID, "monitor-1", completeAnswers(survey))
	require.NoError(t, err)

	dashboard, err = GetDashboard("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, 129, dashboard.Profile.Points)
	assert.Empty(t, dashboard.AvailableSurveys)
}
