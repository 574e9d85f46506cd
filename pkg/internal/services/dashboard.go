package services

import (
	"context"
	"fmt"
	"time"

	localCache "git.koecan.jp/koecan/server/pkg/internal/cache"
	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Dashboard struct {
	Profile            models.MonitorProfile     `json:"profile"`
	AnsweredCount      int64                     `json:"answered_count"`
	AvailableSurveys   []models.Survey           `json:"available_surveys"`
	RecentTransactions []models.PointTransaction `json:"recent_transactions"`
}

func getDashboardCacheKey(userID string) string {
	return fmt.Sprintf("dashboard#%s", userID)
}

// ListAvailableSurveys returns the open surveys the monitor has not answered
// yet and whose target tags, when set, match one of the monitor tags.
func ListAvailableSurveys(profile models.MonitorProfile) ([]models.Survey, error) {
	answered := database.C.
		Model(&models.SurveyResponse{}).
		Select("survey_id").
		Where("respondent_id = ?", profile.UserID)

	var surveys []models.Survey
	if err := database.C.
		Where("status = ? AND deadline >= ?", models.SurveyStatusOpen, now()).
		Where("id NOT IN (?)", answered).
		Order("deadline ASC").
		Find(&surveys).Error; err != nil {
		return nil, err
	}

	return lo.Filter(surveys, func(item models.Survey, _ int) bool {
		return len(item.TargetTags) == 0 || len(lo.Intersect(item.TargetTags, profile.Tags)) > 0
	}), nil
}

func buildDashboard(userID string) (Dashboard, error) {
	var out Dashboard

	profile, err := EnsureMonitorProfile(database.C, userID, "", "")
	if err != nil {
		return out, err
	}
	out.Profile = profile

	if err := database.C.Model(&models.SurveyResponse{}).
		Where("respondent_id = ?", userID).
		Count(&out.AnsweredCount).Error; err != nil {
		return out, err
	}
	if out.AvailableSurveys, err = ListAvailableSurveys(profile); err != nil {
		return out, err
	}
	if out.RecentTransactions, _, err = ListPointTransactions(userID, 5, 0); err != nil {
		return out, err
	}

	return out, nil
}

func GetDashboard(userID string) (Dashboard, error) {
	if localCache.S == nil {
		return buildDashboard(userID)
	}

	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)
	ctx := context.Background()

	if val, err := marshal.Get(ctx, getDashboardCacheKey(userID), new(Dashboard)); err == nil {
		return *val.(*Dashboard), nil
	}

	dashboard, err := buildDashboard(userID)
	if err != nil {
		return dashboard, err
	}

	if err := marshal.Set(
		ctx,
		getDashboardCacheKey(userID),
		dashboard,
		store.WithExpiration(5*time.Minute),
		store.WithTags([]string{"dashboard", fmt.Sprintf("user#%s", userID)}),
	); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Unable to cache dashboard...")
	}

	return dashboard, nil
}

func InvalidateDashboard(userID string) {
	if localCache.S == nil {
		return
	}

	cacheManager := cache.New[any](localCache.S)
	ctx := context.Background()
	_ = cacheManager.Delete(ctx, getDashboardCacheKey(userID))
	_ = cacheManager.Invalidate(ctx, store.WithInvalidateTags([]string{fmt.Sprintf("user#%s", userID)}))
}
