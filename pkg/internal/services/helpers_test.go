package services

import (
	"fmt"
	"testing"
	"time"

	localCache "git.koecan.jp/koecan/server/pkg/internal/cache"
	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)

func setupDatabase(t *testing.T) {
	t.Helper()

	viper.Set("database.driver", "sqlite")
	viper.Set("database.dsn", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	viper.Set("database.prefix", "")
	viper.Set("timezone", "Asia/Tokyo")

	require.NoError(t, database.NewGorm())
	require.NoError(t, database.RunMigration(database.C))

	localCache.S = nil
	UseNotifiers(nil, nil, nil)

	t.Cleanup(func() {
		if conn, err := database.C.DB(); err == nil {
			_ = conn.Close()
		}
	})
}

func freezeTime(t *testing.T, at time.Time) {
	t.Helper()
	previous := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = previous })
}

func sampleSpec() SurveySpec {
	return SurveySpec{
		Title:        "通勤に関するアンケート",
		Description:  "普段の通勤手段について教えてください。",
		Category:     models.SurveyCategoryDaily,
		RewardPoints: 30,
		Deadline:     lo.ToPtr(testNow.Add(7 * 24 * time.Hour)),
		AuthorID:     "client-1",
		Questions: []QuestionSpec{
			{
				Text:       "主な通勤手段は？",
				Type:       models.QuestionTypeSingleChoice,
				IsRequired: true,
				Options:    []OptionSpec{{Text: "電車"}, {Text: "バス"}, {Text: "車"}},
			},
			{
				Text:       "よく使う時間帯は？",
				Type:       models.QuestionTypeMultipleChoice,
				IsRequired: false,
				Options:    []OptionSpec{{Text: "朝"}, {Text: "昼"}, {Text: "夜"}},
			},
			{
				Text:       "通勤時間（分）",
				Type:       models.QuestionTypeNumber,
				IsRequired: true,
			},
			{
				Text: "ご意見",
				Type: models.QuestionTypeText,
			},
		},
	}
}

func createSampleSurvey(t *testing.T) models.Survey {
	t.Helper()
	survey, err := NewSurveyBuilder(sampleSpec()).Submit(PersistSurvey)
	require.NoError(t, err)
	survey, err = GetSurvey(survey.ID)
	require.NoError(t, err)
	return survey
}
