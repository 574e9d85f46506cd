package services

import (
	"errors"
	"testing"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPersistSurvey(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	survey := createSampleSurvey(t)

	assert.Equal(t, models.SurveyStatusOpen, survey.Status)
	assert.Equal(t, 4, survey.QuestionCount)
	assert.Equal(t, "ja", survey.Language)
	assert.False(t, survey.IsQuiz)
	require.Len(t, survey.Questions, 4)
	for idx, question := range survey.Questions {
		assert.Equal(t, idx, question.DisplayOrder)
		assert.Equal(t, survey.ID, question.SurveyID)
	}
	assert.Equal(t, []string{"電車", "バス", "車"}, lo.Map(survey.Questions[0].Options, func(item models.SurveyOption, _ int) string {
		return item.Text
	}))
	assert.Empty(t, survey.Questions[2].Options)
}

func TestPersistSurveyRollsBackOnFailure(t *testing.T) {
	setupDatabase(t)

	require.NoError(t, database.C.Callback().Create().Before("gorm:create").Register("test:fail_options", func(db *gorm.DB) {
		if db.Statement.Schema != nil && db.Statement.Schema.Table == "survey_options" {
			_ = db.AddError(errors.New("injected failure"))
		}
	}))

	_, err := NewSurveyBuilder(sampleSpec()).Submit(PersistSurvey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))

	var surveys, questions int64
	require.NoError(t, database.C.Model(&models.Survey{}).Count(&surveys).Error)
	require.NoError(t, database.C.Model(&models.SurveyQuestion{}).Count(&questions).Error)
	assert.Zero(t, surveys)
	assert.Zero(t, questions)
}

func TestPersistSurveyMarksQuiz(t *testing.T) {
	setupDatabase(t)

	spec := sampleSpec()
	spec.Questions[0].Options[1].IsCorrect = true
	survey, err := NewSurveyBuilder(spec).Submit(PersistSurvey)
	require.NoError(t, err)
	assert.True(t, survey.IsQuiz)

	survey, err = GetSurvey(survey.ID)
	require.NoError(t, err)
	assert.True(t, survey.Questions[0].Options[1].IsCorrect)
}

func TestHideCorrectAnswers(t *testing.T) {
	setupDatabase(t)

	spec := sampleSpec()
	spec.Questions[0].Options[1].IsCorrect = true
	spec.Questions[2].CorrectAnswerNumber = lo.ToPtr(45.0)
	spec.Questions[3].CorrectAnswerText = lo.ToPtr("特になし")
	created, err := NewSurveyBuilder(spec).Submit(PersistSurvey)
	require.NoError(t, err)
	survey, err := GetSurvey(created.ID)
	require.NoError(t, err)

	hidden := HideCorrectAnswers(survey)
	assert.True(t, hidden.IsQuiz)
	require.Len(t, hidden.Questions, 4)
	for _, question := range hidden.Questions {
		assert.Nil(t, question.CorrectAnswerText)
		assert.Nil(t, question.CorrectAnswerNumber)
		for _, option := range question.Options {
			assert.False(t, option.IsCorrect, option.Text)
		}
	}
	assert.Equal(t, survey.Questions[0].Options[1].ID, hidden.Questions[0].Options[1].ID)

	assert.True(t, survey.Questions[0].Options[1].IsCorrect)
	require.NotNil(t, survey.Questions[2].CorrectAnswerNumber)
	assert.Equal(t, 45.0, *survey.Questions[2].CorrectAnswerNumber)
}

func TestGetSurveyNotFound(t *testing.T) {
	setupDatabase(t)

	_, err := GetSurvey("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSurveys(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	for idx, category := range []string{models.SurveyCategoryDaily, models.SurveyCategoryCampaign, models.SurveyCategoryDaily} {
		spec := sampleSpec()
		spec.Category = category
		spec.Deadline = lo.ToPtr(testNow.Add(time.Duration(3-idx) * 24 * time.Hour))
		_, err := NewSurveyBuilder(spec).Submit(PersistSurvey)
		require.NoError(t, err)
	}

	count, err := CountSurveys(SurveyFilter{Category: models.SurveyCategoryDaily})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	items, err := ListSurveys(SurveyFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Deadline.Before(items[1].Deadline))
	assert.True(t, items[1].Deadline.Before(items[2].Deadline))

	items, err = ListSurveys(SurveyFilter{}, 1, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUpdateSurveyStatus(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	survey := createSampleSurvey(t)

	survey, err := UpdateSurveyStatus(survey, models.SurveyStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusClosed, survey.Status)

	_, err = UpdateSurveyStatus(survey, models.SurveyStatusScheduled)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)

	freezeTime(t, testNow.Add(30*24*time.Hour))
	_, err = UpdateSurveyStatus(survey, models.SurveyStatusOpen)
	assert.ErrorAs(t, err, &validation)

	stored, err := GetSurvey(survey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusClosed, stored.Status)
}

func TestDoSurveyLifecycleTransition(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	expiring := createSampleSurvey(t)

	spec := sampleSpec()
	spec.OpensAt = lo.ToPtr(testNow.Add(24 * time.Hour))
	spec.Deadline = lo.ToPtr(testNow.Add(30 * 24 * time.Hour))
	scheduled, err := NewSurveyBuilder(spec).Submit(PersistSurvey)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusScheduled, scheduled.Status)

	freezeTime(t, testNow.Add(2*24*time.Hour))
	DoSurveyLifecycleTransition()

	stored, err := GetSurvey(scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusOpen, stored.Status)
	stored, err = GetSurvey(expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusOpen, stored.Status)

	freezeTime(t, testNow.Add(8*24*time.Hour))
	DoSurveyLifecycleTransition()

	stored, err = GetSurvey(expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusClosed, stored.Status)
	stored, err = GetSurvey(scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyStatusOpen, stored.Status)
}
