package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/metrics"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var now = time.Now

func surveyFromSpec(spec SurveySpec) models.Survey {
	survey := models.Survey{
		Title:            strings.TrimSpace(spec.Title),
		Description:      strings.TrimSpace(spec.Description),
		Category:         spec.Category,
		RewardPoints:     spec.RewardPoints,
		Status:           models.SurveyStatusOpen,
		OpensAt:          spec.OpensAt,
		QuestionCount:    len(spec.Questions),
		DeliveryChannels: spec.DeliveryChannels,
		TargetTags:       spec.TargetTags,
		AuthorID:         spec.AuthorID,
	}
	if spec.Deadline != nil {
		survey.Deadline = *spec.Deadline
	}
	if spec.OpensAt != nil && spec.OpensAt.After(now()) {
		survey.Status = models.SurveyStatusScheduled
	}

	for _, question := range spec.Questions {
		survey.IsQuiz = survey.IsQuiz || question.HasCorrectAnswer()
		survey.Questions = append(survey.Questions, models.SurveyQuestion{
			Text:                strings.TrimSpace(question.Text),
			Type:                question.Type,
			IsRequired:          question.IsRequired,
			DisplayOrder:        question.DisplayOrder,
			CorrectAnswerText:   question.CorrectAnswerText,
			CorrectAnswerNumber: question.CorrectAnswerNumber,
			Options: lo.Map(question.Options, func(item OptionSpec, idx int) models.SurveyOption {
				return models.SurveyOption{
					Text:         strings.TrimSpace(item.Text),
					DisplayOrder: idx,
					IsCorrect:    item.IsCorrect,
				}
			}),
		})
	}

	return survey
}

// PersistSurvey writes the survey header, its questions and their options in
// one transaction, nothing is kept when any row fails.
func PersistSurvey(spec SurveySpec) (models.Survey, error) {
	survey := surveyFromSpec(spec)
	survey.Language = DetectLanguage(survey.Title + "\n" + survey.Description)

	log.Debug().Str("title", survey.Title).Int("questions", survey.QuestionCount).Msg("Saving survey into database...")

	questions := survey.Questions
	err := database.C.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&survey).Error; err != nil {
			return fmt.Errorf("unable to save survey: %v", err)
		}
		for idx := range questions {
			questions[idx].SurveyID = survey.ID
			if err := tx.Omit(clause.Associations).Create(&questions[idx]).Error; err != nil {
				return fmt.Errorf("unable to save question #%d: %v", idx+1, err)
			}
			if len(questions[idx].Options) == 0 {
				continue
			}
			for oidx := range questions[idx].Options {
				questions[idx].Options[oidx].QuestionID = questions[idx].ID
			}
			if err := tx.Create(&questions[idx].Options).Error; err != nil {
				return fmt.Errorf("unable to save options of question #%d: %v", idx+1, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("title", survey.Title).Msg("An error occurred when persisting survey...")
		return survey, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	survey.Questions = questions
	metrics.SurveysCreated.WithLabelValues(lo.Ternary(len(spec.Source) > 0, spec.Source, SurveySourceManual)).Inc()

	if survey.Status == models.SurveyStatusOpen && NotifierEnabled() {
		go func() {
			if err := NotifySurveyPublished(survey); err != nil {
				log.Warn().Err(err).Str("survey", survey.ID).Msg("An error occurred when notifying monitors about new survey...")
			}
		}()
	}

	return survey, nil
}

func PreloadSurveyQuestions(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		})
}

func GetSurvey(id string) (models.Survey, error) {
	var survey models.Survey
	if err := PreloadSurveyQuestions(database.C).
		Where("id = ?", id).
		First(&survey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return survey, fmt.Errorf("%w: survey %s", ErrNotFound, id)
		}
		return survey, err
	}
	return survey, nil
}

// HideCorrectAnswers strips the quiz answers so the survey can be shown to
// respondents.
func HideCorrectAnswers(survey models.Survey) models.Survey {
	survey.Questions = lo.Map(survey.Questions, func(question models.SurveyQuestion, _ int) models.SurveyQuestion {
		question.CorrectAnswerText = nil
		question.CorrectAnswerNumber = nil
		question.Options = lo.Map(question.Options, func(option models.SurveyOption, _ int) models.SurveyOption {
			option.IsCorrect = false
			return option
		})
		return question
	})
	return survey
}

type SurveyFilter struct {
	Status   string
	Category string
	AuthorID string
}

func FilterSurveys(tx *gorm.DB, filter SurveyFilter) *gorm.DB {
	if len(filter.Status) > 0 {
		tx = tx.Where("status IN ?", strings.Split(filter.Status, ","))
	}
	if len(filter.Category) > 0 {
		tx = tx.Where("category IN ?", strings.Split(filter.Category, ","))
	}
	if len(filter.AuthorID) > 0 {
		tx = tx.Where("author_id = ?", filter.AuthorID)
	}
	return tx
}

func CountSurveys(filter SurveyFilter) (int64, error) {
	var count int64
	if err := FilterSurveys(database.C.Model(&models.Survey{}), filter).Count(&count).Error; err != nil {
		return count, err
	}
	return count, nil
}

func ListSurveys(filter SurveyFilter, take, offset int) ([]models.Survey, error) {
	if take <= 0 || take > 100 {
		take = lo.Ternary(take <= 0, 20, 100)
	}

	var surveys []models.Survey
	if err := FilterSurveys(database.C, filter).
		Limit(take).Offset(offset).
		Order("deadline ASC").
		Find(&surveys).Error; err != nil {
		return surveys, err
	}
	return surveys, nil
}

var surveyStatusTransitions = map[string][]string{
	models.SurveyStatusScheduled: {models.SurveyStatusOpen, models.SurveyStatusClosed},
	models.SurveyStatusOpen:      {models.SurveyStatusClosed},
	models.SurveyStatusClosed:    {models.SurveyStatusOpen},
}

// UpdateSurveyStatus moves a survey between open, scheduled and closed.
// Surveys are never deleted. A closed survey reopens only before its deadline.
func UpdateSurveyStatus(survey models.Survey, status string) (models.Survey, error) {
	if survey.Status == status {
		return survey, nil
	}
	if !lo.Contains(surveyStatusTransitions[survey.Status], status) {
		return survey, NewValidationError(fmt.Sprintf("ステータスを%sから%sに変更できません", survey.Status, status))
	}
	if status == models.SurveyStatusOpen && now().After(survey.Deadline) {
		return survey, NewValidationError("締切を過ぎたアンケートは再公開できません")
	}

	if err := database.C.Model(&survey).Update("status", status).Error; err != nil {
		return survey, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	survey.Status = status
	return survey, nil
}

// DoSurveyLifecycleTransition closes expired surveys and opens scheduled ones.
func DoSurveyLifecycleTransition() {
	current := now()

	closed := database.C.Model(&models.Survey{}).
		Where("status = ? AND deadline < ?", models.SurveyStatusOpen, current).
		Update("status", models.SurveyStatusClosed)
	if closed.Error != nil {
		log.Error().Err(closed.Error).Msg("An error occurred when closing expired surveys...")
	}

	var opening []models.Survey
	if err := database.C.
		Where("status = ? AND opens_at <= ? AND deadline >= ?", models.SurveyStatusScheduled, current, current).
		Find(&opening).Error; err != nil {
		log.Error().Err(err).Msg("An error occurred when loading scheduled surveys...")
		return
	}
	if len(opening) > 0 {
		if err := database.C.Model(&models.Survey{}).
			Where("id IN ?", lo.Map(opening, func(item models.Survey, _ int) string { return item.ID })).
			Update("status", models.SurveyStatusOpen).Error; err != nil {
			log.Error().Err(err).Msg("An error occurred when opening scheduled surveys...")
			return
		}
	}

	if closed.RowsAffected > 0 || len(opening) > 0 {
		log.Info().
			Int64("closed", closed.RowsAffected).
			Int("opened", len(opening)).
			Msg("Survey lifecycle transition done.")
	}

	if NotifierEnabled() {
		for _, survey := range opening {
			survey.Status = models.SurveyStatusOpen
			if err := NotifySurveyPublished(survey); err != nil {
				log.Warn().Err(err).Str("survey", survey.ID).Msg("An error occurred when notifying monitors about opened survey...")
			}
		}
	}
}
