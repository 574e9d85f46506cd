package services

import (
	"errors"
	"fmt"
	"strconv"
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

type AnswerInput struct {
	QuestionID        string   `json:"question_id" validate:"required"`
	AnswerText        *string  `json:"answer_text"`
	AnswerNumber      *float64 `json:"answer_number"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
}

type SubmitResponseResult struct {
	Response models.SurveyResponse `json:"response"`
	Points   int                   `json:"points"`
	Balance  int                   `json:"balance"`
	Message  string                `json:"message"`
}

func HasAnsweredSurvey(tx *gorm.DB, surveyID, respondentID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.SurveyResponse{}).
		Where("survey_id = ? AND respondent_id = ?", surveyID, respondentID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// buildAnswers checks the submitted answers against the survey questions and
// returns the rows to store, one per answered question.
func buildAnswers(survey models.Survey, inputs []AnswerInput) ([]models.SurveyAnswer, error) {
	problems := &ValidationError{}
	questions := lo.SliceToMap(survey.Questions, func(item models.SurveyQuestion) (string, models.SurveyQuestion) {
		return item.ID, item
	})

	answered := make(map[string]models.SurveyAnswer, len(inputs))
	for _, input := range inputs {
		question, ok := questions[input.QuestionID]
		if !ok {
			problems.add("存在しない質問への回答が含まれています: %s", input.QuestionID)
			continue
		}
		if _, ok := answered[question.ID]; ok {
			problems.add("質問「%s」への回答が重複しています", question.Text)
			continue
		}

		answer := models.SurveyAnswer{QuestionID: question.ID}
		switch {
		case question.IsChoice():
			selected := lo.Uniq(lo.Compact(input.SelectedOptionIDs))
			if len(selected) == 0 {
				continue
			}
			valid := lo.Map(question.Options, func(item models.SurveyOption, _ int) string { return item.ID })
			if unknown, _ := lo.Difference(selected, valid); len(unknown) > 0 {
				problems.add("質問「%s」に存在しない選択肢が指定されています", question.Text)
				continue
			}
			if question.Type == models.QuestionTypeSingleChoice && len(selected) > 1 {
				problems.add("質問「%s」は1つだけ選択してください", question.Text)
				continue
			}
			answer.Kind = models.AnswerKindChoice
			answer.SelectedOptions = lo.Map(selected, func(item string, idx int) models.SurveyAnswerOption {
				return models.SurveyAnswerOption{OptionID: item, Position: idx}
			})
		case question.Type == models.QuestionTypeText:
			if input.AnswerText == nil || len(strings.TrimSpace(*input.AnswerText)) == 0 {
				continue
			}
			answer.Kind = models.AnswerKindText
			answer.Text = lo.ToPtr(strings.TrimSpace(*input.AnswerText))
		default:
			if input.AnswerNumber == nil {
				continue
			}
			answer.Kind = models.AnswerKindNumber
			answer.Number = input.AnswerNumber
		}
		answered[question.ID] = answer
	}

	missing := lo.Filter(survey.Questions, func(item models.SurveyQuestion, _ int) bool {
		_, ok := answered[item.ID]
		return item.IsRequired && !ok
	})
	if len(missing) > 0 {
		problems.add("必須項目が未回答です: %s", strings.Join(lo.Map(missing, func(item models.SurveyQuestion, _ int) string {
			return item.Text
		}), ", "))
	}

	if err := problems.orNil(); err != nil {
		return nil, err
	}

	var out []models.SurveyAnswer
	for _, question := range survey.Questions {
		if answer, ok := answered[question.ID]; ok {
			out = append(out, answer)
		}
	}
	return out, nil
}

// SubmitResponse accepts one respondent's answers for a survey and credits the
// reward. The response, its answers and the point settlement commit together.
func SubmitResponse(surveyID, respondentID string, inputs []AnswerInput) (SubmitResponseResult, error) {
	result, err := submitResponse(surveyID, respondentID, inputs)
	if err != nil {
		var validation *ValidationError
		switch {
		case errors.Is(err, ErrDuplicate):
			metrics.ResponsesRejected.WithLabelValues("duplicate").Inc()
		case errors.Is(err, ErrNotFound):
			metrics.ResponsesRejected.WithLabelValues("not_found").Inc()
		case errors.Is(err, ErrDeadline):
			metrics.ResponsesRejected.WithLabelValues("deadline").Inc()
		case errors.As(err, &validation):
			metrics.ResponsesRejected.WithLabelValues("validation").Inc()
		default:
			metrics.ResponsesRejected.WithLabelValues("persistence").Inc()
		}
		return result, err
	}

	metrics.ResponsesAccepted.Inc()
	metrics.PointsCredited.WithLabelValues(models.PointReasonSurvey).Add(float64(result.Points))
	InvalidateDashboard(respondentID)

	return result, nil
}

func submitResponse(surveyID, respondentID string, inputs []AnswerInput) (SubmitResponseResult, error) {
	var result SubmitResponseResult
	if len(respondentID) == 0 {
		return result, NewValidationError("回答者が特定できません")
	}

	if answered, err := HasAnsweredSurvey(database.C, surveyID, respondentID); err != nil {
		return result, fmt.Errorf("%w: %v", ErrPersistence, err)
	} else if answered {
		return result, ErrDuplicate
	}

	survey, err := GetSurvey(surveyID)
	if err != nil {
		return result, err
	}
	if now().After(survey.Deadline) || survey.Status == models.SurveyStatusClosed {
		return result, ErrDeadline
	}
	if survey.Status == models.SurveyStatusScheduled {
		return result, NewValidationError("このアンケートはまだ公開されていません")
	}

	answers, err := buildAnswers(survey, inputs)
	if err != nil {
		return result, err
	}

	response := models.SurveyResponse{
		SurveyID:     survey.ID,
		RespondentID: respondentID,
		SubmittedAt:  now(),
	}

	var balance int
	err = database.C.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&response).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("%w: unable to save response: %v", ErrPersistence, err)
		}
		for idx := range answers {
			answers[idx].ResponseID = response.ID
			if err := tx.Omit(clause.Associations).Create(&answers[idx]).Error; err != nil {
				return fmt.Errorf("%w: unable to save answer: %v", ErrPersistence, err)
			}
			if len(answers[idx].SelectedOptions) == 0 {
				continue
			}
			for oidx := range answers[idx].SelectedOptions {
				answers[idx].SelectedOptions[oidx].AnswerID = answers[idx].ID
			}
			if err := tx.Create(&answers[idx].SelectedOptions).Error; err != nil {
				return fmt.Errorf("%w: unable to save selected options: %v", ErrPersistence, err)
			}
		}

		var err error
		if balance, err = SettlePoints(tx, respondentID, survey); err != nil {
			return fmt.Errorf("%w: unable to settle points: %v", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrDuplicate) {
			log.Error().Err(err).Str("survey", surveyID).Str("respondent", respondentID).Msg("An error occurred when saving survey response...")
		}
		return result, err
	}

	response.Answers = answers
	log.Debug().Str("survey", surveyID).Str("respondent", respondentID).Int("points", survey.RewardPoints).Msg("Accepted survey response.")

	return SubmitResponseResult{
		Response: response,
		Points:   survey.RewardPoints,
		Balance:  balance,
		Message:  fmt.Sprintf("%dpt獲得しました", survey.RewardPoints),
	}, nil
}

type AnswerView struct {
	QuestionID        string   `json:"question_id"`
	QuestionText      string   `json:"question_text"`
	QuestionType      string   `json:"question_type"`
	AnswerText        *string  `json:"answer_text"`
	AnswerNumber      *float64 `json:"answer_number"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	Value             string   `json:"value"`
}

type ResponseView struct {
	ID           string       `json:"id"`
	RespondentID string       `json:"respondent_id"`
	SubmittedAt  time.Time    `json:"submitted_at"`
	Answers      []AnswerView `json:"answers"`
}

// ListSurveyResponses denormalizes every response into one answer view per
// question, in display order, leaving unanswered questions empty.
func ListSurveyResponses(survey models.Survey) ([]ResponseView, error) {
	var responses []models.SurveyResponse
	if err := database.C.
		Where("survey_id = ?", survey.ID).
		Preload("Answers").
		Preload("Answers.SelectedOptions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Order("submitted_at ASC").
		Find(&responses).Error; err != nil {
		return nil, err
	}

	optionText := make(map[string]string)
	for _, question := range survey.Questions {
		for _, option := range question.Options {
			optionText[option.ID] = option.Text
		}
	}

	return lo.Map(responses, func(response models.SurveyResponse, _ int) ResponseView {
		byQuestion := lo.SliceToMap(response.Answers, func(item models.SurveyAnswer) (string, models.SurveyAnswer) {
			return item.QuestionID, item
		})
		view := ResponseView{
			ID:           response.ID,
			RespondentID: response.RespondentID,
			SubmittedAt:  response.SubmittedAt,
		}
		for _, question := range survey.Questions {
			item := AnswerView{
				QuestionID:   question.ID,
				QuestionText: question.Text,
				QuestionType: question.Type,
			}
			if answer, ok := byQuestion[question.ID]; ok {
				item.AnswerText = answer.Text
				item.AnswerNumber = answer.Number
				item.SelectedOptionIDs = lo.Map(answer.SelectedOptions, func(opt models.SurveyAnswerOption, _ int) string {
					return opt.OptionID
				})
				switch {
				case answer.Text != nil:
					item.Value = *answer.Text
				case answer.Number != nil:
					item.Value = strconv.FormatFloat(*answer.Number, 'f', -1, 64)
				default:
					item.Value = strings.Join(lo.Map(item.SelectedOptionIDs, func(id string, _ int) string {
						return optionText[id]
					}), ", ")
				}
			}
			view.Answers = append(view.Answers, item)
		}
		return view
	}), nil
}
