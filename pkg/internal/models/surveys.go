package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SurveyCategoryDaily    = "daily"
	SurveyCategoryCampaign = "campaign"
	SurveyCategoryCareer   = "career"
	SurveyCategoryPremium  = "premium"
)

var SurveyCategories = []string{
	SurveyCategoryDaily,
	SurveyCategoryCampaign,
	SurveyCategoryCareer,
	SurveyCategoryPremium,
}

const (
	SurveyStatusOpen      = "open"
	SurveyStatusClosed    = "closed"
	SurveyStatusScheduled = "scheduled"
)

const (
	QuestionTypeSingleChoice   = "single_choice"
	QuestionTypeMultipleChoice = "multiple_choice"
	QuestionTypeText           = "text"
	QuestionTypeNumber         = "number"
	QuestionTypeRating         = "rating"
	QuestionTypeRanking        = "ranking"
)

var QuestionTypes = []string{
	QuestionTypeSingleChoice,
	QuestionTypeMultipleChoice,
	QuestionTypeText,
	QuestionTypeNumber,
	QuestionTypeRating,
	QuestionTypeRanking,
}

const (
	DeliveryChannelLine  = "line"
	DeliveryChannelPush  = "push"
	DeliveryChannelEmail = "email"
)

type Survey struct {
	BaseModel

	Title         string     `json:"title" gorm:"not null"`
	Description   string     `json:"description"`
	Category      string     `json:"category" gorm:"index"`
	RewardPoints  int        `json:"reward_points"`
	Status        string     `json:"status" gorm:"index"`
	Deadline      time.Time  `json:"deadline"`
	OpensAt       *time.Time `json:"opens_at"`
	QuestionCount int        `json:"question_count"`
	Language      string     `json:"language"`
	IsQuiz        bool       `json:"is_quiz"`

	DeliveryChannels datatypes.JSONSlice[string] `json:"delivery_channels"`
	TargetTags       datatypes.JSONSlice[string] `json:"target_tags"`

	AuthorID string `json:"author_id" gorm:"index;size:36"`

	Questions []SurveyQuestion `json:"questions,omitempty" gorm:"foreignKey:SurveyID"`
}

type SurveyQuestion struct {
	BaseModel

	SurveyID     string `json:"survey_id" gorm:"size:36;uniqueIndex:idx_survey_question_order"`
	Text         string `json:"text" gorm:"not null"`
	Type         string `json:"type"`
	IsRequired   bool   `json:"is_required"`
	DisplayOrder int    `json:"display_order" gorm:"uniqueIndex:idx_survey_question_order"`

	CorrectAnswerText   *string  `json:"correct_answer_text"`
	CorrectAnswerNumber *float64 `json:"correct_answer_number"`

	Options []SurveyOption `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}

func (v SurveyQuestion) IsChoice() bool {
	switch v.Type {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice, QuestionTypeRanking:
		return true
	}
	return false
}

type SurveyOption struct {
	BaseModel

	QuestionID   string `json:"question_id" gorm:"size:36;index"`
	Text         string `json:"text" gorm:"not null"`
	DisplayOrder int    `json:"display_order"`
	IsCorrect    bool   `json:"is_correct"`
}
