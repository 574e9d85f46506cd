package models

import "time"

// SurveyResponse is one respondent's submission. The composite unique index
// is what keeps a respondent from answering the same survey twice.
type SurveyResponse struct {
	BaseModel

	SurveyID     string    `json:"survey_id" gorm:"size:36;uniqueIndex:idx_survey_response_respondent"`
	RespondentID string    `json:"respondent_id" gorm:"size:36;uniqueIndex:idx_survey_response_respondent"`
	SubmittedAt  time.Time `json:"submitted_at"`

	Answers []SurveyAnswer `json:"answers,omitempty" gorm:"foreignKey:ResponseID"`
}

const (
	AnswerKindText   = "text"
	AnswerKindNumber = "number"
	AnswerKindChoice = "choice"
)

// SurveyAnswer holds exactly one populated value, selected by Kind.
type SurveyAnswer struct {
	BaseModel

	ResponseID string   `json:"response_id" gorm:"size:36;index"`
	QuestionID string   `json:"question_id" gorm:"size:36;index"`
	Kind       string   `json:"kind"`
	Text       *string  `json:"text"`
	Number     *float64 `json:"number"`

	SelectedOptions []SurveyAnswerOption `json:"selected_options,omitempty" gorm:"foreignKey:AnswerID"`
}

type SurveyAnswerOption struct {
	AnswerID string `json:"answer_id" gorm:"primaryKey;size:36"`
	OptionID string `json:"option_id" gorm:"primaryKey;size:36"`
	Position int    `json:"position"`
}
