package services

import (
	"fmt"
	"strings"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	SurveySourceManual   = "manual"
	SurveySourceMarkdown = "markdown"
	SurveySourceCsv      = "csv"
)

// SurveySpec is the in-memory survey shared by the builder and the importers
// before anything is written to the database.
type SurveySpec struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Category         string         `json:"category"`
	RewardPoints     int            `json:"reward_points"`
	Deadline         *time.Time     `json:"deadline"`
	OpensAt          *time.Time     `json:"opens_at"`
	TargetTags       []string       `json:"target_tags"`
	DeliveryChannels []string       `json:"delivery_channels"`
	AuthorID         string         `json:"author_id"`
	Source           string         `json:"source"`
	Questions        []QuestionSpec `json:"questions"`
}

type QuestionSpec struct {
	ID                  string       `json:"id"`
	Text                string       `json:"text"`
	Type                string       `json:"type"`
	IsRequired          bool         `json:"is_required"`
	DisplayOrder        int          `json:"display_order"`
	Options             []OptionSpec `json:"options"`
	CorrectAnswerText   *string      `json:"correct_answer_text"`
	CorrectAnswerNumber *float64     `json:"correct_answer_number"`
}

func (v QuestionSpec) IsChoice() bool {
	return lo.Contains([]string{
		models.QuestionTypeSingleChoice,
		models.QuestionTypeMultipleChoice,
		models.QuestionTypeRanking,
	}, v.Type)
}

func (v QuestionSpec) HasCorrectAnswer() bool {
	if v.CorrectAnswerText != nil || v.CorrectAnswerNumber != nil {
		return true
	}
	return lo.SomeBy(v.Options, func(item OptionSpec) bool {
		return item.IsCorrect
	})
}

type OptionSpec struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type QuestionPatch struct {
	Text                *string
	Type                *string
	IsRequired          *bool
	CorrectAnswerText   *string
	CorrectAnswerNumber *float64
}

type OptionPatch struct {
	Text      *string
	IsCorrect *bool
}

// SurveyPersister stores a validated survey and returns the saved record.
type SurveyPersister func(spec SurveySpec) (models.Survey, error)

type SurveyBuilder struct {
	spec SurveySpec
}

// NewSurveyBuilder starts from the given metadata and questions, filling in
// missing identifiers and renumbering display orders from zero.
func NewSurveyBuilder(spec SurveySpec) *SurveyBuilder {
	builder := &SurveyBuilder{spec: spec}
	builder.spec.Questions = nil
	for _, question := range spec.Questions {
		if len(question.ID) == 0 {
			question.ID = uuid.NewString()
		}
		question.Options = lo.Map(question.Options, func(item OptionSpec, _ int) OptionSpec {
			if len(item.ID) == 0 {
				item.ID = uuid.NewString()
			}
			return item
		})
		builder.spec.Questions = append(builder.spec.Questions, question)
	}
	builder.renumber()
	return builder
}

func (v *SurveyBuilder) renumber() {
	for idx := range v.spec.Questions {
		v.spec.Questions[idx].DisplayOrder = idx
	}
}

func (v *SurveyBuilder) findQuestion(id string) (*QuestionSpec, error) {
	for idx := range v.spec.Questions {
		if v.spec.Questions[idx].ID == id {
			return &v.spec.Questions[idx], nil
		}
	}
	return nil, fmt.Errorf("%w: question %s", ErrNotFound, id)
}

func (v *SurveyBuilder) AddQuestion() string {
	question := QuestionSpec{
		ID:           uuid.NewString(),
		Type:         models.QuestionTypeSingleChoice,
		IsRequired:   true,
		DisplayOrder: len(v.spec.Questions),
	}
	v.spec.Questions = append(v.spec.Questions, question)
	return question.ID
}

func (v *SurveyBuilder) RemoveQuestion(id string) error {
	if _, err := v.findQuestion(id); err != nil {
		return err
	}
	v.spec.Questions = lo.Filter(v.spec.Questions, func(item QuestionSpec, _ int) bool {
		return item.ID != id
	})
	v.renumber()
	return nil
}

// UpdateQuestion merges the patch into the question. Switching the type keeps
// the options entered so far.
func (v *SurveyBuilder) UpdateQuestion(id string, patch QuestionPatch) error {
	question, err := v.findQuestion(id)
	if err != nil {
		return err
	}
	if patch.Text != nil {
		question.Text = *patch.Text
	}
	if patch.Type != nil {
		question.Type = *patch.Type
	}
	if patch.IsRequired != nil {
		question.IsRequired = *patch.IsRequired
	}
	if patch.CorrectAnswerText != nil {
		question.CorrectAnswerText = patch.CorrectAnswerText
	}
	if patch.CorrectAnswerNumber != nil {
		question.CorrectAnswerNumber = patch.CorrectAnswerNumber
	}
	return nil
}

func (v *SurveyBuilder) AddOption(questionID string) (string, error) {
	question, err := v.findQuestion(questionID)
	if err != nil {
		return "", err
	}
	option := OptionSpec{ID: uuid.NewString()}
	question.Options = append(question.Options, option)
	return option.ID, nil
}

func (v *SurveyBuilder) RemoveOption(questionID, optionID string) error {
	question, err := v.findQuestion(questionID)
	if err != nil {
		return err
	}
	if !lo.ContainsBy(question.Options, func(item OptionSpec) bool { return item.ID == optionID }) {
		return fmt.Errorf("%w: option %s", ErrNotFound, optionID)
	}
	question.Options = lo.Filter(question.Options, func(item OptionSpec, _ int) bool {
		return item.ID != optionID
	})
	return nil
}

// UpdateOption edits one option. Marking an option of a single choice question
// as correct clears the flag on its siblings.
func (v *SurveyBuilder) UpdateOption(questionID, optionID string, patch OptionPatch) error {
	question, err := v.findQuestion(questionID)
	if err != nil {
		return err
	}
	found := false
	for idx := range question.Options {
		option := &question.Options[idx]
		if option.ID == optionID {
			found = true
			if patch.Text != nil {
				option.Text = *patch.Text
			}
			if patch.IsCorrect != nil {
				option.IsCorrect = *patch.IsCorrect
			}
		} else if question.Type == models.QuestionTypeSingleChoice && patch.IsCorrect != nil && *patch.IsCorrect {
			option.IsCorrect = false
		}
	}
	if !found {
		return fmt.Errorf("%w: option %s", ErrNotFound, optionID)
	}
	return nil
}

func (v *SurveyBuilder) Spec() SurveySpec {
	out := v.spec
	out.Questions = lo.Map(v.spec.Questions, func(item QuestionSpec, _ int) QuestionSpec {
		item.Options = append([]OptionSpec(nil), item.Options...)
		return item
	})
	return out
}

func (v *SurveyBuilder) Validate() error {
	problems := &ValidationError{}
	spec := v.spec

	if len(strings.TrimSpace(spec.Title)) == 0 {
		problems.add("タイトルを入力してください")
	}
	if spec.RewardPoints <= 0 {
		problems.add("報酬ポイントは1以上で指定してください")
	}
	if spec.Deadline == nil {
		problems.add("締切を設定してください")
	}
	if !lo.Contains(models.SurveyCategories, spec.Category) {
		problems.add("カテゴリが不正です: %s", spec.Category)
	}
	if len(spec.Questions) == 0 {
		problems.add("少なくとも1つ質問を追加してください")
	}

	for _, question := range spec.Questions {
		no := question.DisplayOrder + 1
		if len(strings.TrimSpace(question.Text)) == 0 {
			problems.add("質問%dの質問文を入力してください", no)
		}
		if !lo.Contains(models.QuestionTypes, question.Type) {
			problems.add("質問%dの形式が不正です: %s", no, question.Type)
			continue
		}
		if question.IsChoice() && len(question.Options) < 2 {
			problems.add("質問%d「%s」には少なくとも2つの選択肢が必要です", no, question.Text)
		}
		if lo.SomeBy(question.Options, func(item OptionSpec) bool {
			return len(strings.TrimSpace(item.Text)) == 0
		}) {
			problems.add("質問%dの選択肢が空です", no)
		}
	}

	return problems.orNil()
}

// Submit validates the survey and hands it to persist. Nothing is persisted
// when validation fails.
func (v *SurveyBuilder) Submit(persist SurveyPersister) (models.Survey, error) {
	if err := v.Validate(); err != nil {
		return models.Survey{}, err
	}
	return persist(v.Spec())
}
