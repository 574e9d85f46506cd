package services

import (
	"strconv"
	"strings"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// ImportDefaults fills the survey metadata that an imported document does not set.
type ImportDefaults struct {
	Category     string
	RewardPoints int
	DeadlineDays int
	AuthorID     string
}

func NewImportDefaults(author string) ImportDefaults {
	defaults := ImportDefaults{
		Category:     viper.GetString("surveys.default_category"),
		RewardPoints: viper.GetInt("surveys.default_reward"),
		DeadlineDays: viper.GetInt("surveys.default_deadline_days"),
		AuthorID:     author,
	}
	if len(defaults.Category) == 0 {
		defaults.Category = models.SurveyCategoryDaily
	}
	if defaults.RewardPoints <= 0 {
		defaults.RewardPoints = 30
	}
	if defaults.DeadlineDays <= 0 {
		defaults.DeadlineDays = 7
	}
	return defaults
}

func (v ImportDefaults) apply(spec *SurveySpec) {
	if len(spec.Category) == 0 {
		spec.Category = v.Category
	}
	if spec.RewardPoints <= 0 {
		spec.RewardPoints = v.RewardPoints
	}
	if spec.Deadline == nil {
		spec.Deadline = lo.ToPtr(now().AddDate(0, 0, v.DeadlineDays))
	}
	if len(spec.AuthorID) == 0 {
		spec.AuthorID = v.AuthorID
	}
}

var (
	markdownAnswerPrefixes   = []string{"正解:", "正解：", "answer:", "Answer:"}
	markdownCategoryPrefixes = []string{"カテゴリ:", "カテゴリ：", "category:", "Category:"}
	markdownPointsPrefixes   = []string{"ポイント:", "ポイント：", "points:", "Points:"}
	markdownDeadlinePrefixes = []string{"締切:", "締切：", "deadline:", "Deadline:"}
)

func cutAnyPrefix(line string, prefixes []string) (string, bool) {
	for _, prefix := range prefixes {
		if after, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(after), true
		}
	}
	return line, false
}

type markdownParser struct {
	defaults ImportDefaults
	surveys  []SurveySpec
	survey   *SurveySpec
	question *QuestionSpec
}

func (v *markdownParser) flushQuestion() {
	if v.question == nil || v.survey == nil {
		v.question = nil
		return
	}
	question := *v.question
	correct := lo.CountBy(question.Options, func(item OptionSpec) bool { return item.IsCorrect })
	switch {
	case len(question.Options) > 0 && correct > 1:
		question.Type = models.QuestionTypeMultipleChoice
	case len(question.Options) > 0:
		question.Type = models.QuestionTypeSingleChoice
	case question.CorrectAnswerNumber != nil:
		question.Type = models.QuestionTypeNumber
	default:
		question.Type = models.QuestionTypeText
	}
	question.DisplayOrder = len(v.survey.Questions)
	v.survey.Questions = append(v.survey.Questions, question)
	v.question = nil
}

func (v *markdownParser) flushSurvey() {
	v.flushQuestion()
	if v.survey == nil {
		return
	}
	v.survey.Description = strings.TrimSpace(v.survey.Description)
	v.defaults.apply(v.survey)
	v.surveys = append(v.surveys, *v.survey)
	v.survey = nil
}

func (v *markdownParser) parseMeta(line string) bool {
	if value, ok := cutAnyPrefix(line, markdownCategoryPrefixes); ok {
		v.survey.Category = value
		return true
	}
	if value, ok := cutAnyPrefix(line, markdownPointsPrefixes); ok {
		if points, err := strconv.Atoi(strings.TrimSuffix(value, "pt")); err == nil {
			v.survey.RewardPoints = points
		}
		return true
	}
	if value, ok := cutAnyPrefix(line, markdownDeadlinePrefixes); ok {
		if deadline, err := time.ParseInLocation("2006-01-02", value, exportLocation()); err == nil {
			v.survey.Deadline = lo.ToPtr(deadline.Add(24*time.Hour - time.Second))
		}
		return true
	}
	return false
}

func (v *markdownParser) parseLine(raw string) {
	line := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(line, "## "):
		v.flushQuestion()
		if v.survey == nil {
			return
		}
		v.question = &QuestionSpec{
			Text:       strings.TrimSpace(strings.TrimPrefix(line, "## ")),
			Type:       models.QuestionTypeSingleChoice,
			IsRequired: true,
		}
	case strings.HasPrefix(line, "# "):
		v.flushSurvey()
		v.survey = &SurveySpec{
			Title:  strings.TrimSpace(strings.TrimPrefix(line, "# ")),
			Source: SurveySourceMarkdown,
		}
	case v.survey == nil:
		return
	case v.question != nil && strings.HasPrefix(line, "- "):
		text := strings.TrimSpace(strings.TrimPrefix(line, "- "))
		option := OptionSpec{}
		if rest, ok := cutAnyPrefix(text, []string{"[x]", "[X]"}); ok {
			option.IsCorrect = true
			text = rest
		} else if rest, ok := cutAnyPrefix(text, []string{"[ ]"}); ok {
			text = rest
		}
		option.Text = text
		v.question.Options = append(v.question.Options, option)
	case v.question != nil:
		if value, ok := cutAnyPrefix(line, markdownAnswerPrefixes); ok && len(value) > 0 {
			if number, err := strconv.ParseFloat(value, 64); err == nil {
				v.question.CorrectAnswerNumber = &number
			} else {
				v.question.CorrectAnswerText = &value
			}
		}
	case len(v.survey.Questions) == 0:
		if v.parseMeta(line) {
			return
		}
		if len(line) == 0 && len(v.survey.Description) == 0 {
			return
		}
		v.survey.Description += line + "\n"
	}
}

// ParseMarkdownSurveys splits a document into surveys at every "# " header,
// with questions at "## " headers and options on "- " lines.
func ParseMarkdownSurveys(content string, defaults ImportDefaults) ([]SurveySpec, error) {
	parser := &markdownParser{defaults: defaults}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	for _, line := range strings.Split(content, "\n") {
		parser.parseLine(line)
	}
	parser.flushSurvey()

	if len(parser.surveys) == 0 {
		return nil, &ImportError{Reason: "no valid survey found"}
	}
	return parser.surveys, nil
}

type ImportResult struct {
	Title    string         `json:"title"`
	Survey   *models.Survey `json:"survey,omitempty"`
	Error    error          `json:"-"`
	Message  string         `json:"message,omitempty"`
	Accepted bool           `json:"accepted"`
}

// ImportMarkdownSurveys submits every parsed survey on its own. A failing survey
// does not undo the ones submitted before it.
func ImportMarkdownSurveys(content string, defaults ImportDefaults, persist SurveyPersister) ([]ImportResult, error) {
	specs, err := ParseMarkdownSurveys(content, defaults)
	if err != nil {
		return nil, err
	}

	results := make([]ImportResult, 0, len(specs))
	for _, spec := range specs {
		result := ImportResult{Title: spec.Title}
		survey, err := NewSurveyBuilder(spec).Submit(persist)
		if err != nil {
			log.Warn().Err(err).Str("title", spec.Title).Msg("Unable to import survey from markdown, skipped...")
			result.Error = err
			result.Message = err.Error()
		} else {
			result.Survey = &survey
			result.Accepted = true
		}
		results = append(results, result)
	}

	return results, nil
}
