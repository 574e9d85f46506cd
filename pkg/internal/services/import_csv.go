package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/samber/lo"
)

var csvByteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ParseCSVSurvey turns one CSV file into one survey, a row per question.
// The metadata comes from meta; only the questions are read from the file.
func ParseCSVSurvey(reader io.Reader, meta SurveySpec, defaults ImportDefaults) (SurveySpec, error) {
	buffered := bufio.NewReader(reader)
	if mark, err := buffered.Peek(len(csvByteOrderMark)); err == nil && bytes.Equal(mark, csvByteOrderMark) {
		_, _ = buffered.Discard(len(csvByteOrderMark))
	}

	in := csv.NewReader(buffered)
	in.FieldsPerRecord = -1
	in.TrimLeadingSpace = true

	header, err := in.Read()
	if errors.Is(err, io.EOF) {
		return meta, &ImportError{Reason: "empty csv document"}
	} else if err != nil {
		return meta, &ImportError{Reason: fmt.Sprintf("malformed csv header: %v", err)}
	}

	columns := make(map[string]int, len(header))
	var optionColumns []int
	for idx, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		columns[name] = idx
		if strings.HasPrefix(name, "option_") {
			optionColumns = append(optionColumns, idx)
		}
	}

	textColumn, ok := columns["question_text"]
	if !ok {
		return meta, &ImportError{Reason: "missing question_text column"}
	}
	cell := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	spec := meta
	spec.Source = SurveySourceCsv
	spec.Questions = nil

	for line := 2; ; line++ {
		record, err := in.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return spec, &ImportError{Reason: fmt.Sprintf("malformed csv on line %d: %v", line, err)}
		}
		if textColumn >= len(record) || len(strings.TrimSpace(record[textColumn])) == 0 {
			continue
		}

		question := QuestionSpec{
			Text:         strings.TrimSpace(record[textColumn]),
			IsRequired:   !strings.EqualFold(cell(record, "is_required"), "false"),
			DisplayOrder: len(spec.Questions),
		}
		for _, idx := range optionColumns {
			if idx < len(record) && len(strings.TrimSpace(record[idx])) > 0 {
				question.Options = append(question.Options, OptionSpec{Text: strings.TrimSpace(record[idx])})
			}
		}

		question.Type = strings.ToLower(cell(record, "question_type"))
		if len(question.Type) == 0 {
			question.Type = lo.Ternary(len(question.Options) > 0, models.QuestionTypeSingleChoice, models.QuestionTypeText)
		} else if !lo.Contains(models.QuestionTypes, question.Type) {
			return spec, &ImportError{Reason: fmt.Sprintf("unknown question_type %q on line %d", question.Type, line)}
		}

		spec.Questions = append(spec.Questions, question)
	}

	if len(spec.Questions) == 0 {
		return spec, &ImportError{Reason: "no questions found"}
	}

	defaults.apply(&spec)
	return spec, nil
}

func ImportCSVSurvey(reader io.Reader, meta SurveySpec, defaults ImportDefaults, persist SurveyPersister) (models.Survey, error) {
	spec, err := ParseCSVSurvey(reader, meta, defaults)
	if err != nil {
		return models.Survey{}, err
	}
	return NewSurveyBuilder(spec).Submit(persist)
}
