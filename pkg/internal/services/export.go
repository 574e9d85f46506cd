package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const exportTimeLayout = "2006/1/2 15:04:05"

var exportByteOrderMark = []byte{0xEF, 0xBB, 0xBF}

func exportLocation() *time.Location {
	name := viper.GetString("timezone")
	if len(name) == 0 {
		name = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("Unable to load timezone, fallback to JST...")
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func quoteExportCell(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// RenderResponsesCSV writes the spreadsheet-compatible export: a byte order
// mark, a header row, then one row per response with every data cell quoted.
func RenderResponsesCSV(survey models.Survey, responses []ResponseView) []byte {
	loc := exportLocation()

	var buf bytes.Buffer
	buf.Write(exportByteOrderMark)

	buf.WriteString("回答ID,回答日時")
	for _, question := range survey.Questions {
		buf.WriteString(",")
		buf.WriteString(quoteExportCell(question.Text))
	}
	buf.WriteString("\n")

	for _, response := range responses {
		cells := []string{
			quoteExportCell(response.ID),
			quoteExportCell(response.SubmittedAt.In(loc).Format(exportTimeLayout)),
		}
		for _, answer := range response.Answers {
			cells = append(cells, quoteExportCell(answer.Value))
		}
		buf.WriteString(strings.Join(cells, ","))
		buf.WriteString("\n")
	}

	return buf.Bytes()
}

func ExportSurveyResponsesCSV(survey models.Survey) ([]byte, error) {
	responses, err := ListSurveyResponses(survey)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to load responses: %v", ErrPersistence, err)
	}
	return RenderResponsesCSV(survey, responses), nil
}

func ExportFilename(survey models.Survey, at time.Time) string {
	prefix := survey.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("survey_responses_%s_%s.csv", prefix, at.In(exportLocation()).Format("2006-01-02"))
}
