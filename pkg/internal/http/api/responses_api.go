package api

import (
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func submitSurveyResponse(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	var data struct {
		Answers []services.AnswerInput `json:"answers" validate:"dive"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	result, err := services.SubmitResponse(c.Params("surveyId"), user.ID, data.Answers)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"message":     result.Message,
		"points":      result.Points,
		"balance":     result.Balance,
		"response_id": result.Response.ID,
	})
}

func listSurveyResponses(c *fiber.Ctx) error {
	survey, err := getManagedSurvey(c)
	if err != nil {
		return err
	}

	responses, err := services.ListSurveyResponses(survey)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": len(responses),
		"data":  responses,
	})
}

func exportSurveyResponses(c *fiber.Ctx) error {
	survey, err := getManagedSurvey(c)
	if err != nil {
		return err
	}

	content, err := services.ExportSurveyResponsesCSV(survey)
	if err != nil {
		return err
	}

	contentType := "text/csv; charset=utf-8"
	if c.Query("format") == "excel" {
		contentType = "application/vnd.ms-excel"
	}

	c.Attachment(services.ExportFilename(survey, time.Now()))
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(content)
}
