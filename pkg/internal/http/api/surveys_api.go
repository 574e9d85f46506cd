package api

import (
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

// getManagedSurvey loads a survey the caller may manage. Clients only see
// their own surveys, admins see every survey.
func getManagedSurvey(c *fiber.Ctx) (models.Survey, error) {
	if err := exts.EnsureRole(c, exts.RoleClient, exts.RoleAdmin); err != nil {
		return models.Survey{}, err
	}
	user := c.Locals("user").(exts.Identity)

	survey, err := services.GetSurvey(c.Params("surveyId"))
	if err != nil {
		return survey, err
	}
	if user.Role != exts.RoleAdmin && survey.AuthorID != user.ID {
		return survey, fiber.NewError(fiber.StatusForbidden, "you can only manage your own surveys")
	}
	return survey, nil
}

func listSurveys(c *fiber.Ctx) error {
	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	filter := services.SurveyFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
	}
	if user, ok := c.Locals("user").(exts.Identity); ok && user.Role == exts.RoleClient {
		filter.AuthorID = user.ID
	} else if !ok || user.Role == exts.RoleMonitor {
		filter.Status = models.SurveyStatusOpen
	}

	count, err := services.CountSurveys(filter)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	items, err := services.ListSurveys(filter, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": count,
		"data":  items,
	})
}

func getSurvey(c *fiber.Ctx) error {
	survey, err := services.GetSurvey(c.Params("surveyId"))
	if err != nil {
		return err
	}

	user, ok := c.Locals("user").(exts.Identity)
	if !ok || !(user.Role == exts.RoleAdmin || (user.Role == exts.RoleClient && user.ID == survey.AuthorID)) {
		survey = services.HideCorrectAnswers(survey)
	}
	return c.JSON(survey)
}

func createSurvey(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleClient, exts.RoleAdmin); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	var data struct {
		Title            string                  `json:"title" validate:"required"`
		Description      string                  `json:"description"`
		Category         string                  `json:"category" validate:"required"`
		RewardPoints     int                     `json:"reward_points"`
		Deadline         *time.Time              `json:"deadline"`
		OpensAt          *time.Time              `json:"opens_at"`
		TargetTags       []string                `json:"target_tags"`
		DeliveryChannels []string                `json:"delivery_channels" validate:"dive,oneof=line push email"`
		Questions        []services.QuestionSpec `json:"questions"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	builder := services.NewSurveyBuilder(services.SurveySpec{
		Title:            data.Title,
		Description:      data.Description,
		Category:         data.Category,
		RewardPoints:     data.RewardPoints,
		Deadline:         data.Deadline,
		OpensAt:          data.OpensAt,
		TargetTags:       data.TargetTags,
		DeliveryChannels: data.DeliveryChannels,
		AuthorID:         user.ID,
		Source:           services.SurveySourceManual,
		Questions:        data.Questions,
	})

	survey, err := builder.Submit(services.PersistSurvey)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"survey":  survey,
	})
}

func updateSurveyStatus(c *fiber.Ctx) error {
	survey, err := getManagedSurvey(c)
	if err != nil {
		return err
	}

	var data struct {
		Status string `json:"status" validate:"required,oneof=open closed scheduled"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	if survey, err = services.UpdateSurveyStatus(survey, data.Status); err != nil {
		return err
	}

	return c.JSON(survey)
}
