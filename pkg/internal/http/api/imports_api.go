package api

import (
	"strconv"

	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

func importMarkdownSurveys(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleClient, exts.RoleAdmin); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	var data struct {
		Content string `json:"content" validate:"required"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	results, err := services.ImportMarkdownSurveys(data.Content, services.NewImportDefaults(user.ID), services.PersistSurvey)
	if err != nil {
		return err
	}

	accepted := lo.CountBy(results, func(item services.ImportResult) bool { return item.Accepted })
	return c.JSON(fiber.Map{
		"success":  accepted > 0,
		"accepted": accepted,
		"results":  results,
	})
}

func importCsvSurvey(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleClient, exts.RoleAdmin); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	file, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	reader, err := file.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	defer reader.Close()

	meta := services.SurveySpec{
		Title:        c.FormValue("title"),
		Description:  c.FormValue("description"),
		Category:     c.FormValue("category"),
		RewardPoints: parseFormInt(c.FormValue("reward_points")),
		AuthorID:     user.ID,
	}

	survey, err := services.ImportCSVSurvey(reader, meta, services.NewImportDefaults(user.ID), services.PersistSurvey)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"survey":  survey,
	})
}

func parseFormInt(value string) int {
	out, _ := strconv.Atoi(value)
	return out
}
