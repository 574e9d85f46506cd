package admin

import (
	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func adminCreateAnnouncement(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleAdmin); err != nil {
		return err
	}

	var data struct {
		Title    string   `json:"title" validate:"required"`
		Body     string   `json:"body" validate:"required"`
		Category string   `json:"category"`
		Audience []string `json:"audience" validate:"required"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	item, err := services.NewAnnouncement(data.Title, data.Body, data.Category, data.Audience)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

func adminCreateFaqItem(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleAdmin); err != nil {
		return err
	}

	var data struct {
		Question string `json:"question" validate:"required"`
		Answer   string `json:"answer" validate:"required"`
		Category string `json:"category" validate:"required"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	item, err := services.NewFaqItem(data.Question, data.Answer, data.Category)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

func adminScheduleNotification(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleAdmin); err != nil {
		return err
	}

	var data services.NotificationRequest

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	result, err := services.ScheduleNotification(data)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}
