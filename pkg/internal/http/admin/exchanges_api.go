package admin

import (
	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func adminListExchangeRequests(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleAdmin, exts.RoleSupport); err != nil {
		return err
	}

	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	items, count, err := services.ListExchangeRequests(c.Query("user"), c.Query("status"), take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": count,
		"data":  items,
	})
}

func adminSettleExchangeRequest(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleAdmin); err != nil {
		return err
	}

	var data struct {
		Status string `json:"status" validate:"required,oneof=completed failed"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	request, err := services.SettleExchange(c.Params("requestId"), data.Status)
	if err != nil {
		return err
	}

	return c.JSON(request)
}

func adminTriggerSurveyLifecycle(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleAdmin); err != nil {
		return err
	}

	go services.DoSurveyLifecycleTransition()

	return c.SendStatus(fiber.StatusOK)
}
