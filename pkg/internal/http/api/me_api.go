package api

import (
	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func getMyDashboard(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	dashboard, err := services.GetDashboard(user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(dashboard)
}

func listMyPointTransactions(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	items, count, err := services.ListPointTransactions(user.ID, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": count,
		"data":  items,
	})
}

func updateMyNotificationPreference(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	var data services.NotificationPreference

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	profile, err := services.UpdateNotificationPreference(user.ID, data)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"profile": profile,
	})
}

func regenerateMyReferralCode(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	code, err := services.RegenerateReferralCode(user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{"code": code})
}

func listMyExchangeRequests(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	items, count, err := services.ListExchangeRequests(user.ID, c.Query("status"), take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": count,
		"data":  items,
	})
}

func createExchangeRequest(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, exts.RoleMonitor); err != nil {
		return err
	}
	user := c.Locals("user").(exts.Identity)

	var data struct {
		RewardID string `json:"reward_id" validate:"required"`
		Points   int    `json:"points" validate:"required"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	result, err := services.RequestExchange(user.ID, data.RewardID, data.Points)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": result.Message,
		"balance": result.Balance,
		"request": result.Request,
	})
}
