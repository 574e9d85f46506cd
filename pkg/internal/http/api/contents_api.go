package api

import (
	"git.koecan.jp/koecan/server/pkg/internal/http/exts"
	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func listAnnouncements(c *fiber.Ctx) error {
	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	audience := c.Query("audience")
	if user, ok := c.Locals("user").(exts.Identity); ok && len(audience) == 0 && user.Role != exts.RoleAdmin {
		audience = user.Role
	}

	items, err := services.ListAnnouncements(audience, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(items)
}

func listFaqItems(c *fiber.Ctx) error {
	items, err := services.ListFaqItems(c.Query("category"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(items)
}
