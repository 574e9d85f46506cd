package exts

import (
	"errors"

	"git.koecan.jp/koecan/server/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

func statusOf(err error) (int, string, []string) {
	var fiberErr *fiber.Error
	var validationErr *services.ValidationError
	var importErr *services.ImportError

	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message, nil
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest, validationErr.Error(), validationErr.Problems
	case errors.As(err, &importErr):
		return fiber.StatusBadRequest, importErr.Error(), nil
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, err.Error(), nil
	case errors.Is(err, services.ErrDuplicate):
		return fiber.StatusConflict, "既に回答済みです", nil
	case errors.Is(err, services.ErrDeadline):
		return fiber.StatusGone, "このアンケートは締め切られました", nil
	case errors.Is(err, services.ErrInsufficientPoints):
		return fiber.StatusPaymentRequired, "ポイントが不足しています", nil
	default:
		return fiber.StatusInternalServerError, "サーバーでエラーが発生しました", nil
	}
}

// ErrorHandler renders every failed request as {success: false, message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, message, problems := statusOf(err)
	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("An error occurred when handling request...")
	}

	body := fiber.Map{"success": false, "message": message}
	if len(problems) > 0 {
		body["errors"] = problems
	}
	return c.Status(status).JSON(body)
}
