package admin

import "github.com/gofiber/fiber/v2"

func MapControllers(app *fiber.App, baseURL string) {
	admin := app.Group(baseURL)
	{
		admin.Post("/announcements", adminCreateAnnouncement)
		admin.Post("/faqs", adminCreateFaqItem)
		admin.Post("/notifications", adminScheduleNotification)

		admin.Get("/exchanges", adminListExchangeRequests)
		admin.Put("/exchanges/:requestId", adminSettleExchangeRequest)

		admin.Post("/surveys/lifecycle", adminTriggerSurveyLifecycle)
	}
}
