package api

import (
	"github.com/gofiber/fiber/v2"
)

func MapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL)
	{
		surveys := api.Group("/surveys")
		{
			surveys.Get("/", listSurveys)
			surveys.Post("/", createSurvey)
			surveys.Post("/import/markdown", importMarkdownSurveys)
			surveys.Post("/import/csv", importCsvSurvey)
			surveys.Get("/:surveyId", getSurvey)
			surveys.Put("/:surveyId/status", updateSurveyStatus)

			surveys.Post("/:surveyId/responses", submitSurveyResponse)
			surveys.Get("/:surveyId/responses", listSurveyResponses)
			surveys.Get("/:surveyId/responses/export", exportSurveyResponses)
		}

		me := api.Group("/me")
		{
			me.Get("/dashboard", getMyDashboard)
			me.Get("/points", listMyPointTransactions)
			me.Put("/notifications", updateMyNotificationPreference)
			me.Post("/referral", regenerateMyReferralCode)
			me.Get("/exchanges", listMyExchangeRequests)
			me.Post("/exchanges", createExchangeRequest)
		}

		api.Get("/announcements", listAnnouncements)
		api.Get("/faqs", listFaqItems)
	}
}
