package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "focalcrm/controllers"
	"focalcrm/engine"
	"focalcrm/middleware"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, manager *engine.CampaignManager, enroller *engine.Enroller) {
	apiLogger := log.New(os.Stdout, "API: ", log.Ldate|log.Ltime|log.Lshortfile)

	authController := controller.NewAuthController(db, apiLogger)
	automationController := controller.NewAutomationController(db, manager, apiLogger)
	campaignController := controller.NewCampaignController(db, manager, apiLogger)
	subscriptionController := controller.NewSubscriptionController(db, enroller, apiLogger)

	auth := app.Group("/auth", logger.New())
	auth.Post("/login", authController.Login)

	api := app.Group("/api", logger.New(), middleware.Protected())

	automations := api.Group("/automations")
	automations.Post("/", automationController.CreateAutomation)
	automations.Get("/", automationController.ListAutomations)
	automations.Patch("/:id/enable", automationController.SetAutomationEnabled(true))
	automations.Patch("/:id/disable", automationController.SetAutomationEnabled(false))
	automations.Delete("/:id", automationController.DeleteAutomation)

	campaigns := api.Group("/campaigns")
	campaigns.Post("/", campaignController.CreateCampaign)
	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Post("/:id/activate", campaignController.ActivateCampaign)
	campaigns.Patch("/:id/enable", campaignController.SetCampaignEnabled(true))
	campaigns.Patch("/:id/disable", campaignController.SetCampaignEnabled(false))
	campaigns.Post("/:id/versions", campaignController.CreateVersion)
	campaigns.Get("/:id/versions", campaignController.ListVersionHistory)
	campaigns.Get("/:id/subscriptions", subscriptionController.ListSubscriptions)
	campaigns.Put("/:id/emails/:emailID", campaignController.EditEmail)
	campaigns.Post("/:id/emails/:emailID/approve", campaignController.ApproveEmail)
	campaigns.Post("/:id/emails/:emailID/reject", campaignController.RejectEmail)
	campaigns.Post("/:id/emails/:emailID/revert", campaignController.RevertEmail)

	subscriptions := api.Group("/subscriptions")
	subscriptions.Post("/enroll", subscriptionController.Enroll)
	subscriptions.Post("/:id/unsubscribe", subscriptionController.Unsubscribe)

	clients := api.Group("/clients")
	clients.Get("/:id/deliveries", automationController.ListClientDeliveries)
}
