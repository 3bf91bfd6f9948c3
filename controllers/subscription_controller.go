package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"focalcrm/engine"
	"focalcrm/models"
	"focalcrm/utils"
)

type SubscriptionController struct {
	DB       *gorm.DB
	Enroller *engine.Enroller
	Logger   *log.Logger
}

func NewSubscriptionController(db *gorm.DB, enroller *engine.Enroller, logger *log.Logger) *SubscriptionController {
	return &SubscriptionController{DB: db, Enroller: enroller, Logger: logger}
}

// Enroll receives the stage-change event from the pipeline collaborator
// and subscribes the project to every matching campaign. Precondition
// misses (wrong category, no consent, already subscribed) are not errors;
// they just produce no subscription.
func (sc *SubscriptionController) Enroll(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)

	var event engine.EnrollmentEvent
	if err := c.BodyParser(&event); err != nil {
		sc.Logger.Printf("Error parsing enrollment event: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	event.BusinessID = businessID
	if err := utils.ValidateStruct(event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	subscriptions, err := sc.Enroller.Enroll(c.Context(), event)
	if err != nil {
		sc.Logger.Printf("Enrollment failed for project %d: %v", event.ProjectID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Enrollment failed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":       "Enrollment processed",
		"subscriptions": subscriptions,
	})
}

// Unsubscribe stops an active subscription on explicit opt-out.
func (sc *SubscriptionController) Unsubscribe(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid subscription id",
		})
	}

	var sub models.DripSubscription
	err = sc.DB.Joins("JOIN drip_campaigns ON drip_campaigns.id = drip_subscriptions.campaign_id").
		Where("drip_subscriptions.id = ? AND drip_campaigns.business_id = ?", id, businessID).
		First(&sub).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Subscription not found",
		})
	}

	if err := sc.Enroller.Unsubscribe(c.Context(), sub.ID); err != nil {
		sc.Logger.Printf("Failed to unsubscribe %d: %v", id, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Subscription is not active",
		})
	}

	return c.JSON(fiber.Map{"message": "Unsubscribed"})
}

// ListSubscriptions returns a campaign's subscriptions for the operator
// dashboard.
func (sc *SubscriptionController) ListSubscriptions(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	campaignID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign id",
		})
	}

	var campaign models.DripCampaign
	if err := sc.DB.Where("id = ? AND business_id = ?", campaignID, businessID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var subscriptions []models.DripSubscription
	if err := sc.DB.Where("campaign_id = ?", campaign.ID).
		Order("started_at DESC").Find(&subscriptions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list subscriptions",
		})
	}

	return c.JSON(fiber.Map{"subscriptions": subscriptions})
}
