package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"focalcrm/engine"
	"focalcrm/models"
	"focalcrm/utils"
)

type AutomationController struct {
	DB      *gorm.DB
	Manager *engine.CampaignManager
	Logger  *log.Logger
}

func NewAutomationController(db *gorm.DB, manager *engine.CampaignManager, logger *log.Logger) *AutomationController {
	return &AutomationController{DB: db, Manager: manager, Logger: logger}
}

type createStepInput struct {
	TemplateID      uint `json:"template_id" validate:"required"`
	StepIndex       int  `json:"step_index" validate:"min=0"`
	DelayMinutes    int  `json:"delay_minutes" validate:"min=0"`
	QuietHoursStart *int `json:"quiet_hours_start" validate:"omitempty,min=0,max=23"`
	QuietHoursEnd   *int `json:"quiet_hours_end" validate:"omitempty,min=0,max=23"`
}

// CreateAutomation creates an automation together with its steps.
func (ac *AutomationController) CreateAutomation(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)

	var input struct {
		Name           string            `json:"name" validate:"required,max=200"`
		TriggerStageID uint              `json:"trigger_stage_id" validate:"required"`
		Channel        string            `json:"channel" validate:"required,oneof=EMAIL SMS"`
		Steps          []createStepInput `json:"steps" validate:"required,min=1,dive"`
	}

	if err := c.BodyParser(&input); err != nil {
		ac.Logger.Printf("Error parsing request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	for _, step := range input.Steps {
		if (step.QuietHoursStart == nil) != (step.QuietHoursEnd == nil) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Quiet hours require both start and end",
			})
		}
	}

	tx := ac.DB.Begin()

	automation := models.Automation{
		BusinessID:     businessID,
		Name:           input.Name,
		TriggerStageID: input.TriggerStageID,
		Channel:        input.Channel,
		Enabled:        true,
	}
	if err := tx.Create(&automation).Error; err != nil {
		tx.Rollback()
		ac.Logger.Printf("Failed to create automation: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create automation",
		})
	}

	for _, step := range input.Steps {
		if err := tx.Create(&models.AutomationStep{
			AutomationID:    automation.ID,
			TemplateID:      step.TemplateID,
			StepIndex:       step.StepIndex,
			DelayMinutes:    step.DelayMinutes,
			QuietHoursStart: step.QuietHoursStart,
			QuietHoursEnd:   step.QuietHoursEnd,
			Enabled:         true,
		}).Error; err != nil {
			tx.Rollback()
			ac.Logger.Printf("Failed to create automation step: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create automation step",
			})
		}
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Automation created successfully",
		"automation": automation,
	})
}

// ListAutomations returns the business's automations with their steps.
func (ac *AutomationController) ListAutomations(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)

	var automations []models.Automation
	err := ac.DB.Where("business_id = ?", businessID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_index ASC")
		}).
		Find(&automations).Error
	if err != nil {
		ac.Logger.Printf("Failed to list automations: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list automations",
		})
	}

	return c.JSON(fiber.Map{"automations": automations})
}

// SetAutomationEnabled flips the enabled flag. Disabling halts further
// sends on the next tick.
func (ac *AutomationController) SetAutomationEnabled(enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		businessID := c.Locals("businessID").(uint)
		id, err := c.ParamsInt("id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid automation id",
			})
		}

		result := ac.DB.Model(&models.Automation{}).
			Where("id = ? AND business_id = ?", id, businessID).
			Update("enabled", enabled)
		if result.Error != nil {
			ac.Logger.Printf("Failed to update automation %d: %v", id, result.Error)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update automation",
			})
		}
		if result.RowsAffected == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Automation not found",
			})
		}

		return c.JSON(fiber.Map{"message": "Automation updated", "enabled": enabled})
	}
}

// DeleteAutomation disables and deletes an automation atomically so the
// evaluator never races a half-deleted rule.
func (ac *AutomationController) DeleteAutomation(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid automation id",
		})
	}

	var automation models.Automation
	if err := ac.DB.Where("id = ? AND business_id = ?", id, businessID).
		First(&automation).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Automation not found",
		})
	}

	if err := ac.Manager.DeleteAutomation(c.Context(), automation.ID); err != nil {
		ac.Logger.Printf("Failed to delete automation %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete automation",
		})
	}

	return c.JSON(fiber.Map{"message": "Automation deleted"})
}

// ListClientDeliveries shows per-client delivery status across both
// ledgers, so operators can see sent/failed/pending at a glance.
func (ac *AutomationController) ListClientDeliveries(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	clientID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid client id",
		})
	}

	var client models.Client
	if err := ac.DB.Where("id = ? AND business_id = ?", clientID, businessID).
		First(&client).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Client not found",
		})
	}

	var deliveries []models.DeliveryLog
	if err := ac.DB.Where("client_id = ?", client.ID).
		Order("created_at DESC").Find(&deliveries).Error; err != nil {
		ac.Logger.Printf("Failed to list deliveries for client %d: %v", clientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list deliveries",
		})
	}

	var dripDeliveries []models.DripDelivery
	err = ac.DB.Joins("JOIN drip_subscriptions ON drip_subscriptions.id = drip_deliveries.subscription_id").
		Where("drip_subscriptions.client_id = ?", client.ID).
		Order("drip_deliveries.created_at DESC").
		Find(&dripDeliveries).Error
	if err != nil {
		ac.Logger.Printf("Failed to list drip deliveries for client %d: %v", clientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list drip deliveries",
		})
	}

	return c.JSON(fiber.Map{
		"deliveries":      deliveries,
		"drip_deliveries": dripDeliveries,
	})
}
