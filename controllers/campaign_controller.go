package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"focalcrm/engine"
	"focalcrm/models"
	"focalcrm/utils"
)

type CampaignController struct {
	DB      *gorm.DB
	Manager *engine.CampaignManager
	Logger  *log.Logger
}

func NewCampaignController(db *gorm.DB, manager *engine.CampaignManager, logger *log.Logger) *CampaignController {
	return &CampaignController{DB: db, Manager: manager, Logger: logger}
}

type createCampaignEmailInput struct {
	SequenceIndex  int    `json:"sequence_index" validate:"min=0"`
	DaysAfterStart int    `json:"days_after_start" validate:"min=0"`
	Subject        string `json:"subject" validate:"required,max=500"`
	HTMLContent    string `json:"html_content"`
	TextContent    string `json:"text_content"`
}

// CreateCampaign creates a draft campaign with its email sequence. Every
// email starts as pending; nothing sends until the campaign is approved
// and each email clears review.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)

	var input struct {
		Name                string                     `json:"name" validate:"required,max=200"`
		TargetCategory      string                     `json:"target_category"`
		TargetStageID       uint                       `json:"target_stage_id" validate:"required"`
		MaxDurationMonths   int                        `json:"max_duration_months" validate:"min=0"`
		EmailFrequencyWeeks int                        `json:"email_frequency_weeks" validate:"min=0"`
		Emails              []createCampaignEmailInput `json:"emails" validate:"required,min=1,dive"`
	}

	if err := c.BodyParser(&input); err != nil {
		cc.Logger.Printf("Error parsing request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	tx := cc.DB.Begin()

	campaign := models.DripCampaign{
		BusinessID:          businessID,
		Name:                input.Name,
		TargetCategory:      input.TargetCategory,
		TargetStageID:       input.TargetStageID,
		Status:              models.CampaignStatusDraft,
		MaxDurationMonths:   input.MaxDurationMonths,
		EmailFrequencyWeeks: input.EmailFrequencyWeeks,
		Version:             1,
		IsCurrentVersion:    true,
	}
	if err := tx.Create(&campaign).Error; err != nil {
		tx.Rollback()
		cc.Logger.Printf("Failed to create campaign: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	for _, email := range input.Emails {
		if err := tx.Create(&models.DripCampaignEmail{
			CampaignID:     campaign.ID,
			SequenceIndex:  email.SequenceIndex,
			DaysAfterStart: email.DaysAfterStart,
			Subject:        email.Subject,
			HTMLContent:    email.HTMLContent,
			TextContent:    email.TextContent,
			ApprovalStatus: models.ApprovalPending,
		}).Error; err != nil {
			tx.Rollback()
			cc.Logger.Printf("Failed to create campaign email: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create campaign email",
			})
		}
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Campaign created successfully",
		"campaign": campaign,
	})
}

// ActivateCampaign marks a campaign approved and enabled so enrollment
// can begin.
func (cc *CampaignController) ActivateCampaign(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign id",
		})
	}

	result := cc.DB.Model(&models.DripCampaign{}).
		Where("id = ? AND business_id = ?", id, businessID).
		Updates(map[string]interface{}{
			"status":  models.CampaignStatusApproved,
			"enabled": true,
		})
	if result.Error != nil {
		cc.Logger.Printf("Failed to activate campaign %d: %v", id, result.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to activate campaign",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Campaign activated"})
}

// SetCampaignEnabled pauses or resumes a campaign without touching its
// approval state.
func (cc *CampaignController) SetCampaignEnabled(enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		businessID := c.Locals("businessID").(uint)
		id, err := c.ParamsInt("id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid campaign id",
			})
		}

		result := cc.DB.Model(&models.DripCampaign{}).
			Where("id = ? AND business_id = ?", id, businessID).
			Update("enabled", enabled)
		if result.Error != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update campaign",
			})
		}
		if result.RowsAffected == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Campaign not found",
			})
		}

		return c.JSON(fiber.Map{"message": "Campaign updated", "enabled": enabled})
	}
}

// GetCampaign returns a campaign with its ordered emails.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign id",
		})
	}

	var campaign models.DripCampaign
	err = cc.DB.Where("id = ? AND business_id = ?", id, businessID).
		Preload("Emails", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_index ASC")
		}).
		First(&campaign).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	return c.JSON(fiber.Map{"campaign": campaign})
}

// EditEmail updates campaign email content through the version manager,
// which snapshots originals and resets approval.
func (cc *CampaignController) EditEmail(c *fiber.Ctx) error {
	emailID, ok := cc.emailIDForBusiness(c)
	if !ok {
		return nil
	}

	var input struct {
		Subject     string `json:"subject" validate:"required,max=500"`
		HTMLContent string `json:"html_content"`
		TextContent string `json:"text_content"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	email, err := cc.Manager.EditEmail(c.Context(), emailID, input.Subject, input.HTMLContent, input.TextContent)
	if err != nil {
		cc.Logger.Printf("Failed to edit campaign email %d: %v", emailID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to edit campaign email",
		})
	}

	return c.JSON(fiber.Map{"message": "Email updated, pending re-approval", "email": email})
}

// ApproveEmail clears an email to send.
func (cc *CampaignController) ApproveEmail(c *fiber.Ctx) error {
	emailID, ok := cc.emailIDForBusiness(c)
	if !ok {
		return nil
	}
	user := c.Locals("user").(*models.User)

	if err := cc.Manager.ApproveEmail(c.Context(), emailID, user.Email); err != nil {
		cc.Logger.Printf("Failed to approve campaign email %d: %v", emailID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to approve campaign email",
		})
	}

	return c.JSON(fiber.Map{"message": "Email approved"})
}

// RejectEmail blocks an email from sending; a reason is required.
func (cc *CampaignController) RejectEmail(c *fiber.Ctx) error {
	emailID, ok := cc.emailIDForBusiness(c)
	if !ok {
		return nil
	}
	user := c.Locals("user").(*models.User)

	var input struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := cc.Manager.RejectEmail(c.Context(), emailID, user.Email, input.Reason); err != nil {
		if errors.Is(err, engine.ErrRejectionReasonRequired) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "A rejection reason is required",
			})
		}
		cc.Logger.Printf("Failed to reject campaign email %d: %v", emailID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reject campaign email",
		})
	}

	return c.JSON(fiber.Map{"message": "Email rejected"})
}

// RevertEmail restores the pre-edit content snapshot.
func (cc *CampaignController) RevertEmail(c *fiber.Ctx) error {
	emailID, ok := cc.emailIDForBusiness(c)
	if !ok {
		return nil
	}

	email, err := cc.Manager.RevertEmail(c.Context(), emailID)
	if err != nil {
		if errors.Is(err, engine.ErrNoManualEdits) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Email has no manual edits to revert",
			})
		}
		cc.Logger.Printf("Failed to revert campaign email %d: %v", emailID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revert campaign email",
		})
	}

	return c.JSON(fiber.Map{"message": "Email reverted, pending re-approval", "email": email})
}

// CreateVersion snapshots the campaign into a new current version.
func (cc *CampaignController) CreateVersion(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign id",
		})
	}

	var input struct {
		Description string `json:"description" validate:"required,max=1000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var campaign models.DripCampaign
	if err := cc.DB.Where("id = ? AND business_id = ?", id, businessID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	newVersion, err := cc.Manager.NewVersion(c.Context(), campaign.ID, input.Description, user.Email)
	if err != nil {
		if errors.Is(err, engine.ErrNotCurrentVersion) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Only the current version can be versioned",
			})
		}
		cc.Logger.Printf("Failed to version campaign %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign version",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Campaign version created",
		"campaign": newVersion,
	})
}

// ListVersionHistory returns the append-only version log for a campaign
// lineage.
func (cc *CampaignController) ListVersionHistory(c *fiber.Ctx) error {
	businessID := c.Locals("businessID").(uint)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign id",
		})
	}

	var campaign models.DripCampaign
	if err := cc.DB.Where("id = ? AND business_id = ?", id, businessID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var entries []models.CampaignVersionLog
	err = cc.DB.Where("campaign_id = ? OR new_campaign_id = ?", campaign.ID, campaign.ID).
		Order("created_at ASC").Find(&entries).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list version history",
		})
	}

	return c.JSON(fiber.Map{"history": entries})
}

// emailIDForBusiness resolves the :emailID param and verifies the email
// belongs to a campaign the caller's business owns. On failure it writes
// the error response itself and reports ok=false.
func (cc *CampaignController) emailIDForBusiness(c *fiber.Ctx) (uint, bool) {
	businessID := c.Locals("businessID").(uint)
	emailID, err := c.ParamsInt("emailID")
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email id",
		})
		return 0, false
	}

	var email models.DripCampaignEmail
	err = cc.DB.Joins("JOIN drip_campaigns ON drip_campaigns.id = drip_campaign_emails.campaign_id").
		Where("drip_campaign_emails.id = ? AND drip_campaigns.business_id = ?", emailID, businessID).
		First(&email).Error
	if err != nil {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign email not found",
		})
		return 0, false
	}
	return email.ID, true
}
