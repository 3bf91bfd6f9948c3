package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"focalcrm/config"
	"focalcrm/models"
	"focalcrm/utils"
)

func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			token = c.Cookies("access_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		var user models.User
		if err := config.DB.First(&user, claims.UserID).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "User not found",
			})
		}

		if !user.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Account is not active",
			})
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)
		c.Locals("businessID", user.BusinessID)

		return c.Next()
	}
}
