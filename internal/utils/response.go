package utils

import (
	apperrors "kudi/internal/errors"
	"kudi/internal/logger"

	"github.com/gofiber/fiber/v2"
)

// Respond sends a JSON response with the specified status code.
func Respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(data)
}

// Success sends a successful JSON response.
func Success(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusOK, data)
}

// Created sends a JSON response with status 201.
func Created(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusCreated, data)
}

// BadRequest sends a JSON error response with status 400.
func BadRequest(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusBadRequest, fiber.Map{"error": message, "code": apperrors.CodeInvalidInput})
}

// ValidationFailed sends the validator messages with status 400.
func ValidationFailed(c *fiber.Ctx, details []string) error {
	return Respond(c, fiber.StatusBadRequest, fiber.Map{
		"error":   "validation failed",
		"code":    apperrors.CodeInvalidInput,
		"details": details,
	})
}

// Unauthorized sends a JSON error response with status 401.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusUnauthorized, fiber.Map{"error": message, "code": apperrors.CodeUnauthorized})
}

// Error maps err to its status code. Failures without a domain code are
// logged and answered with a generic 500.
func Error(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		logger.WithFields(map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		}).Errorf("request failed: %v", err)
		return Respond(c, status, fiber.Map{"error": "internal server error"})
	}
	return Respond(c, status, fiber.Map{"error": err.Error(), "code": apperrors.Code(err)})
}
