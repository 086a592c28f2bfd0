// handlers/errors.go
package handlers

import (
	"errors"

	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders apperr kinds as {error, details?} with their status.
// Anything unrecognised is logged and answered with an opaque 500.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	log = log.With("component", "ErrorHandler")
	return func(c *fiber.Ctx, err error) error {
		if appErr, ok := apperr.As(err); ok {
			body := fiber.Map{"error": appErr.Kind, "message": appErr.Message}
			if appErr.Details != nil {
				body["details"] = appErr.Details
			}
			return c.Status(appErr.HTTPStatus()).JSON(body)
		}

		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   apperr.KindValidation,
				"message": "invalid request body",
				"details": fields,
			})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		if services.IsTimeout(err) {
			log.Warn("request timed out", "method", c.Method(), "path", c.Path(), "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "request timed out, try again"})
		}

		log.Error("unhandled error", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": apperr.KindInternal})
	}
}
