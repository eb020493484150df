package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func statusCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "invalid_argument"
	case fiber.StatusUnauthorized:
		return "unauthenticated"
	case fiber.StatusForbidden:
		return "not_participant"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusUpgradeRequired:
		return "upgrade_required"
	case fiber.StatusRequestEntityTooLarge:
		return "too_large"
	default:
		return "internal"
	}
}

// ErrorHandler renders every error as {"status":"error","code","message"}.
// Service errors carry their kind; fiber errors carry a status.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"status": "error", "code": statusCode(fe.Code), "message": fe.Message})
		}

		status := apperr.HTTPStatus(err)
		msg := err.Error()
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
			if status == fiber.StatusInternalServerError {
				msg = "internal error"
			}
		}
		return c.Status(status).JSON(fiber.Map{"status": "error", "code": apperr.Code(err), "message": msg})
	}
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"code":    "invalid_argument",
		"message": "validation failed",
		"errors":  FormatValidationErrors(err),
	})
}
