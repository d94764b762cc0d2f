package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/coordinator"
	"meeting-backend/internal/event"
	"meeting-backend/internal/recording"
)

// statusFor HTTP 상태 코드와 에러 코드 매핑
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, recording.ErrNoRecordings):
		return fiber.StatusNotFound, "NO_RECORDINGS"
	case errors.Is(err, coordinator.ErrNotFound), errors.Is(err, recording.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, coordinator.ErrGone):
		return fiber.StatusGone, "GONE"
	case errors.Is(err, coordinator.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, recording.ErrMergeInProgress):
		return fiber.StatusConflict, "MERGE_IN_PROGRESS"
	case errors.Is(err, coordinator.ErrConflict):
		return fiber.StatusConflict, "CONFLICT"
	case errors.Is(err, recording.ErrCorrupt):
		return fiber.StatusUnprocessableEntity, "CORRUPT_CHUNK"
	case errors.Is(err, recording.ErrInvalid), errors.Is(err, event.ErrInvalid):
		return fiber.StatusBadRequest, "INVALID"
	default:
		return fiber.StatusInternalServerError, "INTERNAL"
	}
}

// respondError 에러를 {"error","code"} 형태로 응답
func respondError(c *fiber.Ctx, log *logrus.Entry, err error) error {
	status, code := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("❌ Request failed")
		msg = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "INVALID",
	})
}
