package middleware

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"meeting-backend/internal/auth"
	"meeting-backend/internal/model"
	"meeting-backend/internal/registry"
)

// MeetingLookup 회의 조회 (coordinator.Hub 가 구현)
type MeetingLookup interface {
	Meeting(ctx context.Context, roomID string) (*model.Meeting, error)
}

// MeetingMiddleware 회의 권한 미들웨어
type MeetingMiddleware struct {
	meetings MeetingLookup
}

// NewMeetingMiddleware MeetingMiddleware 생성
func NewMeetingMiddleware(meetings MeetingLookup) *MeetingMiddleware {
	return &MeetingMiddleware{meetings: meetings}
}

// load :roomId 의 회의 조회. 실패 시 응답을 쓰고 nil 반환.
func (m *MeetingMiddleware) load(c *fiber.Ctx) (*model.Meeting, error) {
	roomID := c.Params("roomId")
	if roomID == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "room ID is required",
			"code":  "INVALID",
		})
	}

	meeting, err := m.meetings.Meeting(c.UserContext(), roomID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "meeting not found",
			"code":  "NOT_FOUND",
		})
	}
	if err != nil {
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load meeting",
			"code":  "INTERNAL",
		})
	}
	return meeting, nil
}

// RequireHost 회의 호스트 필수 (종료된 회의는 마지막 호스트)
func (m *MeetingMiddleware) RequireHost() fiber.Handler {
	return func(c *fiber.Ctx) error {
		meeting, err := m.load(c)
		if meeting == nil {
			return err
		}

		if !meeting.IsHost(auth.UserID(c)) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "host permission required",
				"code":  "FORBIDDEN",
			})
		}

		c.Locals("meeting", meeting)
		return c.Next()
	}
}

// RequireMembership 호스트 또는 현재 참가자 필수
func (m *MeetingMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		meeting, err := m.load(c)
		if meeting == nil {
			return err
		}

		userID := auth.UserID(c)
		if !meeting.IsHost(userID) && !meeting.HasParticipant(userID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not a meeting participant",
				"code":  "FORBIDDEN",
			})
		}

		c.Locals("meeting", meeting)
		return c.Next()
	}
}
