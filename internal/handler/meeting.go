package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/auth"
	"meeting-backend/internal/coordinator"
)

// MeetingHandler 회의 REST 핸들러
type MeetingHandler struct {
	hub *coordinator.Hub
	log *logrus.Entry
}

// NewMeetingHandler MeetingHandler 생성
func NewMeetingHandler(hub *coordinator.Hub, log *logrus.Entry) *MeetingHandler {
	return &MeetingHandler{hub: hub, log: log}
}

// CreateMeetingRequest 회의 생성 요청
type CreateMeetingRequest struct {
	Title string `json:"title"`
}

// CreateMeeting 회의 생성 (요청자가 호스트)
func (h *MeetingHandler) CreateMeeting(c *fiber.Ctx) error {
	var req CreateMeetingRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	meeting, err := h.hub.CreateMeeting(c.UserContext(), auth.UserID(c), req.Title)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(meeting)
}

// JoinMeeting 입장 가능 여부 확인. 실제 입장은 WebSocket join-room 으로 한다.
func (h *MeetingHandler) JoinMeeting(c *fiber.Ctx) error {
	meeting, err := h.hub.Meeting(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if !meeting.IsActive {
		return respondError(c, h.log, coordinator.ErrGone)
	}
	return c.JSON(fiber.Map{
		"meeting": meeting,
		"userId":  auth.UserID(c),
		"isHost":  meeting.IsHost(auth.UserID(c)),
	})
}

// EndMeeting 회의 종료 (호스트 전용)
func (h *MeetingHandler) EndMeeting(c *fiber.Ctx) error {
	if err := h.hub.EndMeeting(c.UserContext(), c.Params("roomId"), auth.UserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"message": "meeting ended"})
}

// GetMeeting 회의 조회
func (h *MeetingHandler) GetMeeting(c *fiber.Ctx) error {
	meeting, err := h.hub.Meeting(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(meeting)
}

// GetMessages 최근 채팅 기록 조회
func (h *MeetingHandler) GetMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	messages, err := h.hub.History(c.UserContext(), c.Params("roomId"), int64(limit))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{
		"messages": messages,
		"total":    len(messages),
	})
}
