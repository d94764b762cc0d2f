package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/config"
	"meeting-backend/internal/coordinator"
	"meeting-backend/internal/event"
	"meeting-backend/internal/metrics"
	"meeting-backend/internal/session"
)

// RoomWSHandler 회의 시그널링 WebSocket 핸들러
type RoomWSHandler struct {
	hub *coordinator.Hub
	cfg config.WebSocketConfig
	log *logrus.Entry
}

// NewRoomWSHandler RoomWSHandler 생성
func NewRoomWSHandler(hub *coordinator.Hub, cfg config.WebSocketConfig, log *logrus.Entry) *RoomWSHandler {
	return &RoomWSHandler{hub: hub, cfg: cfg, log: log}
}

// Upgrade WebSocket 업그레이드 요청만 통과시킨다
func (h *RoomWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("allowed", true)
	return c.Next()
}

// Config websocket.New 설정
func (h *RoomWSHandler) Config() websocket.Config {
	return websocket.Config{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
	}
}

// HandleWebSocket 연결 하나의 읽기 루프. 쓰기는 세션 writer 가 담당한다.
func (h *RoomWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	nickname, _ := c.Locals("nickname").(string)
	if userID == "" {
		_ = c.WriteMessage(websocket.TextMessage, event.MustEncode(event.Error, event.ErrorPayload{
			Code:    "UNAUTHORIZED",
			Message: "invalid session",
		}))
		_ = c.Close()
		return
	}

	s := session.New(c, userID, nickname, h.cfg.SendQueueSize, h.cfg.WriteTimeout)
	h.hub.Attach(s)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.Run()
	}()

	log := h.log.WithFields(logrus.Fields{"connId": s.ID, "userId": userID})
	log.Info("🔌 Meeting socket connected")

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("💥 Panic in meeting socket: %v", r)
		}
		h.hub.Disconnect(context.Background(), s.ID)
		h.hub.Detach(s.ID)
		s.Close()
		<-writerDone
		log.WithField("duration", s.Duration().String()).Info("🔌 Meeting socket disconnected")
	}()

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		cmd, err := event.Decode(data)
		if err != nil {
			metrics.Events.WithLabelValues("invalid", "error").Inc()
			h.hub.ReplyError(s.ID, err)
			continue
		}

		result := "ok"
		if err := h.dispatch(s, cmd); err != nil {
			result = "error"
			if cmd.Kind() == event.JoinRoom {
				h.hub.Reply(s.ID, event.JoinError, event.MessagePayload{Message: err.Error()})
			} else {
				h.hub.ReplyError(s.ID, err)
			}
			log.WithError(err).WithField("type", cmd.Kind()).Debug("event rejected")
		}
		metrics.Events.WithLabelValues(string(cmd.Kind()), result).Inc()
	}
}

// dispatch 이벤트를 허브 작업으로 변환. 페이로드의 사용자 ID 는 토큰과 같아야 한다.
func (h *RoomWSHandler) dispatch(s *session.Session, cmd event.Command) error {
	ctx := s.Context()

	switch c := cmd.(type) {
	case *event.PingCmd:
		h.hub.Ping(ctx, s.ID)
		return nil

	case *event.Join:
		if err := sameUser(s, c.UserID); err != nil {
			return err
		}
		name := c.Username
		if name == "" {
			name = s.DisplayName
		}
		if name == "" {
			name = s.UserID
		}
		_, err := h.hub.Join(ctx, s.ID, c.RoomID, c.UserID, name)
		return err

	case *event.Leave:
		if err := sameUser(s, c.UserID); err != nil {
			return err
		}
		return h.hub.Leave(ctx, s.ID, c.RoomID, c.UserID)

	case *event.HostAction:
		if err := sameUser(s, c.HostID); err != nil {
			return err
		}
		switch c.Kind() {
		case event.EndMeeting:
			return h.hub.EndMeeting(ctx, c.RoomID, c.HostID)
		case event.StartRecording:
			return h.hub.StartRecording(ctx, c.RoomID, c.HostID)
		default:
			return h.hub.StopRecording(ctx, c.RoomID, c.HostID)
		}

	case *event.Chat:
		return h.hub.Chat(ctx, s.ID, c)

	case *event.Signal:
		return h.hub.Relay(s.ID, c)

	case *event.Toggle:
		return h.hub.Toggle(s.ID, c)

	default:
		return fmt.Errorf("%w: %s", event.ErrUnknownType, cmd.Kind())
	}
}

func sameUser(s *session.Session, claimed string) error {
	if claimed != s.UserID {
		return fmt.Errorf("%w: userId does not match the authenticated user", coordinator.ErrForbidden)
	}
	return nil
}
