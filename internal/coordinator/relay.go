package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"meeting-backend/internal/cache"
	"meeting-backend/internal/event"
	"meeting-backend/internal/presence"
)

// sender roomID 안에서 connID 의 프레즌스 조회
func (h *Hub) sender(connID, roomID string) (presence.Entry, error) {
	e, ok := h.presence.Lookup(connID)
	if !ok || e.RoomID != roomID {
		return presence.Entry{}, fmt.Errorf("%w: not in room %s", ErrForbidden, roomID)
	}
	return e, nil
}

// Relay offer/answer/ICE candidate 를 대상에게 전달. 대상이 같은 방에 없으면
// 보낸 쪽에 signaling-failed 로 알린다.
func (h *Hub) Relay(connID string, sig *event.Signal) error {
	var err error
	h.do(sig.RoomID, func() {
		var from presence.Entry
		if from, err = h.sender(connID, sig.RoomID); err != nil {
			return
		}

		fail := func(msg string) {
			h.Reply(connID, event.SignalingFailed, event.SignalingFailedPayload{
				TargetUserID: sig.TargetUserID,
				Kind:         sig.Kind(),
				Message:      msg,
			})
			h.log.WithFields(logrus.Fields{
				"roomId": sig.RoomID,
				"from":   from.UserID,
				"target": sig.TargetUserID,
				"kind":   sig.Kind(),
			}).Debug("signal not delivered")
		}

		target, ok := h.presence.LookupUser(sig.TargetUserID)
		if !ok || target.RoomID != sig.RoomID {
			fail("target is not connected to this room")
			return
		}

		out := event.RelayedSignal{FromUserID: from.UserID}
		switch sig.Kind() {
		case event.WebRTCOffer:
			out.Offer = sig.Body()
		case event.WebRTCAnswer:
			out.Answer = sig.Body()
		default:
			out.Candidate = sig.Body()
		}
		data, encErr := event.Encode(sig.Kind(), out)
		if encErr != nil {
			err = encErr
			return
		}
		if sendErr := h.sendTo(target.ConnID, data); sendErr != nil {
			fail("target connection is gone")
		}
	})
	return err
}

// Toggle 미디어 트랙 on/off 를 방의 나머지에게 알림
func (h *Hub) Toggle(connID string, t *event.Toggle) error {
	var err error
	h.do(t.RoomID, func() {
		var from presence.Entry
		if from, err = h.sender(connID, t.RoomID); err != nil {
			return
		}

		kind := event.UserToggledVideo
		if t.Kind() == event.ToggleAudio {
			kind = event.UserToggledAudio
		}
		h.Broadcast(t.RoomID, event.MustEncode(kind, event.ToggledPayload{
			UserID:  from.UserID,
			Enabled: *t.Enabled,
		}), connID)
	})
	return err
}

// Chat 채팅 메시지를 방 전체에 보내고, 기록 저장소가 있으면 추가한다
func (h *Hub) Chat(ctx context.Context, connID string, c *event.Chat) error {
	var err error
	h.do(c.RoomID, func() {
		var from presence.Entry
		if from, err = h.sender(connID, c.RoomID); err != nil {
			return
		}
		if from.UserID != c.UserID {
			err = fmt.Errorf("%w: userId does not match the connection", ErrForbidden)
			return
		}

		username := c.Username
		if username == "" {
			username = from.DisplayName
		}
		now := h.clock.Now().UTC()
		h.Broadcast(c.RoomID, event.MustEncode(event.ChatMessage, event.ChatPayload{
			RoomID:    c.RoomID,
			UserID:    from.UserID,
			Username:  username,
			Text:      c.Text,
			CreatedAt: now.Format(time.RFC3339),
		}), "")

		if h.chat != nil {
			if herr := h.chat.AddChat(ctx, &cache.ChatEntry{
				RoomID:    c.RoomID,
				UserID:    from.UserID,
				Username:  username,
				Text:      c.Text,
				CreatedAt: now,
			}, h.cfg.ChatHistoryLimit, h.cfg.ChatHistoryTTL); herr != nil {
				h.log.WithError(herr).WithField("roomId", c.RoomID).Warn("⚠️ Failed to store chat message")
			}
		}
	})
	return err
}

// History 최근 채팅 메시지 (오래된 순)
func (h *Hub) History(ctx context.Context, roomID string, limit int64) ([]cache.ChatEntry, error) {
	if _, err := h.Meeting(ctx, roomID); err != nil {
		return nil, err
	}
	if h.chat == nil {
		return []cache.ChatEntry{}, nil
	}
	if limit <= 0 || limit > h.cfg.ChatHistoryLimit {
		limit = h.cfg.ChatHistoryLimit
	}
	return h.chat.RecentChat(ctx, roomID, limit)
}
