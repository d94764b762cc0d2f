package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/event"
	"meeting-backend/internal/model"
	"meeting-backend/internal/presence"
)

const (
	defaultTitle = "Meeting"
	endedMessage = "The host has ended the meeting"
)

func mergeKey(roomID string) string   { return "merge:" + roomID }
func releaseKey(roomID string) string { return "release:" + roomID }

// CreateMeeting hostID 가 호스트인 회의 생성
func (h *Hub) CreateMeeting(ctx context.Context, hostID, title string) (*model.Meeting, error) {
	if hostID == "" {
		return nil, fmt.Errorf("%w: host is required", event.ErrInvalid)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}

	m := &model.Meeting{
		RoomID:       uuid.NewString(),
		Title:        title,
		HostUserID:   hostID,
		IsActive:     true,
		CreatedAt:    h.clock.Now(),
		Participants: []model.Participant{},
	}
	if err := h.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}

	h.log.WithFields(logrus.Fields{
		"roomId": m.RoomID,
		"hostId": hostID,
	}).Info("🎥 Meeting created")
	return m, nil
}

// Meeting roomID 의 현재 회의 기록
func (h *Hub) Meeting(ctx context.Context, roomID string) (*model.Meeting, error) {
	m, err := h.store.Get(ctx, roomID)
	if err != nil {
		return nil, wrapStore("load meeting", err)
	}
	return m, nil
}

// Join connID 를 userID 로 roomID 에 입장시킨다. 다른 방에 있던 연결은 먼저 그 방에서 나가고,
// 다른 방에 남아 있던 같은 사용자의 이전 연결은 그 방에서 정리된다.
func (h *Hub) Join(ctx context.Context, connID, roomID, userID, displayName string) (*model.Meeting, error) {
	if cur, ok := h.presence.Lookup(connID); ok && cur.RoomID != roomID {
		if err := h.Leave(ctx, connID, cur.RoomID, cur.UserID); err != nil {
			h.log.WithError(err).WithField("roomId", cur.RoomID).Warn("⚠️ Failed to leave previous room")
		}
	}

	var (
		result *model.Meeting
		stale  *presence.Entry
		err    error
	)
	h.do(roomID, func() {
		result, stale, err = h.join(ctx, connID, roomID, userID, displayName)
	})
	if stale != nil && stale.RoomID != roomID {
		h.dropStale(ctx, *stale)
	}
	return result, err
}

func (h *Hub) join(ctx context.Context, connID, roomID, userID, displayName string) (*model.Meeting, *presence.Entry, error) {
	m, err := h.loadActive(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if displayName == "" {
		displayName = userID
	}

	if idx := m.FindParticipant(userID); idx >= 0 {
		m.Participants[idx].DisplayName = displayName
	} else {
		role := model.RoleParticipant
		if m.IsHost(userID) {
			role = model.RoleHost
		}
		m.Participants = append(m.Participants, model.Participant{
			UserID:      userID,
			DisplayName: displayName,
			Role:        role,
			JoinedAt:    h.clock.Now(),
		})
	}
	if err := h.store.Save(ctx, m); err != nil {
		return nil, nil, wrapStore("save meeting", err)
	}

	stale := h.presence.Bind(presence.Entry{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: displayName,
		RoomID:      roomID,
	})
	if stale != nil {
		h.evict(*stale)
	}
	if s := h.session(connID); s != nil {
		s.SetRoom(roomID)
	}

	h.Broadcast(roomID, event.MustEncode(event.ParticipantsUpdated, event.ParticipantsPayload{
		Participants: m.Participants,
		HostID:       m.HostUserID,
	}), "")
	h.Broadcast(roomID, event.MustEncode(event.UserConnected, event.UserConnectedPayload{
		UserID:   userID,
		Username: displayName,
	}), connID)
	h.Reply(connID, event.JoinedSuccess, event.JoinedPayload{
		RoomID:       roomID,
		Participants: m.Participants,
		HostID:       m.HostUserID,
	})

	h.log.WithFields(logrus.Fields{
		"roomId":       roomID,
		"userId":       userID,
		"participants": len(m.Participants),
	}).Info("👋 Participant joined")
	return m, stale, nil
}

// evict 교체된 이전 연결을 닫는다. 이후 그 연결의 disconnect 는 프레즌스가 없어 무시된다.
func (h *Hub) evict(stale presence.Entry) {
	h.log.WithFields(logrus.Fields{
		"roomId": stale.RoomID,
		"userId": stale.UserID,
	}).Info("🔁 Stale connection evicted")
	if s := h.session(stale.ConnID); s != nil {
		s.Close()
	}
}

// dropStale 다른 방에 남은 교체된 연결의 참가 기록을 정리한다 (호스트면 위임 또는 종료).
// 그 사이 사용자가 그 방에 다시 들어왔으면 아무것도 하지 않는다.
func (h *Hub) dropStale(ctx context.Context, stale presence.Entry) {
	h.do(stale.RoomID, func() {
		if e, ok := h.presence.LookupUser(stale.UserID); ok && e.RoomID == stale.RoomID {
			return
		}
		if err := h.leave(ctx, stale.RoomID, stale.UserID, ""); err != nil {
			h.log.WithError(err).WithField("roomId", stale.RoomID).Warn("⚠️ Failed to drop stale participant")
		}
	})
}

// Leave roomID 에서 userID 퇴장, connID 에 left-success 응답
func (h *Hub) Leave(ctx context.Context, connID, roomID, userID string) error {
	var err error
	h.do(roomID, func() {
		err = h.leave(ctx, roomID, userID, connID)
	})
	return err
}

func (h *Hub) leave(ctx context.Context, roomID, userID, replyConn string) error {
	m, err := h.store.Get(ctx, roomID)
	if err != nil {
		return wrapStore("load meeting", err)
	}

	if e, ok := h.presence.LookupUser(userID); ok && e.RoomID == roomID {
		h.presence.Remove(e.ConnID)
		if s := h.session(e.ConnID); s != nil {
			s.SetRoom("")
		}
	}

	idx := m.FindParticipant(userID)
	if !m.IsActive || idx < 0 {
		h.replyLeft(replyConn, roomID)
		return nil
	}

	wasHost := m.IsHost(userID)
	m.Participants = append(m.Participants[:idx], m.Participants[idx+1:]...)

	if wasHost && len(m.Participants) == 0 {
		if err := h.end(ctx, m, false); err != nil {
			return err
		}
		h.replyLeft(replyConn, roomID)
		return nil
	}

	newHost := ""
	if wasHost {
		newHost = transferHost(m)
	}
	if err := h.store.Save(ctx, m); err != nil {
		return wrapStore("save meeting", err)
	}

	h.Broadcast(roomID, event.MustEncode(event.ParticipantsUpdated, event.ParticipantsPayload{
		Participants: m.Participants,
		HostID:       m.HostUserID,
	}), "")
	h.Broadcast(roomID, event.MustEncode(event.UserDisconnected, event.UserPayload{UserID: userID}), "")
	if newHost != "" {
		h.Broadcast(roomID, event.MustEncode(event.HostTransferred, event.HostTransferredPayload{NewHostID: newHost}), "")
		h.log.WithFields(logrus.Fields{
			"roomId":  roomID,
			"newHost": newHost,
		}).Info("👑 Host transferred")
	}
	h.replyLeft(replyConn, roomID)

	h.log.WithFields(logrus.Fields{
		"roomId": roomID,
		"userId": userID,
	}).Info("👋 Participant left")
	return nil
}

func (h *Hub) replyLeft(connID, roomID string) {
	if connID != "" {
		h.Reply(connID, event.LeftSuccess, event.RoomPayload{RoomID: roomID})
	}
}

// nextHost joinedAt 이 가장 이른 참가자 (같으면 목록 순서). 비어있으면 -1
func nextHost(ps []model.Participant) int {
	best := -1
	for i := range ps {
		if best < 0 || ps[i].JoinedAt.Before(ps[best].JoinedAt) {
			best = i
		}
	}
	return best
}

// transferHost 다음 참가자에게 호스트 위임, 새 호스트 ID 반환
func transferHost(m *model.Meeting) string {
	next := nextHost(m.Participants)
	if next < 0 {
		return ""
	}
	for i := range m.Participants {
		m.Participants[i].Role = model.RoleParticipant
	}
	m.Participants[next].Role = model.RoleHost
	m.HostUserID = m.Participants[next].UserID
	return m.HostUserID
}

// EndMeeting 회의 종료 (callerID 가 호스트여야 함)
func (h *Hub) EndMeeting(ctx context.Context, roomID, callerID string) error {
	var err error
	h.do(roomID, func() {
		var m *model.Meeting
		if m, err = h.loadActive(ctx, roomID); err != nil {
			return
		}
		if !m.IsHost(callerID) {
			err = fmt.Errorf("%w: only the host can end the meeting", ErrForbidden)
			return
		}
		err = h.end(ctx, m, false)
	})
	return err
}

// end 회의를 비활성으로 바꾸고 방에 알린다. 프레즌스는 업로드 유예 시간 뒤 해제되고
// (immediate 면 즉시), 녹화 중이었다면 같은 유예 뒤 병합된다.
func (h *Hub) end(ctx context.Context, m *model.Meeting, immediate bool) error {
	now := h.clock.Now()
	m.IsActive = false
	m.EndedAt = &now
	m.Participants = []model.Participant{}
	if err := h.store.Save(ctx, m); err != nil {
		return wrapStore("save meeting", err)
	}

	roomID := m.RoomID
	h.Broadcast(roomID, event.MustEncode(event.MeetingEnded, event.MessagePayload{Message: endedMessage}), "")

	if h.rec.Tracker().StopIfActive(roomID) {
		h.scheduleMerge(roomID)
	}
	if immediate {
		h.releaseRoom(roomID)
	} else {
		h.sched.Schedule(releaseKey(roomID), h.cfg.UploadGracePeriod, func() {
			h.do(roomID, func() { h.releaseRoom(roomID) })
		})
	}

	h.log.WithField("roomId", roomID).Info("🏁 Meeting ended")
	return nil
}

func (h *Hub) releaseRoom(roomID string) {
	for _, e := range h.presence.RemoveRoom(roomID) {
		if s := h.session(e.ConnID); s != nil {
			s.SetRoom("")
		}
	}
}

// Disconnect 연결 종료 처리. 모르는 연결은 무시
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	e, ok := h.presence.Lookup(connID)
	if !ok {
		return
	}

	h.do(e.RoomID, func() {
		cur, ok := h.presence.Lookup(connID)
		if !ok || cur.RoomID != e.RoomID {
			return
		}

		m, err := h.store.Get(ctx, cur.RoomID)
		if err != nil {
			h.presence.Remove(connID)
			return
		}

		if m.IsActive && m.IsHost(cur.UserID) && h.cfg.EndOnHostDisconnect {
			h.presence.Remove(connID)
			if err := h.end(ctx, m, true); err != nil {
				h.log.WithError(err).WithField("roomId", cur.RoomID).Error("❌ Failed to end meeting on host disconnect")
			}
			return
		}

		if err := h.leave(ctx, cur.RoomID, cur.UserID, ""); err != nil {
			h.log.WithError(err).WithField("roomId", cur.RoomID).Warn("⚠️ Leave on disconnect failed")
			h.presence.Remove(connID)
		}
	})
}
