package coordinator

import (
	"context"
	"fmt"

	"meeting-backend/internal/event"
	"meeting-backend/internal/model"
)

// StartRecording 녹화 시작 또는 재개. 정지 유예 중이면 예약된 병합을 취소한다.
func (h *Hub) StartRecording(ctx context.Context, roomID, hostID string) error {
	var err error
	h.do(roomID, func() {
		if err = h.requireHost(ctx, roomID, hostID); err != nil {
			return
		}

		var prev model.RecordingState
		if prev, err = h.rec.Tracker().Begin(roomID); err != nil {
			return
		}
		if prev == model.RecordingStopping {
			h.sched.Cancel(mergeKey(roomID))
		}

		h.Broadcast(roomID, event.MustEncode(event.RecordingStarted, nil), "")
		h.log.WithField("roomId", roomID).Info("🔴 Recording started")
	})
	return err
}

// StopRecording 녹화 정지, 업로드 유예 뒤 병합 예약
func (h *Hub) StopRecording(ctx context.Context, roomID, hostID string) error {
	var err error
	h.do(roomID, func() {
		if err = h.requireHost(ctx, roomID, hostID); err != nil {
			return
		}
		if err = h.rec.Tracker().Stop(roomID); err != nil {
			return
		}

		h.Broadcast(roomID, event.MustEncode(event.RecordingStopped, nil), "")
		h.scheduleMerge(roomID)
		h.log.WithField("roomId", roomID).Info("⏹️ Recording stopped")
	})
	return err
}

func (h *Hub) requireHost(ctx context.Context, roomID, userID string) error {
	m, err := h.loadActive(ctx, roomID)
	if err != nil {
		return err
	}
	if !m.IsHost(userID) {
		return fmt.Errorf("%w: only the host can control recording", ErrForbidden)
	}
	return nil
}

// scheduleMerge 늦게 오는 청크를 기다린 뒤 병합을 큐에 넣는다
func (h *Hub) scheduleMerge(roomID string) {
	h.sched.Schedule(mergeKey(roomID), h.cfg.UploadGracePeriod, func() {
		h.runner.Enqueue(roomID)
	})
}
