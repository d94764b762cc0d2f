package recording

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"meeting-backend/internal/config"
	"meeting-backend/internal/lock"
	"meeting-backend/internal/model"
	"meeting-backend/internal/scheduler"
	"meeting-backend/internal/transcode"
)

// Service 코디네이터와 HTTP 핸들러가 쓰는 녹화 서비스
type Service struct {
	layout  Layout
	cfg     config.RecordingConfig
	chunks  *ChunkStore
	merger  *Merger
	tracker *Tracker
	sched   *scheduler.Scheduler
	log     *logrus.Entry
}

// NewService Service 생성
func NewService(cfg config.RecordingConfig, tc transcode.Transcoder, locker lock.Locker, sched *scheduler.Scheduler, log *logrus.Entry) *Service {
	ext := cfg.ChunkExt
	if ext == "" {
		ext = "webm"
	}
	layout := Layout{Root: cfg.RootDir, Ext: ext}
	tracker := NewTracker(sched.Clock())

	return &Service{
		layout:  layout,
		cfg:     cfg,
		chunks:  NewChunkStore(layout, cfg.MinChunkBytes, log),
		tracker: tracker,
		merger: NewMerger(layout, MergeOptions{
			MinChunkBytes: cfg.MinChunkBytes,
			Timeout:       cfg.MergeTimeout,
			Parallelism:   cfg.ParticipantParallelism,
			Probe:         cfg.ProbeChunks,
			Cleanup:       cfg.CleanupAfterMerge,
		}, tc, locker, tracker, log),
		sched: sched,
		log:   log,
	}
}

func (s *Service) Layout() Layout {
	return s.layout
}

// Tracker 녹화 상태 머신
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// UploadChunk 디코딩된 청크 저장
func (s *Service) UploadChunk(roomID, userID, sequenceKey string, payload []byte) (*StoredChunk, error) {
	return s.chunks.Upload(roomID, userID, sequenceKey, payload)
}

// Merge 병합 실행 (onStart 는 Merger.MergeRoom 참고)
func (s *Service) Merge(ctx context.Context, roomID string, onStart func()) (*MergeResult, error) {
	return s.merger.MergeRoom(ctx, roomID, onStart)
}

// Status 녹화 상태와 참가자별 청크 수. 추적 상태가 없어도 최종 파일이 있으면 Done
func (s *Service) Status(ctx context.Context, roomID string) (Status, error) {
	if err := ValidateID("roomId", roomID); err != nil {
		return Status{}, err
	}

	st := s.tracker.Get(roomID)
	if st.State == model.RecordingIdle {
		if s.merger.Busy(ctx, roomID) {
			st.State = model.RecordingMerging
		} else if a, err := s.Final(roomID); err == nil {
			st.State = model.RecordingDone
			st.FinalPath = a.Path
			st.SizeBytes = a.Size
			st.UpdatedAt = a.ModTime
		}
	}
	st.Chunks = s.chunks.Count(roomID)
	return st, nil
}

func cleanupKey(roomID string) string {
	return "cleanup:" + roomID
}

// DownloadComplete 설정돼 있으면 방 녹화 삭제 예약
func (s *Service) DownloadComplete(roomID string) {
	if !s.cfg.DeleteAfterDownload {
		return
	}
	s.log.WithField("roomId", roomID).Infof("🗑️ Recording cleanup scheduled in %s", s.cfg.CleanupDelay)
	s.sched.Schedule(cleanupKey(roomID), s.cfg.CleanupDelay, func() {
		if err := s.DeleteRoom(context.Background(), roomID); err != nil {
			s.log.WithError(err).WithField("roomId", roomID).Warn("⚠️ Scheduled recording cleanup failed")
		}
	})
}

// DeleteRoom 방의 녹화 파일 전체 삭제
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	if err := ValidateID("roomId", roomID); err != nil {
		return err
	}
	if s.merger.Busy(ctx, roomID) {
		return ErrMergeInProgress
	}

	s.sched.Cancel(cleanupKey(roomID))
	dir := s.layout.RoomDir(roomID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.tracker.Forget(roomID)
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat room directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove room recordings: %w", err)
	}
	s.tracker.Forget(roomID)

	s.log.WithField("roomId", roomID).Info("🗑️ Room recordings removed")
	return nil
}
