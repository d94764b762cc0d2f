package recording

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"meeting-backend/internal/model"
)

// Status 방 하나의 녹화 상태
type Status struct {
	RoomID    string               `json:"roomId"`
	State     model.RecordingState `json:"state"`
	FinalPath string               `json:"finalPath,omitempty"`
	SizeBytes int64                `json:"sizeBytes,omitempty"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Chunks    map[string]int       `json:"chunks,omitempty"`
}

// Tracker 방별 녹화 상태 머신
//
//	Idle -> Recording -> Stopping -> Merging -> Done | Failed
type Tracker struct {
	clock clock.Clock

	mu    sync.Mutex
	rooms map[string]*Status
}

func NewTracker(clk clock.Clock) *Tracker {
	return &Tracker{clock: clk, rooms: make(map[string]*Status)}
}

// Get 상태 복사본 (모르는 방은 Idle)
func (t *Tracker) Get(roomID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.rooms[roomID]; ok {
		return *s
	}
	return Status{RoomID: roomID, State: model.RecordingIdle}
}

func (t *Tracker) state(roomID string) model.RecordingState {
	if s, ok := t.rooms[roomID]; ok {
		return s.State
	}
	return model.RecordingIdle
}

func (t *Tracker) set(roomID string, state model.RecordingState, mutate func(*Status)) {
	s := &Status{RoomID: roomID, State: state, UpdatedAt: t.clock.Now()}
	if mutate != nil {
		mutate(s)
	}
	t.rooms[roomID] = s
}

// Begin Recording 으로 전환, 이전 상태 반환
func (t *Tracker) Begin(roomID string) (model.RecordingState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.state(roomID)
	if !prev.CanStart() {
		return prev, fmt.Errorf("%w: cannot start while %s", ErrConflict, prev)
	}
	t.set(roomID, model.RecordingActive, nil)
	return prev, nil
}

// Stop Recording 에서 Stopping 으로 전환
func (t *Tracker) Stop(roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev := t.state(roomID); prev != model.RecordingActive {
		return fmt.Errorf("%w: cannot stop while %s", ErrConflict, prev)
	}
	t.set(roomID, model.RecordingStopping, nil)
	return nil
}

// StopIfActive 회의 종료용 Stop. Recording/Stopping 이었으면 병합이 필요하다고 알린다.
func (t *Tracker) StopIfActive(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state(roomID) {
	case model.RecordingActive:
		t.set(roomID, model.RecordingStopping, nil)
		return true
	case model.RecordingStopping:
		return true
	default:
		return false
	}
}

// MarkMerging Merging 으로 전환. 이미 병합 중이면 ErrMergeInProgress,
// 아직 녹화 중이면 ErrConflict
func (t *Tracker) MarkMerging(roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch prev := t.state(roomID); prev {
	case model.RecordingMerging:
		return ErrMergeInProgress
	case model.RecordingActive:
		return fmt.Errorf("%w: cannot merge while %s", ErrConflict, prev)
	}
	t.set(roomID, model.RecordingMerging, nil)
	return nil
}

func (t *Tracker) MarkDone(roomID, finalPath string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(roomID, model.RecordingDone, func(s *Status) {
		s.FinalPath = finalPath
		s.SizeBytes = size
	})
}

func (t *Tracker) MarkFailed(roomID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(roomID, model.RecordingFailed, func(s *Status) {
		s.Error = err.Error()
	})
}

// Forget 방 상태 삭제 (이후 Idle)
func (t *Tracker) Forget(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}
