package registry

import (
	"context"
	"fmt"
	"sync"

	"meeting-backend/internal/model"
)

// MemoryStore 프로세스 메모리 회의 저장소
type MemoryStore struct {
	mu       sync.RWMutex
	meetings map[string]*model.Meeting
	nextID   int64
}

// NewMemoryStore 빈 저장소 생성
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meetings: make(map[string]*model.Meeting)}
}

func (s *MemoryStore) Create(_ context.Context, m *model.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.meetings[m.RoomID]; exists {
		return fmt.Errorf("meeting %s already exists", m.RoomID)
	}
	s.nextID++
	m.ID = s.nextID
	s.meetings[m.RoomID] = m.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, roomID string) (*model.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meetings[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, m *model.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.meetings[m.RoomID]
	if !ok {
		return ErrNotFound
	}
	m.ID = existing.ID
	s.meetings[m.RoomID] = m.Clone()
	return nil
}
