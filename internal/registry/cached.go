package registry

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"meeting-backend/internal/model"
)

// CachedStore 다른 Store 앞의 write-through 읽기 캐시.
// 담당하는 방의 쓰기는 이 프로세스만 한다고 가정한다.
type CachedStore struct {
	next  Store
	cache *expirable.LRU[string, *model.Meeting]
}

// NewCachedStore 크기와 TTL 을 가진 LRU 로 next 를 감싼다
func NewCachedStore(next Store, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:  next,
		cache: expirable.NewLRU[string, *model.Meeting](size, nil, ttl),
	}
}

func (s *CachedStore) Create(ctx context.Context, m *model.Meeting) error {
	if err := s.next.Create(ctx, m); err != nil {
		return err
	}
	s.cache.Add(m.RoomID, m.Clone())
	return nil
}

func (s *CachedStore) Get(ctx context.Context, roomID string) (*model.Meeting, error) {
	if m, ok := s.cache.Get(roomID); ok {
		return m.Clone(), nil
	}
	m, err := s.next.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(roomID, m.Clone())
	return m, nil
}

func (s *CachedStore) Save(ctx context.Context, m *model.Meeting) error {
	if err := s.next.Save(ctx, m); err != nil {
		s.cache.Remove(m.RoomID)
		return err
	}
	s.cache.Add(m.RoomID, m.Clone())
	return nil
}
