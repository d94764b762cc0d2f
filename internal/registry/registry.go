// Package registry roomId 단위 Meeting 기록 저장소.
//
// Store 는 항상 독립된 복사본을 돌려준다. Get 결과를 고쳐 Save 해도
// 다른 읽는 쪽에는 영향이 없다.
package registry

import (
	"context"
	"errors"

	"meeting-backend/internal/model"
)

// ErrNotFound roomId 에 해당하는 회의 없음
var ErrNotFound = errors.New("meeting not found")

// Store 회의 저장소 인터페이스
type Store interface {
	Create(ctx context.Context, m *model.Meeting) error
	Get(ctx context.Context, roomID string) (*model.Meeting, error)
	// Save 참가자 포함 스냅샷 교체
	Save(ctx context.Context, m *model.Meeting) error
}
