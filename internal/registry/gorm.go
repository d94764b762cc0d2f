package registry

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"meeting-backend/internal/model"
)

// GormStore GORM 으로 PostgreSQL 에 회의 저장
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 열린(마이그레이션된) DB 핸들로 생성
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, m *model.Meeting) error {
	if err := s.db.WithContext(ctx).Omit("Participants").Create(m).Error; err != nil {
		return fmt.Errorf("failed to create meeting %s: %w", m.RoomID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, roomID string) (*model.Meeting, error) {
	var m model.Meeting
	err := s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("room_id = ?", roomID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load meeting %s: %w", roomID, err)
	}
	return &m, nil
}

// Save 회의 행과 참가자 행을 한 트랜잭션으로 다시 쓴다
func (s *GormStore) Save(ctx context.Context, m *model.Meeting) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Meeting
		if err := tx.Select("id").Where("room_id = ?", m.RoomID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		m.ID = existing.ID

		if err := tx.Model(&model.Meeting{}).Where("id = ?", m.ID).Updates(map[string]any{
			"title":        m.Title,
			"host_user_id": m.HostUserID,
			"is_active":    m.IsActive,
			"ended_at":     m.EndedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to update meeting %s: %w", m.RoomID, err)
		}

		if err := tx.Where("meeting_id = ?", m.ID).Delete(&model.Participant{}).Error; err != nil {
			return fmt.Errorf("failed to clear participants of %s: %w", m.RoomID, err)
		}

		if len(m.Participants) == 0 {
			return nil
		}

		rows := make([]model.Participant, len(m.Participants))
		for i, p := range m.Participants {
			p.ID = 0
			p.MeetingID = m.ID
			p.Position = i
			rows[i] = p
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to write participants of %s: %w", m.RoomID, err)
		}
		return nil
	})
}
