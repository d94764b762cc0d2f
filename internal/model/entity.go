package model

import (
	"time"
)

// Meeting 회의방 (roomId 단위)
type Meeting struct {
	ID           int64         `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomID       string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"roomId"`
	Title        string        `gorm:"type:varchar(200);not null" json:"title"`
	HostUserID   string        `gorm:"type:varchar(128);not null" json:"hostUserId"`
	IsActive     bool          `gorm:"not null" json:"isActive"`
	CreatedAt    time.Time     `json:"createdAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	Participants []Participant `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE" json:"participants"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// Participant 회의 참가자. Position 으로 입장 순서를 보존한다.
type Participant struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	MeetingID   int64     `gorm:"not null;uniqueIndex:idx_participants_meeting_user" json:"-"`
	UserID      string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_participants_meeting_user" json:"userId"`
	DisplayName string    `gorm:"type:varchar(100)" json:"displayName"`
	Role        Role      `gorm:"type:varchar(20);not null" json:"role"`
	Position    int       `gorm:"not null;default:0" json:"-"`
	JoinedAt    time.Time `gorm:"not null" json:"joinedAt"`
}

func (Participant) TableName() string {
	return "participants"
}

// FindParticipant userID 의 인덱스 (없으면 -1)
func (m *Meeting) FindParticipant(userID string) int {
	for i := range m.Participants {
		if m.Participants[i].UserID == userID {
			return i
		}
	}
	return -1
}

// HasParticipant 참가 여부
func (m *Meeting) HasParticipant(userID string) bool {
	return m.FindParticipant(userID) >= 0
}

// IsHost 현재 호스트 여부
func (m *Meeting) IsHost(userID string) bool {
	return userID != "" && m.HostUserID == userID
}

// Clone 참가자 슬라이스까지 복사
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	c := *m
	if m.EndedAt != nil {
		t := *m.EndedAt
		c.EndedAt = &t
	}
	c.Participants = make([]Participant, len(m.Participants))
	copy(c.Participants, m.Participants)
	return &c
}
