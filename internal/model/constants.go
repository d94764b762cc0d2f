package model

// Role 참가자 역할
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

func (r Role) String() string {
	return string(r)
}

// RecordingState 방 단위 녹화 상태
type RecordingState string

const (
	RecordingIdle     RecordingState = "idle"
	RecordingActive   RecordingState = "recording"
	RecordingStopping RecordingState = "stopping"
	RecordingMerging  RecordingState = "merging"
	RecordingDone     RecordingState = "done"
	RecordingFailed   RecordingState = "failed"
)

func (s RecordingState) String() string {
	return string(s)
}

// CanStart 녹화 시작이 가능한 상태인지
func (s RecordingState) CanStart() bool {
	switch s {
	case RecordingIdle, RecordingDone, RecordingFailed, RecordingStopping, "":
		return true
	default:
		return false
	}
}
