package event

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"meeting-backend/internal/model"
)

// MaxChatLength caps chat text in runes.
const MaxChatLength = 2000

// Join is join-room.
type Join struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (*Join) Kind() Type { return JoinRoom }

func (j *Join) Validate() error {
	j.RoomID = strings.TrimSpace(j.RoomID)
	j.UserID = strings.TrimSpace(j.UserID)
	j.Username = strings.TrimSpace(j.Username)
	if err := required("roomId", j.RoomID); err != nil {
		return err
	}
	return required("userId", j.UserID)
}

// Leave is leave-room.
type Leave struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (*Leave) Kind() Type { return LeaveRoom }

func (l *Leave) Validate() error {
	if err := required("roomId", l.RoomID); err != nil {
		return err
	}
	return required("userId", l.UserID)
}

// HostAction covers end-meeting, start-recording and stop-recording.
type HostAction struct {
	kind   Type
	RoomID string `json:"roomId"`
	HostID string `json:"hostId"`
}

func (h *HostAction) Kind() Type { return h.kind }

func (h *HostAction) Validate() error {
	if err := required("roomId", h.RoomID); err != nil {
		return err
	}
	return required("hostId", h.HostID)
}

// Chat is chat-message from a client.
type Chat struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

func (*Chat) Kind() Type { return ChatMessage }

func (c *Chat) Validate() error {
	if err := required("roomId", c.RoomID); err != nil {
		return err
	}
	if err := required("userId", c.UserID); err != nil {
		return err
	}
	c.Text = strings.TrimSpace(c.Text)
	if c.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalid)
	}
	if r := []rune(c.Text); len(r) > MaxChatLength {
		c.Text = string(r[:MaxChatLength])
	}
	return nil
}

// Signal is an opaque webrtc-offer, webrtc-answer or webrtc-ice-candidate.
type Signal struct {
	kind         Type
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	TargetUserID string          `json:"targetUserId"`
	RoomID       string          `json:"roomId"`
}

func (s *Signal) Kind() Type { return s.kind }

// Body returns the opaque payload for the signal kind.
func (s *Signal) Body() json.RawMessage {
	switch s.kind {
	case WebRTCOffer:
		return s.Offer
	case WebRTCAnswer:
		return s.Answer
	default:
		return s.Candidate
	}
}

func (s *Signal) Validate() error {
	if err := required("roomId", s.RoomID); err != nil {
		return err
	}
	if err := required("targetUserId", s.TargetUserID); err != nil {
		return err
	}
	if len(s.Body()) == 0 {
		return fmt.Errorf("%w: %s body is required", ErrInvalid, s.kind)
	}
	return nil
}

// NewSignal builds a signal command without going through the wire codec.
func NewSignal(kind Type, roomID, target string, body json.RawMessage) *Signal {
	s := &Signal{kind: kind, RoomID: roomID, TargetUserID: target}
	switch kind {
	case WebRTCOffer:
		s.Offer = body
	case WebRTCAnswer:
		s.Answer = body
	default:
		s.Candidate = body
	}
	return s
}

// Toggle is toggle-video or toggle-audio.
type Toggle struct {
	kind    Type
	RoomID  string `json:"roomId"`
	Enabled *bool  `json:"enabled"`
}

func (t *Toggle) Kind() Type { return t.kind }

func (t *Toggle) Validate() error {
	if err := required("roomId", t.RoomID); err != nil {
		return err
	}
	if t.Enabled == nil {
		return fmt.Errorf("%w: enabled is required", ErrInvalid)
	}
	return nil
}

// PingCmd is a keepalive.
type PingCmd struct{}

func (*PingCmd) Kind() Type      { return Ping }
func (*PingCmd) Validate() error { return nil }

// Outbound payloads

type JoinedPayload struct {
	RoomID       string              `json:"roomId"`
	Participants []model.Participant `json:"participants"`
	HostID       string              `json:"hostId"`
}

type ParticipantsPayload struct {
	Participants []model.Participant `json:"participants"`
	HostID       string              `json:"hostId"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type HostTransferredPayload struct {
	NewHostID string `json:"newHostId"`
}

type UserConnectedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type MergeSuccessPayload struct {
	FinalPath string `json:"finalPath"`
}

type MergeFailedPayload struct {
	Error string `json:"error"`
}

// RelayedSignal is what the target of a signal receives.
type RelayedSignal struct {
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	FromUserID string          `json:"fromUserId"`
}

type SignalingFailedPayload struct {
	TargetUserID string `json:"targetUserId"`
	Kind         Type   `json:"kind"`
	Message      string `json:"message"`
}

type ToggledPayload struct {
	UserID  string `json:"userId"`
	Enabled bool   `json:"enabled"`
}

type ChatPayload struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
