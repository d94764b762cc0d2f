// Package event defines the tagged messages exchanged over the meeting websocket.
//
// Every frame is an envelope {"type": "...", "payload": {...}}. Inbound frames are
// decoded into one concrete command type per event kind and validated before
// they reach the coordinator.
package event

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Type is the event name carried in the envelope.
type Type string

// client → server
const (
	JoinRoom           Type = "join-room"
	LeaveRoom          Type = "leave-room"
	EndMeeting         Type = "end-meeting"
	StartRecording     Type = "start-recording"
	StopRecording      Type = "stop-recording"
	ChatMessage        Type = "chat-message"
	WebRTCOffer        Type = "webrtc-offer"
	WebRTCAnswer       Type = "webrtc-answer"
	WebRTCIceCandidate Type = "webrtc-ice-candidate"
	ToggleVideo        Type = "toggle-video"
	ToggleAudio        Type = "toggle-audio"
	Ping               Type = "ping"
)

// server → client
const (
	JoinedSuccess       Type = "joined-success"
	JoinError           Type = "join-error"
	ParticipantsUpdated Type = "participants-updated"
	HostTransferred     Type = "host-transferred"
	UserConnected       Type = "user-connected"
	UserDisconnected    Type = "user-disconnected"
	LeftSuccess         Type = "left-success"
	MeetingEnded        Type = "meeting-ended"
	RecordingStarted    Type = "recording-started"
	RecordingStopped    Type = "recording-stopped"
	MergeStarted        Type = "merge-started"
	MergeSuccess        Type = "merge-success"
	MergeFailed         Type = "merge-failed"
	SignalingFailed     Type = "signaling-failed"
	UserToggledVideo    Type = "user-toggled-video"
	UserToggledAudio    Type = "user-toggled-audio"
	Error               Type = "error"
	Pong                Type = "pong"
)

var (
	// ErrMalformed is returned for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for envelopes with an unsupported type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrInvalid wraps payload validation failures.
	ErrInvalid = errors.New("invalid payload")
)

// Envelope is the wire frame.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is a decoded, validated client event.
type Command interface {
	Kind() Type
	Validate() error
}

// Decode parses and validates one inbound frame.
func Decode(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var cmd Command
	switch env.Type {
	case JoinRoom:
		cmd = &Join{}
	case LeaveRoom:
		cmd = &Leave{}
	case EndMeeting:
		cmd = &HostAction{kind: EndMeeting}
	case StartRecording:
		cmd = &HostAction{kind: StartRecording}
	case StopRecording:
		cmd = &HostAction{kind: StopRecording}
	case ChatMessage:
		cmd = &Chat{}
	case WebRTCOffer, WebRTCAnswer, WebRTCIceCandidate:
		cmd = &Signal{kind: env.Type}
	case ToggleVideo, ToggleAudio:
		cmd = &Toggle{kind: env.Type}
	case Ping:
		return &PingCmd{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrInvalid, env.Type)
	}
	if err := json.Unmarshal(env.Payload, cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Encode builds an outbound frame.
func Encode(t Type, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// MustEncode is Encode for payloads built from plain structs.
func MustEncode(t Type, payload any) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(fmt.Sprintf("encode %s: %v", t, err))
	}
	return data
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	return nil
}
