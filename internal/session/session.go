package session

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// State WebSocket 연결 상태
type State int

const (
	StateOpen   State = iota // 연결됨 (방 미입장)
	StateInRoom              // 방 입장
	StateClosed              // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn 세션이 쓰는 웹소켓 연결 (테스트에서 대체 가능)
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session 클라이언트 세션 (Thread-Safe). 모든 쓰기는 writer 고루틴 하나가 담당한다.
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	ConnectedAt time.Time

	conn         Conn
	send         chan []byte
	writeTimeout time.Duration

	mu     sync.RWMutex
	state  State
	roomID string

	ctx    context.Context
	cancel context.CancelFunc
}

// New 새 세션 생성
func New(conn Conn, userID, displayName string, queueSize int, writeTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		DisplayName:  displayName,
		ConnectedAt:  time.Now(),
		conn:         conn,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		state:        StateOpen,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Context 세션 컨텍스트 반환
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done 세션 종료 채널
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Run writer 루프. 세션이 닫히거나 쓰기가 실패하면 반환한다.
func (s *Session) Run() {
	defer s.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.send:
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Send 메시지를 큐에 넣는다. 큐가 가득 찬 느린 클라이언트는 끊는다.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	select {
	case s.send <- data:
		return true
	default:
		s.Close()
		return false
	}
}

// SetRoom 입장한 방 설정 (빈 문자열이면 퇴장)
func (s *Session) SetRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.roomID = roomID
	if roomID == "" {
		s.state = StateOpen
	} else {
		s.state = StateInRoom
	}
}

// RoomID 현재 방 조회
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roomID
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 정리 (중복 호출 안전)
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close()
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateClosed
}
