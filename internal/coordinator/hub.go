// Package coordinator 회의방 단위 액터. 한 방의 입장/퇴장, 녹화 제어, 시그널링 중계를
// 방마다 하나의 고루틴에서 순서대로 실행한다.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/cache"
	"meeting-backend/internal/config"
	"meeting-backend/internal/event"
	"meeting-backend/internal/metrics"
	"meeting-backend/internal/model"
	"meeting-backend/internal/presence"
	"meeting-backend/internal/recording"
	"meeting-backend/internal/registry"
	"meeting-backend/internal/scheduler"
	"meeting-backend/internal/session"
)

var (
	ErrNotFound         = registry.ErrNotFound
	ErrGone             = errors.New("meeting has ended")
	ErrForbidden        = errors.New("not allowed")
	ErrConflict         = recording.ErrConflict
	ErrTransportFailure = errors.New("connection is gone")
)

// ChatHistory 방별 최근 채팅 기록 저장소
type ChatHistory interface {
	AddChat(ctx context.Context, e *cache.ChatEntry, limit int64, ttl time.Duration) error
	RecentChat(ctx context.Context, roomID string, count int64) ([]cache.ChatEntry, error)
}

// Hub 방 액터와 살아있는 세션을 관리
type Hub struct {
	store    registry.Store
	presence *presence.Map
	rec      *recording.Service
	sched    *scheduler.Scheduler
	clock    clock.Clock
	chat     ChatHistory
	runner   *MergeRunner
	cfg      config.MeetingConfig
	log      *logrus.Entry

	mu    sync.Mutex
	rooms map[string]*room

	sessMu   sync.RWMutex
	sessions map[string]*session.Session
}

// room roomId 하나의 액터
type room struct {
	id    string
	inbox chan *job
	done  chan struct{}
}

type job struct {
	fn   func()
	done chan struct{}
}

// NewHub Hub 생성 (채팅 기록 저장소가 없으면 chat 은 nil)
func NewHub(
	store registry.Store,
	pres *presence.Map,
	rec *recording.Service,
	sched *scheduler.Scheduler,
	chat ChatHistory,
	cfg config.MeetingConfig,
	mergeWorkers int,
	log *logrus.Entry,
) *Hub {
	h := &Hub{
		store:    store,
		presence: pres,
		rec:      rec,
		sched:    sched,
		clock:    sched.Clock(),
		chat:     chat,
		cfg:      cfg,
		log:      log,
		rooms:    make(map[string]*room),
		sessions: make(map[string]*session.Session),
	}
	h.runner = NewMergeRunner(rec, h, sched, mergeWorkers, log)
	return h
}

// Runner 병합 실행기
func (h *Hub) Runner() *MergeRunner {
	return h.runner
}

// Close 예약 작업을 멈추고 대기 중인 병합을 기다린다
func (h *Hub) Close() {
	h.sched.Stop()
	h.runner.Stop()
}

// Attach 세션 등록 (허브가 이 세션으로 프레임을 쓴다)
func (h *Hub) Attach(s *session.Session) {
	h.sessMu.Lock()
	h.sessions[s.ID] = s
	h.sessMu.Unlock()
	metrics.Connections.Inc()
}

// Detach 세션 해제
func (h *Hub) Detach(connID string) {
	h.sessMu.Lock()
	_, ok := h.sessions[connID]
	delete(h.sessions, connID)
	h.sessMu.Unlock()
	if ok {
		metrics.Connections.Dec()
	}
}

func (h *Hub) session(connID string) *session.Session {
	h.sessMu.RLock()
	defer h.sessMu.RUnlock()
	return h.sessions[connID]
}

// do 방 액터에서 fn 을 실행하고 끝날 때까지 기다린다
func (h *Hub) do(roomID string, fn func()) {
	j := &job{fn: fn, done: make(chan struct{})}
	for {
		r := h.actor(roomID)
		select {
		case r.inbox <- j:
			<-j.done
			return
		case <-r.done:
			// 조회와 전송 사이에 액터가 종료됨
		}
	}
}

func (h *Hub) actor(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		return r
	}
	r := &room{
		id:    roomID,
		inbox: make(chan *job),
		done:  make(chan struct{}),
	}
	h.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	go h.run(r)
	return r
}

func (h *Hub) run(r *room) {
	for j := range r.inbox {
		h.exec(r.id, j)
		if len(h.presence.InRoom(r.id)) == 0 {
			h.retire(r)
			return
		}
	}
}

func (h *Hub) exec(roomID string, j *job) {
	defer close(j.done)
	defer func() {
		if rec := recover(); rec != nil {
			h.log.WithField("roomId", roomID).Errorf("🚨 Room actor panic: %v", rec)
		}
	}()
	j.fn()
}

func (h *Hub) retire(r *room) {
	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.mu.Unlock()
	close(r.done)
	metrics.ActiveRooms.Dec()
}

// ActiveRooms 실행 중인 액터 수
func (h *Hub) ActiveRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// sendTo 연결 하나에 프레임 전송
func (h *Hub) sendTo(connID string, data []byte) error {
	s := h.session(connID)
	if s == nil || !s.Send(data) {
		return ErrTransportFailure
	}
	return nil
}

// Broadcast 방의 모든 연결에 프레임 전송 (exceptConn 제외)
func (h *Hub) Broadcast(roomID string, data []byte, exceptConn string) {
	for _, e := range h.presence.InRoom(roomID) {
		if e.ConnID == exceptConn {
			continue
		}
		if err := h.sendTo(e.ConnID, data); err != nil {
			h.log.WithFields(logrus.Fields{
				"roomId": roomID,
				"userId": e.UserID,
			}).Debug("broadcast dropped for closed connection")
		}
	}
}

// Reply 연결 하나에 이벤트 전송
func (h *Hub) Reply(connID string, t event.Type, payload any) {
	data, err := event.Encode(t, payload)
	if err != nil {
		h.log.WithError(err).Errorf("failed to encode %s", t)
		return
	}
	_ = h.sendTo(connID, data)
}

// ReplyError err 를 error{code,message} 로 전송
func (h *Hub) ReplyError(connID string, err error) {
	h.Reply(connID, event.Error, event.ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
}

// Ping keepalive 응답. 입장한 연결이면 프레즌스 미러도 갱신한다.
func (h *Hub) Ping(ctx context.Context, connID string) {
	if err := h.presence.Touch(ctx, connID); err != nil {
		h.log.WithError(err).WithField("connId", connID).Debug("presence heartbeat failed")
	}
	h.Reply(connID, event.Pong, nil)
}

// ErrorCode 에러를 클라이언트용 코드로 변환
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrGone):
		return "GONE"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, recording.ErrMergeInProgress):
		return "MERGE_IN_PROGRESS"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, event.ErrMalformed), errors.Is(err, event.ErrUnknownType), errors.Is(err, event.ErrInvalid):
		return "INVALID"
	case errors.Is(err, ErrTransportFailure):
		return "TRANSPORT_FAILURE"
	default:
		return "INTERNAL"
	}
}

// loadActive 회의 조회 (없으면 NotFound, 종료됐으면 Gone)
func (h *Hub) loadActive(ctx context.Context, roomID string) (*model.Meeting, error) {
	m, err := h.store.Get(ctx, roomID)
	if err != nil {
		return nil, wrapStore("load meeting", err)
	}
	if !m.IsActive {
		return m, ErrGone
	}
	return m, nil
}

func wrapStore(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
