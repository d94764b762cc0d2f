package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisMirror 프레즌스 변경을 Redis 에 미러링 (다른 노드/운영 도구 조회용)
type RedisMirror struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
	log      *logrus.Entry
}

// mirrorData Redis에 저장될 상태 데이터
type mirrorData struct {
	Entry
	ServerID      string `json:"serverId"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
}

// NewRedisMirror 생성자
func NewRedisMirror(client *redis.Client, serverID string, ttl time.Duration, log *logrus.Entry) *RedisMirror {
	return &RedisMirror{
		client:   client,
		serverID: serverID,
		ttl:      ttl,
		log:      log,
	}
}

// Key 생성 유틸
func userKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

func roomKey(roomID string) string {
	return fmt.Sprintf("presence:room:%s", roomID)
}

// Bound 연결 등록 시 사용자 키와 방 해시 갱신
func (r *RedisMirror) Bound(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(mirrorData{Entry: e, ServerID: r.serverID, LastHeartbeat: time.Now().Unix()})
	if err != nil {
		return
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, userKey(e.UserID), data, r.ttl)
	pipe.HSet(ctx, roomKey(e.RoomID), e.UserID, e.DisplayName)
	pipe.Expire(ctx, roomKey(e.RoomID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.WithError(err).WithField("roomId", e.RoomID).Warn("presence mirror bind failed")
	}
}

// Released 연결 해제 시 키 삭제 (다른 연결이 덮어쓴 경우는 유지)
func (r *RedisMirror) Released(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := r.client.Get(ctx, userKey(e.UserID)).Result()
	if err == nil {
		var cur mirrorData
		if json.Unmarshal([]byte(val), &cur) == nil && cur.ConnID == e.ConnID {
			r.client.Del(ctx, userKey(e.UserID))
			r.client.HDel(ctx, roomKey(e.RoomID), e.UserID)
		}
		return
	}
	if err != redis.Nil {
		r.log.WithError(err).WithField("roomId", e.RoomID).Warn("presence mirror release failed")
	}
}

// Heartbeat TTL 연장
func (r *RedisMirror) Heartbeat(ctx context.Context, e Entry) error {
	ok, err := r.client.Expire(ctx, userKey(e.UserID), r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s not found (offline)", e.UserID)
	}
	return r.client.Expire(ctx, roomKey(e.RoomID), r.ttl).Err()
}
