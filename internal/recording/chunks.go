package recording

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/metrics"
)

// StoredChunk 저장된 청크 정보
type StoredChunk struct {
	StoredKey string `json:"storedKey"`
	SizeBytes int64  `json:"sizeBytes"`
	MimeType  string `json:"mimeType"`
}

// ChunkStore 업로드 청크 검증 및 저장
type ChunkStore struct {
	layout   Layout
	minBytes int
	log      *logrus.Entry
}

// NewChunkStore ChunkStore 생성
func NewChunkStore(layout Layout, minBytes int, log *logrus.Entry) *ChunkStore {
	return &ChunkStore{layout: layout, minBytes: minBytes, log: log}
}

// DecodePayload base64 청크 디코딩. data URL 접두사
// ("data:video/webm;base64,") 는 먼저 제거한다.
func DecodePayload(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		idx := strings.Index(encoded, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data url", ErrInvalid)
		}
		encoded = encoded[idx+1:]
	}
	if encoded == "" {
		return nil, fmt.Errorf("%w: chunk payload is empty", ErrInvalid)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("%w: chunk payload is not base64", ErrInvalid)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: chunk payload is empty", ErrInvalid)
	}
	return data, nil
}

// Upload roomID/userID 아래 sequenceKey 청크로 저장. 같은 키는 덮어쓴다.
func (s *ChunkStore) Upload(roomID, userID, sequenceKey string, payload []byte) (*StoredChunk, error) {
	chunk, err := s.upload(roomID, userID, sequenceKey, payload)
	switch {
	case err == nil:
		metrics.ChunksUploaded.WithLabelValues("stored").Inc()
		metrics.ChunkBytes.Add(float64(chunk.SizeBytes))
	case errors.Is(err, ErrCorrupt):
		metrics.ChunksUploaded.WithLabelValues("corrupt").Inc()
	case errors.Is(err, ErrInvalid):
		metrics.ChunksUploaded.WithLabelValues("invalid").Inc()
	default:
		metrics.ChunksUploaded.WithLabelValues("error").Inc()
	}
	return chunk, err
}

func (s *ChunkStore) upload(roomID, userID, sequenceKey string, payload []byte) (*StoredChunk, error) {
	if err := ValidateID("roomId", roomID); err != nil {
		return nil, err
	}
	if err := ValidateID("userId", userID); err != nil {
		return nil, err
	}
	if err := validateKey(sequenceKey); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: chunk payload is empty", ErrInvalid)
	}
	if len(payload) < s.minBytes {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrCorrupt, len(payload), s.minBytes)
	}

	name := s.layout.ChunkName(sequenceKey)
	size, err := writeAtomic(s.layout.UserDir(roomID, userID), name, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"roomId": roomID,
		"userId": userID,
		"key":    sequenceKey,
		"bytes":  size,
	}).Debug("chunk stored")

	return &StoredChunk{
		StoredKey: roomID + "/" + userID + "/" + name,
		SizeBytes: size,
		MimeType:  mimetype.Detect(payload).String(),
	}, nil
}

// Count 참가자별 저장된 청크 수
func (s *ChunkStore) Count(roomID string) map[string]int {
	counts := make(map[string]int)
	users, err := participantDirs(s.layout.RoomDir(roomID))
	if err != nil {
		return counts
	}
	for _, u := range users {
		entries, err := os.ReadDir(s.layout.UserDir(roomID, u))
		if err != nil {
			continue
		}
		n := 0
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				n++
			}
		}
		counts[u] = n
	}
	return counts
}

// participantDirs 방의 참가자 디렉토리 목록
func participantDirs(roomDir string) ([]string, error) {
	entries, err := os.ReadDir(roomDir)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		users = append(users, name)
	}
	return users, nil
}
