// Package recording 참가자별 미디어 청크 저장, 방 단위 병합, 결과물 제공.
//
// 루트 디렉토리 구조:
//
//	<root>/<roomId>/<userId>/<sequenceKey>.<ext>   업로드된 청크
//	<root>/<roomId>/_work/                          병합 중간 파일
//	<root>/<roomId>/final-recording.<ext>           최종 녹화 파일
package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrInvalid         = errors.New("invalid recording request")
	ErrCorrupt         = errors.New("chunk is too small to hold media")
	ErrNotFound        = errors.New("recording not found")
	ErrNoRecordings    = errors.New("no recordings for room")
	ErrMergeInProgress = errors.New("merge already in progress")
	ErrConflict        = errors.New("recording state conflict")
)

const (
	workDirName = "_work"
	finalName   = "final-recording"
	tmpPrefix   = ".tmp-"
)

var (
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)
	keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
)

// Layout 방/사용자별 저장 경로
type Layout struct {
	Root string
	Ext  string
}

func (l Layout) RoomDir(roomID string) string {
	return filepath.Join(l.Root, roomID)
}

func (l Layout) UserDir(roomID, userID string) string {
	return filepath.Join(l.Root, roomID, userID)
}

func (l Layout) ChunkName(sequenceKey string) string {
	return sequenceKey + "." + l.Ext
}

func (l Layout) WorkDir(roomID string) string {
	return filepath.Join(l.Root, roomID, workDirName)
}

func (l Layout) FinalPath(roomID string) string {
	return filepath.Join(l.Root, roomID, finalName+"."+l.Ext)
}

// ValidateID 비어있거나 경로로 안전하지 않은 ID 거부
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %s contains unsupported characters", ErrInvalid, field)
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: sequenceKey is required", ErrInvalid)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: sequenceKey contains unsupported characters", ErrInvalid)
	}
	return nil
}

// writeAtomic 같은 디렉토리의 임시 파일에 쓴 뒤 rename. 읽는 쪽은 부분 파일을 보지 않는다.
func writeAtomic(dir, name string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write data: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("fsync failed: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("atomic rename failed: %w", err)
	}
	return size, nil
}
