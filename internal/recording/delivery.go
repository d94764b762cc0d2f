package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Artifact 방의 최종 녹화 파일
type Artifact struct {
	RoomID      string
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Final 최종 녹화 파일 조회 (없으면 ErrNotFound)
func (s *Service) Final(roomID string) (*Artifact, error) {
	if err := ValidateID("roomId", roomID); err != nil {
		return nil, err
	}

	path := s.layout.FinalPath(roomID)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat final recording: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	contentType := "video/" + s.layout.Ext
	if mt, err := mimetype.DetectFile(path); err == nil && !mt.Is("application/octet-stream") {
		contentType = mt.String()
	}

	return &Artifact{
		RoomID:      roomID,
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: contentType,
	}, nil
}

// OpenRange [start, end] 바이트 구간을 연다. 전체 구간을 끝까지 읽으면
// 다운로드 완료로 처리한다.
func (s *Service) OpenRange(a *Artifact, start, end int64) (io.ReadCloser, error) {
	if start < 0 || end < start || end >= a.Size {
		return nil, fmt.Errorf("%w: range %d-%d outside %d bytes", ErrInvalid, start, end, a.Size)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open final recording: %w", err)
	}

	length := end - start + 1
	r := &trackingReader{
		r:        io.NewSectionReader(f, start, length),
		f:        f,
		expected: length,
	}
	if start == 0 && end == a.Size-1 {
		roomID := a.RoomID
		r.onComplete = func() { s.DownloadComplete(roomID) }
	}
	return r, nil
}

// trackingReader 예상 바이트를 모두 읽으면 onComplete 호출
type trackingReader struct {
	r          io.Reader
	f          *os.File
	read       int64
	expected   int64
	onComplete func()
	once       sync.Once
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.read += int64(n)
	if t.read >= t.expected && t.onComplete != nil {
		t.once.Do(t.onComplete)
	}
	return n, err
}

func (t *trackingReader) Close() error {
	return t.f.Close()
}
