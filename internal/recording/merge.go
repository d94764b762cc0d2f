package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"meeting-backend/internal/lock"
	"meeting-backend/internal/metrics"
	"meeting-backend/internal/transcode"
)

// MergeOptions 병합 파이프라인 옵션
type MergeOptions struct {
	MinChunkBytes int
	Timeout       time.Duration
	Parallelism   int
	Probe         bool
	Cleanup       bool
}

// MergeResult 병합 결과
type MergeResult struct {
	RoomID       string   `json:"roomId"`
	FinalPath    string   `json:"finalPath"`
	SizeBytes    int64    `json:"sizeBytes"`
	Participants []string `json:"participants"`
}

// Merger 방의 청크 디렉토리를 최종 녹화 파일로 병합
type Merger struct {
	layout     Layout
	opts       MergeOptions
	transcoder transcode.Transcoder
	locker     lock.Locker
	tracker    *Tracker
	log        *logrus.Entry
}

func NewMerger(layout Layout, opts MergeOptions, tc transcode.Transcoder, locker lock.Locker, tracker *Tracker, log *logrus.Entry) *Merger {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Merger{
		layout:     layout,
		opts:       opts,
		transcoder: tc,
		locker:     locker,
		tracker:    tracker,
		log:        log,
	}
}

func mergeLockKey(roomID string) string {
	return "merge:" + roomID
}

// Busy 병합이 방 잠금을 잡고 있는지
func (m *Merger) Busy(ctx context.Context, roomID string) bool {
	held, err := m.locker.IsLocked(ctx, mergeLockKey(roomID))
	return err == nil && held
}

// chunkFile 디스크의 청크 후보
type chunkFile struct {
	name    string
	key     string
	path    string
	modTime time.Time
}

// participantOutput 참가자 한 명의 정규화된 스트림
type participantOutput struct {
	userID string
	path   string
	chunks []string
}

// MergeRoom 방의 모든 참가자 병합. 방마다 한 번에 하나만 실행되고 동시 호출은
// ErrMergeInProgress. onStart 는 잠금을 잡고 Merging 으로 바뀐 뒤 호출된다.
func (m *Merger) MergeRoom(ctx context.Context, roomID string, onStart func()) (*MergeResult, error) {
	if err := ValidateID("roomId", roomID); err != nil {
		return nil, err
	}

	timeout := m.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	release, err := m.locker.TryLock(ctx, mergeLockKey(roomID), timeout)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, ErrMergeInProgress
		}
		return nil, fmt.Errorf("failed to acquire merge lock: %w", err)
	}
	defer release()

	if err := m.tracker.MarkMerging(roomID); err != nil {
		return nil, err
	}
	if onStart != nil {
		onStart()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := m.log.WithField("roomId", roomID)
	started := time.Now()
	log.Info("🎬 Merge started")

	result, err := m.merge(ctx, log, roomID)
	metrics.MergeDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		m.tracker.MarkFailed(roomID, err)
		metrics.Merges.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("⚠️ Merge failed")
		return nil, err
	}

	m.tracker.MarkDone(roomID, result.FinalPath, result.SizeBytes)
	metrics.Merges.WithLabelValues("success").Inc()
	log.WithFields(logrus.Fields{
		"participants": len(result.Participants),
		"bytes":        result.SizeBytes,
	}).Info("✅ Merge finished")
	return result, nil
}

func (m *Merger) merge(ctx context.Context, log *logrus.Entry, roomID string) (*MergeResult, error) {
	users, err := participantDirs(m.layout.RoomDir(roomID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoRecordings
		}
		return nil, fmt.Errorf("failed to list room directory: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrNoRecordings
	}
	sort.Strings(users)

	workDir := m.layout.WorkDir(roomID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	outputs := make([]*participantOutput, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Parallelism)
	for i, userID := range users {
		g.Go(func() error {
			out, err := m.mergeParticipant(gctx, log, roomID, userID)
			if err != nil {
				return fmt.Errorf("participant %s: %w", userID, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var inputs []string
	var participants []string
	var consumed []string
	for _, out := range outputs {
		if out == nil {
			continue
		}
		inputs = append(inputs, out.path)
		participants = append(participants, out.userID)
		consumed = append(consumed, out.chunks...)
	}
	if len(inputs) == 0 {
		return nil, ErrNoRecordings
	}

	finalPath := m.layout.FinalPath(roomID)
	tmpPath := filepath.Join(m.layout.RoomDir(roomID), tmpPrefix+"final-"+uuid.NewString()+"."+m.layout.Ext)
	if len(inputs) == 1 {
		err = m.transcoder.Normalize(ctx, inputs[0], tmpPath)
	} else {
		err = m.transcoder.StackAndMix(ctx, inputs, tmpPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to combine participants: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to publish final recording: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat final recording: %w", err)
	}

	if m.opts.Cleanup {
		m.cleanup(log, roomID, participants, consumed)
	}

	return &MergeResult{
		RoomID:       roomID,
		FinalPath:    finalPath,
		SizeBytes:    info.Size(),
		Participants: participants,
	}, nil
}

// mergeParticipant 참가자 한 명의 청크를 이어 붙이고 정규화. 쓸 청크가 없으면 nil
func (m *Merger) mergeParticipant(ctx context.Context, log *logrus.Entry, roomID, userID string) (*participantOutput, error) {
	chunks, err := m.collectChunks(m.layout.UserDir(roomID, userID), log.WithField("userId", userID))
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		log.WithField("userId", userID).Warn("⚠️ No usable chunks, participant skipped")
		return nil, nil
	}

	workDir := m.layout.WorkDir(roomID)
	concatPath := filepath.Join(workDir, userID+".concat."+m.layout.Ext)
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.path
	}
	if err := concatFiles(ctx, paths, concatPath); err != nil {
		return nil, err
	}

	normalized := filepath.Join(workDir, userID+"."+m.layout.Ext)
	if err := m.transcoder.Normalize(ctx, concatPath, normalized); err != nil {
		return nil, err
	}

	return &participantOutput{userID: userID, path: normalized, chunks: paths}, nil
}

func (m *Merger) collectChunks(dir string, log *logrus.Entry) ([]chunkFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	suffix := "." + m.layout.Ext
	chunks := make([]chunkFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		if info.Size() < int64(m.opts.MinChunkBytes) {
			log.WithField("chunk", name).Debug("undersized chunk skipped")
			continue
		}
		if m.opts.Probe && !isMedia(path) {
			log.WithField("chunk", name).Warn("⚠️ Non-media chunk skipped")
			continue
		}
		chunks = append(chunks, chunkFile{
			name:    name,
			key:     strings.TrimSuffix(name, suffix),
			path:    path,
			modTime: info.ModTime(),
		})
	}

	sortChunks(chunks)
	return chunks, nil
}

// isMedia 미디어와 판별 불가 바이너리는 통과. 레코더 스트림의 이어지는 조각은
// 컨테이너 헤더가 없어 octet-stream 으로 판별된다.
func isMedia(path string) bool {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	if detected.Is("application/octet-stream") {
		return true
	}
	for mt := detected; mt != nil; mt = mt.Parent() {
		s := mt.String()
		if strings.HasPrefix(s, "video/") || strings.HasPrefix(s, "audio/") {
			return true
		}
	}
	return false
}

// sortChunks 숫자 접두사 순 (숫자 키 먼저). 숫자가 없는 키는 수정 시각, 이름 순
func sortChunks(chunks []chunkFile) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		na, nb := numericPrefix(a.key), numericPrefix(b.key)
		switch {
		case na != "" && nb != "":
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			return a.name < b.name
		case na != "":
			return true
		case nb != "":
			return false
		}
		if !a.modTime.Equal(b.modTime) {
			return a.modTime.Before(b.modTime)
		}
		return a.name < b.name
	})
}

// numericPrefix 키 앞쪽 숫자 (앞의 0 제거). "0" 과 "000" 은 모두 "0"
func numericPrefix(key string) string {
	end := 0
	for end < len(key) && key[end] >= '0' && key[end] <= '9' {
		end++
	}
	if end == 0 {
		return ""
	}
	digits := strings.TrimLeft(key[:end], "0")
	if digits == "" {
		return "0"
	}
	return digits
}

// concatFiles 입력 파일을 바이트 그대로 이어 붙인다
func concatFiles(ctx context.Context, inputs []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(output), err)
	}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		if err := appendFile(out, in); err != nil {
			out.Close()
			return err
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("fsync failed: %w", err)
	}
	return out.Close()
}

func appendFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open chunk: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("failed to append %s: %w", filepath.Base(path), err)
	}
	return nil
}

// cleanup 병합한 청크와 중간 파일 삭제. 병합 중 도착한 청크는 다음 병합을 위해 남긴다.
func (m *Merger) cleanup(log *logrus.Entry, roomID string, users, chunks []string) {
	for _, path := range chunks {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warn("⚠️ Failed to remove chunk")
		}
	}
	for _, u := range users {
		// 새 청크가 남아 있으면 실패한다
		os.Remove(m.layout.UserDir(roomID, u))
	}
	if err := os.RemoveAll(m.layout.WorkDir(roomID)); err != nil {
		log.WithError(err).Warn("⚠️ Failed to remove work directory")
	}
}
