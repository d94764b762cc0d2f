package recording

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-backend/internal/config"
	"meeting-backend/internal/lock"
	"meeting-backend/internal/logging"
	"meeting-backend/internal/model"
	"meeting-backend/internal/scheduler"
	"meeting-backend/internal/transcode"
)

const testMinBytes = 32

type fixture struct {
	svc    *Service
	root   string
	clock  *clock.Mock
	locker *lock.Memory
}

func newFixture(t *testing.T, tc transcode.Transcoder, mutate func(*config.RecordingConfig)) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.RecordingConfig{
		RootDir:                root,
		ChunkExt:               "webm",
		MinChunkBytes:          testMinBytes,
		MergeTimeout:           time.Minute,
		ParticipantParallelism: 2,
		ProbeChunks:            true,
		DeleteAfterDownload:    true,
		CleanupDelay:           5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mock := clock.NewMock()
	locker := lock.NewMemory(clock.New())
	sched := scheduler.New(mock)
	t.Cleanup(sched.Stop)

	return &fixture{
		svc:    NewService(cfg, tc, locker, sched, logging.Discard()),
		root:   root,
		clock:  mock,
		locker: locker,
	}
}

// chunk returns binary payload that identifies as unknown binary data.
func chunk(marker byte) []byte {
	return bytes.Repeat([]byte{0x00, marker}, testMinBytes)
}

func (f *fixture) upload(t *testing.T, room, user, key string, data []byte) {
	t.Helper()
	_, err := f.svc.UploadChunk(room, user, key, data)
	require.NoError(t, err)
}

func TestDecodePayload(t *testing.T) {
	raw := []byte("media-bytes")
	std := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodePayload(std)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodePayload("data:video/webm;codecs=vp8;base64," + std)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodePayload(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodePayload("%%%not-base64")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = DecodePayload("")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = DecodePayload("data:video/webm;base64")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUploadStoresChunk(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	stored, err := f.svc.UploadChunk("room-1", "alice", "0", chunk('a'))
	require.NoError(t, err)
	assert.Equal(t, "room-1/alice/0.webm", stored.StoredKey)
	assert.Equal(t, int64(2*testMinBytes), stored.SizeBytes)
	assert.Equal(t, "application/octet-stream", stored.MimeType)

	data, err := os.ReadFile(filepath.Join(f.root, "room-1", "alice", "0.webm"))
	require.NoError(t, err)
	assert.Equal(t, chunk('a'), data)
}

func TestUploadSameKeyOverwrites(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	f.upload(t, "room-1", "alice", "3", chunk('a'))
	f.upload(t, "room-1", "alice", "3", chunk('b'))

	entries, err := os.ReadDir(filepath.Join(f.root, "room-1", "alice"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(f.root, "room-1", "alice", "3.webm"))
	require.NoError(t, err)
	assert.Equal(t, chunk('b'), data)
}

func TestUploadRejectsSmallChunk(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	_, err := f.svc.UploadChunk("room-1", "alice", "0", make([]byte, 20))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, statErr := os.Stat(filepath.Join(f.root, "room-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUploadDefaultThresholdRejects50Bytes(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, func(c *config.RecordingConfig) {
		c.MinChunkBytes = 1024
	})

	_, err := f.svc.UploadChunk("room-1", "alice", "0", make([]byte, 50))
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Empty(t, f.svc.chunks.Count("room-1"))
}

func TestUploadRejectsUnsafeIDs(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	cases := []struct{ room, user, key string }{
		{"", "alice", "0"},
		{"../etc", "alice", "0"},
		{"room-1", ".hidden", "0"},
		{"room-1", "a/b", "0"},
		{"room-1", "alice", ""},
		{"room-1", "alice", "0.webm"},
		{"room-1", "alice", "../0"},
	}
	for _, tc := range cases {
		_, err := f.svc.UploadChunk(tc.room, tc.user, tc.key, chunk('a'))
		assert.ErrorIs(t, err, ErrInvalid, "%+v", tc)
	}
}

func TestSortChunks(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chunks := []chunkFile{
		{name: "late.webm", key: "late", modTime: base.Add(2 * time.Second)},
		{name: "10.webm", key: "10", modTime: base},
		{name: "2.webm", key: "2", modTime: base},
		{name: "early.webm", key: "early", modTime: base.Add(time.Second)},
		{name: "0.webm", key: "0", modTime: base},
		{name: "001.webm", key: "001", modTime: base},
	}
	sortChunks(chunks)

	var names []string
	for _, c := range chunks {
		names = append(names, c.key)
	}
	assert.Equal(t, []string{"0", "001", "2", "10", "early", "late"}, names)
}

func TestNumericPrefix(t *testing.T) {
	assert.Equal(t, "12", numericPrefix("0012-part"))
	assert.Equal(t, "0", numericPrefix("000"))
	assert.Equal(t, "", numericPrefix("abc1"))
}

func TestMergeOrdersChunksNumerically(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	f.upload(t, "room-1", "alice", "2", chunk('c'))
	f.upload(t, "room-1", "alice", "0", chunk('a'))
	f.upload(t, "room-1", "alice", "1", chunk('b'))

	res, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res.Participants)
	assert.Equal(t, filepath.Join(f.root, "room-1", "final-recording.webm"), res.FinalPath)

	data, err := os.ReadFile(res.FinalPath)
	require.NoError(t, err)
	want := append(append(chunk('a'), chunk('b')...), chunk('c')...)
	assert.Equal(t, want, data)
	assert.Equal(t, int64(len(want)), res.SizeBytes)

	assert.Equal(t, model.RecordingDone, f.svc.Tracker().Get("room-1").State)
}

func TestMergeIsRepeatable(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	f.upload(t, "room-1", "alice", "1", chunk('b'))
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	first, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)
	a, _ := os.ReadFile(first.FinalPath)

	second, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)
	b, _ := os.ReadFile(second.FinalPath)
	assert.Equal(t, a, b)
}

func TestMergeCombinesParticipants(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	f.upload(t, "room-1", "bob", "0", chunk('x'))
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	res, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, res.Participants)

	data, _ := os.ReadFile(res.FinalPath)
	assert.Equal(t, append(chunk('a'), chunk('x')...), data)

	_, err = os.Stat(filepath.Join(f.root, "room-1", "_work", "alice.webm"))
	assert.NoError(t, err)
}

func TestMergeSkipsUnusableChunks(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	dir := filepath.Join(f.root, "room-1", "alice")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.webm"), []byte("tiny"), 0o644))
	text := bytes.Repeat([]byte("plain text, not media. "), 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.webm"), text, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), chunk('z'), 0o644))

	res, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)
	data, _ := os.ReadFile(res.FinalPath)
	assert.Equal(t, chunk('a'), data)
}

func TestMergeNoRecordings(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	_, err := f.svc.Merge(context.Background(), "room-1", nil)
	assert.ErrorIs(t, err, ErrNoRecordings)
	assert.Equal(t, model.RecordingFailed, f.svc.Tracker().Get("room-1").State)

	dir := filepath.Join(f.root, "room-2", "alice")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.webm"), []byte("tiny"), 0o644))
	_, err = f.svc.Merge(context.Background(), "room-2", nil)
	assert.ErrorIs(t, err, ErrNoRecordings)
}

// blockingTranscoder parks Normalize until release is closed.
type blockingTranscoder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTranscoder) Normalize(ctx context.Context, in, out string) error {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return transcode.Passthrough{}.Normalize(ctx, in, out)
}

func (b *blockingTranscoder) StackAndMix(ctx context.Context, ins []string, out string) error {
	return transcode.Passthrough{}.StackAndMix(ctx, ins, out)
}

func TestMergeMutualExclusion(t *testing.T) {
	tc := &blockingTranscoder{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, tc, nil)
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Merge(context.Background(), "room-1", nil)
		done <- err
	}()

	select {
	case <-tc.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("merge did not start")
	}

	_, err := f.svc.Merge(context.Background(), "room-1", nil)
	assert.ErrorIs(t, err, ErrMergeInProgress)

	st, err := f.svc.Status(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecordingMerging, st.State)
	assert.ErrorIs(t, f.svc.DeleteRoom(context.Background(), "room-1"), ErrMergeInProgress)

	close(tc.release)
	require.NoError(t, <-done)

	_, err = f.svc.Merge(context.Background(), "room-1", nil)
	assert.NoError(t, err)
}

type failingTranscoder struct{}

func (failingTranscoder) Normalize(context.Context, string, string) error {
	return errors.New("encoder exploded")
}

func (failingTranscoder) StackAndMix(context.Context, []string, string) error {
	return errors.New("encoder exploded")
}

func TestMergeFailureKeepsIntermediates(t *testing.T) {
	f := newFixture(t, failingTranscoder{}, func(c *config.RecordingConfig) {
		c.CleanupAfterMerge = true
	})
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	_, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.Error(t, err)

	st := f.svc.Tracker().Get("room-1")
	assert.Equal(t, model.RecordingFailed, st.State)
	assert.Contains(t, st.Error, "encoder exploded")

	_, err = os.Stat(filepath.Join(f.root, "room-1", "_work", "alice.concat.webm"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.root, "room-1", "alice", "0.webm"))
	assert.NoError(t, err)

	locked, _ := f.locker.IsLocked(context.Background(), "merge:room-1")
	assert.False(t, locked)
}

func TestMergeCleanupRemovesChunks(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, func(c *config.RecordingConfig) {
		c.CleanupAfterMerge = true
	})
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	res, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)

	_, err = os.Stat(res.FinalPath)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.root, "room-1", "alice"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.root, "room-1", "_work"))
	assert.True(t, os.IsNotExist(err))
}

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker(clock.NewMock())

	assert.ErrorIs(t, tr.Stop("r"), ErrConflict)

	prev, err := tr.Begin("r")
	require.NoError(t, err)
	assert.Equal(t, model.RecordingIdle, prev)

	_, err = tr.Begin("r")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, tr.Stop("r"))
	assert.Equal(t, model.RecordingStopping, tr.Get("r").State)

	prev, err = tr.Begin("r")
	require.NoError(t, err)
	assert.Equal(t, model.RecordingStopping, prev)

	assert.True(t, tr.StopIfActive("r"))
	assert.True(t, tr.StopIfActive("r"))

	require.NoError(t, tr.MarkMerging("r"))
	assert.ErrorIs(t, tr.MarkMerging("r"), ErrMergeInProgress)
	_, err = tr.Begin("r")
	assert.ErrorIs(t, err, ErrConflict)

	tr.MarkDone("r", "/x/final-recording.webm", 10)
	assert.False(t, tr.StopIfActive("r"))
	assert.Equal(t, int64(10), tr.Get("r").SizeBytes)

	tr.Forget("r")
	assert.Equal(t, model.RecordingIdle, tr.Get("r").State)
}

func TestMergeRefusedWhileRecording(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	f.upload(t, "room-1", "alice", "0", chunk('a'))

	_, err := f.svc.Tracker().Begin("room-1")
	require.NoError(t, err)

	called := false
	_, err = f.svc.Merge(context.Background(), "room-1", func() { called = true })
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, called)
	assert.Equal(t, model.RecordingActive, f.svc.Tracker().Get("room-1").State)

	// a stopped recording merges normally
	require.NoError(t, f.svc.Tracker().Stop("room-1"))
	_, err = f.svc.Merge(context.Background(), "room-1", func() { called = true })
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, model.RecordingDone, f.svc.Tracker().Get("room-1").State)
}

func TestStatusReportsChunksAndDiskArtifact(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	f.upload(t, "room-1", "alice", "0", chunk('a'))
	f.upload(t, "room-1", "alice", "1", chunk('b'))
	f.upload(t, "room-1", "bob", "0", chunk('x'))

	st, err := f.svc.Status(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecordingIdle, st.State)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, st.Chunks)

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "room-1", "final-recording.webm"), chunk('f'), 0o644))
	st, err = f.svc.Status(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecordingDone, st.State)
	assert.Equal(t, int64(2*testMinBytes), st.SizeBytes)
}

func TestFullDownloadSchedulesCleanup(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	f.upload(t, "room-1", "alice", "0", chunk('a'))
	_, err := f.svc.Merge(context.Background(), "room-1", nil)
	require.NoError(t, err)

	a, err := f.svc.Final("room-1")
	require.NoError(t, err)

	partial, err := f.svc.OpenRange(a, 0, 9)
	require.NoError(t, err)
	data, err := io.ReadAll(partial)
	require.NoError(t, err)
	require.NoError(t, partial.Close())
	assert.Len(t, data, 10)
	assert.False(t, f.svc.sched.Pending(cleanupKey("room-1")))

	full, err := f.svc.OpenRange(a, 0, a.Size-1)
	require.NoError(t, err)
	data, err = io.ReadAll(full)
	require.NoError(t, err)
	require.NoError(t, full.Close())
	assert.Equal(t, chunk('a'), data)
	assert.True(t, f.svc.sched.Pending(cleanupKey("room-1")))

	f.clock.Add(5 * time.Second)
	assert.Eventually(t, func() bool {
		_, err := f.svc.Final("room-1")
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	_, err = os.Stat(filepath.Join(f.root, "room-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenRangeRejectsOutOfBounds(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)
	a := &Artifact{RoomID: "room-1", Path: filepath.Join(f.root, "x"), Size: 10}

	_, err := f.svc.OpenRange(a, 5, 10)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.svc.OpenRange(a, 4, 3)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDeleteRoom(t *testing.T) {
	f := newFixture(t, transcode.Passthrough{}, nil)

	assert.ErrorIs(t, f.svc.DeleteRoom(context.Background(), "room-1"), ErrNotFound)

	f.upload(t, "room-1", "alice", "0", chunk('a'))
	require.NoError(t, f.svc.DeleteRoom(context.Background(), "room-1"))
	_, err := os.Stat(filepath.Join(f.root, "room-1"))
	assert.True(t, os.IsNotExist(err))

	f.upload(t, "room-2", "alice", "0", chunk('a'))
	release, err := f.locker.TryLock(context.Background(), "merge:room-2", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteRoom(context.Background(), "room-2"), ErrMergeInProgress)
	release()
	assert.NoError(t, f.svc.DeleteRoom(context.Background(), "room-2"))
}
