package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-backend/internal/auth"
	"meeting-backend/internal/config"
	"meeting-backend/internal/coordinator"
	"meeting-backend/internal/event"
	"meeting-backend/internal/lock"
	"meeting-backend/internal/logging"
	"meeting-backend/internal/presence"
	"meeting-backend/internal/recording"
	"meeting-backend/internal/registry"
	"meeting-backend/internal/scheduler"
	"meeting-backend/internal/transcode"
)

type fixture struct {
	app *fiber.App
	hub *coordinator.Hub
	rec *recording.Service
	jwt *auth.JWTManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	sched := scheduler.New(clock.NewMock())
	rec := recording.NewService(config.RecordingConfig{
		RootDir:                t.TempDir(),
		ChunkExt:               "webm",
		MinChunkBytes:          16,
		MergeTimeout:           time.Minute,
		ParticipantParallelism: 2,
		ProbeChunks:            true,
	}, transcode.Passthrough{}, lock.NewMemory(clock.New()), sched, log)
	hub := coordinator.NewHub(
		registry.NewMemoryStore(),
		presence.NewMap(nil),
		rec,
		sched,
		nil,
		config.MeetingConfig{UploadGracePeriod: 3 * time.Second},
		1,
		log,
	)
	t.Cleanup(hub.Close)

	f := &fixture{
		app: fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal}),
		hub: hub,
		rec: rec,
		jwt: auth.NewJWTManager("test-secret", time.Hour),
	}

	meetings := NewMeetingHandler(hub, log)
	recordings := NewRecordingHandler(rec, hub.Runner(), log)

	g := f.app.Group("/meetings", auth.AuthMiddleware(f.jwt))
	g.Post("/create", meetings.CreateMeeting)
	g.Post("/join/:roomId", meetings.JoinMeeting)
	g.Post("/end/:roomId", meetings.EndMeeting)
	g.Get("/:roomId/messages", meetings.GetMessages)
	g.Get("/:roomId", meetings.GetMeeting)

	r := f.app.Group("/recordings", auth.AuthMiddleware(f.jwt))
	r.Post("/upload-chunk", recordings.UploadChunk)
	r.Get("/status/:roomId", recordings.Status)
	r.Post("/merge/:roomId", recordings.Merge)
	r.Get("/download/:roomId", recordings.Download)
	r.Delete("/:roomId", recordings.Delete)
	return f
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(r.body, &out), string(r.body))
	return out
}

func (f *fixture) do(t *testing.T, method, target, user string, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		token, err := f.jwt.GenerateAccessToken(user, strings.ToUpper(user[:1])+user[1:])
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func (f *fixture) createMeeting(t *testing.T, host string) string {
	t.Helper()
	resp := f.do(t, "POST", "/meetings/create", host, fiber.Map{"title": "Weekly sync"})
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.body))
	return resp.json(t)["roomId"].(string)
}

func media(marker byte) []byte {
	return bytes.Repeat([]byte{0x00, marker}, 16)
}

func upload(roomID, userID, key string, data []byte) fiber.Map {
	return fiber.Map{
		"roomId":          roomID,
		"userId":          userID,
		"sequenceKey":     key,
		"chunkDataBase64": base64.StdEncoding.EncodeToString(data),
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{coordinator.ErrNotFound, 404, "NOT_FOUND"},
		{recording.ErrNotFound, 404, "NOT_FOUND"},
		{recording.ErrNoRecordings, 404, "NO_RECORDINGS"},
		{coordinator.ErrGone, 410, "GONE"},
		{fmt.Errorf("wrapped: %w", coordinator.ErrForbidden), 403, "FORBIDDEN"},
		{recording.ErrMergeInProgress, 409, "MERGE_IN_PROGRESS"},
		{coordinator.ErrConflict, 409, "CONFLICT"},
		{recording.ErrCorrupt, 422, "CORRUPT_CHUNK"},
		{recording.ErrInvalid, 400, "INVALID"},
		{event.ErrInvalid, 400, "INVALID"},
		{errors.New("disk on fire"), 500, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestMeetingEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/meetings/create", "", fiber.Map{"title": "x"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	roomID := f.createMeeting(t, "alice")

	resp = f.do(t, "GET", "/meetings/"+roomID, "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	got := resp.json(t)
	assert.Equal(t, "alice", got["hostUserId"])
	assert.Equal(t, "Weekly sync", got["title"])
	assert.Equal(t, true, got["isActive"])

	resp = f.do(t, "POST", "/meetings/join/"+roomID, "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, false, resp.json(t)["isHost"])

	resp = f.do(t, "POST", "/meetings/end/"+roomID, "bob", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)
	assert.Equal(t, "FORBIDDEN", resp.json(t)["code"])

	resp = f.do(t, "POST", "/meetings/end/"+roomID, "alice", nil)
	assert.Equal(t, fiber.StatusOK, resp.status)

	resp = f.do(t, "POST", "/meetings/join/"+roomID, "bob", nil)
	assert.Equal(t, fiber.StatusGone, resp.status)
	assert.Equal(t, "GONE", resp.json(t)["code"])

	resp = f.do(t, "GET", "/meetings/missing", "bob", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = f.do(t, "GET", "/meetings/"+roomID+"/messages?limit=5", "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.EqualValues(t, 0, resp.json(t)["total"])
}

func TestCreateMeetingWithoutBodyUsesDefaultTitle(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/meetings/create", "alice", nil)
	require.Equal(t, fiber.StatusCreated, resp.status)
	assert.NotEmpty(t, resp.json(t)["title"])
}

func TestUploadChunkValidation(t *testing.T) {
	f := newFixture(t)
	roomID := f.createMeeting(t, "alice")

	resp := f.do(t, "POST", "/recordings/upload-chunk", "alice", upload(roomID, "bob", "0", media('a')))
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	bad := upload(roomID, "alice", "0", nil)
	bad["chunkDataBase64"] = "%%%not-base64%%%"
	resp = f.do(t, "POST", "/recordings/upload-chunk", "alice", bad)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = f.do(t, "POST", "/recordings/upload-chunk", "alice", upload(roomID, "alice", "0", []byte{0, 1, 2}))
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "CORRUPT_CHUNK", resp.json(t)["code"])

	resp = f.do(t, "POST", "/recordings/upload-chunk", "alice", upload(roomID, "alice", "../x", media('a')))
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = f.do(t, "POST", "/recordings/upload-chunk", "alice", upload(roomID, "alice", "0", media('a')))
	require.Equal(t, fiber.StatusCreated, resp.status, string(resp.body))
	stored := resp.json(t)
	assert.EqualValues(t, 32, stored["sizeBytes"])
	assert.Equal(t, "0.webm", stored["storedKey"])

	resp = f.do(t, "GET", "/recordings/status/"+roomID, "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	st := resp.json(t)
	assert.Equal(t, "idle", st["state"])
	assert.EqualValues(t, 1, st["chunks"].(map[string]any)["alice"])
}

func TestMergeAndRangeDownload(t *testing.T) {
	f := newFixture(t)
	roomID := f.createMeeting(t, "alice")

	resp := f.do(t, "POST", "/recordings/merge/"+roomID, "alice", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	assert.Equal(t, "NO_RECORDINGS", resp.json(t)["code"])

	for _, key := range []string{"1", "0"} {
		resp = f.do(t, "POST", "/recordings/upload-chunk", "alice", upload(roomID, "alice", key, media(key[0])))
		require.Equal(t, fiber.StatusCreated, resp.status, string(resp.body))
	}

	resp = f.do(t, "POST", "/recordings/merge/"+roomID, "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, f.rec.Layout().FinalPath(roomID), resp.json(t)["finalPath"])

	want := append(media('0'), media('1')...)

	resp = f.do(t, "GET", "/recordings/download/"+roomID, "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, want, resp.body)
	assert.Equal(t, "bytes", resp.header.Get("Accept-Ranges"))
	assert.Equal(t, "video/webm", resp.header.Get("Content-Type"))
	assert.Contains(t, resp.header.Get("Content-Disposition"), "attachment")

	resp = f.do(t, "GET", "/recordings/download/"+roomID, "bob", nil, "Range", "bytes=0-9")
	require.Equal(t, fiber.StatusPartialContent, resp.status)
	assert.Equal(t, fmt.Sprintf("bytes 0-9/%d", len(want)), resp.header.Get("Content-Range"))
	assert.Equal(t, want[:10], resp.body)

	resp = f.do(t, "GET", "/recordings/download/"+roomID, "bob", nil, "Range", "bytes=60-")
	require.Equal(t, fiber.StatusPartialContent, resp.status)
	assert.Equal(t, want[60:], resp.body)

	resp = f.do(t, "GET", "/recordings/download/"+roomID, "bob", nil, "Range", "bytes=100-")
	assert.Equal(t, fiber.StatusRequestedRangeNotSatisfiable, resp.status)
	assert.Equal(t, fmt.Sprintf("bytes */%d", len(want)), resp.header.Get("Content-Range"))

	resp = f.do(t, "GET", "/recordings/status/"+roomID, "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "done", resp.json(t)["state"])

	resp = f.do(t, "DELETE", "/recordings/"+roomID, "alice", nil)
	assert.Equal(t, fiber.StatusOK, resp.status)

	resp = f.do(t, "GET", "/recordings/download/"+roomID, "bob", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = f.do(t, "DELETE", "/recordings/"+roomID, "alice", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
}
