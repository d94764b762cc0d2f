package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDuration(t *testing.T) {
	t.Setenv("TEST_GRACE", "7")
	assert.Equal(t, 7*time.Second, getDuration("TEST_GRACE", time.Second))

	t.Setenv("TEST_GRACE", "250ms")
	assert.Equal(t, 250*time.Millisecond, getDuration("TEST_GRACE", time.Second))

	t.Setenv("TEST_GRACE", "nonsense")
	assert.Equal(t, time.Second, getDuration("TEST_GRACE", time.Second))
}

func TestGetBoolAndInt(t *testing.T) {
	t.Setenv("TEST_FLAG", "yes")
	assert.True(t, getBool("TEST_FLAG", false))
	t.Setenv("TEST_FLAG", "off")
	assert.False(t, getBool("TEST_FLAG", true))

	t.Setenv("TEST_SIZE", "2048")
	assert.Equal(t, 2048, getInt("TEST_SIZE", 1))
	t.Setenv("TEST_SIZE", "x")
	assert.Equal(t, 1, getInt("TEST_SIZE", 1))
}

func TestApplyProfileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("video_codec: libvpx-vp9\nheight: 480\nframe_rate: 24\n"), 0o644))

	tc := DefaultTranscode()
	require.NoError(t, ApplyProfileFile(path, &tc))

	assert.Equal(t, "libvpx-vp9", tc.VideoCodec)
	assert.Equal(t, 480, tc.Height)
	assert.Equal(t, 24, tc.FrameRate)
	// untouched fields keep their defaults
	assert.Equal(t, "libopus", tc.AudioCodec)
	assert.Equal(t, 48000, tc.SampleRate)
}

func TestApplyProfileFileErrors(t *testing.T) {
	tc := DefaultTranscode()
	assert.Error(t, ApplyProfileFile(filepath.Join(t.TempDir(), "missing.yaml"), &tc))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("height: [1, 2"), 0o644))
	assert.Error(t, ApplyProfileFile(path, &tc))
}

func TestRedisEnabled(t *testing.T) {
	assert.False(t, RedisConfig{}.Enabled())
	assert.True(t, RedisConfig{Addr: "localhost:6379"}.Enabled())
}
