// Package transcode wraps the external encoder used by the merge pipeline.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"meeting-backend/internal/config"
)

// Transcoder turns concatenated fragments into uniform media and combines them.
type Transcoder interface {
	// Normalize re-encodes input into the output profile.
	Normalize(ctx context.Context, input, output string) error
	// StackAndMix places the video of every input side by side and mixes their audio.
	StackAndMix(ctx context.Context, inputs []string, output string) error
}

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	profile config.TranscodeConfig
	log     *logrus.Entry
}

// NewFFmpeg builds an ffmpeg-backed Transcoder.
func NewFFmpeg(profile config.TranscodeConfig, log *logrus.Entry) *FFmpeg {
	return &FFmpeg{profile: profile, log: log}
}

func (f *FFmpeg) Normalize(ctx context.Context, input, output string) error {
	return f.run(ctx, "normalize", normalizeArgs(f.profile, input, output))
}

func (f *FFmpeg) StackAndMix(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to combine")
	}
	if len(inputs) == 1 {
		return f.Normalize(ctx, inputs[0], output)
	}
	return f.run(ctx, "stack", stackArgs(f.profile, inputs, output))
}

func (f *FFmpeg) run(ctx context.Context, job string, args []string) error {
	cmd := exec.CommandContext(ctx, f.profile.FFmpegPath, args...)
	stderr := newLogWriter(f.log.WithField("job", job))
	cmd.Stdout = stderr
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg %s cancelled: %w", job, ctx.Err())
		}
		return fmt.Errorf("ffmpeg %s failed: %w (%s)", job, err, stderr.lastLine())
	}
	return nil
}

func encodeArgs(p config.TranscodeConfig) []string {
	args := []string{
		"-c:v", p.VideoCodec,
		"-b:v", p.VideoBitrate,
	}
	if p.Preset != "" && strings.HasPrefix(p.VideoCodec, "libvpx") {
		args = append(args, "-deadline", p.Preset, "-cpu-used", "8")
	}
	args = append(args,
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", "2",
	)
	return args
}

func videoFilter(p config.TranscodeConfig) string {
	return fmt.Sprintf("scale=-2:%d,fps=%d,setpts=PTS-STARTPTS", p.Height, p.FrameRate)
}

func normalizeArgs(p config.TranscodeConfig, input, output string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-fflags", "+genpts",
		"-i", input,
		"-map", "0:v?", "-map", "0:a?",
		"-vf", videoFilter(p),
		"-af", "aresample=async=1",
	}
	args = append(args, encodeArgs(p)...)
	return append(args, output)
}

func stackArgs(p config.TranscodeConfig, inputs []string, output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	var filter strings.Builder
	var videoLabels, audioLabels strings.Builder
	for i := range inputs {
		fmt.Fprintf(&filter, "[%d:v]%s[v%d];", i, videoFilter(p), i)
		fmt.Fprintf(&videoLabels, "[v%d]", i)
		fmt.Fprintf(&audioLabels, "[%d:a]", i)
	}
	fmt.Fprintf(&filter, "%shstack=inputs=%d[vout];", videoLabels.String(), len(inputs))
	fmt.Fprintf(&filter, "%samix=inputs=%d:duration=longest[aout]", audioLabels.String(), len(inputs))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[vout]", "-map", "[aout]",
	)
	args = append(args, encodeArgs(p)...)
	return append(args, output)
}

// logWriter forwards encoder output line by line.
type logWriter struct {
	log  *logrus.Entry
	last []byte
}

func newLogWriter(log *logrus.Entry) *logWriter {
	return &logWriter{log: log}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.last = append(w.last[:0], line...)
		w.log.Debug(string(line))
	}
	return total, nil
}

func (w *logWriter) lastLine() string {
	if len(w.last) == 0 {
		return "no output"
	}
	return string(w.last)
}
