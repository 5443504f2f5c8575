package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FrameExtractor grabs a single still frame from a video.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, path string, at time.Duration) (image.Image, error)
}

// Prober reads the duration of a video.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// FFmpeg extracts frames and durations by running the ffmpeg and ffprobe
// binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

var errNoFrame = errors.New("no frame decoded")

// ExtractFrame decodes the frame at the given offset. Videos shorter than
// the offset fall back to the first frame.
func (f FFmpeg) ExtractFrame(ctx context.Context, path string, at time.Duration) (image.Image, error) {
	img, err := f.frameAt(ctx, path, at)
	if errors.Is(err, errNoFrame) && at > 0 {
		return f.frameAt(ctx, path, 0)
	}
	return img, err
}

func (f FFmpeg) frameAt(ctx context.Context, path string, at time.Duration) (image.Image, error) {
	bin := f.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errNoFrame
	}
	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Duration returns the container duration reported by ffprobe.
func (f FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	bin := f.FFprobePath
	if bin == "" {
		bin = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseSeconds(string(out))
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(s), err)
	}
	return time.Duration(math.Round(secs*1000)) * time.Millisecond, nil
}
