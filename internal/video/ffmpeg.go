package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegReader implements Reader on top of the ffmpeg and ffprobe binaries.
// Every ReadFrame call starts a fresh ffmpeg process, which keeps seeking
// independent of any previous read.
type FFmpegReader struct {
	ffmpegPath   string
	ffprobePath  string
	probeTimeout time.Duration
}

func NewFFmpegReader(ffmpegPath, ffprobePath string, probeTimeout time.Duration) *FFmpegReader {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if probeTimeout <= 0 {
		probeTimeout = 30 * time.Second
	}
	return &FFmpegReader{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, probeTimeout: probeTimeout}
}

// Available reports whether the configured ffmpeg and ffprobe binaries can
// be found.
func (r *FFmpegReader) Available() bool {
	for _, bin := range []string{r.ffmpegPath, r.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// Probe reads stream metadata with ffprobe. The call is bounded by the
// probe timeout and by ctx.
func (r *FFmpegReader) Probe(ctx context.Context, path string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ffprobePath, probeArgs(path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, fmt.Errorf("ffprobe %s: %w", path, ctxErr)
		}
		return Info{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(path, stdout.Bytes())
}

// probeArgs selects the first video stream and asks for JSON output.
func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_format",
		"-show_streams",
		"-of", "json",
		"-i", path,
	}
}

// ReadFrame decodes the frame with the given 0-based index.
func (r *FFmpegReader) ReadFrame(ctx context.Context, path string, index int) (image.Image, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: negative index %d", ErrFrameNotFound, index)
	}

	// ffmpeg-go escapes the comma inside the filter graph
	args := ffmpeg.Input(path).
		Filter("select", ffmpeg.Args{fmt.Sprintf("eq(n,%d)", index)}).
		Output("pipe:", ffmpeg.KwArgs{
			"vframes":  1,
			"format":   "image2",
			"vcodec":   "png",
			"loglevel": "error",
		}).
		GetArgs()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg frame %d of %s: %v: %s",
			ErrFrameNotFound, index, path, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %d in %s", ErrFrameNotFound, index, path)
	}

	img, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d of %s: %w", index, path, err)
	}
	return img, nil
}

// probeOutput is the subset of `ffprobe -of json -show_format -show_streams`
// that frame counting needs.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	NbFrames     string `json:"nb_frames"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

// parseProbe turns ffprobe JSON into Info. The container frame count is
// preferred; when it is missing (common for mkv) the count is estimated
// from duration and frame rate.
func parseProbe(path string, data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var stream *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			stream = &out.Streams[i]
			break
		}
	}
	if stream == nil {
		return Info{}, fmt.Errorf("%w in %s", ErrNoVideoStream, path)
	}

	rate := parseRate(stream.AvgFrameRate)
	if rate == 0 {
		rate = parseRate(stream.RFrameRate)
	}

	seconds := parseSeconds(stream.Duration)
	if seconds == 0 {
		seconds = parseSeconds(out.Format.Duration)
	}

	frames, _ := strconv.Atoi(stream.NbFrames)
	if frames <= 0 {
		frames = int(math.Round(seconds * rate))
	}
	if frames <= 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidFrameCount, path)
	}

	return Info{
		Path:       path,
		FrameCount: frames,
		FrameRate:  rate,
		Duration:   time.Duration(seconds * float64(time.Second)),
	}, nil
}

// parseRate parses ffprobe rates like "30000/1001" or "25". Invalid or
// zero-denominator rates yield 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
