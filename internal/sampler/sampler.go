// Package sampler extracts evenly spaced frames from every video in a
// directory and writes them as image files.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/kozaktomas/frameprep/internal/constants"
	"github.com/kozaktomas/frameprep/internal/imagefile"
	"github.com/kozaktomas/frameprep/internal/metrics"
	"github.com/kozaktomas/frameprep/internal/video"
)

// Progress phases reported through Options.OnProgress
const (
	PhaseVideo        = "video"
	PhaseVideoSkipped = "video_skipped"
	PhaseFrameSaved   = "frame_saved"
	PhaseFrameFailed  = "frame_failed"
)

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Phase       string
	Video       string // base name of the video file
	Label       string
	TotalFrames int
	Scheduled   int // length of the video's schedule
	Current     int // 1-based position within the schedule
	Index       int // frame index
	Path        string
	Err         error
}

type Options struct {
	InputDir       string
	OutputDir      string
	FramesPerVideo int
	Format         string // jpg, png or bmp
	Quality        int    // jpeg quality
	ASCIILabels    bool
	DedupeSchedule bool               // drop repeated indices when stride < 1
	OnProgress     func(ProgressInfo) // optional
}

type Result struct {
	Videos          int      `json:"videos"`
	VideosSkipped   int      `json:"videos_skipped"`
	FramesScheduled int      `json:"frames_scheduled"`
	FramesSaved     int      `json:"frames_saved"`
	FramesFailed    int      `json:"frames_failed"`
	Files           []string `json:"files"`
}

type Sampler struct {
	fs      afero.Fs
	reader  video.Reader
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

func New(fs afero.Fs, reader video.Reader, log *zap.Logger, m *metrics.Metrics, opts Options) *Sampler {
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	if opts.Quality == 0 {
		opts.Quality = constants.DefaultJPEGQuality
	}
	return &Sampler{
		fs:      fs,
		reader:  reader,
		log:     log,
		metrics: m,
		opts:    opts,
	}
}

// Run samples every video in the input directory in name order. Failures of
// a single video or frame are logged and counted; only an unusable input or
// output directory or a cancelled context ends the run early. On
// cancellation the partial result is returned together with ctx.Err().
func (s *Sampler) Run(ctx context.Context) (*Result, error) {
	if s.opts.FramesPerVideo <= 0 {
		return nil, fmt.Errorf("frames per video must be positive, got %d", s.opts.FramesPerVideo)
	}

	if err := s.fs.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	videos, err := imagefile.ListDir(s.fs, s.opts.InputDir, constants.VideoExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	result := &Result{Files: []string{}}
	for _, path := range videos {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.processVideo(ctx, path, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// processVideo samples one video. It only returns context errors.
func (s *Sampler) processVideo(ctx context.Context, path string, result *Result) error {
	name := filepath.Base(path)

	info, err := s.reader.Probe(ctx, path)
	if err == nil && info.FrameCount <= 0 {
		err = video.ErrInvalidFrameCount
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log.Warn("could not open video, skipping", zap.String("path", path), zap.Error(err))
		result.VideosSkipped++
		s.metrics.VideosSkipped.Inc()
		s.progress(ProgressInfo{Phase: PhaseVideoSkipped, Video: name, Path: path, Err: err})
		return nil
	}

	result.Videos++
	s.metrics.VideosProcessed.Inc()

	schedule := Schedule(info.FrameCount, s.opts.FramesPerVideo)
	if s.opts.DedupeSchedule {
		schedule = Unique(schedule)
	}
	result.FramesScheduled += len(schedule)

	label := Label(name)
	if s.opts.ASCIILabels {
		label = ASCIILabel(name)
	}

	s.progress(ProgressInfo{
		Phase:       PhaseVideo,
		Video:       name,
		Label:       label,
		TotalFrames: info.FrameCount,
		Scheduled:   len(schedule),
		Path:        path,
	})

	for i, idx := range schedule {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := ProgressInfo{
			Video:       name,
			Label:       label,
			TotalFrames: info.FrameCount,
			Scheduled:   len(schedule),
			Current:     i + 1,
			Index:       idx,
		}

		out, err := s.saveFrame(ctx, path, label, idx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.log.Warn("could not save frame, skipping",
				zap.String("path", path), zap.Int("frame", idx), zap.Error(err))
			result.FramesFailed++
			s.metrics.FramesFailed.Inc()
			p.Phase = PhaseFrameFailed
			p.Err = err
			s.progress(p)
			continue
		}

		result.FramesSaved++
		result.Files = append(result.Files, out)
		s.metrics.FramesSaved.Inc()
		p.Phase = PhaseFrameSaved
		p.Path = out
		s.progress(p)
	}
	return nil
}

// saveFrame decodes one frame and writes it to the output directory.
func (s *Sampler) saveFrame(ctx context.Context, path, label string, index int) (string, error) {
	img, err := s.reader.ReadFrame(ctx, path, index)
	if err != nil {
		return "", fmt.Errorf("could not read frame %d: %w", index, err)
	}
	if img == nil {
		return "", errors.New("reader returned no image")
	}

	out := filepath.Join(s.opts.OutputDir, FrameName(label, index, s.opts.Format))
	if err := imagefile.Save(s.fs, out, img, s.opts.Format, s.opts.Quality); err != nil {
		return "", err
	}
	return out, nil
}

func (s *Sampler) progress(p ProgressInfo) {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
}
