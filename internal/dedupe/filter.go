// Package dedupe removes near-duplicate images from a directory.
//
// Every unordered pair of images is considered once. A pair is compared with
// the expensive similarity metric only when both images have the same shape
// and the same thumbnail fingerprint and neither has been deleted yet. When
// the score reaches the threshold the later image of the pair (in name
// order) is deleted, so the first image of a cluster of similar images
// always survives.
package dedupe

import (
	"context"
	"errors"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/frameprep/internal/metrics"
)

// Progress phases reported through Options.OnProgress
const (
	PhaseScan    = "scan"
	PhaseCompare = "compare"
)

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Phase string
	Done  int
	Total int
}

// DeleteEvent describes one image removed (or, in a dry run, selected for
// removal) because it is too similar to Kept.
type DeleteEvent struct {
	Name   string
	Path   string
	Kept   string
	Score  float64
	DryRun bool
}

type Options struct {
	Dir       string
	Threshold float64
	Workers   int // 0 means runtime.NumCPU()
	DryRun    bool

	// Callbacks are never invoked concurrently.
	OnDelete   func(DeleteEvent)
	OnProgress func(ProgressInfo)
}

// Report summarises a run.
type Report struct {
	RunID      string        `json:"run_id"`
	Dir        string        `json:"dir"`
	Threshold  float64       `json:"threshold"`
	DryRun     bool          `json:"dry_run"`
	Scanned    int           `json:"scanned"`
	ScanFailed int           `json:"scan_failed"`
	Pairs      int64         `json:"pairs"`
	Compared   int64         `json:"compared"`
	Skipped    int64         `json:"skipped"`
	Deleted    []string      `json:"deleted"`
	Errors     int           `json:"errors"`
	Cancelled  bool          `json:"cancelled"`
	Duration   time.Duration `json:"duration_ns"`
}

// Survivors is the number of scanned images still present after the run.
func (r *Report) Survivors() int {
	return r.Scanned - len(r.Deleted)
}

type forgetter interface {
	Forget(path string)
}

type Filter struct {
	fs       afero.Fs
	comparer Comparer
	log      *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
}

func New(fs afero.Fs, comparer Comparer, log *zap.Logger, m *metrics.Metrics, opts Options) *Filter {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Filter{
		fs:       fs,
		comparer: comparer,
		log:      log,
		metrics:  m,
		opts:     opts,
	}
}

// run holds the state shared by the workers of one Run.
type run struct {
	records []Record
	deleted *DeletionSet

	compared atomic.Int64
	skipped  atomic.Int64
	done     atomic.Int64

	// guards errs, failed and the callbacks
	mu     sync.Mutex
	errs   int
	failed map[int]bool // claimed but could not be removed
}

// Run scans the directory and deletes near duplicates. Per-image failures
// are logged and counted. Cancelling ctx stops new comparisons from being
// started; comparisons already running finish, and the partial report is
// returned together with ctx.Err().
func (f *Filter) Run(ctx context.Context) (*Report, error) {
	if math.IsNaN(f.opts.Threshold) {
		return nil, errors.New("similarity threshold is NaN")
	}

	start := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		Dir:       f.opts.Dir,
		Threshold: f.opts.Threshold,
		DryRun:    f.opts.DryRun,
		Deleted:   []string{},
	}

	scan, err := Scan(ctx, f.fs, f.opts.Dir, f.log, f.metrics, func(done, total int) {
		f.progress(ProgressInfo{Phase: PhaseScan, Done: done, Total: total})
	})
	if scan == nil {
		return nil, err
	}
	report.Scanned = len(scan.Records)
	report.ScanFailed = scan.Failed
	if err != nil {
		report.Cancelled = true
		report.Duration = time.Since(start)
		return report, err
	}

	n := len(scan.Records)
	report.Pairs = int64(n) * int64(n-1) / 2
	r := &run{
		records: scan.Records,
		deleted: NewDeletionSet(n),
		failed:  make(map[int]bool),
	}

	g := new(errgroup.Group)
	g.SetLimit(f.opts.Workers)

produce:
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if ctx.Err() != nil {
				break produce
			}
			if !r.candidate(i, j) {
				f.skip(r)
				continue
			}
			g.Go(func() error {
				f.evaluate(r, i, j)
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, idx := range r.deleted.Indices() {
		if !r.failed[idx] {
			report.Deleted = append(report.Deleted, r.records[idx].Name)
		}
	}
	report.Compared = r.compared.Load()
	report.Skipped = r.skipped.Load()
	report.Errors = r.errs
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		return report, err
	}
	return report, nil
}

// candidate is the cheap pre-filter. It is consulted when a pair is
// scheduled and again when a worker picks it up.
func (r *run) candidate(i, j int) bool {
	a, b := r.records[i], r.records[j]
	if !a.SameShape(b) || a.Fingerprint != b.Fingerprint {
		return false
	}
	return !r.deleted.Contains(i) && !r.deleted.Contains(j)
}

func (f *Filter) skip(r *run) {
	r.skipped.Add(1)
	f.metrics.PairsSkipped.Inc()
	f.pairDone(r)
}

// evaluate compares one pair and deletes the later image when the pair is
// too similar. Only the worker that claims j in the deletion set removes it,
// and the claim fails if i was deleted in the meantime.
func (f *Filter) evaluate(r *run, i, j int) {
	if !r.candidate(i, j) {
		f.skip(r)
		return
	}
	defer f.pairDone(r)

	a, b := r.records[i], r.records[j]
	score, err := f.comparer.Compare(a, b)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !r.candidate(i, j) {
			// removed by another worker while being compared
			r.skipped.Add(1)
			f.metrics.PairsSkipped.Inc()
			return
		}
		f.log.Warn("could not compare images",
			zap.String("first", a.Path), zap.String("second", b.Path), zap.Error(err))
		r.mu.Lock()
		r.errs++
		r.mu.Unlock()
		return
	}
	r.compared.Add(1)
	f.metrics.PairsCompared.Inc()
	f.metrics.SimilarityScores.Observe(score)

	if score < f.opts.Threshold || !r.deleted.ClaimIfPresent(i, j) {
		return
	}

	if !f.opts.DryRun {
		if err := f.fs.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("could not delete image", zap.String("path", b.Path), zap.Error(err))
			f.metrics.DeleteFailed.Inc()
			r.mu.Lock()
			r.errs++
			r.failed[j] = true
			r.mu.Unlock()
			return
		}
		if fg, ok := f.comparer.(forgetter); ok {
			fg.Forget(b.Path)
		}
	}

	f.log.Debug("near duplicate",
		zap.String("deleted", b.Name), zap.String("kept", a.Name), zap.Float64("score", score))
	f.metrics.ImagesDeleted.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if f.opts.OnDelete != nil {
		f.opts.OnDelete(DeleteEvent{
			Name:   b.Name,
			Path:   b.Path,
			Kept:   a.Name,
			Score:  score,
			DryRun: f.opts.DryRun,
		})
	}
}

func (f *Filter) pairDone(r *run) {
	done := r.done.Add(1)
	if f.opts.OnProgress == nil {
		return
	}
	total := len(r.records) * (len(r.records) - 1) / 2
	r.mu.Lock()
	defer r.mu.Unlock()
	f.opts.OnProgress(ProgressInfo{Phase: PhaseCompare, Done: int(done), Total: total})
}

func (f *Filter) progress(p ProgressInfo) {
	if f.opts.OnProgress != nil {
		f.opts.OnProgress(p)
	}
}
