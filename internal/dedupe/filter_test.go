package dedupe

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/frameprep/internal/logger"
	"github.com/kozaktomas/frameprep/internal/metrics"
)

func newFilter(fs afero.Fs, c Comparer, opts Options) *Filter {
	if opts.Dir == "" {
		opts.Dir = testDir
	}
	return New(fs, c, logger.NewNop(), metrics.New(), opts)
}

func TestRun_IdenticalCopies(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(40, 30, 1))
	writeFiles(t, fs, map[string][]byte{
		"a.png": frame,
		"b.png": frame,
		"c.png": encodePNG(t, patternImage(40, 30, 2)),
	})

	var events []DeleteEvent
	f := newFilter(fs, NewSSIMComparer(fs, time.Minute), Options{
		Threshold: 0.9,
		Workers:   2,
		OnDelete:  func(e DeleteEvent) { events = append(events, e) },
	})
	report, err := f.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, int64(3), report.Pairs)
	assert.Equal(t, int64(1), report.Compared)
	assert.Equal(t, int64(2), report.Skipped)
	assert.Equal(t, []string{"b.png"}, report.Deleted)
	assert.Equal(t, 2, report.Survivors())
	assert.NotEmpty(t, report.RunID)

	require.Len(t, events, 1)
	assert.Equal(t, "b.png", events[0].Name)
	assert.Equal(t, "a.png", events[0].Kept)
	assert.Equal(t, 1.0, events[0].Score)
	assert.False(t, events[0].DryRun)

	assert.True(t, exists(t, fs, "a.png"))
	assert.False(t, exists(t, fs, "b.png"))
	assert.True(t, exists(t, fs, "c.png"))
}

func TestRun_DifferentDimensionsNeverCompared(t *testing.T) {
	fs := afero.NewMemMapFs()
	gray := color.NRGBA{120, 120, 120, 255}
	writeFiles(t, fs, map[string][]byte{
		"a.png": encodePNG(t, solidImage(20, 20, gray)),
		"b.png": encodePNG(t, solidImage(24, 20, gray)),
		"c.png": encodePNG(t, solidImage(20, 24, gray)),
	})

	c := &fakeComparer{score: 1}
	report, err := newFilter(fs, c, Options{Threshold: 0.5}).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, c.callCount())
	assert.Equal(t, int64(3), report.Skipped)
	assert.Empty(t, report.Deleted)
}

func TestRun_DifferentFingerprintsNeverCompared(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string][]byte{
		"a.png": encodePNG(t, patternImage(32, 32, 1)),
		"b.png": encodePNG(t, patternImage(32, 32, 5)),
	})

	c := &fakeComparer{score: 1}
	report, err := newFilter(fs, c, Options{Threshold: 0}).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, c.callCount())
	assert.Empty(t, report.Deleted)
}

func TestRun_ClusterKeepsFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(30, 30, 3))
	writeFiles(t, fs, map[string][]byte{
		"frame_000001.png": frame,
		"frame_000002.png": frame,
		"frame_000003.png": frame,
	})

	report, err := newFilter(fs, NewSSIMComparer(fs, time.Minute), Options{Threshold: 0.9, Workers: 4}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"frame_000002.png", "frame_000003.png"}, report.Deleted)
	assert.True(t, exists(t, fs, "frame_000001.png"))
	assert.False(t, exists(t, fs, "frame_000002.png"))
	assert.False(t, exists(t, fs, "frame_000003.png"))
}

func TestRun_SecondRunDeletesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(30, 20, 4))
	writeFiles(t, fs, map[string][]byte{
		"a.png": frame,
		"b.png": frame,
		"c.png": encodePNG(t, patternImage(30, 20, 6)),
		"d.png": frame,
	})

	first, err := newFilter(fs, NewSSIMComparer(fs, time.Minute), Options{Threshold: 0.9}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "d.png"}, first.Deleted)

	c := &fakeComparer{score: 1}
	second, err := newFilter(fs, c, Options{Threshold: 0.9}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Scanned)
	assert.Empty(t, second.Deleted)
	assert.Zero(t, c.callCount())
}

func TestRun_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		deleted   []string
	}{
		{"below", 0.5, 0.9, []string{}},
		{"equal", 0.9, 0.9, []string{"b.png"}},
		{"above", 0.95, 0.9, []string{"b.png"}},
		{"zero threshold", -0.2, 0, []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			frame := encodePNG(t, patternImage(16, 16, 2))
			writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame})

			report, err := newFilter(fs, &fakeComparer{score: tc.score}, Options{Threshold: tc.threshold}).
				Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(1), report.Compared)
			assert.Equal(t, tc.deleted, report.Deleted)
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 8))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame, "c.png": frame})

	var events []DeleteEvent
	report, err := newFilter(fs, &fakeComparer{score: 1}, Options{
		Threshold: 0.9,
		DryRun:    true,
		OnDelete:  func(e DeleteEvent) { events = append(events, e) },
	}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, []string{"b.png", "c.png"}, report.Deleted)
	require.Len(t, events, 2)
	assert.True(t, events[0].DryRun)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		assert.True(t, exists(t, fs, name), name)
	}
}

func TestRun_AccountingUnderConcurrency(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string][]byte{}
	const distinct, copies = 5, 6
	for s := 0; s < distinct; s++ {
		data := encodePNG(t, patternImage(24, 18, s+1))
		for c := 0; c < copies; c++ {
			// interleave copies so clusters are spread across the listing
			files[fmt.Sprintf("img_%02d_%d.png", c, s)] = data
		}
	}
	writeFiles(t, fs, files)

	var mu sync.Mutex
	seen := map[string]int{}
	report, err := newFilter(fs, NewSSIMComparer(fs, time.Minute), Options{
		Threshold: 0.9,
		Workers:   8,
		OnDelete: func(e DeleteEvent) {
			mu.Lock()
			seen[e.Name]++
			mu.Unlock()
		},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, distinct*copies, report.Scanned)
	assert.Len(t, report.Deleted, distinct*(copies-1))
	assert.Equal(t, distinct, report.Survivors())
	assert.Equal(t, report.Scanned, report.Survivors()+len(report.Deleted))
	for name, n := range seen {
		assert.Equal(t, 1, n, "%s reported more than once", name)
	}

	// the first copy of every image survives
	for s := 0; s < distinct; s++ {
		assert.True(t, exists(t, fs, fmt.Sprintf("img_00_%d.png", s)))
	}
	remaining, err := afero.ReadDir(fs, testDir)
	require.NoError(t, err)
	assert.Len(t, remaining, distinct)
}

func TestRun_UndecodableFilesExcluded(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{
		"a.png":      frame,
		"broken.png": []byte("not a png"),
		"b.jpg":      []byte("neither a jpeg"),
		"notes.txt":  []byte("ignored"),
	})

	report, err := newFilter(fs, &fakeComparer{score: 1}, Options{Threshold: 0.9}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 2, report.ScanFailed)
	assert.Zero(t, report.Pairs)
	assert.True(t, exists(t, fs, "broken.png"))
}

func TestRun_CompareErrorsCounted(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame})

	report, err := newFilter(fs, &fakeComparer{err: errors.New("boom")}, Options{Threshold: 0.9}).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Zero(t, report.Compared)
	assert.Empty(t, report.Deleted)
}

func TestRun_DeleteFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, base, map[string][]byte{"a.png": frame, "b.png": frame})
	fs := afero.NewReadOnlyFs(base)

	report, err := newFilter(fs, &fakeComparer{score: 1}, Options{Threshold: 0.9}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Empty(t, report.Deleted)
	assert.True(t, exists(t, base, "b.png"))
}

func TestRun_MissingFileCountsAsDeleted(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame})

	c := &removingComparer{fs: fs, path: testDir + "/b.png"}
	report, err := newFilter(fs, c, Options{Threshold: 0.9}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Errors)
	assert.Equal(t, []string{"b.png"}, report.Deleted)
}

// removingComparer deletes a file behind the filter's back before scoring.
type removingComparer struct {
	fs   afero.Fs
	path string
}

func (c *removingComparer) Compare(Record, Record) (float64, error) {
	_ = c.fs.Remove(c.path)
	return 1, nil
}

func TestRun_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &fakeComparer{score: 1}
	report, err := newFilter(fs, c, Options{Threshold: 0.9}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Zero(t, c.callCount())
	assert.True(t, exists(t, fs, "b.png"))
}

func TestRun_NaNThresholdRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame})

	c := &fakeComparer{score: 0}
	_, err := newFilter(fs, c, Options{Threshold: math.NaN()}).Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, c.callCount())
	assert.True(t, exists(t, fs, "b.png"))
}

func TestRun_MissingDir(t *testing.T) {
	_, err := newFilter(afero.NewMemMapFs(), &fakeComparer{}, Options{Dir: "/nope"}).Run(context.Background())
	assert.Error(t, err)
}

func TestRun_Progress(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame, "c.png": frame, "d.png": frame})

	var last = map[string]ProgressInfo{}
	var calls int
	_, err := newFilter(fs, &fakeComparer{score: 0}, Options{
		Threshold:  0.9,
		Workers:    3,
		OnProgress: func(p ProgressInfo) { calls++; last[p.Phase] = p },
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ProgressInfo{Phase: PhaseScan, Done: 4, Total: 4}, last[PhaseScan])
	assert.Equal(t, 6, last[PhaseCompare].Total)
	assert.Equal(t, 4+6, calls)
}

// racingComparer lets (b, c) pass the pre-filter while (a, b) is still being
// compared, then holds (b, c) until b has been deleted. (a, c) never match.
type racingComparer struct {
	bcStarted chan struct{}
	bDeleted  chan struct{}
	bcResult  func() (float64, error)
}

func newRacingComparer(bcResult func() (float64, error)) *racingComparer {
	return &racingComparer{
		bcStarted: make(chan struct{}),
		bDeleted:  make(chan struct{}),
		bcResult:  bcResult,
	}
}

func (c *racingComparer) Compare(a, b Record) (float64, error) {
	switch a.Name + "|" + b.Name {
	case "a.png|b.png":
		if !waitFor(c.bcStarted) {
			return 0, errors.New("timed out waiting for (b, c) to start")
		}
		return 1, nil
	case "b.png|c.png":
		close(c.bcStarted)
		if !waitFor(c.bDeleted) {
			return 0, errors.New("timed out waiting for b to be deleted")
		}
		return c.bcResult()
	}
	return 0, nil
}

func (c *racingComparer) onDelete(e DeleteEvent) {
	if e.Name == "b.png" {
		close(c.bDeleted)
	}
}

func waitFor(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}

func TestRun_DeletedImageIsNeverKept(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame, "c.png": frame})

	c := newRacingComparer(func() (float64, error) { return 1, nil })
	var events []DeleteEvent
	report, err := newFilter(fs, c, Options{
		Threshold: 0.9,
		Workers:   3,
		OnDelete: func(e DeleteEvent) {
			events = append(events, e)
			c.onDelete(e)
		},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Errors)
	assert.Equal(t, int64(3), report.Compared)
	assert.Equal(t, []string{"b.png"}, report.Deleted)
	require.Len(t, events, 1)
	assert.Equal(t, "a.png", events[0].Kept)
	assert.True(t, exists(t, fs, "a.png"))
	assert.True(t, exists(t, fs, "c.png"), "c is only similar to the deleted b")
}

func TestRun_KeptFileRemovedDuringCompare(t *testing.T) {
	fs := afero.NewMemMapFs()
	frame := encodePNG(t, patternImage(20, 20, 1))
	writeFiles(t, fs, map[string][]byte{"a.png": frame, "b.png": frame, "c.png": frame})

	c := newRacingComparer(func() (float64, error) {
		_, err := fs.Open(testDir + "/b.png")
		return 0, fmt.Errorf("failed to open image: %w", err)
	})
	report, err := newFilter(fs, c, Options{
		Threshold: 0.9,
		Workers:   3,
		OnDelete:  c.onDelete,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Errors)
	assert.Equal(t, int64(2), report.Compared)
	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, []string{"b.png"}, report.Deleted)
	assert.True(t, exists(t, fs, "c.png"))
}
