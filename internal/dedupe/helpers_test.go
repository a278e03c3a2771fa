package dedupe

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/frameprep/internal/imagefile"
)

const testDir = "/frames"

// patternImage draws a deterministic texture; different seeds give
// different fingerprints.
func patternImage(w, h, seed int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*seed + y*(seed+3) + seed*37) % 256)
			img.SetNRGBA(x, y, color.NRGBA{v, uint8(x * 3), uint8(y*5 + seed), 255})
		}
	}
	return img
}

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imagefile.Encode(&buf, img, "png", 0))
	return buf.Bytes()
}

// writeFiles writes name -> content into testDir.
func writeFiles(t *testing.T, fs afero.Fs, files map[string][]byte) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(testDir, 0o755))
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, name), data, 0o644))
	}
}

func exists(t *testing.T, fs afero.Fs, name string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, filepath.Join(testDir, name))
	require.NoError(t, err)
	return ok
}

// fakeComparer returns a fixed score and remembers what it was asked.
type fakeComparer struct {
	mu    sync.Mutex
	score float64
	err   error
	calls [][2]string
}

func (c *fakeComparer) Compare(a, b Record) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, [2]string{a.Name, b.Name})
	return c.score, c.err
}

func (c *fakeComparer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
