package dedupe

import (
	"context"
	"image"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/kozaktomas/frameprep/internal/constants"
	"github.com/kozaktomas/frameprep/internal/fingerprint"
	"github.com/kozaktomas/frameprep/internal/imagefile"
	"github.com/kozaktomas/frameprep/internal/metrics"
)

// Record is what the scan learns about one image.
type Record struct {
	Path        string                  `json:"path"`
	Name        string                  `json:"name"`
	Width       int                     `json:"width"`
	Height      int                     `json:"height"`
	Channels    int                     `json:"channels"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
}

// NewRecord describes an already decoded image.
func NewRecord(path string, img image.Image) Record {
	b := img.Bounds()
	return Record{
		Path:        path,
		Name:        filepath.Base(path),
		Width:       b.Dx(),
		Height:      b.Dy(),
		Channels:    imagefile.Channels(img),
		Fingerprint: fingerprint.Compute(img),
	}
}

// SameShape reports whether both images have equal dimensions and channel
// counts.
func (r Record) SameShape(o Record) bool {
	return r.Width == o.Width && r.Height == o.Height && r.Channels == o.Channels
}

// ScanResult holds the decodable images of a directory in name order.
type ScanResult struct {
	Records []Record
	Failed  int
}

// Scan decodes every image in dir and fingerprints it. Files that cannot be
// decoded are logged and left out. onFile, if set, is called after each file.
func Scan(ctx context.Context, fs afero.Fs, dir string, log *zap.Logger, m *metrics.Metrics, onFile func(done, total int)) (*ScanResult, error) {
	paths, err := imagefile.ListDir(fs, dir, constants.ImageExtensions)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Records: make([]Record, 0, len(paths))}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		img, err := imagefile.Decode(fs, path)
		if err != nil {
			log.Warn("could not read image, skipping", zap.String("path", path), zap.Error(err))
			result.Failed++
			m.ImagesScanFailed.Inc()
		} else {
			result.Records = append(result.Records, NewRecord(path, img))
			m.ImagesScanned.Inc()
		}

		if onFile != nil {
			onFile(i+1, len(paths))
		}
	}
	return result, nil
}
