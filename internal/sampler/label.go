package sampler

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/frameprep/internal/constants"
)

// Label derives the frame label from a video file name: the base name without
// its extension.
func Label(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ASCIILabel is Label with diacritical marks removed (e.g., "Jízda.mp4" -> "Jizda")
// and runs of whitespace replaced by underscores.
func ASCIILabel(filename string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, Label(filename))
	return strings.Join(strings.Fields(result), "_")
}

// FrameName returns the file name of a saved frame.
func FrameName(label string, index int, format string) string {
	return fmt.Sprintf(constants.FrameNameFormat, label, index, format)
}
