package telemetry

import (
	"iter"
	"time"

	"github.com/pkg/errors"
)

const DefaultChunkSize = 20 * time.Minute

// ErrEmptyWindow flags a window with zero or negative duration.
var ErrEmptyWindow = errors.New("empty session window")

// Chunk is a sub-interval of a Window.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Chunks covers w with contiguous intervals of size; the last one may be
// shorter. An empty window yields nothing. The sequence can be ranged over
// any number of times.
func Chunks(w Window, size time.Duration) iter.Seq[Chunk] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func(Chunk) bool) {
		for start := w.Start; start.Before(w.End); start = start.Add(size) {
			end := start.Add(size)
			if end.After(w.End) {
				end = w.End
			}
			if !yield(Chunk{Start: start, End: end}) {
				return
			}
		}
	}
}

// CountChunks is ceil(duration/size), or 0 for an empty window.
func CountChunks(w Window, size time.Duration) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	d := w.Duration()
	if d <= 0 {
		return 0
	}
	return int((d + size - 1) / size)
}

// CheckWindow returns ErrEmptyWindow for windows that would produce no chunks.
func CheckWindow(w Window) error {
	if w.Empty() {
		return errors.Wrapf(ErrEmptyWindow, "%s .. %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}
