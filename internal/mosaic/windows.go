package mosaic

import (
	"math"

	"reefstitch/internal/config"
	"reefstitch/internal/frames"
)

// Window is the frame id range [Start, End) that becomes mosaic Index.
type Window struct {
	Index int
	Start int
	End   int
}

// Windows partitions the capture into consecutive windows of windowSeconds,
// starting startOffset seconds into the video. The last window may be shorter.
func Windows(meta frames.CaptureMetadata, windowSeconds, startOffset float64) ([]Window, error) {
	step := int(math.Round(meta.FramesPerSecond * windowSeconds))
	if step < 1 {
		return nil, config.Errorf("window_seconds", "%g s at %g fps is less than one frame", windowSeconds, meta.FramesPerSecond)
	}
	first := int(startOffset * meta.FramesPerSecond)
	var out []Window
	for start := first; start < meta.LastFrameID; start += step {
		out = append(out, Window{
			Index: len(out),
			Start: start,
			End:   min(start+step, meta.LastFrameID),
		})
	}
	return out, nil
}
