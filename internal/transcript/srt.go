package transcript

import (
	"fmt"
	"strings"

	"github.com/lexiqai/caption-gateway/internal/caption"
)

// defaultCueMs is the cue length used when a segment has no end time
const defaultCueMs = 2000

// FormatTimestamp renders milliseconds as HH:MM:SS,mmm
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		ms/3600000,
		ms%3600000/60000,
		ms%60000/1000,
		ms%1000,
	)
}

// RenderSRT renders segments as numbered subtitle cues with the source
// line above the target line
func RenderSRT(segments []caption.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		end := seg.T1
		if end == 0 {
			end = seg.T0 + defaultCueMs
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n%s\n",
			i+1,
			FormatTimestamp(seg.T0),
			FormatTimestamp(end),
			seg.SourceText,
			seg.TargetText,
		)
	}
	return b.String()
}
