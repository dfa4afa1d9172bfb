package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const transcriptFile = "transcript.jsonl"

// RunDir is the storage directory of one process run
type RunDir struct {
	Root       string
	AudioDir   string
	ExportDir  string
	UploadsDir string
}

// NewRunDir creates <root>/<yyyymmdd>_<course>_<unixms> with its audio,
// export and uploads subdirectories
func NewRunDir(root, course string, now time.Time) (*RunDir, error) {
	name := fmt.Sprintf("%s_%s_%d", now.Format("20060102"), sanitizeName(course), now.UnixMilli())
	base := filepath.Join(root, name)

	d := &RunDir{
		Root:       base,
		AudioDir:   filepath.Join(base, "audio"),
		ExportDir:  filepath.Join(base, "export"),
		UploadsDir: filepath.Join(base, "uploads"),
	}
	for _, dir := range []string{d.AudioDir, d.ExportDir, d.UploadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
	}
	return d, nil
}

// TranscriptPath is the append-only segment log of this run
func (d *RunDir) TranscriptPath() string {
	return filepath.Join(d.Root, transcriptFile)
}

// sanitizeName keeps a course name to a single path element
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "course"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, name)
}
