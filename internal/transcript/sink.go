package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lexiqai/caption-gateway/internal/caption"
)

// maxRecordSize bounds one transcript line when reading back
const maxRecordSize = 1 << 20

// Sink is the append-only segment log shared by all sessions of a run
type Sink struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// OpenSink opens (or creates) the log at path for appending
func OpenSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	return &Sink{path: path, file: f}, nil
}

func (s *Sink) Path() string {
	return s.path
}

// Append writes one segment as a single JSON line. Each record goes out in
// one write under the lock so concurrent sessions never interleave.
func (s *Sink) Append(seg caption.Segment) error {
	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to encode segment: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to append segment: %w", err)
	}
	return nil
}

// Segments reads back every finalized segment written so far
func (s *Sink) Segments() ([]caption.Segment, error) {
	return ReadSegments(s.path)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadSegments parses a transcript log. A missing file is an empty
// transcript; blank lines and non-final records are skipped.
func ReadSegments(path string) ([]caption.Segment, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var segments []caption.Segment
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var seg caption.Segment
		if err := json.Unmarshal(raw, &seg); err != nil {
			return nil, fmt.Errorf("transcript line %d: %w", line, err)
		}
		if !seg.Final {
			continue
		}
		segments = append(segments, seg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return segments, nil
}
