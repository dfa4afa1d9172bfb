package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
)

type audioChunk struct {
	clientID string
	data     []byte
	at       time.Time
}

// AudioStore persists raw client audio chunks on a single background
// writer. Saving never blocks the caller; a full queue drops the chunk.
type AudioStore struct {
	dir   string
	queue chan audioChunk
	seq   atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	failures atomic.Int64
	logger   zerolog.Logger
}

// NewAudioStore starts the writer for dir with a queue of queueSize chunks
func NewAudioStore(dir string, queueSize int) *AudioStore {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &AudioStore{
		dir:    dir,
		queue:  make(chan audioChunk, queueSize),
		logger: observability.WithComponent("audio_store"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Save queues a copy of data for writing and reports whether it was queued
func (s *AudioStore) Save(clientID string, data []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case s.queue <- audioChunk{clientID: clientID, data: buf, at: time.Now()}:
		return true
	default:
		s.recordFailure("audio_dropped")
		return false
	}
}

// Failures returns the number of chunks dropped or not written
func (s *AudioStore) Failures() int64 {
	return s.failures.Load()
}

// Close stops accepting chunks and waits for queued ones to be written
func (s *AudioStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *AudioStore) run() {
	defer s.wg.Done()
	for c := range s.queue {
		if err := s.write(c); err != nil {
			s.logger.Warn().Err(err).Str("client_id", c.clientID).Msg("Failed to persist audio chunk")
			s.recordFailure("audio_write")
		}
	}
}

// write creates the chunk file exclusively so no chunk overwrites another
func (s *AudioStore) write(c audioChunk) error {
	name := fmt.Sprintf("%d_%s_%d.webm", c.at.UnixMilli(), c.clientID, s.seq.Add(1))
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(c.data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *AudioStore) recordFailure(kind string) {
	s.failures.Add(1)
	observability.RecordPersistenceFailure(kind)
}
