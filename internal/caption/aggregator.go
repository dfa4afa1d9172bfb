package caption

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lexiqai/caption-gateway/internal/stt"
)

// stream accumulates the text of one language. Final tokens are committed;
// text after the last final token of a batch is a tail the next batch with
// tokens for this stream replaces, since the provider re-sends non-final
// text on every message.
type stream struct {
	language  string
	committed strings.Builder
	tail      string
}

func (s *stream) matches(language string) bool {
	return s.language == "" || s.language == language
}

func (s *stream) text() string {
	return s.committed.String() + s.tail
}

func (s *stream) reset() {
	s.committed.Reset()
	s.tail = ""
}

// Aggregator turns provider token batches into source and target caption
// buffers for one live session. It is not safe for concurrent use.
type Aggregator struct {
	source stream
	target stream

	t0    int64
	hasT0 bool
	t1    int64

	emittedSource string
	emittedTarget string
}

// NewAggregator creates an aggregator routing sourceLanguage originals and
// targetLanguage translations. An empty language matches any token.
func NewAggregator(sourceLanguage, targetLanguage string) *Aggregator {
	return &Aggregator{
		source: stream{language: sourceLanguage},
		target: stream{language: targetLanguage},
	}
}

// ApplyTokens folds a batch into the buffers and reports whether the
// candidate text differs from the last snapshot it reported.
func (a *Aggregator) ApplyTokens(tokens []stt.Token) bool {
	var sourcePending, targetPending strings.Builder
	var sawSource, sawTarget bool

	for _, tk := range tokens {
		if tk.IsMarker() {
			continue
		}

		switch tk.TranslationStatus {
		case stt.StatusOriginal, stt.StatusNone, "":
			if !a.source.matches(tk.Language) {
				continue
			}
			sawSource = true
			if !a.hasT0 && tk.StartMs != nil {
				a.t0 = *tk.StartMs
				a.hasT0 = true
			}
			sourcePending.WriteString(tk.Text)
			if tk.IsFinal {
				a.source.committed.WriteString(sourcePending.String())
				sourcePending.Reset()
				if tk.EndMs != nil && *tk.EndMs > a.t1 {
					a.t1 = *tk.EndMs
				}
			}

		case stt.StatusTranslation:
			if !a.target.matches(tk.Language) {
				continue
			}
			sawTarget = true
			targetPending.WriteString(tk.Text)
			if tk.IsFinal {
				a.target.committed.WriteString(targetPending.String())
				targetPending.Reset()
			}
		}
	}

	// A stream absent from the batch keeps its tail
	if sawSource {
		a.source.tail = sourcePending.String()
	}
	if sawTarget {
		a.target.tail = targetPending.String()
	}

	source, target := a.source.text(), a.target.text()
	if source == a.emittedSource && target == a.emittedTarget {
		return false
	}
	a.emittedSource = source
	a.emittedTarget = target
	return true
}

// Partial returns the current snapshot
func (a *Aggregator) Partial() Partial {
	return Partial{
		SourceText: a.source.text(),
		TargetText: a.target.text(),
		T0:         a.t0,
		T1:         a.t1,
	}
}

// FinalizeSegment snapshots the buffers into a Segment with a fresh id and
// resets the aggregator for the next segment. Empty segments are legal.
func (a *Aggregator) FinalizeSegment() Segment {
	seg := Segment{
		ID:         uuid.NewString(),
		SourceText: a.source.text(),
		TargetText: a.target.text(),
		T0:         a.t0,
		T1:         a.t1,
		Final:      true,
	}

	a.source.reset()
	a.target.reset()
	a.t0, a.hasT0, a.t1 = 0, false, 0
	a.emittedSource, a.emittedTarget = "", ""
	return seg
}
