package jobs

import (
	"strings"

	"github.com/lexiqai/caption-gateway/internal/stt"
)

// textBuffer accumulates one language of a reshaped transcript
type textBuffer struct {
	b       strings.Builder
	speaker string
}

func (t *textBuffer) write(tk stt.Token) {
	text := tk.Text
	if tk.Speaker != "" && tk.Speaker != t.speaker {
		if t.b.Len() > 0 {
			t.b.WriteString("\n\n")
		}
		t.b.WriteString("Speaker ")
		t.b.WriteString(tk.Speaker)
		t.b.WriteString(": ")
		t.speaker = tk.Speaker
		text = strings.TrimLeft(text, " ")
	}
	t.b.WriteString(text)
}

// Reshape turns a flat async token list into source and target text.
// Tokens are routed by translation status; a change of speaker starts a
// new labelled paragraph in the buffer the token goes to.
func Reshape(tokens []stt.Token) *Result {
	var source, target textBuffer
	for _, tk := range tokens {
		if tk.IsMarker() {
			continue
		}
		if tk.TranslationStatus == stt.StatusTranslation {
			target.write(tk)
		} else {
			source.write(tk)
		}
	}

	if tokens == nil {
		tokens = []stt.Token{}
	}
	return &Result{
		SourceText: strings.TrimSpace(source.b.String()),
		TargetText: strings.TrimSpace(target.b.String()),
		RawTokens:  tokens,
	}
}
