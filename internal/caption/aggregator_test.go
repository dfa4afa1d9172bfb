package caption

import (
	"testing"

	"github.com/lexiqai/caption-gateway/internal/stt"
)

func src(text string, final bool) stt.Token {
	return stt.Token{Text: text, Language: "ja", TranslationStatus: stt.StatusOriginal, IsFinal: final}
}

func tgt(text string, final bool) stt.Token {
	return stt.Token{Text: text, Language: "zh", TranslationStatus: stt.StatusTranslation, IsFinal: final}
}

func TestAggregator_SourceConcatenation(t *testing.T) {
	a := NewAggregator("ja", "zh")

	dirty := a.ApplyTokens([]stt.Token{
		src("今日", true),
		{Text: "は", Language: "ja", TranslationStatus: stt.StatusNone},
		src("晴れ", false),
	})
	if !dirty {
		t.Error("Expected first batch to be dirty")
	}

	p := a.Partial()
	if p.SourceText != "今日は晴れ" {
		t.Errorf("Expected '今日は晴れ', got '%s'", p.SourceText)
	}
	if p.TargetText != "" {
		t.Errorf("Expected target unchanged, got '%s'", p.TargetText)
	}
}

func TestAggregator_TargetAccumulates(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{src("はい", true)})

	a.ApplyTokens([]stt.Token{tgt("是", true)})
	a.ApplyTokens([]stt.Token{tgt("的", true)})

	p := a.Partial()
	if p.TargetText != "是的" {
		t.Errorf("Expected target '是的', got '%s'", p.TargetText)
	}
	if p.SourceText != "はい" {
		t.Errorf("Expected source unchanged 'はい', got '%s'", p.SourceText)
	}
}

func TestAggregator_IdempotentBatches(t *testing.T) {
	a := NewAggregator("ja", "zh")
	batch := []stt.Token{src("こん", false), tgt("你", false)}

	if !a.ApplyTokens(batch) {
		t.Fatal("Expected first batch to be dirty")
	}
	if a.ApplyTokens(batch) {
		t.Error("Expected identical batch to be clean")
	}
	if a.ApplyTokens(batch) {
		t.Error("Expected repeated identical batch to stay clean")
	}
}

func TestAggregator_TailReplacedByGrowingPrefix(t *testing.T) {
	a := NewAggregator("ja", "")

	a.ApplyTokens([]stt.Token{src("こ", false)})
	a.ApplyTokens([]stt.Token{src("こん", false)})
	if got := a.Partial().SourceText; got != "こん" {
		t.Errorf("Expected re-sent prefix to replace the tail, got '%s'", got)
	}

	a.ApplyTokens([]stt.Token{src("こんにちは", true), src("世", false)})
	if got := a.Partial().SourceText; got != "こんにちは世" {
		t.Errorf("Expected committed text plus tail, got '%s'", got)
	}

	if !a.ApplyTokens([]stt.Token{src("世界", false)}) {
		t.Error("Expected new tail to be dirty")
	}
	if got := a.Partial().SourceText; got != "こんにちは世界" {
		t.Errorf("Expected committed text kept across batches, got '%s'", got)
	}
}

func TestAggregator_FinalBatchDropsTail(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{src("確定", true), src("未", false)})

	if !a.ApplyTokens([]stt.Token{src("です", true)}) {
		t.Error("Expected replacing the tail to be dirty")
	}
	if got := a.Partial().SourceText; got != "確定です" {
		t.Errorf("Expected tail replaced by committed text, got '%s'", got)
	}
}

func TestAggregator_EmptyBatchIsClean(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{src("確定", true), src("未", false), tgt("确", false)})

	if a.ApplyTokens(nil) {
		t.Error("Expected empty batch to be clean")
	}
	p := a.Partial()
	if p.SourceText != "確定未" || p.TargetText != "确" {
		t.Errorf("Expected tails kept, got %+v", p)
	}
}

func TestAggregator_SourceBatchKeepsTargetTail(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{tgt("你好", false)})

	a.ApplyTokens([]stt.Token{src("はい", true)})
	p := a.Partial()
	if p.TargetText != "你好" {
		t.Errorf("Expected target tail unchanged by a source-only batch, got '%s'", p.TargetText)
	}
	if p.SourceText != "はい" {
		t.Errorf("Expected source 'はい', got '%s'", p.SourceText)
	}
}

func TestAggregator_TargetBatchKeepsSourceTail(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{src("こんに", false)})

	a.ApplyTokens([]stt.Token{tgt("你", true)})
	p := a.Partial()
	if p.SourceText != "こんに" {
		t.Errorf("Expected source tail unchanged by a target-only batch, got '%s'", p.SourceText)
	}
	if p.TargetText != "你" {
		t.Errorf("Expected target '你', got '%s'", p.TargetText)
	}
}

func TestAggregator_LiteralConcatenation(t *testing.T) {
	a := NewAggregator("en", "")
	a.ApplyTokens([]stt.Token{
		{Text: " Hello", Language: "en", TranslationStatus: stt.StatusOriginal, IsFinal: true},
		{Text: " world", Language: "en", TranslationStatus: stt.StatusOriginal, IsFinal: true},
	})

	if got := a.Partial().SourceText; got != " Hello world" {
		t.Errorf("Expected token texts concatenated as-is, got %q", got)
	}
}

func TestAggregator_LanguageFiltering(t *testing.T) {
	a := NewAggregator("ja", "zh")

	dirty := a.ApplyTokens([]stt.Token{
		{Text: "hello", Language: "en", TranslationStatus: stt.StatusOriginal, IsFinal: true},
		{Text: "hi", Language: "en", TranslationStatus: stt.StatusTranslation, IsFinal: true},
	})
	if dirty {
		t.Error("Expected tokens in other languages to be ignored")
	}

	wildcard := NewAggregator("", "")
	wildcard.ApplyTokens([]stt.Token{
		{Text: "hello", Language: "en", TranslationStatus: stt.StatusOriginal, IsFinal: true},
	})
	if got := wildcard.Partial().SourceText; got != "hello" {
		t.Errorf("Expected empty language to match any token, got '%s'", got)
	}
}

func TestAggregator_MarkersCarryNoText(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{
		src("はい", true),
		{Text: stt.EndMarker, IsFinal: true},
		{Text: stt.FinalizeMarker, IsFinal: true, Language: "ja", TranslationStatus: stt.StatusOriginal},
	})

	if got := a.Partial().SourceText; got != "はい" {
		t.Errorf("Expected markers skipped, got '%s'", got)
	}
}

func TestAggregator_Timestamps(t *testing.T) {
	a := NewAggregator("ja", "zh")

	tokens := []stt.Token{
		{Text: "こ", Language: "ja", TranslationStatus: stt.StatusOriginal, StartMs: stt.Ms(100)},
		{Text: "んにちは", Language: "ja", TranslationStatus: stt.StatusOriginal, IsFinal: true, EndMs: stt.Ms(900)},
		{Text: stt.EndMarker},
	}
	a.ApplyTokens(tokens)
	if !stt.ContainsBoundary(tokens) {
		t.Fatal("Expected boundary in batch")
	}

	seg := a.FinalizeSegment()
	if seg.SourceText != "こんにちは" {
		t.Errorf("Expected 'こんにちは', got '%s'", seg.SourceText)
	}
	if seg.T0 != 100 || seg.T1 != 900 {
		t.Errorf("Expected t0=100 t1=900, got t0=%d t1=%d", seg.T0, seg.T1)
	}
	if !seg.Final {
		t.Error("Expected final segment")
	}
}

func TestAggregator_SegmentStartFixed(t *testing.T) {
	a := NewAggregator("ja", "zh")

	a.ApplyTokens([]stt.Token{{Text: "あ", Language: "ja", TranslationStatus: stt.StatusOriginal, StartMs: stt.Ms(0)}})
	a.ApplyTokens([]stt.Token{{Text: "い", Language: "ja", TranslationStatus: stt.StatusOriginal, StartMs: stt.Ms(500), IsFinal: true, EndMs: stt.Ms(700)}})

	p := a.Partial()
	if p.T0 != 0 {
		t.Errorf("Expected t0 fixed at first start 0, got %d", p.T0)
	}
	if p.T1 != 700 {
		t.Errorf("Expected t1 700, got %d", p.T1)
	}
}

func TestAggregator_FinalizeResets(t *testing.T) {
	a := NewAggregator("ja", "zh")
	a.ApplyTokens([]stt.Token{
		{Text: "はい", Language: "ja", TranslationStatus: stt.StatusOriginal, IsFinal: true, StartMs: stt.Ms(10), EndMs: stt.Ms(20)},
		tgt("是", false),
	})

	first := a.FinalizeSegment()
	if first.TargetText != "是" {
		t.Errorf("Expected target tail in segment, got '%s'", first.TargetText)
	}

	p := a.Partial()
	if p.SourceText != "" || p.TargetText != "" || p.T0 != 0 || p.T1 != 0 {
		t.Errorf("Expected reset partial, got %+v", p)
	}

	second := a.FinalizeSegment()
	if !second.IsEmpty() {
		t.Errorf("Expected empty segment, got %+v", second)
	}
	if first.ID == second.ID || first.ID == "" {
		t.Errorf("Expected distinct non-empty ids, got %q and %q", first.ID, second.ID)
	}

	// the same text after a reset is a new segment and must be reported
	if !a.ApplyTokens([]stt.Token{src("はい", true)}) {
		t.Error("Expected text after finalize to be dirty")
	}
}
