package caption

// Partial is an in-progress snapshot of the current segment
type Partial struct {
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText"`
	T0         int64  `json:"t0"`
	T1         int64  `json:"t1"`
}

// Segment is one finalized caption unit. It is never mutated after
// FinalizeSegment returns it.
type Segment struct {
	ID         string `json:"id"`
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText"`
	T0         int64  `json:"t0"`
	T1         int64  `json:"t1"`
	Final      bool   `json:"final"`
}

// IsEmpty reports whether the segment carries no text in either language
func (s Segment) IsEmpty() bool {
	return s.SourceText == "" && s.TargetText == ""
}
