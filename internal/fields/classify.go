package fields

// OutcomeKind classifies a parsed FieldSet for presentation.
type OutcomeKind string

const (
	OutcomeEmpty         OutcomeKind = "empty"
	OutcomeLowConfidence OutcomeKind = "low_confidence"
	OutcomeOK            OutcomeKind = "ok"
)

// DefaultMinConfidence is the confidence below which a populated result is
// reported as low confidence.
const DefaultMinConfidence = 0.5

// Outcome is the classification of a FieldSet plus a human readable message.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Message string      `json:"message"`
}

// Classify reports empty when no core field is populated, whatever the
// confidence says. Only populated sets are compared against minConfidence.
func Classify(fs *FieldSet, minConfidence float64) Outcome {
	if fs.Populated() == 0 {
		return Outcome{Kind: OutcomeEmpty, Message: "no text detected"}
	}
	if fs.Confidence < minConfidence {
		return Outcome{Kind: OutcomeLowConfidence, Message: "low confidence result; verify the fields manually"}
	}
	return Outcome{Kind: OutcomeOK, Message: "fields extracted"}
}
