// Package intent classifies user queries into LLM topic categories and
// decides whether a message continues the previous topic or opens a new one.
package intent

// Intent identifies the topic category of a user query.
type Intent string

// Topic categories the assistant answers. Unknown marks queries outside the
// LLM domain or classifications below the confidence threshold.
const (
	Fundamentals   Intent = "LLM_FUNDAMENTALS"
	Implementation Intent = "LLM_IMPLEMENTATION"
	Comparison     Intent = "LLM_COMPARISON"
	News           Intent = "LLM_NEWS"
	Unknown        Intent = "UNKNOWN"
)

var known = map[string]Intent{
	string(Fundamentals):   Fundamentals,
	string(Implementation): Implementation,
	string(Comparison):     Comparison,
	string(News):           News,
	string(Unknown):        Unknown,
}

// Parse maps a classifier label to an Intent, reporting whether the label is
// one of the known categories.
func Parse(s string) (Intent, bool) {
	in, ok := known[s]
	return in, ok
}

// Result is a classification outcome with the model's confidence.
type Result struct {
	Intent     Intent
	Confidence float64
}
