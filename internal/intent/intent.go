// Package intent classifies free-form user utterances against an
// offline-built pattern corpus using approximate nearest neighbour
// search over sentence embeddings.
package intent

import "errors"

// IntentInvalid is returned whenever an utterance cannot be matched
// with enough confidence. Callers reply with the canned fallback
// responses registered under this name.
const IntentInvalid = "invalid"

// ErrClassification wraps failures of the embedding or vector search
// stages. The caller decides whether to degrade to IntentInvalid.
var ErrClassification = errors.New("intent: classification failed")

// ErrVectorSearch wraps driver failures of the corpus index.
var ErrVectorSearch = errors.New("intent: vector search failed")

// Prediction is the result of classifying a single utterance.
// MatchedPatterns lists every corpus pattern whose rescored similarity
// cleared the confidence floor.
type Prediction struct {
	Intent          string   `json:"intent"`
	Confidence      float64  `json:"confidence"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// Match is one corpus candidate returned from the vector index,
// carrying the full-precision embedding the pattern was built from so
// scores can be recomputed without quantization loss.
type Match struct {
	Intent    string
	Pattern   string
	Embedding []float32
}
