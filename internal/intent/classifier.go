package intent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/parleyhq/parley/pkg/logging"
)

// Index is the vector search surface the classifier depends on.
type Index interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Match, error)
}

// Classifier maps utterances to intent names. Candidates come from the
// ANN index and are rescored with exact cosine similarity against the
// full-precision pattern embeddings before the confidence gate.
type Classifier struct {
	embedder      Embedder
	index         Index
	topK          int
	minConfidence float64
	logger        *logging.Logger
}

func NewClassifier(embedder Embedder, index Index, topK int, minConfidence float64, logger *logging.Logger) *Classifier {
	if embedder == nil {
		panic("intent: embedder cannot be nil")
	}
	if index == nil {
		panic("intent: index cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Classifier{
		embedder:      embedder,
		index:         index,
		topK:          topK,
		minConfidence: minConfidence,
		logger:        logger.Named("intent"),
	}
}

// Classify returns the best-matching intent for the utterance. Empty
// or whitespace-only input classifies as invalid without touching the
// embedding model. A best score below the confidence floor also
// classifies as invalid, with zero confidence.
func (c *Classifier) Classify(ctx context.Context, text string) (Prediction, error) {
	if strings.TrimSpace(text) == "" {
		return Prediction{Intent: IntentInvalid, Confidence: 0}, nil
	}

	queryEmbedding, err := c.embedder.EmbedText(ctx, text)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: embed: %v", ErrClassification, err)
	}

	matches, err := c.index.Search(ctx, queryEmbedding, c.topK)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: search: %v", ErrClassification, err)
	}
	if len(matches) == 0 {
		return Prediction{Intent: IntentInvalid, Confidence: 0}, nil
	}

	bestIntent := IntentInvalid
	bestScore := math.Inf(-1)
	var matched []string
	for _, m := range matches {
		score := Cosine(queryEmbedding, m.Embedding)
		if score >= c.minConfidence {
			matched = append(matched, m.Pattern)
		}
		if score > bestScore {
			bestScore = score
			bestIntent = m.Intent
		}
	}

	if bestScore < c.minConfidence {
		c.logger.Debug("classification below confidence floor",
			"best_intent", bestIntent,
			"best_score", bestScore,
		)
		return Prediction{Intent: IntentInvalid, Confidence: 0}, nil
	}
	return Prediction{Intent: bestIntent, Confidence: bestScore, MatchedPatterns: matched}, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either
// is empty, zero-length, or of mismatched dimension.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	var normA float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
