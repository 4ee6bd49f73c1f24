package forms

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/pkg/logging"
)

// ItemKind says what part of the directory an utterance matched.
type ItemKind string

const (
	ItemNone     ItemKind = ""
	ItemForm     ItemKind = "form"
	ItemSection  ItemKind = "section"
	ItemQuestion ItemKind = "question"
)

// Detection is the outcome of matching an utterance against the form
// directory. WantsStart distinguishes an explicit request to begin the
// form from a question about it.
type Detection struct {
	Kind       ItemKind
	FormID     string
	FormName   string
	Item       string
	Distance   float64
	WantsStart bool
}

// Matched reports whether anything in the directory cleared threshold.
func (d Detection) Matched() bool {
	return d.Kind != ItemNone
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true,
	"do": true, "for": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "please": true, "that": true, "the": true, "this": true,
	"to": true, "want": true, "what": true, "with": true, "would": true,
	"you": true, "your": true,
}

// startCues signal an explicit desire to begin a form rather than ask
// about one.
var startCues = []string{
	"fill", "start", "begin", "complete", "submit",
	"apply", "register", "sign up", "take",
}

// Detector matches utterances to forms in two stages: cheap keyword
// overlap against form names first, embedding similarity against
// forms, sections, and questions only when keywords find nothing.
type Detector struct {
	directory    *Directory
	embedder     intent.Embedder
	formDistance float64
	itemMult     float64
	logger       *logging.Logger

	mu       sync.Mutex
	embCache map[string][]float32
}

func NewDetector(directory *Directory, embedder intent.Embedder, formDistance, itemMultiplier float64, logger *logging.Logger) *Detector {
	if directory == nil {
		panic("forms: directory cannot be nil")
	}
	if embedder == nil {
		panic("forms: embedder cannot be nil")
	}
	if formDistance <= 0 {
		formDistance = 0.5
	}
	if itemMultiplier <= 0 {
		itemMultiplier = 1.2
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{
		directory:    directory,
		embedder:     embedder,
		formDistance: formDistance,
		itemMult:     itemMultiplier,
		logger:       logger.Named("forms"),
		embCache:     make(map[string][]float32),
	}
}

// Detect decides whether the utterance refers to a known form. Short
// utterances never match: generic replies like "ok" or "thanks" must
// not trigger forms. Collaborator failures during the embedding stage
// degrade to no match so the turn falls through to generic chat.
func (d *Detector) Detect(ctx context.Context, utterance string) (Detection, error) {
	tokens := keywordTokens(utterance)
	if len(tokens) < 3 {
		return Detection{}, nil
	}

	entries, err := d.directory.Entries(ctx)
	if err != nil {
		d.logger.Warn("form directory unavailable, skipping detection", "error", err)
		return Detection{}, nil
	}
	if len(entries) == 0 {
		return Detection{}, nil
	}

	wantsStart := hasStartCue(utterance)

	// Stage 1: keyword overlap against form names. First match wins.
	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = true
	}
	for _, entry := range entries {
		for _, kw := range keywordTokens(entry.FormName) {
			if tokenSet[kw] {
				return Detection{
					Kind:       ItemForm,
					FormID:     entry.FormID.String(),
					FormName:   entry.FormName,
					WantsStart: wantsStart,
				}, nil
			}
		}
	}

	// Stage 2: embedding similarity against forms, sections, and
	// questions, each with its own distance ceiling.
	queryVec, err := d.embedder.EmbedText(ctx, utterance)
	if err != nil {
		d.logger.Warn("embedding stage failed, treating as no match", "error", err)
		return Detection{}, nil
	}

	itemDistance := d.formDistance * d.itemMult
	var candidates []Detection
	for _, entry := range entries {
		if det, ok := d.score(ctx, queryVec, entry, ItemForm, entry.FormName, d.formDistance); ok {
			candidates = append(candidates, det)
		}
		for _, section := range entry.Sections {
			if det, ok := d.score(ctx, queryVec, entry, ItemSection, section, itemDistance); ok {
				candidates = append(candidates, det)
			}
		}
		for _, question := range entry.Questions {
			if det, ok := d.score(ctx, queryVec, entry, ItemQuestion, question, itemDistance); ok {
				candidates = append(candidates, det)
			}
		}
	}
	if len(candidates) == 0 {
		return Detection{}, nil
	}

	// Rank by kind priority first, then distance.
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := kindPriority(candidates[i].Kind), kindPriority(candidates[j].Kind)
		if pi != pj {
			return pi < pj
		}
		return candidates[i].Distance < candidates[j].Distance
	})

	best := candidates[0]
	best.WantsStart = wantsStart
	return best, nil
}

func (d *Detector) score(ctx context.Context, queryVec []float32, entry DirectoryEntry, kind ItemKind, text string, maxDistance float64) (Detection, bool) {
	vec, err := d.embedText(ctx, text)
	if err != nil {
		d.logger.Warn("failed to embed directory item", "item", text, "error", err)
		return Detection{}, false
	}
	distance := 1 - intent.Cosine(queryVec, vec)
	if distance > maxDistance {
		return Detection{}, false
	}
	return Detection{
		Kind:     kind,
		FormID:   entry.FormID.String(),
		FormName: entry.FormName,
		Item:     text,
		Distance: distance,
	}, true
}

// embedText caches directory item embeddings for the detector's
// lifetime; form names and question labels rarely change and the
// directory refresh already bounds staleness.
func (d *Detector) embedText(ctx context.Context, text string) ([]float32, error) {
	d.mu.Lock()
	if vec, ok := d.embCache[text]; ok {
		d.mu.Unlock()
		return vec, nil
	}
	d.mu.Unlock()

	vec, err := d.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("forms: embed %q: %w", text, err)
	}

	d.mu.Lock()
	d.embCache[text] = vec
	d.mu.Unlock()
	return vec, nil
}

func kindPriority(k ItemKind) int {
	switch k {
	case ItemForm:
		return 0
	case ItemSection:
		return 1
	case ItemQuestion:
		return 2
	default:
		return 3
	}
}

// keywordTokens lowercases, splits on non-letter/digit boundaries, and
// drops stop words.
func keywordTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// hasStartCue matches cues against whole tokens so that words merely
// containing a cue ("intake" vs "take") do not count.
func hasStartCue(utterance string) bool {
	lower := strings.ToLower(utterance)
	tokens := strings.Fields(lower)
	for _, cue := range startCues {
		if strings.Contains(cue, " ") {
			if strings.Contains(lower, cue) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if strings.Trim(tok, ".,!?;:\"'") == cue {
				return true
			}
		}
	}
	return false
}
