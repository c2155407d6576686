// Package router provides the NER/valence oracle the ingestion and
// retrieval pipelines consume. The default implementation is a
// deterministic heuristic; deployments with a real NER model plug one in
// behind the same interface.
package router

import (
	"context"
	"strings"
	"unicode"

	"github.com/watzon/mnemo/internal/model"
)

// EntityLabel classifies a recognized span.
type EntityLabel string

const (
	LabelPerson       EntityLabel = "person"
	LabelOrganization EntityLabel = "organization"
	LabelLocation     EntityLabel = "location"
	LabelMisc         EntityLabel = "misc"
)

// Entity is one labeled span.
type Entity struct {
	Text       string      `json:"text"`
	Label      EntityLabel `json:"label"`
	Confidence float32     `json:"confidence"`
}

// Output is the router's analysis of a text.
type Output struct {
	Topics           []string
	Entities         []Entity
	EmotionalValence float32 // in [-1, 1]
	QueryKeys        []string
	SearchTypes      []model.MemoryType
}

// EntityTexts returns the entity surface strings, in order.
func (o *Output) EntityTexts() []string {
	out := make([]string, len(o.Entities))
	for i, e := range o.Entities {
		out[i] = e.Text
	}
	return out
}

// Router analyzes text into entities, topics, and emotional valence.
// Empty input yields empty fields and valence 0.
type Router interface {
	Route(ctx context.Context, text string) (*Output, error)
}

// Heuristic is the built-in router: capitalization-based entity spans and
// a fixed sentiment vocabulary. Deterministic for identical input.
type Heuristic struct{}

// NewHeuristic returns the default router.
func NewHeuristic() *Heuristic { return &Heuristic{} }

var positiveWords = map[string]struct{}{
	"love": {}, "amazing": {}, "wonderful": {}, "great": {}, "excellent": {},
	"fantastic": {}, "perfect": {}, "beautiful": {}, "awesome": {}, "brilliant": {},
}

var negativeWords = map[string]struct{}{
	"hate": {}, "terrible": {}, "awful": {}, "bad": {}, "horrible": {},
	"disgusting": {}, "worst": {}, "ugly": {}, "dreadful": {}, "pathetic": {},
}

var episodicMarkers = map[string]struct{}{
	"yesterday": {}, "today": {}, "remember": {}, "happened": {}, "told": {},
	"said": {}, "went": {}, "last": {}, "ago": {},
}

var proceduralMarkers = map[string]struct{}{
	"how": {}, "steps": {}, "install": {}, "configure": {}, "build": {},
	"run": {}, "setup": {},
}

// Route analyzes the text. It never fails; the error return satisfies the
// oracle contract for model-backed implementations.
func (h *Heuristic) Route(_ context.Context, text string) (*Output, error) {
	out := &Output{SearchTypes: []model.MemoryType{}}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return out, nil
	}

	words := strings.FieldsFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	var pos, neg int
	seenEntity := map[string]struct{}{}
	episodic, procedural := false, false
	for i, w := range words {
		lower := strings.ToLower(w)
		if _, ok := positiveWords[lower]; ok {
			pos++
		}
		if _, ok := negativeWords[lower]; ok {
			neg++
		}
		if _, ok := episodicMarkers[lower]; ok {
			episodic = true
		}
		if _, ok := proceduralMarkers[lower]; ok {
			procedural = true
		}
		if len(w) >= 2 && i > 0 && unicode.IsUpper(rune(w[0])) {
			if _, dup := seenEntity[lower]; !dup {
				seenEntity[lower] = struct{}{}
				out.Entities = append(out.Entities, Entity{
					Text:       w,
					Label:      LabelMisc,
					Confidence: 0.5,
				})
				out.Topics = append(out.Topics, lower)
			}
		}
		if len(lower) >= 4 {
			out.QueryKeys = append(out.QueryKeys, lower)
		}
	}

	if pos+neg > 0 {
		out.EmotionalValence = float32(pos-neg) / float32(pos+neg)
	}

	out.SearchTypes = append(out.SearchTypes, model.TypeSemantic)
	if episodic {
		out.SearchTypes = append(out.SearchTypes, model.TypeEpisodic)
	}
	if procedural {
		out.SearchTypes = append(out.SearchTypes, model.TypeProcedural)
	}
	return out, nil
}

var _ Router = (*Heuristic)(nil)
