// Package compaction progressively replaces memory content with shorter
// representations as age thresholds pass, preserving the embedding.
package compaction

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// hashSentinel replaces content at the Hash level. The original text is
// unrecoverable; the memory stays retrievable via embedding search only.
const hashSentinel = "[content archived - searchable via embedding]"

// Config holds the compaction thresholds.
type Config struct {
	SummaryAgeDays        float64
	KeywordsAgeDays       float64
	MinWeightProtected    float64
	SummaryMaxSentences   int
	KeywordsMaxCount      int
	KeywordsMinWordLength int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		SummaryAgeDays:        30,
		KeywordsAgeDays:       90,
		MinWeightProtected:    0.7,
		SummaryMaxSentences:   3,
		KeywordsMaxCount:      20,
		KeywordsMinWordLength: 4,
	}
}

// Report counts what a compaction pass did.
type Report struct {
	Compacted         int `json:"compacted"`
	SkippedHighWeight int `json:"skipped_high_weight"`
	AlreadyCompressed int `json:"already_compressed"`
}

// Compactor rewrites memory content in place.
type Compactor struct {
	store registrystore.Store
	cfg   Config
}

// NewCompactor creates a compactor.
func NewCompactor(store registrystore.Store, cfg Config) *Compactor {
	return &Compactor{store: store, cfg: cfg}
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"may": {}, "might": {}, "must": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "it": {}, "its": {}, "they": {}, "them": {}, "their": {},
	"we": {}, "you": {}, "your": {}, "our": {}, "i": {}, "me": {}, "my": {},
	"he": {}, "she": {}, "his": {}, "her": {}, "not": {}, "no": {}, "yes": {},
	"what": {}, "which": {}, "who": {}, "when": {}, "where": {}, "why": {},
	"how": {}, "all": {}, "each": {}, "every": {}, "both": {}, "few": {},
	"more": {}, "most": {}, "other": {}, "some": {}, "such": {}, "than": {},
	"too": {}, "very": {}, "just": {}, "also": {}, "only": {}, "then": {},
	"there": {}, "here": {}, "now": {}, "about": {}, "into": {}, "over": {},
	"after": {}, "before": {}, "between": {}, "under": {}, "again": {},
	"further": {}, "once": {}, "during": {},
}

// Compact sweeps one tier, rewriting every memory whose age has crossed a
// threshold. High-weight memories are skipped; compression never moves
// backwards. Automatic compaction stops at Keywords — reaching Hash takes
// an explicit CompactSingle.
func (c *Compactor) Compact(ctx context.Context, tier model.Tier) (*Report, error) {
	ms, err := c.store.ListByTier(ctx, tier)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	now := time.Now().UTC()
	for _, m := range ms {
		if float64(m.Weight) >= c.cfg.MinWeightProtected {
			report.SkippedHighWeight++
			continue
		}

		age := m.AgeDays(now)
		var target model.CompressionLevel
		switch {
		case age > c.cfg.KeywordsAgeDays:
			target = model.CompressionKeywords
		case age > c.cfg.SummaryAgeDays:
			target = model.CompressionSummary
		default:
			continue
		}

		if m.Compression.AtLeast(target) {
			report.AlreadyCompressed++
			continue
		}

		rewritten := c.Rewrite(m.Content, target)
		if err := c.store.UpdateCompression(ctx, m.ID, rewritten, target); err != nil {
			log.Error("Compaction: update failed", "id", m.ID, "err", err)
			continue
		}
		report.Compacted++
	}

	log.Info("Compaction: pass complete", "tier", tier,
		"compacted", report.Compacted,
		"skippedHighWeight", report.SkippedHighWeight,
		"alreadyCompressed", report.AlreadyCompressed)
	return report, nil
}

// CompactSingle force-compresses one memory to a target level. It refuses
// to move compression backwards.
func (c *Compactor) CompactSingle(ctx context.Context, id uuid.UUID, target model.CompressionLevel) error {
	m, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return &registrystore.NotFoundError{ID: id}
	}
	if m.Compression.AtLeast(target) {
		return nil
	}
	return c.store.UpdateCompression(ctx, m.ID, c.Rewrite(m.Content, target), target)
}

// Rewrite renders content at the requested compression level.
func (c *Compactor) Rewrite(content string, level model.CompressionLevel) string {
	switch level {
	case model.CompressionSummary:
		return c.summarize(content)
	case model.CompressionKeywords:
		return c.keywords(content)
	case model.CompressionHash:
		return hashSentinel
	default:
		return content
	}
}

// summarize keeps the first N sentences. Without sentence terminators the
// first 200 characters are kept, with an ellipsis if truncated.
func (c *Compactor) summarize(content string) string {
	raw := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var sentences []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	if !strings.ContainsAny(content, ".!?") {
		if len(content) > 200 {
			return content[:200] + "…"
		}
		return content
	}

	if len(sentences) > c.cfg.SummaryMaxSentences {
		sentences = sentences[:c.cfg.SummaryMaxSentences]
	}
	if len(sentences) == 0 {
		return content
	}
	return strings.Join(sentences, ". ") + "."
}

// keywords extracts significant words: long enough, not stop words,
// deduplicated case-insensitively preserving first occurrence.
func (c *Compactor) keywords(content string) string {
	words := strings.FieldsFunc(content, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := map[string]struct{}{}
	var out []string
	for _, w := range words {
		if len(out) >= c.cfg.KeywordsMaxCount {
			break
		}
		if len(w) < c.cfg.KeywordsMinWordLength {
			continue
		}
		lower := strings.ToLower(w)
		if _, stop := stopWords[lower]; stop {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, w)
	}
	return strings.Join(out, ", ")
}
