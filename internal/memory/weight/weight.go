// Package weight computes the time-dependent effective weight used for
// retrieval re-ranking and eviction priority. All functions are pure given
// (memory, now); callers comparing two effective weights must use identical
// configuration.
package weight

import (
	"math"
	"strings"
	"time"

	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/router"
)

// Config holds the weight-model multipliers.
type Config struct {
	// AccessMultiplier scales the logarithmic access reinforcement.
	AccessMultiplier float64
	// DecayRate is the exponential age decay constant per day.
	DecayRate float64
	// EmotionalMultiplier scales the emotional-content boost.
	EmotionalMultiplier float64
	// OwnerMultiplier and AssociationMultiplier are reserved slots for a
	// future memory-graph score; zero today.
	OwnerMultiplier       float64
	AssociationMultiplier float64
}

// DefaultConfig returns the standard multipliers.
func DefaultConfig() Config {
	return Config{
		AccessMultiplier:    0.1,
		DecayRate:           0.1,
		EmotionalMultiplier: 0.3,
	}
}

// emotionalWords is the closed marker vocabulary, matched case-insensitive
// as substrings.
var emotionalWords = []string{
	"love", "hate", "amazing", "terrible", "wonderful", "awful",
	"great", "bad", "excellent", "horrible", "fantastic", "disgusting",
	"perfect", "worst", "beautiful", "ugly", "awesome", "dreadful",
	"brilliant", "pathetic",
}

// CountEmotionalWords counts how many vocabulary markers occur in the
// content.
func CountEmotionalWords(content string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, w := range emotionalWords {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}

// EmotionalBoost estimates the emotional boost for a content string,
// capped at 1.
func EmotionalBoost(content string, multiplier float64) float64 {
	return math.Min(0.1*float64(CountEmotionalWords(content))*multiplier, 1.0)
}

// Effective computes the effective weight of a memory at the given time:
//
//	weight * (1 + k_access*ln(access+1)) * exp(-k_decay*age_days) * (1 + boost)
//
// Monotone non-increasing in age and non-decreasing in access count; always
// >= 0 and may transiently exceed 1.
func Effective(m *model.Memory, now time.Time, cfg Config) float64 {
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	accessFactor := 1 + cfg.AccessMultiplier*math.Log(float64(m.AccessCount)+1)
	decayFactor := math.Exp(-cfg.DecayRate * ageDays)
	boost := EmotionalBoost(m.Content, cfg.EmotionalMultiplier)
	return float64(m.Weight) * accessFactor * decayFactor * (1 + boost)
}

// Initial computes the ingestion-time base weight from the router output
// and source, clamped to [0.1, 1.0].
func Initial(out *router.Output, source model.MemorySource) float32 {
	w := 0.5 + 0.05*float64(len(out.Entities)) + 0.2*math.Abs(float64(out.EmotionalValence))
	switch source {
	case model.SourceConversation:
		w += 0.1
	case model.SourceManual:
		w += 0.3
	}
	return float32(math.Min(math.Max(w, 0.1), 1.0))
}
