package compaction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/testutil/memstore"
)

func agedMemory(t *testing.T, store *memstore.Store, content string, weight float32, ageDays float64, tier model.Tier) *model.Memory {
	t.Helper()
	m := model.NewMemory(content, make([]float32, 4), model.TypeSemantic, model.SourceManual)
	m.Weight = weight
	m.CreatedAt = time.Now().UTC().Add(-time.Duration(ageDays*24) * time.Hour)
	m.LastAccessed = m.CreatedAt
	m.Tier = tier
	require.NoError(t, store.Insert(context.Background(), m))
	return m
}

func TestCompactAgedToSummary(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	m := agedMemory(t, store, "A. B. C. D.", 0.5, 45, model.TierWarm)
	report, err := c.Compact(ctx, model.TierWarm)
	require.NoError(t, err)
	require.Equal(t, 1, report.Compacted)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.CompressionSummary, got.Compression)
	require.True(t, strings.HasPrefix(got.Content, "A. B. C."))
}

func TestCompactOlderToKeywords(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	m := agedMemory(t, store, "The deployment pipeline builds containers nightly.", 0.5, 100, model.TierWarm)
	_, err := c.Compact(ctx, model.TierWarm)
	require.NoError(t, err)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.CompressionKeywords, got.Compression)
	require.Contains(t, got.Content, "deployment")
	require.NotContains(t, got.Content, "The ")
}

func TestCompactSkipsHighWeight(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	m := agedMemory(t, store, "Important. Content. Here. Kept.", 0.9, 100, model.TierWarm)
	report, err := c.Compact(ctx, model.TierWarm)
	require.NoError(t, err)
	require.Equal(t, 1, report.SkippedHighWeight)
	require.Zero(t, report.Compacted)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.CompressionFull, got.Compression)
}

func TestCompactSkipsYoung(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())

	agedMemory(t, store, "Fresh. Content. Stays. Whole.", 0.5, 5, model.TierHot)
	report, err := c.Compact(context.Background(), model.TierHot)
	require.NoError(t, err)
	require.Zero(t, report.Compacted)
	require.Zero(t, report.AlreadyCompressed)
}

func TestCompactNeverRegresses(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	// Already at Keywords; a Summary-age pass must not touch it.
	m := agedMemory(t, store, "alpha, beta, gamma", 0.5, 45, model.TierWarm)
	require.NoError(t, store.UpdateCompression(ctx, m.ID, m.Content, model.CompressionKeywords))

	report, err := c.Compact(ctx, model.TierWarm)
	require.NoError(t, err)
	require.Equal(t, 1, report.AlreadyCompressed)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.CompressionKeywords, got.Compression)
}

func TestCompactPreservesEmbedding(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	m := agedMemory(t, store, "One. Two. Three. Four. Five.", 0.5, 45, model.TierWarm)
	before, err := store.Get(ctx, m.ID)
	require.NoError(t, err)

	_, err = c.Compact(ctx, model.TierWarm)
	require.NoError(t, err)

	after, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, before.Embedding, after.Embedding)
}

func TestAutomaticCompactionStopsAtKeywords(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	m := agedMemory(t, store, "Ancient content with many significant words inside.", 0.5, 10000, model.TierCold)
	_, err := c.Compact(ctx, model.TierCold)
	require.NoError(t, err)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.CompressionKeywords, got.Compression)
}

func TestCompactSingleToHash(t *testing.T) {
	store := memstore.New(4)
	c := NewCompactor(store, DefaultConfig())
	ctx := context.Background()

	m := agedMemory(t, store, "Explicitly archived content.", 0.5, 10, model.TierCold)
	require.NoError(t, c.CompactSingle(ctx, m.ID, model.CompressionHash))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.CompressionHash, got.Compression)
	require.Equal(t, "[content archived - searchable via embedding]", got.Content)
	require.Equal(t, m.Embedding, got.Embedding)
}

func TestSummarizeWithoutTerminators(t *testing.T) {
	c := NewCompactor(nil, DefaultConfig())

	short := strings.Repeat("a", 50)
	require.Equal(t, short, c.Rewrite(short, model.CompressionSummary))

	long := strings.Repeat("b", 300)
	got := c.Rewrite(long, model.CompressionSummary)
	require.Len(t, got, 200+len("…"))
	require.True(t, strings.HasSuffix(got, "…"))
}

func TestSummarizeKeepsFirstSentences(t *testing.T) {
	c := NewCompactor(nil, DefaultConfig())
	got := c.Rewrite("First one. Second two! Third three? Fourth four. Fifth five.", model.CompressionSummary)
	require.Equal(t, "First one. Second two. Third three.", got)
}

func TestKeywordsDropStopWordsAndShortWords(t *testing.T) {
	c := NewCompactor(nil, DefaultConfig())
	got := c.Rewrite("The cat and the big elephant walked into the garden", model.CompressionKeywords)
	require.NotContains(t, got, "the")
	require.NotContains(t, got, "cat") // under minimum word length
	require.Contains(t, got, "elephant")
	require.Contains(t, got, "garden")
}

func TestKeywordsDeduplicateCaseInsensitive(t *testing.T) {
	c := NewCompactor(nil, DefaultConfig())
	got := c.Rewrite("Docker docker DOCKER kubernetes", model.CompressionKeywords)
	require.Equal(t, "Docker, kubernetes", got)
}

func TestKeywordsRespectMaxCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeywordsMaxCount = 3
	c := NewCompactor(nil, cfg)
	got := c.Rewrite("alpha bravo charlie delta echo foxtrot", model.CompressionKeywords)
	require.Equal(t, "alpha, bravo, charlie", got)
}
