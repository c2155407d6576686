package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompressionOrder(t *testing.T) {
	require.Less(t, CompressionFull.Rank(), CompressionSummary.Rank())
	require.Less(t, CompressionSummary.Rank(), CompressionKeywords.Rank())
	require.Less(t, CompressionKeywords.Rank(), CompressionHash.Rank())

	require.True(t, CompressionHash.AtLeast(CompressionFull))
	require.True(t, CompressionSummary.AtLeast(CompressionSummary))
	require.False(t, CompressionFull.AtLeast(CompressionSummary))
}

func TestParseEnumsRejectUnknown(t *testing.T) {
	_, err := ParseMemoryType("unknown")
	require.Error(t, err)
	_, err = ParseMemorySource("unknown")
	require.Error(t, err)
	_, err = ParseTier("unknown")
	require.Error(t, err)
	_, err = ParseCompression("unknown")
	require.Error(t, err)
	_, err = ParseEvictionReason("unknown")
	require.Error(t, err)
}

func TestParseEnumsRoundTrip(t *testing.T) {
	typ, err := ParseMemoryType(string(TypeEpisodic))
	require.NoError(t, err)
	require.Equal(t, TypeEpisodic, typ)

	tier, err := ParseTier(string(TierWarm))
	require.NoError(t, err)
	require.Equal(t, TierWarm, tier)
}

func TestNewMemoryDefaults(t *testing.T) {
	m := NewMemory("hello world", make([]float32, 384), TypeSemantic, SourceManual)
	require.Equal(t, TierHot, m.Tier)
	require.Equal(t, CompressionFull, m.Compression)
	require.Zero(t, m.AccessCount)
	require.False(t, m.LastAccessed.Before(m.CreatedAt))
	require.NotEqual(t, m.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestNewTombstoneCarriesEntities(t *testing.T) {
	m := NewMemory("hello world", make([]float32, 4), TypeSemantic, SourceManual)
	m.Entities = []string{"topic-1", "shared"}
	ts := NewTombstone(m, ReasonLowWeight)
	require.Equal(t, m.ID, ts.OriginalID)
	require.Equal(t, []string{"topic-1", "shared"}, ts.Topics)
	require.Empty(t, ts.Participants)
	require.NotNil(t, ts.Participants)
	require.Equal(t, m.CreatedAt, ts.ApproximateDate)
	require.Equal(t, ReasonLowWeight, ts.Reason)
}

func TestJoinSplitList(t *testing.T) {
	require.Equal(t, "a,b,c", JoinList([]string{"a", "b", "c"}))
	require.Equal(t, []string{"a", "b", "c"}, SplitList("a,b,c"))
	require.Empty(t, JoinList(nil))
	require.Nil(t, SplitList(""))
	require.Nil(t, SplitList("  "))
}

func TestJoinListStripsCommas(t *testing.T) {
	// Commas inside items would corrupt the joined column.
	joined := JoinList([]string{"Acme, Inc", "plain"})
	require.Equal(t, []string{"Acme  Inc", "plain"}, SplitList(joined))
}

func TestAgeDays(t *testing.T) {
	m := NewMemory("hello world", make([]float32, 4), TypeSemantic, SourceManual)
	m.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.InDelta(t, 2.0, m.AgeDays(time.Now().UTC()), 0.01)
}
