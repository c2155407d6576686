package tiers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
	"github.com/watzon/mnemo/internal/testutil/memstore"
)

func seedMemory(t *testing.T, store *memstore.Store, tier model.Tier, accessCount int32) *model.Memory {
	t.Helper()
	m := model.NewMemory("tiered memory content", make([]float32, 4), model.TypeSemantic, model.SourceManual)
	m.Tier = tier
	m.AccessCount = accessCount
	require.NoError(t, store.Insert(context.Background(), m))
	return m
}

func TestPromoteDemoteSteps(t *testing.T) {
	require.Equal(t, model.TierWarm, Promote(model.TierCold))
	require.Equal(t, model.TierHot, Promote(model.TierWarm))
	require.Equal(t, model.TierHot, Promote(model.TierHot))

	require.Equal(t, model.TierWarm, Demote(model.TierHot))
	require.Equal(t, model.TierCold, Demote(model.TierWarm))
	require.Equal(t, model.TierCold, Demote(model.TierCold))
}

func TestMigrateChecksCurrentTier(t *testing.T) {
	store := memstore.New(4)
	mgr := NewManager(store, DefaultConfig())
	ctx := context.Background()

	m := seedMemory(t, store, model.TierWarm, 0)

	err := mgr.Migrate(ctx, m.ID, model.TierHot, model.TierCold)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, model.TierWarm, mismatch.Actual)

	require.NoError(t, mgr.Migrate(ctx, m.ID, model.TierWarm, model.TierCold))
	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.TierCold, got.Tier)
}

func TestMigrateSameTierNoOp(t *testing.T) {
	store := memstore.New(4)
	mgr := NewManager(store, DefaultConfig())
	m := seedMemory(t, store, model.TierWarm, 0)
	require.NoError(t, mgr.Migrate(context.Background(), m.ID, model.TierWarm, model.TierWarm))
}

func TestMigrateMissingMemory(t *testing.T) {
	store := memstore.New(4)
	mgr := NewManager(store, DefaultConfig())
	m := model.NewMemory("never inserted!", make([]float32, 4), model.TypeSemantic, model.SourceManual)

	err := mgr.Migrate(context.Background(), m.ID, model.TierHot, model.TierWarm)
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestShouldPromote(t *testing.T) {
	store := memstore.New(4)
	mgr := NewManager(store, Config{AccessPromoteThreshold: 5})
	ctx := context.Background()

	cold := seedMemory(t, store, model.TierCold, 5)
	ok, err := mgr.ShouldPromote(ctx, cold.ID)
	require.NoError(t, err)
	require.True(t, ok)

	few := seedMemory(t, store, model.TierCold, 4)
	ok, err = mgr.ShouldPromote(ctx, few.ID)
	require.NoError(t, err)
	require.False(t, ok)

	hot := seedMemory(t, store, model.TierHot, 100)
	ok, err = mgr.ShouldPromote(ctx, hot.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckAndPromoteColdToWarm(t *testing.T) {
	store := memstore.New(4)
	mgr := NewManager(store, Config{AccessPromoteThreshold: 5})
	ctx := context.Background()

	m := seedMemory(t, store, model.TierCold, 5)
	fired, err := mgr.CheckAndPromote(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, fired)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.TierWarm, got.Tier)

	// A second pass moves Warm to Hot; after that it stops firing.
	fired, err = mgr.CheckAndPromote(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, fired)
	fired, err = mgr.CheckAndPromote(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, fired)
}
