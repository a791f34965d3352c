package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

func TestOrderStore_GetByID(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	store := NewOrderStore(c.Pool())

	want := testOrder("order-1", "contract:c")
	seedOrder(t, c.Pool(), want)

	got, err := store.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, want.TokenSetID, got.TokenSetID)
	assert.Equal(t, want.Maker, got.Maker)
	assert.True(t, want.Price.Equal(got.Price))
	assert.True(t, want.Expiration.Equal(got.Expiration))

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_UpdateFlag(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	store := NewTokenStore(c.Pool())

	ref := domain.TokenRef{Contract: contractC, TokenID: "7"}
	seedCollection(t, c.Pool(), domain.Collection{ID: "col-1", Contract: contractC, Name: "Songs"})
	seedToken(t, c.Pool(), domain.Token{Ref: ref, CollectionID: "col-1"})

	tok, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, tok.IsFlagged)
	assert.Equal(t, "col-1", tok.CollectionID)
	assert.Nil(t, tok.LastFlagUpdate)
	assert.Nil(t, tok.LastFlagChange)

	changed := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.UpdateFlag(ctx, domain.FlagUpdate{Ref: ref, Flagged: true, UpdatedAt: changed, ChangedAt: &changed}))

	later := changed.Add(time.Minute)
	require.NoError(t, store.UpdateFlag(ctx, domain.FlagUpdate{Ref: ref, Flagged: true, UpdatedAt: later}))

	tok, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, tok.IsFlagged)
	require.NotNil(t, tok.LastFlagUpdate)
	require.NotNil(t, tok.LastFlagChange)
	assert.True(t, later.Equal(*tok.LastFlagUpdate))
	assert.True(t, changed.Equal(*tok.LastFlagChange), "no-op update keeps the change time")

	err = store.UpdateFlag(ctx, domain.FlagUpdate{Ref: domain.TokenRef{Contract: contractC, TokenID: "8"}, UpdatedAt: later})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Get(ctx, domain.TokenRef{Contract: contractD, TokenID: "7"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCollectionStore_GetByID(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	store := NewCollectionStore(c.Pool())

	community := "sound.xyz"
	seedCollection(t, c.Pool(), domain.Collection{ID: "col-1", Contract: contractC, Name: "Songs", Community: &community})
	seedCollection(t, c.Pool(), domain.Collection{ID: "col-2", Contract: contractD, Name: "Plain"})

	got, err := store.GetByID(ctx, "col-1")
	require.NoError(t, err)
	require.NotNil(t, got.Community)
	assert.Equal(t, "sound.xyz", *got.Community)

	plain, err := store.GetByID(ctx, "col-2")
	require.NoError(t, err)
	assert.Nil(t, plain.Community)

	_, err = store.GetByID(ctx, "col-3")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditStore_LogAndList(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	store := NewAuditStore(c.Pool())

	require.NoError(t, store.Log(ctx, "token.flag", map[string]any{"actor": "dashboard", "flag": true}))
	require.NoError(t, store.Log(ctx, "token.flag", nil))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dashboard", entries[1].Detail["actor"])
	assert.Empty(t, entries[0].Detail)
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	c := setupTestDB(t)
	require.NoError(t, c.RunMigrations(context.Background()))
}
