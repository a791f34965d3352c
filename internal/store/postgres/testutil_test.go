package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// setupTestDB starts a PostgreSQL container, applies the embedded migrations
// and returns the client. The container is terminated when the test ends.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("indexer"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func addr(hex string) common.Address {
	return common.HexToAddress(hex)
}

func seedTokenSet(t *testing.T, pool *pgxpool.Pool, setID string, refs ...domain.TokenRef) {
	t.Helper()
	for _, r := range refs {
		_, err := pool.Exec(context.Background(),
			`INSERT INTO token_sets_tokens (token_set_id, contract, token_id) VALUES ($1, $2, $3::text::numeric)`,
			setID, r.Contract.Bytes(), r.TokenID)
		require.NoError(t, err)
	}
}

func seedBalance(t *testing.T, pool *pgxpool.Pool, ref domain.TokenRef, owner common.Address, amount int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO nft_balances (contract, token_id, owner, amount) VALUES ($1, $2::text::numeric, $3, $4)`,
		ref.Contract.Bytes(), ref.TokenID, owner.Bytes(), amount)
	require.NoError(t, err)
}

func seedOrder(t *testing.T, pool *pgxpool.Pool, o domain.Order) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO orders (id, kind, token_set_id, maker, price, value,
			quantity_remaining, valid_from, valid_until, expiration, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric,
			$7::text::numeric, $8, $9, $10, $11)`,
		o.ID, o.Kind, string(o.TokenSetID), o.Maker.Bytes(),
		o.Price.String(), o.Value.String(), o.Quantity.String(),
		o.ValidFrom, o.ValidUntil, o.Expiration, o.CreatedAt)
	require.NoError(t, err)
}

func seedToken(t *testing.T, pool *pgxpool.Pool, tok domain.Token) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO tokens (contract, token_id, collection_id, is_flagged) VALUES ($1, $2::text::numeric, NULLIF($3, ''), $4)`,
		tok.Ref.Contract.Bytes(), tok.Ref.TokenID, tok.CollectionID, tok.IsFlagged)
	require.NoError(t, err)
}

func seedCollection(t *testing.T, pool *pgxpool.Pool, c domain.Collection) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO collections (id, contract, name, community) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Contract.Bytes(), c.Name, c.Community)
	require.NoError(t, err)
}

func testOrder(id string, setID domain.TokenSetID) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Order{
		ID:         id,
		Kind:       "seaport-v1.5",
		TokenSetID: setID,
		Maker:      addr("0x00000000000000000000000000000000000000aa"),
		Price:      decimal.RequireFromString("1000000000000000000"),
		Value:      decimal.RequireFromString("975000000000000000"),
		Quantity:   decimal.NewFromInt(1),
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(72 * time.Hour),
		Expiration: now.Add(72 * time.Hour),
		CreatedAt:  now.Add(-time.Hour),
	}
}
