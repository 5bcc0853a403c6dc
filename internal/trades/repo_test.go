package trades

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

func setupTradesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// One database per test keeps rows from leaking between cases.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	trades := `
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT,
  product_name TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'USD',
  state TEXT NOT NULL DEFAULT 'rfq_open',
  pickup_city TEXT,
  cargo_type TEXT,
  cargo_weight_kg INTEGER NOT NULL DEFAULT 0,
  cargo_volume_m3 INTEGER NOT NULL DEFAULT 0,
  transitioning INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(trades).Error)
	return db
}

func createTestTrade(t *testing.T, db *gorm.DB, state enums.TradeState) *models.Trade {
	t.Helper()

	trade := &models.Trade{
		ID:          uuid.New(),
		BuyerID:     uuid.New(),
		ProductName: "sesame seeds",
		Quantity:    20,
		Currency:    "USD",
		State:       state,
	}
	require.NoError(t, db.Create(trade).Error)
	return trade
}

func TestAcquireTransitionLockIsExclusive(t *testing.T) {
	db := setupTradesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	trade := createTestTrade(t, db, enums.TradeStateRFQOpen)

	locked, err := repo.AcquireTransitionLock(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	// A second acquisition while held must fail.
	locked, err = repo.AcquireTransitionLock(ctx, trade.ID)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, repo.ReleaseTransitionLock(ctx, trade.ID))

	locked, err = repo.AcquireTransitionLock(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestCommitStateRequiresExpectedFromState(t *testing.T) {
	db := setupTradesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	trade := createTestTrade(t, db, enums.TradeStateRFQOpen)

	locked, err := repo.AcquireTransitionLock(ctx, trade.ID)
	require.NoError(t, err)
	require.True(t, locked)

	committed, err := repo.CommitState(ctx, trade.ID, enums.TradeStateRFQOpen, enums.TradeStateQuoted)
	require.NoError(t, err)
	assert.True(t, committed)

	stored, err := repo.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.TradeStateQuoted, stored.State)
	assert.False(t, stored.Transitioning)
	assert.Equal(t, trade.Version+1, stored.Version)

	// A stale writer carrying the old from-state loses.
	committed, err = repo.CommitState(ctx, trade.ID, enums.TradeStateRFQOpen, enums.TradeStateContracted)
	require.NoError(t, err)
	assert.False(t, committed)

	stored, err = repo.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TradeStateQuoted, stored.State)
}

func TestGetByIDMissingTrade(t *testing.T) {
	db := setupTradesTestDB(t)
	repo := NewRepository(db)

	trade, err := repo.GetByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestListByCompanyMatchesEitherSide(t *testing.T) {
	db := setupTradesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	companyID := uuid.New()

	asBuyer := createTestTrade(t, db, enums.TradeStateRFQOpen)
	require.NoError(t, db.Model(&models.Trade{}).Where("id = ?", asBuyer.ID).Update("buyer_id", companyID).Error)

	asSeller := createTestTrade(t, db, enums.TradeStateProduction)
	require.NoError(t, repo.SetSeller(ctx, asSeller.ID, companyID))

	createTestTrade(t, db, enums.TradeStateRFQOpen) // unrelated

	rows, err := repo.ListByCompany(ctx, companyID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSetPricing(t *testing.T) {
	db := setupTradesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	trade := createTestTrade(t, db, enums.TradeStateQuoted)
	require.NoError(t, repo.SetPricing(ctx, trade.ID, 2500, 50000))

	stored, err := repo.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, 2500, stored.UnitPriceCents)
	assert.Equal(t, 50000, stored.TotalCents)
}
