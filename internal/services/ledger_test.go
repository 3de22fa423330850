package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateImmediateSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coffee := f.product(t, "t1", "2.50")
	cake := f.product(t, "t1", "4.20")

	sale, err := f.ledger.CreateImmediateSale(ctx, caller("t1", 1), "Card", []LineInput{
		{ProductID: coffee, Quantity: 2},
		{ProductID: cake, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusClosed, sale.Status)
	assert.Equal(t, models.PaymentCard, sale.PaymentMethod)
	assert.True(t, sale.Total.Equal(dec("9.20")), sale.Total.String())
	assert.Nil(t, sale.ClosedByID)
	require.NotNil(t, sale.UserID)
	assert.Equal(t, uint(1), *sale.UserID)
	require.Len(t, sale.Lines, 2)
	assert.True(t, sale.Lines[0].LineTotal.Equal(dec("5.00")))
}

func TestCreateImmediateSaleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.product(t, "t1", "1.00")

	_, err := f.ledger.CreateImmediateSale(ctx, caller("t1", 1), "cash", nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "lines_required", CodeOf(err))

	_, err = f.ledger.CreateImmediateSale(ctx, caller("t1", 1), "cash", []LineInput{{ProductID: id, Quantity: 0}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "must_be_positive", FieldsOf(err)["lines[0].quantity"])

	_, err = f.ledger.CreateImmediateSale(ctx, caller("t1", 1), "cash", []LineInput{{ProductID: 999, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = f.ledger.CreateImmediateSale(ctx, auth.Identity{}, "cash", []LineInput{{ProductID: id, Quantity: 1}})
	assert.ErrorIs(t, err, ErrValidation)

	var n int64
	require.NoError(t, f.db.Model(&models.Sale{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestTabRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 7)
	beer := f.product(t, "t1", "3.00")
	fries := f.product(t, "t1", "2.75")
	table := f.table(t, "t1", "T1")

	tab, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{TableID: &table, Name: strp("  Alice ")})
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusOpen, tab.Status)
	assert.True(t, tab.Total.IsZero())
	assert.Equal(t, "Alice", *tab.Name)
	assert.Empty(t, tab.Lines)

	_, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: beer, Quantity: 2}})
	require.NoError(t, err)
	tab, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: fries, Quantity: 1}, {ProductID: beer, Quantity: 1}})
	require.NoError(t, err)

	// same product twice stays two lines
	require.Len(t, tab.Lines, 3)
	assert.Equal(t, beer, tab.Lines[0].ProductID)
	assert.Equal(t, beer, tab.Lines[2].ProductID)
	assert.True(t, tab.Total.Equal(dec("11.75")), tab.Total.String())

	closed, err := f.ledger.CloseAccount(ctx, caller("t1", 8), tab.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusClosed, closed.Status)
	assert.Equal(t, models.PaymentCash, closed.PaymentMethod)
	require.NotNil(t, closed.ClosedByID)
	assert.Equal(t, uint(8), *closed.ClosedByID)
	assert.True(t, closed.Total.Equal(dec("11.75")))

	// the table is free again
	_, err = f.ledger.OpenAccount(ctx, me, OpenAccountInput{TableID: &table})
	require.NoError(t, err)
}

func TestClosedTabIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	p := f.product(t, "t1", "1.00")

	tab, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
	require.NoError(t, err)
	_, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: p, Quantity: 1}})
	require.NoError(t, err)
	_, err = f.ledger.CloseAccount(ctx, me, tab.ID, "card")
	require.NoError(t, err)

	_, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: p, Quantity: 5}})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.ledger.ReplaceLines(ctx, me, tab.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.ledger.CloseAccount(ctx, me, tab.ID, "cash")
	assert.ErrorIs(t, err, ErrSaleNotOpen)

	// invalid state wins over an unknown product
	_, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: 404, Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := f.ledger.Get(ctx, me, tab.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 1)
	assert.True(t, got.Total.Equal(dec("1.00")))
	assert.Equal(t, models.PaymentCard, got.PaymentMethod)
}

func TestReplaceLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	a := f.product(t, "t1", "1.10")
	b := f.product(t, "t1", "0.45")

	tab, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{Name: strp("bar")})
	require.NoError(t, err)
	_, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: a, Quantity: 3}})
	require.NoError(t, err)

	tab, err = f.ledger.ReplaceLines(ctx, me, tab.ID, []LineInput{{ProductID: b, Quantity: 3}})
	require.NoError(t, err)
	require.Len(t, tab.Lines, 1)
	assert.Equal(t, b, tab.Lines[0].ProductID)
	assert.True(t, tab.Total.Equal(dec("1.35")), tab.Total.String())

	// a failing replace leaves the previous lines in place
	_, err = f.ledger.ReplaceLines(ctx, me, tab.ID, []LineInput{{ProductID: a, Quantity: 1}, {ProductID: 999, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "not_found", FieldsOf(err)["lines[1].product_id"])
	got, err := f.ledger.Get(ctx, me, tab.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Total.Equal(dec("1.35")))

	tab, err = f.ledger.ReplaceLines(ctx, me, tab.ID, []LineInput{})
	require.NoError(t, err)
	assert.Empty(t, tab.Lines)
	assert.True(t, tab.Total.IsZero())
}

func TestAddLinesRejectsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	tab, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
	require.NoError(t, err)

	_, err = f.ledger.AddLines(ctx, me, tab.ID, nil)
	assert.ErrorIs(t, err, ErrEmptyLines)

	_, err = f.ledger.AddLines(ctx, me, 12345, []LineInput{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, ErrSaleNotFound)
}

func TestOpenAccountTableRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	table := f.table(t, "t1", "Terrace")

	_, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{TableID: uintp(999)})
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = f.ledger.OpenAccount(ctx, me, OpenAccountInput{TableID: &table})
	require.NoError(t, err)
	_, err = f.ledger.OpenAccount(ctx, me, OpenAccountInput{TableID: &table})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "table_occupied", CodeOf(err))

	var n int64
	require.NoError(t, f.db.Model(&models.Sale{}).Where("table_id = ?", table).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	// tabs without a table never collide
	_, err = f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
	require.NoError(t, err)
	_, err = f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
	require.NoError(t, err)
}

func TestConcurrentOpenOnOneTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	table := f.table(t, "t1", "T9")

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		occupied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(uid uint) {
			defer wg.Done()
			_, err := f.ledger.OpenAccount(ctx, caller("t1", uid), OpenAccountInput{TableID: &table})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrTableOccupied):
				occupied++
			}
		}(uint(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, occupied)
}

func TestConcurrentAddLinesKeepsTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	p := f.product(t, "t1", "0.10")
	tab, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: p, Quantity: 1}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.ledger.Get(ctx, me, tab.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 10)
	assert.True(t, got.Total.Equal(dec("1.00")), got.Total.String())
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := caller("t1", 1)
	bob := caller("t2", 2)
	mine := f.product(t, "t1", "5.00")
	bobTable := f.table(t, "t2", "B1")

	tab, err := f.ledger.OpenAccount(ctx, alice, OpenAccountInput{})
	require.NoError(t, err)

	_, err = f.ledger.Get(ctx, bob, tab.ID)
	assert.ErrorIs(t, err, ErrSaleNotFound)
	_, err = f.ledger.AddLines(ctx, bob, tab.ID, []LineInput{{ProductID: mine, Quantity: 1}})
	assert.ErrorIs(t, err, ErrSaleNotFound)
	_, err = f.ledger.CloseAccount(ctx, bob, tab.ID, "cash")
	assert.ErrorIs(t, err, ErrSaleNotFound)

	// another tenant's product and table are unknown
	_, err = f.ledger.CreateImmediateSale(ctx, bob, "cash", []LineInput{{ProductID: mine, Quantity: 1}})
	assert.ErrorIs(t, err, ErrProductNotFound)
	_, err = f.ledger.OpenAccount(ctx, alice, OpenAccountInput{TableID: &bobTable})
	assert.ErrorIs(t, err, ErrTableNotFound)

	list, err := f.ledger.List(ctx, bob, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	open, err := f.ledger.ListOpen(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestGetIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	p := f.product(t, "t1", "3.33")
	sale, err := f.ledger.CreateImmediateSale(ctx, me, "cash", []LineInput{{ProductID: p, Quantity: 3}})
	require.NoError(t, err)

	first, err := f.ledger.Get(ctx, me, sale.ID)
	require.NoError(t, err)
	second, err := f.ledger.Get(ctx, me, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Total.String(), second.Total.String())
	assert.Equal(t, first.Lines, second.Lines)
	assert.True(t, first.Total.Equal(dec("9.99")))
}

func TestInactiveProductRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "t1", "1.00")
	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", p).Update("active", false).Error)

	_, err := f.ledger.CreateImmediateSale(ctx, caller("t1", 1), "cash", []LineInput{{ProductID: p, Quantity: 1}})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestPriceIsCapturedAtLineTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	p := f.product(t, "t1", "2.00")
	tab, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
	require.NoError(t, err)
	_, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: p, Quantity: 1}})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", p).Update("price", dec("3.00")).Error)
	tab, err = f.ledger.AddLines(ctx, me, tab.ID, []LineInput{{ProductID: p, Quantity: 1}})
	require.NoError(t, err)

	assert.True(t, tab.Lines[0].PriceUnit.Equal(dec("2.00")))
	assert.True(t, tab.Lines[1].PriceUnit.Equal(dec("3.00")))
	assert.True(t, tab.Total.Equal(dec("5.00")))
}

func TestUnlinkUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "t1", "1.00")
	tab, err := f.ledger.OpenAccount(ctx, caller("t1", 3), OpenAccountInput{})
	require.NoError(t, err)
	_, err = f.ledger.AddLines(ctx, caller("t1", 3), tab.ID, []LineInput{{ProductID: p, Quantity: 1}})
	require.NoError(t, err)
	_, err = f.ledger.CloseAccount(ctx, caller("t1", 3), tab.ID, "cash")
	require.NoError(t, err)

	require.NoError(t, UnlinkUser(f.db, "t1", 3))

	got, err := f.ledger.Get(ctx, caller("t1", 1), tab.ID)
	require.NoError(t, err)
	assert.Nil(t, got.UserID)
	assert.Nil(t, got.ClosedByID)
	assert.True(t, got.Total.Equal(dec("1.00")))
}

func TestListPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := caller("t1", 1)
	for i := 0; i < 5; i++ {
		_, err := f.ledger.OpenAccount(ctx, me, OpenAccountInput{})
		require.NoError(t, err)
	}
	page1, err := f.ledger.List(ctx, me, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	page3, err := f.ledger.List(ctx, me, 4, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Greater(t, page1[0].ID, page3[0].ID)
}

// A competing tab that lands between the occupancy count and the insert is
// caught by the unique index and reported as an occupied table.
func TestOpenAccountRaceOnUniqueIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	table := f.table(t, "t1", "T3")

	fired := false
	err := f.db.Callback().Create().Before("gorm:create").Register("test:competing_tab", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "sales" {
			return
		}
		fired = true
		err := tx.Session(&gorm.Session{NewDB: true}).Exec(
			`INSERT INTO sales (tenant_id, total, payment_method, status, table_id, created_at, updated_at)
			 VALUES (?, 0, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			"t1", models.PaymentCash, models.SaleStatusOpen, table).Error
		require.NoError(t, err)
	})
	require.NoError(t, err)

	sale, err := f.ledger.OpenAccount(ctx, caller("t1", 1), OpenAccountInput{TableID: &table})
	require.True(t, fired)
	assert.Nil(t, sale)
	require.ErrorIs(t, err, ErrTableOccupied)
	assert.Equal(t, "table_occupied", CodeOf(err))

	var n int64
	require.NoError(t, f.db.Model(&models.Sale{}).Count(&n).Error)
	assert.Zero(t, n, "the failed transaction rolls back the competing insert too")
}

func TestOpenAccountOnInactiveTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	table := f.table(t, "t1", "Terrace")
	require.NoError(t, f.db.Model(&models.Table{}).Where("id = ?", table).Update("is_active", false).Error)

	_, err := f.ledger.OpenAccount(ctx, caller("t1", 1), OpenAccountInput{TableID: &table})
	assert.ErrorIs(t, err, ErrTableNotFound)

	ok, err := NewGormTableRegistry(f.db).Exists(ctx, "t1", table)
	require.NoError(t, err)
	assert.False(t, ok)
}
