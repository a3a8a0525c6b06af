package postgres

import (
	"context"
	"testing"
	"time"

	"nostr-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollateralMock(t *testing.T) (pgxmock.PgxPoolIface, *CollateralRepo) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, NewCollateralRepo(mock)
}

func TestCollateralRepo_CreateDeposit(t *testing.T) {
	mock, repo := newCollateralMock(t)
	defer mock.Close()
	d := &domain.CollateralDeposit{
		ID:             uuid.New(),
		ProviderPubKey: testPubkey,
		TierID:         "basic",
		FiatAmount:     decimal.RequireFromString("25.00"),
		SatsAmount:     750,
		Status:         domain.DepositStatusPending,
		Invoice:        "lnsim750-xyz",
		CreatedAt:      time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO collateral_deposits").
		WithArgs(
			d.ID, d.ProviderPubKey, d.TierID, d.FiatAmount, d.SatsAmount,
			d.Status, d.Invoice, d.CreatedAt, d.PaidAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.CreateDeposit(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollateralRepo_MarkDepositPaid_OnlyFlipsPending(t *testing.T) {
	mock, repo := newCollateralMock(t)
	defer mock.Close()
	id := uuid.New()
	paidAt := time.Now().UTC()

	mock.ExpectExec("UPDATE collateral_deposits SET status = 'paid'").
		WithArgs(paidAt, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MarkDepositPaid(context.Background(), id, paidAt)
	require.NoError(t, err)

	// A deposit already out of pending affects zero rows and errors.
	mock.ExpectExec("UPDATE collateral_deposits SET status = 'paid'").
		WithArgs(paidAt, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.MarkDepositPaid(context.Background(), id, paidAt)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollateralRepo_SumPaidSats(t *testing.T) {
	mock, repo := newCollateralMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(sats_amount\\), 0\\) FROM collateral_deposits").
		WithArgs(testPubkey).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(1250)))

	total, err := repo.SumPaidSats(context.Background(), testPubkey)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollateralRepo_CreateHold_Upserts(t *testing.T) {
	mock, repo := newCollateralMock(t)
	defer mock.Close()
	h := &domain.CollateralHold{
		OrderID:        uuid.New(),
		ProviderPubKey: testPubkey,
		LockedSats:     500,
		CreatedAt:      time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO collateral_holds").
		WithArgs(h.OrderID, h.ProviderPubKey, h.LockedSats, h.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.CreateHold(context.Background(), h)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollateralRepo_DeleteHold_AbsentIsNoop(t *testing.T) {
	mock, repo := newCollateralMock(t)
	defer mock.Close()
	orderID := uuid.New()

	mock.ExpectExec("DELETE FROM collateral_holds").
		WithArgs(orderID, testPubkey).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.DeleteHold(context.Background(), orderID, testPubkey)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollateralRepo_CountHolds(t *testing.T) {
	mock, repo := newCollateralMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM collateral_holds").
		WithArgs(testPubkey).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountHolds(context.Background(), testPubkey)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
