package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEscrowMock(t *testing.T) (pgxmock.PgxPoolIface, *EscrowRepo) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, NewEscrowRepo(mock)
}

func sampleEscrow() *domain.Escrow {
	return &domain.Escrow{
		OrderID:     uuid.New(),
		OwnerPubKey: testPubkey,
		BTCAmount:   decimal.RequireFromString("0.0009"),
		Status:      domain.EscrowStatusLocked,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func escrowRows(e *domain.Escrow) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"order_id", "owner_pubkey", "btc_amount", "status",
		"provider_amount", "platform_amount", "created_at", "released_at",
	}).AddRow(
		e.OrderID, e.OwnerPubKey, e.BTCAmount, e.Status,
		e.ProviderAmount, e.PlatformAmount, e.CreatedAt, e.ReleasedAt,
	)
}

func TestEscrowRepo_Create(t *testing.T) {
	mock, repo := newEscrowMock(t)
	defer mock.Close()
	e := sampleEscrow()

	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(
			e.OrderID, e.OwnerPubKey, e.BTCAmount, e.Status,
			e.ProviderAmount, e.PlatformAmount, e.CreatedAt, e.ReleasedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), e)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_Create_DuplicateMapsToAlreadyExists(t *testing.T) {
	mock, repo := newEscrowMock(t)
	defer mock.Close()
	e := sampleEscrow()

	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(
			e.OrderID, e.OwnerPubKey, e.BTCAmount, e.Status,
			e.ProviderAmount, e.PlatformAmount, e.CreatedAt, e.ReleasedAt,
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), e)
	assert.True(t, errors.Is(err, ports.ErrAlreadyExists))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByOrderID(t *testing.T) {
	mock, repo := newEscrowMock(t)
	defer mock.Close()
	e := sampleEscrow()

	mock.ExpectQuery("SELECT (.+) FROM escrows WHERE order_id").
		WithArgs(e.OrderID).
		WillReturnRows(escrowRows(e))

	got, err := repo.GetByOrderID(context.Background(), e.OrderID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.BTCAmount.Equal(e.BTCAmount))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByOrderID_NotFound(t *testing.T) {
	mock, repo := newEscrowMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM escrows WHERE order_id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByOrderID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_Update(t *testing.T) {
	mock, repo := newEscrowMock(t)
	defer mock.Close()
	e := sampleEscrow()
	now := time.Now().UTC()
	e.Status = domain.EscrowStatusReleased
	e.ReleasedAt = &now
	e.ProviderAmount = decimal.RequireFromString("0.000855")
	e.PlatformAmount = decimal.RequireFromString("0.000018")
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE escrows SET").
		WithArgs(e.Status, e.ProviderAmount, e.PlatformAmount, e.ReleasedAt, e.OrderID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	err = repo.Update(ctx, tx, e)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
