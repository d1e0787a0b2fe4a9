package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func newMockOutbox(t *testing.T) (*OutboxAdapter, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewOutboxAdapter(db), mock, func() { db.Close() }
}

func TestOutboxAdapter_EnqueueDelivery(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d := &v1.Delivery{
		ID:            "d-1",
		ContractID:    "c-1",
		EventJSON:     json.RawMessage(`{"source":"shop","type":"order.created"}`),
		TargetURL:     "https://billing.example/hook",
		TargetSecret:  "s3",
		Status:        v1.StatusPending,
		AttemptCount:  0,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	mock.ExpectExec(regexp.QuoteMeta(queryEnqueueDelivery)).
		WithArgs(
			d.ID,
			d.ContractID,
			[]byte(d.EventJSON),
			d.TargetURL,
			d.TargetSecret,
			string(v1.StatusPending),
			d.AttemptCount,
			d.NextAttemptAt,
			d.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.EnqueueDelivery(context.Background(), d))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_ClaimDueDeliveries(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lockTimeout := 5 * time.Minute

	mock.ExpectQuery(regexp.QuoteMeta(queryClaimDueDeliveries)).
		WithArgs(now, now.Add(-lockTimeout), 50).
		WillReturnRows(sqlmock.NewRows(deliveryRowColumns()).
			AddRow(
				"d-1",
				"c-1",
				[]byte(`{"source":"shop","type":"order.created"}`),
				"https://billing.example/hook",
				"s3",
				"pending",
				2,
				now.Add(-time.Second),
				"HTTP 503: overloaded",
				now,
				now.Add(-time.Hour),
				nil,
			),
		).RowsWillBeClosed()

	claimed, err := adapter.ClaimDueDeliveries(context.Background(), now, 50, lockTimeout)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	d := claimed[0]
	require.Equal(t, "d-1", d.ID)
	require.Equal(t, "c-1", d.ContractID)
	require.Equal(t, v1.StatusPending, d.Status)
	require.Equal(t, 2, d.AttemptCount)
	require.Equal(t, "HTTP 503: overloaded", d.LastError)
	require.NotNil(t, d.LockedAt)
	require.Nil(t, d.DeliveredAt)
	require.JSONEq(t, `{"source":"shop","type":"order.created"}`, string(d.EventJSON))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_ClaimDueDeliveries_Empty(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(queryClaimDueDeliveries)).
		WithArgs(now, now.Add(-time.Minute), 10).
		WillReturnRows(sqlmock.NewRows(deliveryRowColumns()))

	claimed, err := adapter.ClaimDueDeliveries(context.Background(), now, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_MarkDelivered(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	deliveredAt := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(queryMarkDelivered)).
		WithArgs("d-1", 1, deliveredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.MarkDelivered(context.Background(), "d-1", 1, deliveredAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_MarkDelivered_AlreadyTerminal(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	// The guard on status = 'pending' makes a second terminal transition a
	// zero-row update.
	mock.ExpectExec(regexp.QuoteMeta(queryMarkDelivered)).
		WithArgs("d-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := adapter.MarkDelivered(context.Background(), "d-1", 1, time.Now().UTC())
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_MarkRetry(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	next := time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(queryMarkRetry)).
		WithArgs("d-1", 1, next, "HTTP 500: boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.MarkRetry(context.Background(), "d-1", 1, next, "HTTP 500: boom"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_MarkRejected(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	mock.ExpectExec(regexp.QuoteMeta(queryMarkRejected)).
		WithArgs("d-1", 1, "HTTP 404: gone").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.MarkRejected(context.Background(), "d-1", 1, "HTTP 404: gone"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_MarkDeadLetter(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	mock.ExpectExec(regexp.QuoteMeta(queryMarkDeadLetter)).
		WithArgs("d-1", 10, "HTTP 503: still broken").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.MarkDeadLetter(context.Background(), "d-1", 10, "HTTP 503: still broken"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_GetDelivery(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	delivered := created.Add(3 * time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetDelivery)).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows(deliveryRowColumns()).
			AddRow(
				"d-1",
				"c-1",
				[]byte(`{"source":"shop","type":"order.created"}`),
				"https://billing.example/hook",
				"s3",
				"delivered",
				1,
				created,
				nil,
				nil,
				created,
				delivered,
			),
		)

	d, err := adapter.GetDelivery(context.Background(), "d-1")
	require.NoError(t, err)
	require.Equal(t, v1.StatusDelivered, d.Status)
	require.Equal(t, 1, d.AttemptCount)
	require.Empty(t, d.LastError)
	require.Nil(t, d.LockedAt)
	require.NotNil(t, d.DeliveredAt)
	require.Equal(t, delivered, d.DeliveredAt.UTC())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxAdapter_GetDelivery_NotFound(t *testing.T) {
	adapter, mock, closeDB := newMockOutbox(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta(queryGetDelivery)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(deliveryRowColumns()))

	_, err := adapter.GetDelivery(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func deliveryRowColumns() []string {
	return []string{
		"id",
		"contract_id",
		"event",
		"target_url",
		"target_secret",
		"status",
		"attempt_count",
		"next_attempt_at",
		"last_error",
		"locked_at",
		"created_at",
		"delivered_at",
	}
}
