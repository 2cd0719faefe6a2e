package recordlocks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

var salesOrder = DocumentRef{CompanyID: 1, Module: shared.ModuleSales, DocumentID: "SO-100"}

func lockAt(d time.Time, qty, price string) LockInput {
	return LockInput{Document: salesOrder, AsOf: d, Quantity: shared.Amount(qty), Price: shared.Amount(price), ActorID: 3}
}

func TestLockAndLookup(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryRepository(), nil, nil)
	jan31 := time.Date(2025, time.January, 31, 17, 30, 0, 0, time.UTC)

	snap, err := q.Lock(ctx, lockAt(jan31, "12", "4.5"))
	require.NoError(t, err)
	assert.Equal(t, "54.0000", shared.FormatAmount(snap.Amount()))

	got, err := q.Lookup(ctx, salesOrder, time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(shared.Amount("4.5")))

	_, err = q.Lookup(ctx, salesOrder, time.Date(2025, time.January, 30, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestLockIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryRepository(), nil, nil)
	jan31 := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)

	first, err := q.Lock(ctx, lockAt(jan31, "12", "4.5"))
	require.NoError(t, err)
	again, err := q.Lock(ctx, lockAt(jan31, "12.0", "4.50"))
	require.NoError(t, err)
	assert.Equal(t, first.LockedAt, again.LockedAt)

	_, err = q.Lock(ctx, lockAt(jan31, "12", "5"))
	assert.ErrorIs(t, err, ErrSnapshotConflict)

	got, err := q.Lookup(ctx, salesOrder, jan31)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(shared.Amount("4.5")))
}

func TestLookupLatest(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryRepository(), nil, nil)
	feb28 := time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)
	jan31 := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	_, err := q.Lock(ctx, lockAt(feb28, "10", "6"))
	require.NoError(t, err)
	_, err = q.Lock(ctx, lockAt(jan31, "12", "4.5"))
	require.NoError(t, err)

	got, err := q.LookupLatest(ctx, salesOrder, time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got.AsOf.Equal(jan31))

	got, err = q.LookupLatest(ctx, salesOrder, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got.AsOf.Equal(feb28))

	_, err = q.LookupLatest(ctx, salesOrder, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	history, err := q.History(ctx, salesOrder)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].AsOf.Equal(jan31))
}

func TestLockRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryRepository(), nil, nil)
	jan31 := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)

	in := lockAt(jan31, "1", "1")
	in.Document.Module = shared.ModuleGeneral
	_, err := q.Lock(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = q.Lock(ctx, lockAt(jan31, "-1", "1"))
	assert.ErrorIs(t, err, ErrInvalidFigures)

	_, err = q.Lock(ctx, lockAt(jan31, "1", "0.00001"))
	assert.ErrorIs(t, err, ErrInvalidFigures)

	purchase := lockAt(jan31, "1", "1")
	purchase.Document = DocumentRef{CompanyID: 1, Module: shared.ModulePurchase, DocumentID: "PO-1"}
	_, err = q.Lock(ctx, purchase)
	require.NoError(t, err)
}
