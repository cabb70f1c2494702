package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

func TestHandlerFor_CoversAllEventTypes(t *testing.T) {
	for _, et := range lifecycle.EventTypes() {
		h, err := handlerFor(et)
		require.NoError(t, err, et)
		assert.NotNil(t, h, et)
	}
	_, err := handlerFor("BURN")
	require.ErrorIs(t, err, ErrUnsupported)
}

// event читает текущее состояние события.
func (e *env) event(t *testing.T, id string) *model.ProofEvent {
	t.Helper()
	ev, err := e.store.Repos().Events.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func TestApplyConfirmation_Mint(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	mfr := e.participant(t, "Acme Pharma", model.RoleManufacturer, mfrVkh)
	b := e.batch(t)
	mint, err := e.lifecycle.MintBatchNft(ctx, mfrSession, b.ID)
	require.NoError(t, err)
	e.submit(t, &mint.SigningMaterial)

	applied, err := e.confirmer.ApplyConfirmation(ctx, e.event(t, mint.ProofEventID), "txmint")
	require.NoError(t, err)
	assert.True(t, applied)

	snap := e.store.snapshot()
	assert.Equal(t, lifecycle.EventConfirmed, snap.events[mint.ProofEventID].Status)
	asset := snap.assets[b.ID]
	assert.Equal(t, "txmint#0", *asset.CurrentUtxoRef)
	assert.Equal(t, mfrVkh, *asset.ConfirmedHolder)
	assert.Equal(t, 0, asset.Step)

	batch := snap.batches[b.ID]
	assert.Equal(t, lifecycle.BatchMinted, batch.Status)
	assert.Equal(t, lifecycle.BatchMinted, *batch.ConfirmedStatus)
	assert.True(t, batch.IsChainVerified())
	assert.Equal(t, mfr.ID, *batch.ManufacturerID)
}

func TestApplyConfirmation_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	dist := e.participant(t, "MedDistrib", model.RoleDistributor, distVkh)
	b := e.batch(t)
	e.mintConfirmed(t, b)
	tr, err := e.lifecycle.TransferBatch(ctx, mfrSession, TransferRequest{BatchID: b.ID, ToParticipantID: dist.ID})
	require.NoError(t, err)
	e.submit(t, tr)
	ev := e.event(t, tr.ProofEventID)

	applied, err := e.confirmer.ApplyConfirmation(ctx, ev, "txtransfer")
	require.NoError(t, err)
	require.True(t, applied)

	// Повторное подтверждение не меняет шаг и держателя
	applied, err = e.confirmer.ApplyConfirmation(ctx, ev, "txtransfer")
	require.NoError(t, err)
	assert.False(t, applied)

	asset := e.store.snapshot().assets[b.ID]
	assert.Equal(t, 1, asset.Step)
	assert.Equal(t, "txtransfer#0", *asset.CurrentUtxoRef)
	assert.Equal(t, distVkh, *asset.ConfirmedHolder)
	assert.Equal(t, distVkh, *asset.CurrentHolder)

	batch := e.store.snapshot().batches[b.ID]
	assert.Equal(t, lifecycle.BatchInTransit, batch.Status)
	assert.Equal(t, lifecycle.BatchInTransit, *batch.ConfirmedStatus)
}

func TestApplyConfirmation_StoredHash(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.batch(t)
	mint, err := e.lifecycle.MintBatchNft(ctx, mfrSession, b.ID)
	require.NoError(t, err)
	res := e.submit(t, &mint.SigningMaterial)

	applied, err := e.confirmer.ApplyConfirmation(ctx, e.event(t, mint.ProofEventID), "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, res.TxHash+"#0", *e.store.snapshot().assets[b.ID].CurrentUtxoRef)
}

func TestApplyConfirmation_NoHash(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.batch(t)
	mint, err := e.lifecycle.MintBatchNft(ctx, mfrSession, b.ID)
	require.NoError(t, err)

	// Событие ещё PENDING, хеша нет
	_, err = e.confirmer.ApplyConfirmation(ctx, e.event(t, mint.ProofEventID), "")
	require.ErrorIs(t, err, ErrConflict)
}

func TestApplyConfirmation_DoesNotRegressDeclaredStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	dist := e.participant(t, "MedDistrib", model.RoleDistributor, distVkh)
	b := e.batch(t)
	e.mintConfirmed(t, b)
	tr, err := e.lifecycle.TransferBatch(ctx, mfrSession, TransferRequest{BatchID: b.ID, ToParticipantID: dist.ID})
	require.NoError(t, err)
	e.submit(t, tr)
	_, err = e.lifecycle.ConfirmReceipt(ctx, b.ID)
	require.NoError(t, err)

	// Перевод подтверждается уже после приёмки
	applied, err := e.confirmer.ApplyConfirmation(ctx, e.event(t, tr.ProofEventID), "txtransfer")
	require.NoError(t, err)
	require.True(t, applied)

	batch := e.store.snapshot().batches[b.ID]
	assert.Equal(t, lifecycle.BatchDelivered, batch.Status)
	assert.Equal(t, lifecycle.BatchInTransit, *batch.ConfirmedStatus)
}

func TestApplyConfirmation_DocumentAnchor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.batch(t)
	e.mintConfirmed(t, b)
	m, err := e.lifecycle.AnchorDocument(ctx, mfrSession, AnchorRequest{BatchID: b.ID, DocumentHash: "h1", DocumentType: "COA"})
	require.NoError(t, err)
	e.submit(t, m)

	for _, a := range e.store.snapshot().anchors {
		assert.Equal(t, lifecycle.EventSubmitted, a.Status)
	}

	applied, err := e.confirmer.ApplyConfirmation(ctx, e.event(t, m.ProofEventID), "txanchor")
	require.NoError(t, err)
	require.True(t, applied)

	snap := e.store.snapshot()
	for _, a := range snap.anchors {
		assert.Equal(t, lifecycle.EventConfirmed, a.Status)
		assert.Equal(t, "txanchor", *a.OnChainTxHash)
	}
	assert.Equal(t, lifecycle.BatchMinted, snap.batches[b.ID].Status)
}

func TestApplyConfirmation_Recall(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.batch(t)
	e.mintConfirmed(t, b)
	m, err := e.lifecycle.RecallBatch(ctx, mfrSession, b.ID, "contamination")
	require.NoError(t, err)
	e.submit(t, m)

	applied, err := e.confirmer.ApplyConfirmation(ctx, e.event(t, m.ProofEventID), "txrecall")
	require.NoError(t, err)
	require.True(t, applied)

	snap := e.store.snapshot()
	batch := snap.batches[b.ID]
	assert.Equal(t, lifecycle.BatchRecalled, batch.Status)
	assert.Equal(t, lifecycle.BatchRecalled, *batch.ConfirmedStatus)
	for _, a := range snap.anchors {
		assert.Equal(t, model.DocumentTypeRecallNotice, a.DocumentType)
		assert.Equal(t, lifecycle.EventConfirmed, a.Status)
	}
}

func TestApplyFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.batch(t)
	e.mintConfirmed(t, b)
	m, err := e.lifecycle.AnchorDocument(ctx, mfrSession, AnchorRequest{BatchID: b.ID, DocumentHash: "h1", DocumentType: "COA"})
	require.NoError(t, err)
	e.submit(t, m)
	ev := e.event(t, m.ProofEventID)

	applied, err := e.confirmer.ApplyFailure(ctx, ev, "")
	require.NoError(t, err)
	require.True(t, applied)

	snap := e.store.snapshot()
	failed := snap.events[m.ProofEventID]
	assert.Equal(t, lifecycle.EventFailed, failed.Status)
	assert.Equal(t, DefaultFailureMessage, *failed.ErrorMessage)
	for _, a := range snap.anchors {
		assert.Equal(t, lifecycle.EventFailed, a.Status)
	}
	assert.Equal(t, lifecycle.BatchMinted, snap.batches[b.ID].Status)

	// Событие уже FAILED: подтверждение и повторная ошибка ничего не меняют
	applied, err = e.confirmer.ApplyFailure(ctx, ev, "again")
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = e.confirmer.ApplyConfirmation(ctx, ev, "late")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, DefaultFailureMessage, *e.event(t, m.ProofEventID).ErrorMessage)
}

func TestApplyFailure_MintKeepsOptimisticStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.batch(t)
	mint, err := e.lifecycle.MintBatchNft(ctx, mfrSession, b.ID)
	require.NoError(t, err)
	e.submit(t, &mint.SigningMaterial)

	applied, err := e.confirmer.ApplyFailure(ctx, e.event(t, mint.ProofEventID), "BadInputsUTxO")
	require.NoError(t, err)
	require.True(t, applied)

	batch := e.store.snapshot().batches[b.ID]
	assert.Equal(t, lifecycle.BatchMinted, batch.Status)
	assert.Nil(t, batch.ConfirmedStatus)
	assert.False(t, batch.IsChainVerified())
}
