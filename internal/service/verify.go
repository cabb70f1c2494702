// verify.go — публичная проверка цепочки владения партией.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

// Статусы шага в отчёте проверки.
const (
	OnChainVerified          = "verified"
	OnChainNotFound          = "not_found"
	OnChainCheckFailed       = "check_failed"
	OnChainPending           = "pending"
	OnChainFailed            = "failed"
	OnChainAwaitingSignature = "awaiting_signature"
)

// VerificationStep — одно proof-событие в отчёте.
type VerificationStep struct {
	Step          int
	Holder        string
	EventType     lifecycle.EventType
	TxHash        *string
	Status        lifecycle.EventStatus
	OnChainStatus string
}

// VerifiedAnchor — закреплённый документ в отчёте.
type VerifiedAnchor struct {
	DocumentHash string
	DocumentType string
	Visibility   string
	TxHash       *string
	Status       lifecycle.EventStatus
}

// VerificationReport — отчёт о цепочке владения партией.
type VerificationReport struct {
	BatchID         string
	BatchNumber     string
	Fingerprint     string
	CurrentHolder   *string
	ConfirmedHolder *string
	Step            int
	BatchStatus     lifecycle.BatchStatus
	ConfirmedStatus *lifecycle.BatchStatus
	// IsValid — все события подтверждены и нет ни одного FAILED
	IsValid bool
	// OnChainMatch — все подтверждённые транзакции найдены в сети
	OnChainMatch    bool
	Steps           []VerificationStep
	DocumentAnchors []VerifiedAnchor
}

// Verifier собирает отчёт проверки партии.
type Verifier struct {
	store       repository.Store
	chain       ChainAdapter
	cache       *TxStatusCache
	concurrency int
	logger      *slog.Logger
}

// NewVerifier создаёт Verifier. cache может быть nil.
func NewVerifier(store repository.Store, chain ChainAdapter, cache *TxStatusCache, concurrency int, logger *slog.Logger) *Verifier {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Verifier{
		store:       store,
		chain:       chain,
		cache:       cache,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "verify")),
	}
}

// VerifyBatch строит отчёт по отпечатку NFT или UUID партии.
func (v *Verifier) VerifyBatch(ctx context.Context, batchIDOrFingerprint string) (*VerificationReport, error) {
	asset, err := v.resolveAsset(ctx, batchIDOrFingerprint)
	if err != nil {
		return nil, err
	}

	repos := v.store.Repos()
	batch, err := repos.Batches.GetByID(ctx, asset.BatchID)
	if err != nil {
		return nil, repoErr(err, "партия "+asset.BatchID)
	}
	events, err := repos.Events.ListByBatch(ctx, asset.BatchID)
	if err != nil {
		return nil, err
	}
	anchors, err := repos.Anchors.ListByBatch(ctx, asset.BatchID)
	if err != nil {
		return nil, err
	}

	steps := make([]VerificationStep, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, e := range events {
		steps[i] = VerificationStep{
			Step:      i,
			Holder:    e.SignerVkh,
			EventType: e.EventType,
			TxHash:    e.OnChainTxHash,
			Status:    e.Status,
		}
		g.Go(func() error {
			steps[i].OnChainStatus = v.onChainStatus(gctx, e)
			return nil
		})
	}
	_ = g.Wait() // горутины не возвращают ошибок

	report := &VerificationReport{
		BatchID:         batch.ID,
		BatchNumber:     batch.BatchNumber,
		Fingerprint:     asset.Fingerprint,
		CurrentHolder:   asset.CurrentHolder,
		ConfirmedHolder: asset.ConfirmedHolder,
		Step:            asset.Step,
		BatchStatus:     batch.Status,
		ConfirmedStatus: batch.ConfirmedStatus,
		IsValid:         true,
		OnChainMatch:    true,
		Steps:           steps,
		DocumentAnchors: make([]VerifiedAnchor, 0, len(anchors)),
	}
	for _, e := range events {
		if e.Status != lifecycle.EventConfirmed {
			report.IsValid = false
		}
	}
	for _, s := range steps {
		if s.OnChainStatus != OnChainVerified {
			report.OnChainMatch = false
		}
	}
	for _, a := range anchors {
		report.DocumentAnchors = append(report.DocumentAnchors, VerifiedAnchor{
			DocumentHash: a.DocumentHash,
			DocumentType: a.DocumentType,
			Visibility:   a.Visibility,
			TxHash:       a.OnChainTxHash,
			Status:       a.Status,
		})
	}
	return report, nil
}

// resolveAsset ищет NFT сначала по отпечатку, затем по UUID партии.
func (v *Verifier) resolveAsset(ctx context.Context, key string) (*model.OnChainAsset, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: не задан идентификатор партии или отпечаток", ErrValidation)
	}
	assets := v.store.Repos().Assets

	asset, err := assets.GetByFingerprint(ctx, key)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if validateID(key, "batchId") == nil {
		asset, err = assets.GetByBatchID(ctx, key)
		if err == nil {
			return asset, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: NFT для %s не найден", ErrNotFound, key)
}

func (v *Verifier) onChainStatus(ctx context.Context, e *model.ProofEvent) string {
	switch e.Status {
	case lifecycle.EventConfirmed:
		if e.OnChainTxHash == nil || *e.OnChainTxHash == "" {
			return OnChainAwaitingSignature
		}
	case lifecycle.EventSubmitted:
		return OnChainPending
	case lifecycle.EventFailed:
		return OnChainFailed
	default:
		return OnChainAwaitingSignature
	}

	txHash := *e.OnChainTxHash
	if v.cache != nil {
		if st, ok := v.cache.Get(txHash); ok {
			return txStatusLabel(st)
		}
	}
	st, err := v.chain.GetTxStatus(ctx, txHash)
	if err != nil {
		v.logger.Warn("Ошибка проверки транзакции в сети",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return OnChainCheckFailed
	}
	if v.cache != nil {
		v.cache.Set(txHash, st)
	}
	return txStatusLabel(st)
}

func txStatusLabel(st *chainclient.TxStatus) string {
	if st.Status == chainclient.StatusConfirmed {
		return OnChainVerified
	}
	return OnChainNotFound
}
