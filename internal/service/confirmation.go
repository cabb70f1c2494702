// confirmation.go — применение результата транзакции к состоянию партии.
//
// ApplyConfirmation и ApplyFailure — единственный путь изменения состояния
// по результату транзакции: его используют и ручная проверка, и фоновый
// опрос. Каждый вызов выполняется одной транзакцией БД и начинается с
// compare-and-set события SUBMITTED → CONFIRMED | FAILED. Если событие уже
// не SUBMITTED, вызов ничего не меняет, поэтому побочные эффекты
// применяются ровно один раз.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

// DefaultFailureMessage — сообщение об ошибке, если сеть не вернула причину.
const DefaultFailureMessage = "transaction failed"

// confirmHandler применяет подтверждённое событие одного типа.
type confirmHandler func(ctx context.Context, r *repository.Repos, e *model.ProofEvent, txHash string) error

// handlerFor возвращает обработчик подтверждения для типа события.
func handlerFor(t lifecycle.EventType) (confirmHandler, error) {
	switch t {
	case lifecycle.EventMint:
		return confirmMint, nil
	case lifecycle.EventTransfer:
		return confirmTransfer, nil
	case lifecycle.EventDocumentAnchor:
		return confirmDocumentAnchor, nil
	case lifecycle.EventRecall:
		return confirmRecall, nil
	default:
		return nil, fmt.Errorf("%w: подтверждение события типа %q", ErrUnsupported, t)
	}
}

// Confirmer применяет подтверждения и ошибки транзакций.
type Confirmer struct {
	store  repository.Store
	logger *slog.Logger
}

// NewConfirmer создаёт Confirmer.
func NewConfirmer(store repository.Store, logger *slog.Logger) *Confirmer {
	return &Confirmer{
		store:  store,
		logger: logger.With(slog.String("component", "confirmer")),
	}
}

// ApplyConfirmation переводит событие в CONFIRMED и применяет его эффекты.
// txHash пустой — используется сохранённый хеш события.
// Возвращает false, если событие уже не было SUBMITTED.
func (c *Confirmer) ApplyConfirmation(ctx context.Context, e *model.ProofEvent, txHash string) (bool, error) {
	handler, err := handlerFor(e.EventType)
	if err != nil {
		return false, err
	}
	if txHash == "" && e.OnChainTxHash != nil {
		txHash = *e.OnChainTxHash
	}
	if txHash == "" {
		return false, fmt.Errorf("%w: у события %s нет хеша транзакции", ErrConflict, e.ID)
	}

	applied := false
	err = c.store.InTx(ctx, func(r *repository.Repos) error {
		ok, err := r.Events.MarkConfirmed(ctx, e.ID, txHash)
		if err != nil || !ok {
			return err
		}
		if err := handler(ctx, r, e, txHash); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("применение подтверждения события %s: %w", e.ID, err)
	}

	if applied {
		c.logger.Info("Транзакция подтверждена",
			slog.String("proof_event_id", e.ID),
			slog.String("event_type", string(e.EventType)),
			slog.String("batch_id", e.BatchID),
			slog.String("tx_hash", txHash),
		)
	}
	return applied, nil
}

// ApplyFailure переводит событие в FAILED, связанное закрепление — тоже в
// FAILED. Статус партии не меняется.
func (c *Confirmer) ApplyFailure(ctx context.Context, e *model.ProofEvent, message string) (bool, error) {
	if message == "" {
		message = DefaultFailureMessage
	}

	applied := false
	err := c.store.InTx(ctx, func(r *repository.Repos) error {
		ok, err := r.Events.MarkFailed(ctx, e.ID, message)
		if err != nil || !ok {
			return err
		}
		if _, err := r.Anchors.MarkFailedByBuild(ctx, e.BuildID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("применение ошибки события %s: %w", e.ID, err)
	}

	if applied {
		c.logger.Warn("Транзакция не прошла",
			slog.String("proof_event_id", e.ID),
			slog.String("event_type", string(e.EventType)),
			slog.String("batch_id", e.BatchID),
			slog.String("error", message),
		)
	}
	return applied, nil
}

// confirmMint: UTxO выпуска, подтверждённый держатель — производитель,
// партия подтверждена как MINTED.
func confirmMint(ctx context.Context, r *repository.Repos, e *model.ProofEvent, txHash string) error {
	asset, err := r.Assets.GetByBatchID(ctx, e.BatchID)
	if err != nil {
		return repoErr(err, "NFT партии "+e.BatchID)
	}
	if err := r.Assets.ApplyMint(ctx, e.BatchID, chainclient.FormatUtxoRef(txHash, 0), asset.ManufacturerVkh); err != nil {
		return err
	}
	if err := settleBatch(ctx, r, e.BatchID, lifecycle.BatchDraft, lifecycle.BatchMinted); err != nil {
		return err
	}
	return stampParticipant(ctx, r, e.BatchID, e.SignerVkh)
}

// confirmTransfer: step+1, новый UTxO, держатель — получатель из события.
func confirmTransfer(ctx context.Context, r *repository.Repos, e *model.ProofEvent, txHash string) error {
	if e.TargetVkh == nil || *e.TargetVkh == "" {
		return fmt.Errorf("%w: в событии %s не записан получатель", ErrConflict, e.ID)
	}
	if err := r.Assets.ApplyTransfer(ctx, e.BatchID, chainclient.FormatUtxoRef(txHash, 0), *e.TargetVkh); err != nil {
		return err
	}
	return settleBatch(ctx, r, e.BatchID, lifecycle.BatchMinted, lifecycle.BatchInTransit)
}

func confirmDocumentAnchor(ctx context.Context, r *repository.Repos, e *model.ProofEvent, txHash string) error {
	_, err := r.Anchors.MarkConfirmedByBuild(ctx, e.BuildID, txHash)
	return err
}

// confirmRecall: уведомление об отзыве подтверждено, партия подтверждена
// как RECALLED. Заявленный статус уже RECALLED с момента запроса.
func confirmRecall(ctx context.Context, r *repository.Repos, e *model.ProofEvent, txHash string) error {
	if _, err := r.Anchors.MarkConfirmedByBuild(ctx, e.BuildID, txHash); err != nil {
		return err
	}
	return settleBatch(ctx, r, e.BatchID, "", lifecycle.BatchRecalled)
}

// settleBatch записывает подтверждённый статус и, если заявленный статус
// всё ещё declaredFrom, продвигает его в confirmed.
func settleBatch(ctx context.Context, r *repository.Repos, batchID string, declaredFrom, confirmed lifecycle.BatchStatus) error {
	batch, err := r.Batches.GetByIDForUpdate(ctx, batchID)
	if err != nil {
		return repoErr(err, "партия "+batchID)
	}

	if cur := batch.ConfirmedStatus; cur == nil || *cur == confirmed || lifecycle.CanTransition(*cur, confirmed) {
		if err := r.Batches.SetConfirmedStatus(ctx, batchID, confirmed); err != nil {
			return err
		}
	}

	if declaredFrom != "" && batch.Status == declaredFrom {
		err := r.Batches.UpdateStatus(ctx, batchID, declaredFrom, confirmed)
		if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			return err
		}
	}
	return nil
}
