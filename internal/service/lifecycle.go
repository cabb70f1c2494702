// lifecycle.go — действия жизненного цикла партии.
//
// Каждое действие сначала проверяет все предусловия, затем обращается к
// сервису сборки транзакций и только после этого пишет в БД — одной
// транзакцией. Изменения статусов выполняются compare-and-set по ожидаемому
// статусу: проигранная гонка возвращается как ErrConflict.
//
// Если сборка прошла, а запись в БД не удалась, сборка остаётся сиротой:
// пишется ошибка с build_id, повторной попытки нет.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
	"github.com/bigkaa/pharmatrace/internal/digest"
	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

// DefaultTransferReason — причина перевода по умолчанию.
const DefaultTransferReason = "ROUTINE"

// recallMessageRunes — максимальная длина причины отзыва в msg метаданных.
const recallMessageRunes = 60

// LifecycleService — действия над партией: выпуск, перевод, закрепление
// документов, отзыв, приёмка и отправка подписанных транзакций.
type LifecycleService struct {
	store repository.Store
	chain ChainAdapter
	// transferGrace — разрешать перевод, пока держатель NFT не записан
	transferGrace bool
	now           func() time.Time
	logger        *slog.Logger
}

// NewLifecycleService создаёт сервис жизненного цикла партии.
func NewLifecycleService(store repository.Store, chain ChainAdapter, transferGrace bool, logger *slog.Logger) *LifecycleService {
	return &LifecycleService{
		store:         store,
		chain:         chain,
		transferGrace: transferGrace,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "lifecycle")),
	}
}

// MintResult — результат MintBatchNft.
type MintResult struct {
	SigningMaterial
	PolicyID      string
	AssetName     string
	Fingerprint   string
	ScriptAddress string
}

// MintBatchNft собирает транзакцию выпуска NFT для партии в статусе DRAFT.
func (s *LifecycleService) MintBatchNft(ctx context.Context, session Session, batchID string) (*MintResult, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(batchID, "batchId"); err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	batch, err := repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, repoErr(err, "партия "+batchID)
	}
	if err := lifecycle.CheckAction(lifecycle.ActionMint, batch.Status); err != nil {
		return nil, actionErr(err)
	}
	if _, err := repos.Assets.GetByBatchID(ctx, batchID); err == nil {
		return nil, fmt.Errorf("%w: NFT для партии %s уже выпущен", ErrConflict, batch.BatchNumber)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	payloadDigest, err := digest.ComputeJSON(batch.OriginPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: origin_payload: %w", ErrValidation, err)
	}

	build, err := s.chain.BuildMint(ctx, chainclient.MintParams{
		SenderAddress:   session.WalletAddress,
		ManufacturerVkh: session.WalletVkh,
		BatchNumber:     batch.BatchNumber,
	})
	if err != nil {
		return nil, chainErr("сборка mint", err)
	}
	material, err := signingMaterial(ctx, s.chain, &build.Build)
	if err != nil {
		return nil, err
	}

	holder := session.WalletVkh
	event := &model.ProofEvent{
		ID:               uuid.NewString(),
		BatchID:          batchID,
		EventType:        lifecycle.EventMint,
		PayloadDigest:    payloadDigest,
		Schema:           lifecycle.EventMint.Schema(),
		SignerVkh:        session.WalletVkh,
		BuildID:          material.BuildID,
		SigningRequestID: material.SigningRequestID,
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		locked, err := r.Batches.GetByIDForUpdate(ctx, batchID)
		if err != nil {
			return repoErr(err, "партия "+batchID)
		}
		if err := lifecycle.CheckAction(lifecycle.ActionMint, locked.Status); err != nil {
			return actionErr(err)
		}
		asset := &model.OnChainAsset{
			ID:              uuid.NewString(),
			BatchID:         batchID,
			PolicyID:        build.PolicyID,
			AssetName:       build.AssetName,
			Fingerprint:     build.Fingerprint,
			ScriptAddress:   build.ScriptAddress,
			ManufacturerVkh: session.WalletVkh,
			CurrentHolder:   &holder,
		}
		if err := r.Assets.Create(ctx, asset); err != nil {
			return repoErr(err, "NFT партии")
		}
		if err := r.Events.Create(ctx, event); err != nil {
			return repoErr(err, "proof-событие")
		}
		return stampParticipant(ctx, r, batchID, session.WalletVkh)
	})
	if err != nil {
		s.logOrphan(material.BuildID, lifecycle.EventMint, err)
		return nil, err
	}

	material.ProofEventID = event.ID
	s.logger.Info("Транзакция выпуска NFT собрана",
		slog.String("batch_id", batchID),
		slog.String("build_id", material.BuildID),
		slog.String("policy_id", build.PolicyID),
	)

	return &MintResult{
		SigningMaterial: *material,
		PolicyID:        build.PolicyID,
		AssetName:       build.AssetName,
		Fingerprint:     build.Fingerprint,
		ScriptAddress:   build.ScriptAddress,
	}, nil
}

// TransferRequest — параметры перевода партии.
type TransferRequest struct {
	BatchID         string
	ToParticipantID string
	// Reason — причина перевода, по умолчанию ROUTINE
	Reason string
	Notes  string
}

// TransferBatch собирает перевод NFT партии следующему участнику.
// Переводить может только текущий держатель. Пока держатель не записан,
// перевод разрешён при включённом окне grace.
func (s *LifecycleService) TransferBatch(ctx context.Context, session Session, req TransferRequest) (*SigningMaterial, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(req.BatchID, "batchId"); err != nil {
		return nil, err
	}
	if err := validateID(req.ToParticipantID, "toParticipantId"); err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	batch, err := repos.Batches.GetByID(ctx, req.BatchID)
	if err != nil {
		return nil, repoErr(err, "партия "+req.BatchID)
	}
	if err := lifecycle.CheckAction(lifecycle.ActionTransfer, batch.Status); err != nil {
		return nil, actionErr(err)
	}

	asset, err := repos.Assets.GetByBatchID(ctx, req.BatchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: у партии нет NFT", ErrConflict)
		}
		return nil, err
	}
	if asset.CurrentUtxoRef == nil || asset.ManufacturerVkh == "" {
		return nil, fmt.Errorf("%w: выпуск NFT ещё не подтверждён в сети", ErrConflict)
	}
	utxo, err := chainclient.ParseUtxoRef(*asset.CurrentUtxoRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConflict, err)
	}

	if asset.CurrentHolder != nil && *asset.CurrentHolder != "" {
		if *asset.CurrentHolder != session.WalletVkh {
			return nil, fmt.Errorf("%w: переводить партию может только текущий держатель", ErrForbidden)
		}
	} else if !s.transferGrace {
		return nil, fmt.Errorf("%w: держатель NFT не записан", ErrForbidden)
	}

	target, err := repos.Participants.GetByID(ctx, req.ToParticipantID)
	if err != nil {
		return nil, repoErr(err, "участник "+req.ToParticipantID)
	}
	if target.Vkh == nil || *target.Vkh == "" {
		return nil, fmt.Errorf("%w: у участника %s нет VKH", ErrValidation, target.Name)
	}
	targetVkh := *target.Vkh

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultTransferReason
	}
	payloadDigest, err := digest.Compute(map[string]any{
		"reason":    reason,
		"notes":     req.Notes,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	build, err := s.chain.BuildTransfer(ctx, chainclient.TransferParams{
		SenderAddress:    session.WalletAddress,
		ManufacturerVkh:  asset.ManufacturerVkh,
		CurrentHolderVkh: session.WalletVkh,
		NextHolderVkh:    targetVkh,
		AssetName:        asset.AssetName,
		CurrentStep:      asset.Step,
		Utxo:             utxo,
	})
	if err != nil {
		return nil, chainErr("сборка перевода", err)
	}
	material, err := signingMaterial(ctx, s.chain, build)
	if err != nil {
		return nil, err
	}

	event := &model.ProofEvent{
		ID:                  uuid.NewString(),
		BatchID:             req.BatchID,
		EventType:           lifecycle.EventTransfer,
		PayloadDigest:       payloadDigest,
		Schema:              lifecycle.EventTransfer.Schema(),
		SignerVkh:           session.WalletVkh,
		TargetVkh:           &targetVkh,
		TargetParticipantID: &target.ID,
		BuildID:             material.BuildID,
		SigningRequestID:    material.SigningRequestID,
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		locked, err := r.Batches.GetByIDForUpdate(ctx, req.BatchID)
		if err != nil {
			return repoErr(err, "партия "+req.BatchID)
		}
		if err := lifecycle.CheckAction(lifecycle.ActionTransfer, locked.Status); err != nil {
			return actionErr(err)
		}
		if err := r.Events.Create(ctx, event); err != nil {
			return repoErr(err, "proof-событие")
		}
		if err := r.Batches.SetCurrentHolder(ctx, req.BatchID, target.ID); err != nil {
			return repoErr(err, "партия "+req.BatchID)
		}
		// CAS по держателю, прочитанному до сборки: параллельный перевод
		// того же UTxO получит конфликт
		if err := r.Assets.SetDeclaredHolder(ctx, req.BatchID, asset.CurrentHolder, targetVkh); err != nil {
			return repoErr(err, "держатель NFT партии")
		}
		return nil
	})
	if err != nil {
		s.logOrphan(material.BuildID, lifecycle.EventTransfer, err)
		return nil, err
	}

	material.ProofEventID = event.ID
	s.logger.Info("Транзакция перевода собрана",
		slog.String("batch_id", req.BatchID),
		slog.String("build_id", material.BuildID),
		slog.String("to_participant_id", target.ID),
		slog.Int("step", asset.Step+1),
	)
	return material, nil
}

// SubmitResult — результат SubmitSigned.
type SubmitResult struct {
	ProofEventID string
	TxHash       string
	SubmissionID string
	Status       lifecycle.EventStatus
}

// SubmitSigned отправляет подписанную транзакцию и переводит ожидающее
// событие (и связанное закрепление) в SUBMITTED. Для выпуска и перевода
// заявленный статус партии продвигается сразу, не дожидаясь подтверждения.
func (s *LifecycleService) SubmitSigned(ctx context.Context, signingRequestID, signedTxCbor string) (*SubmitResult, error) {
	signingRequestID = strings.TrimSpace(signingRequestID)
	signedTxCbor = strings.TrimSpace(signedTxCbor)
	if signingRequestID == "" || signedTxCbor == "" {
		return nil, fmt.Errorf("%w: signingRequestId и signedTxCbor обязательны", ErrValidation)
	}

	event, err := s.store.Repos().Events.GetPendingBySigningRequest(ctx, signingRequestID)
	if err != nil {
		return nil, repoErr(err, "ожидающее событие для запроса подписи "+signingRequestID)
	}

	sub, err := s.chain.SubmitSigned(ctx, signingRequestID, signedTxCbor)
	if err != nil {
		return nil, chainErr("отправка транзакции", err)
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Events.MarkSubmitted(ctx, event.ID, sub.TxHash, sub.SubmissionID); err != nil {
			return repoErr(err, "proof-событие")
		}
		if _, err := r.Anchors.MarkSubmittedBySigningRequest(ctx, signingRequestID, sub.TxHash, sub.SubmissionID); err != nil {
			return err
		}
		target, ok := event.EventType.OptimisticBatchStatus()
		if !ok {
			return nil
		}
		batch, err := r.Batches.GetByIDForUpdate(ctx, event.BatchID)
		if err != nil {
			return repoErr(err, "партия "+event.BatchID)
		}
		if !lifecycle.CanTransition(batch.Status, target) {
			return nil
		}
		return repoErr(r.Batches.UpdateStatus(ctx, event.BatchID, batch.Status, target), "партия "+event.BatchID)
	})
	if err != nil {
		s.logger.Error("Транзакция отправлена в сеть, но статус события не сохранён",
			slog.String("proof_event_id", event.ID),
			slog.String("tx_hash", sub.TxHash),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("Подписанная транзакция отправлена",
		slog.String("proof_event_id", event.ID),
		slog.String("event_type", string(event.EventType)),
		slog.String("tx_hash", sub.TxHash),
	)
	return &SubmitResult{
		ProofEventID: event.ID,
		TxHash:       sub.TxHash,
		SubmissionID: sub.SubmissionID,
		Status:       lifecycle.EventSubmitted,
	}, nil
}

// RetryFailedTransaction пересобирает транзакцию события в статусе FAILED.
// Поддерживаются только MINT и TRANSFER.
func (s *LifecycleService) RetryFailedTransaction(ctx context.Context, session Session, proofEventID string) (*SigningMaterial, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(proofEventID, "proofEventId"); err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	event, err := repos.Events.GetByID(ctx, proofEventID)
	if err != nil {
		return nil, repoErr(err, "proof-событие "+proofEventID)
	}
	if event.Status != lifecycle.EventFailed {
		return nil, fmt.Errorf("%w: повтор возможен только для FAILED, текущий статус %s", ErrConflict, event.Status)
	}
	if !event.EventType.Retryable() {
		return nil, fmt.Errorf("%w: повтор для событий %s", ErrUnsupported, event.EventType)
	}

	batch, err := repos.Batches.GetByID(ctx, event.BatchID)
	if err != nil {
		return nil, repoErr(err, "партия "+event.BatchID)
	}
	if err := checkRetry(event.EventType, batch.Status); err != nil {
		return nil, actionErr(err)
	}
	asset, err := repos.Assets.GetByBatchID(ctx, event.BatchID)
	if err != nil {
		return nil, repoErr(err, "NFT партии")
	}

	var build *chainclient.Build
	switch event.EventType {
	case lifecycle.EventMint:
		mb, err := s.chain.BuildMint(ctx, chainclient.MintParams{
			SenderAddress:   session.WalletAddress,
			ManufacturerVkh: asset.ManufacturerVkh,
			BatchNumber:     batch.BatchNumber,
		})
		if err != nil {
			return nil, chainErr("повторная сборка mint", err)
		}
		build = &mb.Build
	case lifecycle.EventTransfer:
		if asset.CurrentUtxoRef == nil {
			return nil, fmt.Errorf("%w: у NFT нет подтверждённого UTxO", ErrConflict)
		}
		if event.TargetVkh == nil || *event.TargetVkh == "" {
			return nil, fmt.Errorf("%w: в событии не записан получатель", ErrConflict)
		}
		utxo, err := chainclient.ParseUtxoRef(*asset.CurrentUtxoRef)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		build, err = s.chain.BuildTransfer(ctx, chainclient.TransferParams{
			SenderAddress:    session.WalletAddress,
			ManufacturerVkh:  asset.ManufacturerVkh,
			CurrentHolderVkh: event.SignerVkh,
			NextHolderVkh:    *event.TargetVkh,
			AssetName:        asset.AssetName,
			CurrentStep:      asset.Step,
			Utxo:             utxo,
		})
		if err != nil {
			return nil, chainErr("повторная сборка перевода", err)
		}
	}

	material, err := signingMaterial(ctx, s.chain, build)
	if err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		locked, err := r.Batches.GetByIDForUpdate(ctx, event.BatchID)
		if err != nil {
			return repoErr(err, "партия "+event.BatchID)
		}
		if err := checkRetry(event.EventType, locked.Status); err != nil {
			return actionErr(err)
		}
		return repoErr(r.Events.ResetForRetry(ctx, event.ID, material.BuildID, material.SigningRequestID), "proof-событие")
	})
	if err != nil {
		s.logOrphan(material.BuildID, event.EventType, err)
		return nil, err
	}

	material.ProofEventID = event.ID
	s.logger.Info("Транзакция пересобрана после ошибки",
		slog.String("proof_event_id", event.ID),
		slog.String("event_type", string(event.EventType)),
		slog.String("build_id", material.BuildID),
	)
	return material, nil
}

// checkRetry проверяет, что партия допускает повтор события. Отозванная
// партия не выпускается и не передаётся; перевод повторяется только в
// статусах, где допустим новый перевод. Выпуск после оптимистичного
// продвижения может повторяться и в MINTED.
func checkRetry(t lifecycle.EventType, status lifecycle.BatchStatus) error {
	switch {
	case t == lifecycle.EventTransfer:
		return lifecycle.CheckAction(lifecycle.ActionTransfer, status)
	case status == lifecycle.BatchRecalled:
		return lifecycle.CheckAction(lifecycle.ActionMint, status)
	}
	return nil
}

// AnchorRequest — параметры закрепления документа.
type AnchorRequest struct {
	BatchID      string
	DocumentHash string
	DocumentType string
	// Visibility — PUBLIC (по умолчанию) или PRIVATE
	Visibility string
}

// AnchorDocument закрепляет хеш документа партии metadata-транзакцией.
func (s *LifecycleService) AnchorDocument(ctx context.Context, session Session, req AnchorRequest) (*SigningMaterial, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(req.BatchID, "batchId"); err != nil {
		return nil, err
	}
	req.DocumentHash = strings.TrimSpace(req.DocumentHash)
	req.DocumentType = strings.TrimSpace(req.DocumentType)
	if req.DocumentHash == "" || req.DocumentType == "" {
		return nil, fmt.Errorf("%w: documentHash и documentType обязательны", ErrValidation)
	}
	switch req.Visibility {
	case "":
		req.Visibility = model.VisibilityPublic
	case model.VisibilityPublic, model.VisibilityPrivate:
	default:
		return nil, fmt.Errorf("%w: visibility %q, допустимые: PUBLIC, PRIVATE", ErrValidation, req.Visibility)
	}

	batch, err := s.store.Repos().Batches.GetByID(ctx, req.BatchID)
	if err != nil {
		return nil, repoErr(err, "партия "+req.BatchID)
	}
	if err := lifecycle.CheckAction(lifecycle.ActionAnchor, batch.Status); err != nil {
		return nil, actionErr(err)
	}

	build, err := s.chain.BuildAnchor(ctx, chainclient.AnchorParams{
		SenderAddress: session.WalletAddress,
		Metadata: chainclient.MessageMetadata("TRACE:DOC_ANCHOR:"+req.DocumentType, map[string]any{
			"batch": batch.BatchNumber,
			"hash":  req.DocumentHash,
			"vis":   req.Visibility,
		}),
	})
	if err != nil {
		return nil, chainErr("сборка закрепления документа", err)
	}
	material, err := signingMaterial(ctx, s.chain, build)
	if err != nil {
		return nil, err
	}

	event := &model.ProofEvent{
		ID:               uuid.NewString(),
		BatchID:          req.BatchID,
		EventType:        lifecycle.EventDocumentAnchor,
		PayloadDigest:    req.DocumentHash,
		Schema:           req.DocumentType,
		SignerVkh:        session.WalletVkh,
		BuildID:          material.BuildID,
		SigningRequestID: material.SigningRequestID,
	}
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		anchor := &model.DocumentAnchor{
			ID:               uuid.NewString(),
			BatchID:          req.BatchID,
			DocumentHash:     req.DocumentHash,
			DocumentType:     req.DocumentType,
			Visibility:       req.Visibility,
			BuildID:          material.BuildID,
			SigningRequestID: material.SigningRequestID,
		}
		if err := r.Anchors.Create(ctx, anchor); err != nil {
			return err
		}
		return repoErr(r.Events.Create(ctx, event), "proof-событие")
	})
	if err != nil {
		s.logOrphan(material.BuildID, lifecycle.EventDocumentAnchor, err)
		return nil, err
	}

	material.ProofEventID = event.ID
	s.logger.Info("Транзакция закрепления документа собрана",
		slog.String("batch_id", req.BatchID),
		slog.String("document_type", req.DocumentType),
		slog.String("build_id", material.BuildID),
	)
	return material, nil
}

// RecallBatch отзывает партию: статус RECALLED устанавливается сразу,
// уведомление об отзыве закрепляется metadata-транзакцией.
func (s *LifecycleService) RecallBatch(ctx context.Context, session Session, batchID, reason string) (*SigningMaterial, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(batchID, "batchId"); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: причина отзыва обязательна", ErrValidation)
	}

	batch, err := s.store.Repos().Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, repoErr(err, "партия "+batchID)
	}
	if err := lifecycle.CheckAction(lifecycle.ActionRecall, batch.Status); err != nil {
		return nil, actionErr(err)
	}

	noticeHash, err := digest.Compute(map[string]any{
		"reason":    reason,
		"batchId":   batchID,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	payloadDigest, err := digest.Compute(map[string]any{"reason": reason})
	if err != nil {
		return nil, err
	}

	build, err := s.chain.BuildAnchor(ctx, chainclient.AnchorParams{
		SenderAddress: session.WalletAddress,
		Metadata: chainclient.MessageMetadata("TRACE:RECALL:"+chainclient.TruncateRunes(reason, recallMessageRunes), map[string]any{
			"batch":      batch.BatchNumber,
			"reason":     reason,
			"recalledBy": session.WalletVkh,
		}),
	})
	if err != nil {
		return nil, chainErr("сборка уведомления об отзыве", err)
	}
	material, err := signingMaterial(ctx, s.chain, build)
	if err != nil {
		return nil, err
	}

	event := &model.ProofEvent{
		ID:               uuid.NewString(),
		BatchID:          batchID,
		EventType:        lifecycle.EventRecall,
		PayloadDigest:    payloadDigest,
		Schema:           lifecycle.EventRecall.Schema(),
		SignerVkh:        session.WalletVkh,
		BuildID:          material.BuildID,
		SigningRequestID: material.SigningRequestID,
	}
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		next, err := lifecycle.Transition(batch.Status, lifecycle.BatchRecalled)
		if err != nil {
			return actionErr(err)
		}
		if err := r.Batches.UpdateStatus(ctx, batchID, batch.Status, next); err != nil {
			return repoErr(err, "партия "+batchID)
		}
		anchor := &model.DocumentAnchor{
			ID:               uuid.NewString(),
			BatchID:          batchID,
			DocumentHash:     noticeHash,
			DocumentType:     model.DocumentTypeRecallNotice,
			Visibility:       model.VisibilityPublic,
			BuildID:          material.BuildID,
			SigningRequestID: material.SigningRequestID,
		}
		if err := r.Anchors.Create(ctx, anchor); err != nil {
			return err
		}
		return repoErr(r.Events.Create(ctx, event), "proof-событие")
	})
	if err != nil {
		s.logOrphan(material.BuildID, lifecycle.EventRecall, err)
		return nil, err
	}

	material.ProofEventID = event.ID
	s.logger.Warn("Партия отозвана",
		slog.String("batch_id", batchID),
		slog.String("batch_number", batch.BatchNumber),
		slog.String("recalled_by", session.WalletVkh),
	)
	return material, nil
}

// ConfirmReceipt подтверждает приёмку партии получателем: IN_TRANSIT → DELIVERED.
// Транзакция в сети не создаётся.
func (s *LifecycleService) ConfirmReceipt(ctx context.Context, batchID string) (lifecycle.BatchStatus, error) {
	if err := validateID(batchID, "batchId"); err != nil {
		return "", err
	}
	batch, err := s.store.Repos().Batches.GetByID(ctx, batchID)
	if err != nil {
		return "", repoErr(err, "партия "+batchID)
	}
	if err := lifecycle.CheckAction(lifecycle.ActionConfirmReceipt, batch.Status); err != nil {
		return "", actionErr(err)
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		return repoErr(r.Batches.UpdateStatus(ctx, batchID, lifecycle.BatchInTransit, lifecycle.BatchDelivered), "партия "+batchID)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Приёмка партии подтверждена", slog.String("batch_id", batchID))
	return lifecycle.BatchDelivered, nil
}

func (s *LifecycleService) logOrphan(buildID string, eventType lifecycle.EventType, err error) {
	s.logger.Error("Сборка не сохранена в БД и не будет повторена",
		slog.String("build_id", buildID),
		slog.String("event_type", string(eventType)),
		slog.String("error", err.Error()),
	)
}

// stampParticipant заполняет производителя и держателя партии участником
// с данным VKH, если такой активный участник есть.
func stampParticipant(ctx context.Context, r *repository.Repos, batchID, vkh string) error {
	p, err := r.Participants.GetActiveByVkh(ctx, vkh)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return repoErr(r.Batches.StampParties(ctx, batchID, p.ID), "партия "+batchID)
}

func validateID(id, field string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s должен быть UUID", ErrValidation, field)
	}
	return nil
}
