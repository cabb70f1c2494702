package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

// ProofEventRepository — интерфейс для таблицы proof_events.
// Переходы статуса выполняются compare-and-set: PENDING → SUBMITTED,
// SUBMITTED → CONFIRMED | FAILED, FAILED → PENDING.
type ProofEventRepository interface {
	// Create сохраняет событие в статусе PENDING.
	Create(ctx context.Context, e *model.ProofEvent) error
	// GetByID возвращает событие по UUID.
	GetByID(ctx context.Context, id string) (*model.ProofEvent, error)
	// GetPendingBySigningRequest возвращает PENDING-событие запроса подписи.
	GetPendingBySigningRequest(ctx context.Context, signingRequestID string) (*model.ProofEvent, error)
	// ListByBatch возвращает события партии в порядке создания.
	ListByBatch(ctx context.Context, batchID string) ([]*model.ProofEvent, error)
	// ListByStatus возвращает события в статусе status, старые первыми.
	ListByStatus(ctx context.Context, status lifecycle.EventStatus, limit int) ([]*model.ProofEvent, error)
	// MarkSubmitted — PENDING → SUBMITTED.
	MarkSubmitted(ctx context.Context, id, txHash, submissionID string) error
	// MarkConfirmed — SUBMITTED → CONFIRMED. false, если событие уже не SUBMITTED.
	MarkConfirmed(ctx context.Context, id, txHash string) (bool, error)
	// MarkFailed — SUBMITTED → FAILED. false, если событие уже не SUBMITTED.
	MarkFailed(ctx context.Context, id, message string) (bool, error)
	// ResetForRetry — FAILED → PENDING с новыми build и запросом подписи.
	ResetForRetry(ctx context.Context, id, buildID, signingRequestID string) error
	// TouchChecked обновляет время последней проверки статуса.
	TouchChecked(ctx context.Context, id string, at time.Time) error
}

type proofEventRepo struct {
	db DBTX
}

// NewProofEventRepository создаёт репозиторий proof-событий.
func NewProofEventRepository(db DBTX) ProofEventRepository {
	return &proofEventRepo{db: db}
}

const proofEventColumns = `id, batch_id, event_type, payload_digest, schema, signer_vkh,
	target_vkh, target_participant_id, build_id, signing_request_id, submission_id,
	on_chain_tx_hash, status, error_message, last_checked_at, created_at, updated_at`

func scanProofEvent(row pgx.Row) (*model.ProofEvent, error) {
	e := &model.ProofEvent{}
	var eventType, status string
	err := row.Scan(&e.ID, &e.BatchID, &eventType, &e.PayloadDigest, &e.Schema, &e.SignerVkh,
		&e.TargetVkh, &e.TargetParticipantID, &e.BuildID, &e.SigningRequestID, &e.SubmissionID,
		&e.OnChainTxHash, &status, &e.ErrorMessage, &e.LastCheckedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.EventType = lifecycle.EventType(eventType)
	e.Status = lifecycle.EventStatus(status)
	return e, nil
}

func (r *proofEventRepo) Create(ctx context.Context, e *model.ProofEvent) error {
	if e.Status == "" {
		e.Status = lifecycle.EventPending
	}
	query := `
		INSERT INTO proof_events (id, batch_id, event_type, payload_digest, schema, signer_vkh,
			target_vkh, target_participant_id, build_id, signing_request_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.BatchID, string(e.EventType), e.PayloadDigest, e.Schema, e.SignerVkh,
		e.TargetVkh, e.TargetParticipantID, e.BuildID, e.SigningRequestID, string(e.Status),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: для запроса подписи %s уже есть ожидающее событие", ErrConflict, e.SigningRequestID)
		}
		return fmt.Errorf("ошибка создания proof-события: %w", err)
	}
	return nil
}

func (r *proofEventRepo) GetByID(ctx context.Context, id string) (*model.ProofEvent, error) {
	return r.get(ctx, `SELECT `+proofEventColumns+` FROM proof_events WHERE id = $1`, id)
}

func (r *proofEventRepo) GetPendingBySigningRequest(ctx context.Context, signingRequestID string) (*model.ProofEvent, error) {
	return r.get(ctx, `
		SELECT `+proofEventColumns+` FROM proof_events
		WHERE signing_request_id = $1 AND status = 'PENDING'`, signingRequestID)
}

func (r *proofEventRepo) get(ctx context.Context, query, arg string) (*model.ProofEvent, error) {
	e, err := scanProofEvent(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения proof-события: %w", err)
	}
	return e, nil
}

func (r *proofEventRepo) ListByBatch(ctx context.Context, batchID string) ([]*model.ProofEvent, error) {
	return r.list(ctx, `
		SELECT `+proofEventColumns+` FROM proof_events
		WHERE batch_id = $1
		ORDER BY created_at, id`, batchID)
}

func (r *proofEventRepo) ListByStatus(ctx context.Context, status lifecycle.EventStatus, limit int) ([]*model.ProofEvent, error) {
	return r.list(ctx, `
		SELECT `+proofEventColumns+` FROM proof_events
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, string(status), limit)
}

func (r *proofEventRepo) list(ctx context.Context, query string, args ...any) ([]*model.ProofEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения proof-событий: %w", err)
	}
	defer rows.Close()

	var result []*model.ProofEvent
	for rows.Next() {
		e, err := scanProofEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования proof-события: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *proofEventRepo) MarkSubmitted(ctx context.Context, id, txHash, submissionID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE proof_events
		SET status = 'SUBMITTED', on_chain_tx_hash = $2, submission_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, id, txHash, submissionID)
	if err != nil {
		return fmt.Errorf("ошибка отметки отправки события: %w", err)
	}
	return casResult(tag)
}

func (r *proofEventRepo) MarkConfirmed(ctx context.Context, id, txHash string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proof_events
		SET status = 'CONFIRMED', on_chain_tx_hash = COALESCE(NULLIF($2, ''), on_chain_tx_hash),
			error_message = NULL, last_checked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'SUBMITTED'`, id, txHash)
	if err != nil {
		return false, fmt.Errorf("ошибка подтверждения события: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *proofEventRepo) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proof_events
		SET status = 'FAILED', error_message = $2, last_checked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'SUBMITTED'`, id, message)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки сбоя события: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *proofEventRepo) ResetForRetry(ctx context.Context, id, buildID, signingRequestID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE proof_events
		SET status = 'PENDING', build_id = $2, signing_request_id = $3,
			submission_id = NULL, on_chain_tx_hash = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'FAILED'`, id, buildID, signingRequestID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: для запроса подписи %s уже есть ожидающее событие", ErrConflict, signingRequestID)
		}
		return fmt.Errorf("ошибка сброса события для повтора: %w", err)
	}
	return casResult(tag)
}

func (r *proofEventRepo) TouchChecked(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE proof_events SET last_checked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления времени проверки: %w", err)
	}
	return nil
}
