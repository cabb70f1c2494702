package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

// DocumentAnchorRepository — интерфейс для таблицы document_anchors.
// Закрепление связано с proof-событием через build_id.
type DocumentAnchorRepository interface {
	// Create сохраняет закрепление в статусе PENDING.
	Create(ctx context.Context, a *model.DocumentAnchor) error
	// ListByBatch возвращает закрепления партии в порядке создания.
	ListByBatch(ctx context.Context, batchID string) ([]*model.DocumentAnchor, error)
	// MarkSubmittedBySigningRequest — PENDING → SUBMITTED для запроса подписи.
	// false, если ожидающего закрепления нет.
	MarkSubmittedBySigningRequest(ctx context.Context, signingRequestID, txHash, submissionID string) (bool, error)
	// MarkConfirmedByBuild переводит незавершённое закрепление сборки в CONFIRMED.
	MarkConfirmedByBuild(ctx context.Context, buildID, txHash string) (bool, error)
	// MarkFailedByBuild переводит незавершённое закрепление сборки в FAILED.
	MarkFailedByBuild(ctx context.Context, buildID string) (bool, error)
}

type documentAnchorRepo struct {
	db DBTX
}

// NewDocumentAnchorRepository создаёт репозиторий закреплённых документов.
func NewDocumentAnchorRepository(db DBTX) DocumentAnchorRepository {
	return &documentAnchorRepo{db: db}
}

const documentAnchorColumns = `id, batch_id, document_hash, document_type, visibility, build_id,
	signing_request_id, submission_id, on_chain_tx_hash, status, created_at, updated_at`

func scanDocumentAnchor(row pgx.Row) (*model.DocumentAnchor, error) {
	a := &model.DocumentAnchor{}
	var status string
	err := row.Scan(&a.ID, &a.BatchID, &a.DocumentHash, &a.DocumentType, &a.Visibility, &a.BuildID,
		&a.SigningRequestID, &a.SubmissionID, &a.OnChainTxHash, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = lifecycle.EventStatus(status)
	return a, nil
}

func (r *documentAnchorRepo) Create(ctx context.Context, a *model.DocumentAnchor) error {
	if a.Status == "" {
		a.Status = lifecycle.EventPending
	}
	if a.Visibility == "" {
		a.Visibility = model.VisibilityPublic
	}
	query := `
		INSERT INTO document_anchors (id, batch_id, document_hash, document_type, visibility,
			build_id, signing_request_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.BatchID, a.DocumentHash, a.DocumentType, a.Visibility,
		a.BuildID, a.SigningRequestID, string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания закрепления документа: %w", err)
	}
	return nil
}

func (r *documentAnchorRepo) ListByBatch(ctx context.Context, batchID string) ([]*model.DocumentAnchor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+documentAnchorColumns+` FROM document_anchors
		WHERE batch_id = $1
		ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения закреплений: %w", err)
	}
	defer rows.Close()

	var result []*model.DocumentAnchor
	for rows.Next() {
		a, err := scanDocumentAnchor(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования закрепления: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *documentAnchorRepo) MarkSubmittedBySigningRequest(ctx context.Context, signingRequestID, txHash, submissionID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_anchors
		SET status = 'SUBMITTED', on_chain_tx_hash = $2, submission_id = $3, updated_at = NOW()
		WHERE signing_request_id = $1 AND status = 'PENDING'`, signingRequestID, txHash, submissionID)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки отправки закрепления: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *documentAnchorRepo) MarkConfirmedByBuild(ctx context.Context, buildID, txHash string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_anchors
		SET status = 'CONFIRMED', on_chain_tx_hash = COALESCE(NULLIF($2, ''), on_chain_tx_hash),
			updated_at = NOW()
		WHERE build_id = $1 AND status IN ('PENDING', 'SUBMITTED')`, buildID, txHash)
	if err != nil {
		return false, fmt.Errorf("ошибка подтверждения закрепления: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *documentAnchorRepo) MarkFailedByBuild(ctx context.Context, buildID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_anchors SET status = 'FAILED', updated_at = NOW()
		WHERE build_id = $1 AND status IN ('PENDING', 'SUBMITTED')`, buildID)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки сбоя закрепления: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
