package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

// BatchRepository — интерфейс для таблицы batches.
type BatchRepository interface {
	// Create создаёт партию в статусе DRAFT. Дубликат номера — ErrConflict.
	Create(ctx context.Context, b *model.Batch) error
	// GetByID возвращает партию по UUID.
	GetByID(ctx context.Context, id string) (*model.Batch, error)
	// GetByIDForUpdate возвращает партию с блокировкой строки до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Batch, error)
	// List возвращает партии с фильтром по статусу и общее количество.
	List(ctx context.Context, status *string, limit, offset int) ([]*model.Batch, int, error)
	// UpdateStatus переводит статус expected → next.
	// ErrStaleStatus, если партия уже не в статусе expected.
	UpdateStatus(ctx context.Context, id string, expected, next lifecycle.BatchStatus) error
	// SetConfirmedStatus записывает статус, подтверждённый в сети.
	SetConfirmedStatus(ctx context.Context, id string, status lifecycle.BatchStatus) error
	// StampParties заполняет производителя и держателя, если они не заданы.
	StampParties(ctx context.Context, id, participantID string) error
	// SetCurrentHolder устанавливает текущего держателя.
	SetCurrentHolder(ctx context.Context, id, participantID string) error
}

type batchRepo struct {
	db DBTX
}

// NewBatchRepository создаёт репозиторий партий.
func NewBatchRepository(db DBTX) BatchRepository {
	return &batchRepo{db: db}
}

const batchColumns = `id, batch_number, product, status, confirmed_status,
	manufacturer_id, current_holder_id, origin_payload, created_at, updated_at`

func scanBatch(row pgx.Row) (*model.Batch, error) {
	b := &model.Batch{}
	var status string
	var confirmed *string
	var payload []byte
	err := row.Scan(&b.ID, &b.BatchNumber, &b.Product, &status, &confirmed,
		&b.ManufacturerID, &b.CurrentHolderID, &payload, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = lifecycle.BatchStatus(status)
	if confirmed != nil {
		cs := lifecycle.BatchStatus(*confirmed)
		b.ConfirmedStatus = &cs
	}
	if len(payload) > 0 {
		b.OriginPayload = payload
	}
	return b, nil
}

func (r *batchRepo) Create(ctx context.Context, b *model.Batch) error {
	if b.Status == "" {
		b.Status = lifecycle.BatchDraft
	}
	query := `
		INSERT INTO batches (id, batch_number, product, status, manufacturer_id, current_holder_id, origin_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		b.ID, b.BatchNumber, b.Product, string(b.Status),
		b.ManufacturerID, b.CurrentHolderID, nullableJSON(b.OriginPayload),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: партия с номером %s уже существует", ErrConflict, b.BatchNumber)
		}
		return fmt.Errorf("ошибка создания партии: %w", err)
	}
	return nil
}

func (r *batchRepo) GetByID(ctx context.Context, id string) (*model.Batch, error) {
	return r.get(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
}

func (r *batchRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Batch, error) {
	return r.get(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, id)
}

func (r *batchRepo) get(ctx context.Context, query, id string) (*model.Batch, error) {
	b, err := scanBatch(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения партии: %w", err)
	}
	return b, nil
}

func (r *batchRepo) List(ctx context.Context, status *string, limit, offset int) ([]*model.Batch, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM batches WHERE ($1::text IS NULL OR status = $1)`, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта партий: %w", err)
	}

	query := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка партий: %w", err)
	}
	defer rows.Close()

	var result []*model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования партии: %w", err)
		}
		result = append(result, b)
	}
	return result, total, rows.Err()
}

func (r *batchRepo) UpdateStatus(ctx context.Context, id string, expected, next lifecycle.BatchStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE batches SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса партии: %w", err)
	}
	return casResult(tag)
}

func (r *batchRepo) SetConfirmedStatus(ctx context.Context, id string, status lifecycle.BatchStatus) error {
	return r.exec(ctx, "подтверждённого статуса",
		`UPDATE batches SET confirmed_status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (r *batchRepo) StampParties(ctx context.Context, id, participantID string) error {
	return r.exec(ctx, "участников партии", `
		UPDATE batches
		SET manufacturer_id = COALESCE(manufacturer_id, $2),
			current_holder_id = COALESCE(current_holder_id, $2),
			updated_at = NOW()
		WHERE id = $1`, id, participantID)
}

func (r *batchRepo) SetCurrentHolder(ctx context.Context, id, participantID string) error {
	return r.exec(ctx, "держателя партии",
		`UPDATE batches SET current_holder_id = $2, updated_at = NOW() WHERE id = $1`, id, participantID)
}

func (r *batchRepo) exec(ctx context.Context, what, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
