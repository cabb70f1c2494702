package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

// ParticipantRepository — интерфейс CRUD для таблицы participants.
type ParticipantRepository interface {
	// Create регистрирует участника. Дубликат vkh — ErrConflict.
	Create(ctx context.Context, p *model.Participant) error
	// GetByID возвращает участника по UUID.
	GetByID(ctx context.Context, id string) (*model.Participant, error)
	// GetActiveByVkh возвращает активного участника по VKH.
	GetActiveByVkh(ctx context.Context, vkh string) (*model.Participant, error)
	// List возвращает участников с фильтром по роли и общее количество.
	List(ctx context.Context, role *string, limit, offset int) ([]*model.Participant, int, error)
}

type participantRepo struct {
	db DBTX
}

// NewParticipantRepository создаёт репозиторий участников.
func NewParticipantRepository(db DBTX) ParticipantRepository {
	return &participantRepo{db: db}
}

const participantColumns = `id, name, role, address, vkh, is_active, created_at, updated_at`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	p := &model.Participant{}
	err := row.Scan(&p.ID, &p.Name, &p.Role, &p.Address, &p.Vkh, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *participantRepo) Create(ctx context.Context, p *model.Participant) error {
	query := `
		INSERT INTO participants (id, name, role, address, vkh, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.Name, p.Role, p.Address, p.Vkh, p.IsActive).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: участник с таким vkh уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка создания участника: %w", err)
	}
	return nil
}

func (r *participantRepo) GetByID(ctx context.Context, id string) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`

	p, err := scanParticipant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения участника: %w", err)
	}
	return p, nil
}

func (r *participantRepo) GetActiveByVkh(ctx context.Context, vkh string) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE vkh = $1 AND is_active`

	p, err := scanParticipant(r.db.QueryRow(ctx, query, vkh))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска участника по vkh: %w", err)
	}
	return p, nil
}

func (r *participantRepo) List(ctx context.Context, role *string, limit, offset int) ([]*model.Participant, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE ($1::text IS NULL OR role = $1)`, role,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта участников: %w", err)
	}

	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE ($1::text IS NULL OR role = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, role, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка участников: %w", err)
	}
	defer rows.Close()

	var result []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования участника: %w", err)
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}
