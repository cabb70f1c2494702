// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
// Изменения статусов — compare-and-set по ожидаемому предыдущему статусу.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrStaleStatus — запись не в ожидаемом статусе (изменена параллельно).
	ErrStaleStatus = errors.New("статус записи изменился")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Repos — набор репозиториев, работающих через один DBTX.
type Repos struct {
	Participants ParticipantRepository
	Batches      BatchRepository
	Assets       AssetRepository
	Events       ProofEventRepository
	Anchors      DocumentAnchorRepository
}

// NewRepos создаёт набор репозиториев поверх db (пул или транзакция).
func NewRepos(db DBTX) *Repos {
	return &Repos{
		Participants: NewParticipantRepository(db),
		Batches:      NewBatchRepository(db),
		Assets:       NewAssetRepository(db),
		Events:       NewProofEventRepository(db),
		Anchors:      NewDocumentAnchorRepository(db),
	}
}

// Store — доступ к репозиториям вне транзакции и единица работы:
// все записи внутри InTx фиксируются или откатываются вместе.
type Store interface {
	Repos() *Repos
	InTx(ctx context.Context, fn func(r *Repos) error) error
}

// PgStore — Store поверх pgxpool.
type PgStore struct {
	repos *Repos
	tx    *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		repos: NewRepos(pool),
		tx:    NewTxRunner(pool),
	}
}

// Repos возвращает репозитории, работающие через пул.
func (s *PgStore) Repos() *Repos {
	return s.repos
}

// InTx выполняет fn с репозиториями, привязанными к одной транзакции.
func (s *PgStore) InTx(ctx context.Context, fn func(r *Repos) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// casResult переводит число затронутых строк в ErrStaleStatus.
func casResult(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// nullableJSON — nil для пустого JSON, чтобы в JSONB записался NULL.
func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
