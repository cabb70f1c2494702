package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

// AssetRepository — интерфейс для таблицы on_chain_assets.
type AssetRepository interface {
	// Create сохраняет NFT партии. Второй NFT для партии — ErrConflict.
	Create(ctx context.Context, a *model.OnChainAsset) error
	// GetByBatchID возвращает NFT партии.
	GetByBatchID(ctx context.Context, batchID string) (*model.OnChainAsset, error)
	// GetByFingerprint возвращает NFT по CIP-14 отпечатку.
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.OnChainAsset, error)
	// SetDeclaredHolder меняет заявленного держателя, если он всё ещё равен
	// expected (nil — держатель не записан). Иначе ErrStaleStatus.
	SetDeclaredHolder(ctx context.Context, batchID string, expected *string, holderVkh string) error
	// ApplyMint фиксирует UTxO подтверждённого выпуска.
	ApplyMint(ctx context.Context, batchID, utxoRef, holderVkh string) error
	// ApplyTransfer фиксирует подтверждённый перевод: step+1, новый UTxO и держатель.
	ApplyTransfer(ctx context.Context, batchID, utxoRef, holderVkh string) error
}

type assetRepo struct {
	db DBTX
}

// NewAssetRepository создаёт репозиторий NFT партий.
func NewAssetRepository(db DBTX) AssetRepository {
	return &assetRepo{db: db}
}

const assetColumns = `id, batch_id, policy_id, asset_name, COALESCE(fingerprint, ''),
	COALESCE(script_address, ''), step, manufacturer_vkh, current_holder, confirmed_holder,
	current_utxo_ref, created_at, updated_at`

func scanAsset(row pgx.Row) (*model.OnChainAsset, error) {
	a := &model.OnChainAsset{}
	err := row.Scan(&a.ID, &a.BatchID, &a.PolicyID, &a.AssetName, &a.Fingerprint,
		&a.ScriptAddress, &a.Step, &a.ManufacturerVkh, &a.CurrentHolder, &a.ConfirmedHolder,
		&a.CurrentUtxoRef, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *assetRepo) Create(ctx context.Context, a *model.OnChainAsset) error {
	query := `
		INSERT INTO on_chain_assets (id, batch_id, policy_id, asset_name, fingerprint,
			script_address, step, manufacturer_vkh, current_holder)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.BatchID, a.PolicyID, a.AssetName, a.Fingerprint,
		a.ScriptAddress, a.Step, a.ManufacturerVkh, a.CurrentHolder,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: NFT для партии уже выпущен", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения NFT партии: %w", err)
	}
	return nil
}

func (r *assetRepo) GetByBatchID(ctx context.Context, batchID string) (*model.OnChainAsset, error) {
	return r.get(ctx, `SELECT `+assetColumns+` FROM on_chain_assets WHERE batch_id = $1`, batchID)
}

func (r *assetRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*model.OnChainAsset, error) {
	return r.get(ctx, `SELECT `+assetColumns+` FROM on_chain_assets WHERE fingerprint = $1`, fingerprint)
}

func (r *assetRepo) get(ctx context.Context, query, arg string) (*model.OnChainAsset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения NFT партии: %w", err)
	}
	return a, nil
}

func (r *assetRepo) SetDeclaredHolder(ctx context.Context, batchID string, expected *string, holderVkh string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE on_chain_assets SET current_holder = $2, updated_at = NOW()
		WHERE batch_id = $1 AND current_holder IS NOT DISTINCT FROM $3`,
		batchID, holderVkh, expected)
	if err != nil {
		return fmt.Errorf("ошибка обновления держателя NFT: %w", err)
	}
	return casResult(tag)
}

func (r *assetRepo) ApplyMint(ctx context.Context, batchID, utxoRef, holderVkh string) error {
	return r.exec(ctx, `
		UPDATE on_chain_assets
		SET current_utxo_ref = $2, confirmed_holder = $3,
			current_holder = COALESCE(current_holder, $3), updated_at = NOW()
		WHERE batch_id = $1`, batchID, utxoRef, holderVkh)
}

func (r *assetRepo) ApplyTransfer(ctx context.Context, batchID, utxoRef, holderVkh string) error {
	return r.exec(ctx, `
		UPDATE on_chain_assets
		SET step = step + 1, current_utxo_ref = $2, current_holder = $3,
			confirmed_holder = $3, updated_at = NOW()
		WHERE batch_id = $1`, batchID, utxoRef, holderVkh)
}

func (r *assetRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления NFT партии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
