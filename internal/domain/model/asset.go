package model

import "time"

// OnChainAsset — NFT партии в сети (таблица on_chain_assets, одна запись на партию).
type OnChainAsset struct {
	ID      string
	BatchID string
	// PolicyID — хеш скрипта minting policy
	PolicyID string
	// AssetName — hex номера партии
	AssetName string
	// Fingerprint — CIP-14 отпечаток актива
	Fingerprint string
	// ScriptAddress — адрес скрипта, на котором заблокирован NFT
	ScriptAddress string
	// Step — число подтверждённых переводов
	Step int
	// ManufacturerVkh — VKH производителя (параметр скрипта)
	ManufacturerVkh string
	// CurrentHolder — заявленный VKH держателя (обновляется оптимистично)
	CurrentHolder *string
	// ConfirmedHolder — VKH держателя по последней подтверждённой транзакции
	ConfirmedHolder *string
	// CurrentUtxoRef — "<txHash>#<index>" текущего UTxO с NFT
	CurrentUtxoRef *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
