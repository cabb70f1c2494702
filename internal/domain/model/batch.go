// Пакет model — доменные модели pharmatrace.
package model

import (
	"encoding/json"
	"time"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
)

// Batch — партия препарата (таблица batches).
type Batch struct {
	// ID — UUID партии
	ID string
	// BatchNumber — человекочитаемый номер партии (уникальный)
	BatchNumber string
	// Product — наименование препарата
	Product string
	// Status — заявленный статус (обновляется оптимистично, до подтверждения в сети)
	Status lifecycle.BatchStatus
	// ConfirmedStatus — последний статус, подтверждённый транзакцией в сети
	ConfirmedStatus *lifecycle.BatchStatus
	// ManufacturerID — участник-производитель (опционально)
	ManufacturerID *string
	// CurrentHolderID — текущий держатель (опционально)
	CurrentHolderID *string
	// OriginPayload — произвольные метаданные происхождения (JSONB)
	OriginPayload json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsChainVerified сообщает, совпадает ли заявленный статус с подтверждённым.
func (b *Batch) IsChainVerified() bool {
	return b.ConfirmedStatus != nil && *b.ConfirmedStatus == b.Status
}
