package model

import "time"

// Роли участников цепочки поставок.
const (
	RoleManufacturer = "MANUFACTURER"
	RoleDistributor  = "DISTRIBUTOR"
	RolePharmacy     = "PHARMACY"
	RoleRegulator    = "REGULATOR"
)

// Participant — участник цепочки поставок (таблица participants).
type Participant struct {
	ID   string
	Name string
	// Role — MANUFACTURER, DISTRIBUTOR, PHARMACY, REGULATOR
	Role string
	// Address — адрес кошелька (bech32), опционально
	Address *string
	// Vkh — хеш ключа верификации (hex), опционально
	Vkh *string
	// IsActive — участник может подписывать действия
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidRole проверяет допустимость роли участника.
func ValidRole(role string) bool {
	switch role {
	case RoleManufacturer, RoleDistributor, RolePharmacy, RoleRegulator:
		return true
	default:
		return false
	}
}
