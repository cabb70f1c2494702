package model

import (
	"time"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
)

// ProofEvent — запись одного действия, влияющего на цепочку владения
// (таблица proof_events). После CONFIRMED не изменяется.
type ProofEvent struct {
	ID        string
	BatchID   string
	EventType lifecycle.EventType
	// PayloadDigest — SHA-256 канонической полезной нагрузки
	PayloadDigest string
	// Schema — тег схемы полезной нагрузки
	Schema string
	// SignerVkh — VKH подписанта
	SignerVkh string
	// TargetVkh — VKH получателя (только TRANSFER)
	TargetVkh *string
	// TargetParticipantID — участник-получатель (только TRANSFER)
	TargetParticipantID *string
	BuildID             string
	SigningRequestID    string
	SubmissionID        *string
	OnChainTxHash       *string
	Status              lifecycle.EventStatus
	ErrorMessage        *string
	LastCheckedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
