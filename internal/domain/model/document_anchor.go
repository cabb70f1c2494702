package model

import (
	"time"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
)

// Видимость закреплённого документа.
const (
	VisibilityPublic  = "PUBLIC"
	VisibilityPrivate = "PRIVATE"
)

// DocumentTypeRecallNotice — тип документа для уведомления об отзыве.
const DocumentTypeRecallNotice = "RECALL_NOTICE"

// DocumentAnchor — хеш документа, закреплённый metadata-транзакцией
// (таблица document_anchors). Связан с ProofEvent через build_id.
type DocumentAnchor struct {
	ID               string
	BatchID          string
	DocumentHash     string
	DocumentType     string
	Visibility       string
	BuildID          string
	SigningRequestID string
	SubmissionID     *string
	OnChainTxHash    *string
	Status           lifecycle.EventStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
