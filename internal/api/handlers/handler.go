// handler.go — основной обработчик API. Объединяет доменные обработчики
// и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/pharmatrace/internal/api/errors"
	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/service"
)

// Registry — учёт участников и партий.
type Registry interface {
	CreateParticipant(ctx context.Context, req service.CreateParticipantRequest) (*model.Participant, error)
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)
	ListParticipants(ctx context.Context, role *string, limit, offset int) ([]*model.Participant, int, error)
	CreateBatch(ctx context.Context, req service.CreateBatchRequest) (*model.Batch, error)
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context, status *string, limit, offset int) ([]*model.Batch, int, error)
	ListProofEvents(ctx context.Context, batchID string) ([]*model.ProofEvent, error)
}

// Lifecycle — действия жизненного цикла партии.
type Lifecycle interface {
	MintBatchNft(ctx context.Context, session service.Session, batchID string) (*service.MintResult, error)
	TransferBatch(ctx context.Context, session service.Session, req service.TransferRequest) (*service.SigningMaterial, error)
	SubmitSigned(ctx context.Context, signingRequestID, signedTxCbor string) (*service.SubmitResult, error)
	RetryFailedTransaction(ctx context.Context, session service.Session, proofEventID string) (*service.SigningMaterial, error)
	AnchorDocument(ctx context.Context, session service.Session, req service.AnchorRequest) (*service.SigningMaterial, error)
	RecallBatch(ctx context.Context, session service.Session, batchID, reason string) (*service.SigningMaterial, error)
	ConfirmReceipt(ctx context.Context, batchID string) (lifecycle.BatchStatus, error)
}

// Reconcile — ручной запуск сверки транзакций.
type Reconcile interface {
	CheckPendingTransactions(ctx context.Context) (*service.CheckResult, error)
}

// Verify — публичная проверка цепочки владения.
type Verify interface {
	VerifyBatch(ctx context.Context, batchIDOrFingerprint string) (*service.VerificationReport, error)
}

var (
	_ Registry  = (*service.RegistryService)(nil)
	_ Lifecycle = (*service.LifecycleService)(nil)
	_ Reconcile = (*service.Reconciler)(nil)
	_ Verify    = (*service.Verifier)(nil)
)

// APIHandler — основной обработчик API pharmatrace.
type APIHandler struct {
	health    *HealthHandler
	registry  Registry
	lifecycle Lifecycle
	reconcile Reconcile
	verify    Verify
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	registry Registry,
	lc Lifecycle,
	reconcile Reconcile,
	verify Verify,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		registry:  registry,
		lifecycle: lc,
		reconcile: reconcile,
		verify:    verify,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса. При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 500 {
			l = 500
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500 с сообщением msg.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrUnsupported):
		apierrors.Unsupported(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		code, _ := service.TransitionCode(err)
		apierrors.Conflict(w, code, err.Error())
	case errors.Is(err, service.ErrChainAdapter):
		h.logger.Warn("Сервис транзакций вернул ошибку", slog.String("error", err.Error()))
		apierrors.ChainUnavailable(w, err.Error())
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		apierrors.InternalError(w, msg)
	}
}

// toUUID преобразует строковый идентификатор из БД в UUID ответа.
func toUUID(s string) openapi_types.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func toUUIDPtr(s *string) *openapi_types.UUID {
	if s == nil {
		return nil
	}
	id := toUUID(*s)
	return &id
}

func optionalUUIDString(id *openapi_types.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
