// batches.go — обработчики /api/v1/batches: учёт партий и история событий.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/pharmatrace/internal/api/errors"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/service"
)

type createBatchRequest struct {
	BatchNumber    string              `json:"batchNumber"`
	Product        string              `json:"product"`
	ManufacturerID *openapi_types.UUID `json:"manufacturerId,omitempty"`
	OriginPayload  json.RawMessage     `json:"originPayload,omitempty"`
}

type batchResponse struct {
	ID              openapi_types.UUID  `json:"id"`
	BatchNumber     string              `json:"batchNumber"`
	Product         string              `json:"product"`
	Status          string              `json:"status"`
	ConfirmedStatus *string             `json:"confirmedStatus,omitempty"`
	ChainVerified   bool                `json:"chainVerified"`
	ManufacturerID  *openapi_types.UUID `json:"manufacturerId,omitempty"`
	CurrentHolderID *openapi_types.UUID `json:"currentHolderId,omitempty"`
	OriginPayload   json.RawMessage     `json:"originPayload,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

type batchListResponse struct {
	Items  []batchResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type proofEventResponse struct {
	ID                  openapi_types.UUID  `json:"id"`
	BatchID             openapi_types.UUID  `json:"batchId"`
	EventType           string              `json:"eventType"`
	PayloadDigest       string              `json:"payloadDigest"`
	Schema              string              `json:"schema,omitempty"`
	SignerVkh           string              `json:"signerVkh"`
	TargetVkh           *string             `json:"targetVkh,omitempty"`
	TargetParticipantID *openapi_types.UUID `json:"targetParticipantId,omitempty"`
	TxHash              *string             `json:"txHash,omitempty"`
	Status              string              `json:"status"`
	ErrorMessage        *string             `json:"errorMessage,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
}

type proofEventListResponse struct {
	Items []proofEventResponse `json:"items"`
}

// CreateBatch — POST /api/v1/batches. Партия создаётся в статусе DRAFT.
func (h *APIHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := h.registry.CreateBatch(r.Context(), service.CreateBatchRequest{
		BatchNumber:    req.BatchNumber,
		Product:        req.Product,
		ManufacturerID: optionalUUIDString(req.ManufacturerID),
		OriginPayload:  req.OriginPayload,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания партии")
		return
	}

	writeJSON(w, http.StatusCreated, mapBatch(b))
}

// ListBatches — GET /api/v1/batches?status=&limit=&offset=.
func (h *APIHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}

	items, total, err := h.registry.ListBatches(r.Context(), status, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка партий")
		return
	}

	resp := batchListResponse{
		Items:  make([]batchResponse, 0, len(items)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, b := range items {
		resp.Items = append(resp.Items, mapBatch(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBatch — GET /api/v1/batches/{id}.
func (h *APIHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.registry.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения партии")
		return
	}
	writeJSON(w, http.StatusOK, mapBatch(b))
}

// ListBatchEvents — GET /api/v1/batches/{id}/events. События в порядке создания.
func (h *APIHandler) ListBatchEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.registry.ListProofEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения событий партии")
		return
	}

	resp := proofEventListResponse{Items: make([]proofEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Items = append(resp.Items, mapProofEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// pageParams читает limit и offset из query. Нечисловые значения — 400.
func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	var limit, offset *int
	for name, dst := range map[string]**int{"limit": &limit, "offset": &offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierrors.ValidationError(w, "Параметр "+name+" должен быть целым числом")
			return 0, 0, false
		}
		*dst = &n
	}
	l, o := paginationDefaults(limit, offset)
	return l, o, true
}

func mapBatch(b *model.Batch) batchResponse {
	resp := batchResponse{
		ID:              toUUID(b.ID),
		BatchNumber:     b.BatchNumber,
		Product:         b.Product,
		Status:          string(b.Status),
		ChainVerified:   b.IsChainVerified(),
		ManufacturerID:  toUUIDPtr(b.ManufacturerID),
		CurrentHolderID: toUUIDPtr(b.CurrentHolderID),
		OriginPayload:   b.OriginPayload,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if b.ConfirmedStatus != nil {
		s := string(*b.ConfirmedStatus)
		resp.ConfirmedStatus = &s
	}
	return resp
}

func mapProofEvent(e *model.ProofEvent) proofEventResponse {
	return proofEventResponse{
		ID:                  toUUID(e.ID),
		BatchID:             toUUID(e.BatchID),
		EventType:           string(e.EventType),
		PayloadDigest:       e.PayloadDigest,
		Schema:              e.Schema,
		SignerVkh:           e.SignerVkh,
		TargetVkh:           e.TargetVkh,
		TargetParticipantID: toUUIDPtr(e.TargetParticipantID),
		TxHash:              e.OnChainTxHash,
		Status:              string(e.Status),
		ErrorMessage:        e.ErrorMessage,
		CreatedAt:           e.CreatedAt,
	}
}
