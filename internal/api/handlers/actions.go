// actions.go — действия жизненного цикла партии, требующие подписи кошелька.
// Сервер собирает транзакцию и возвращает её для подписи на стороне клиента;
// подписанная транзакция отправляется через /api/v1/transactions/submit.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/pharmatrace/internal/api/middleware"
	"github.com/bigkaa/pharmatrace/internal/service"
)

type signingMaterialResponse struct {
	ProofEventID     openapi_types.UUID `json:"proofEventId"`
	BuildID          string             `json:"buildId"`
	SigningRequestID string             `json:"signingRequestId"`
	UnsignedTxCbor   string             `json:"unsignedTxCbor"`
	TxBodyHash       string             `json:"txBodyHash"`
}

type mintResponse struct {
	signingMaterialResponse
	PolicyID      string `json:"policyId"`
	AssetName     string `json:"assetName"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	ScriptAddress string `json:"scriptAddress"`
}

type transferRequest struct {
	ToParticipantID openapi_types.UUID `json:"toParticipantId"`
	Reason          string             `json:"reason,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

type anchorRequest struct {
	DocumentHash string `json:"documentHash"`
	DocumentType string `json:"documentType"`
	Visibility   string `json:"visibility,omitempty"`
}

type recallRequest struct {
	Reason string `json:"reason"`
}

type confirmReceiptResponse struct {
	BatchID openapi_types.UUID `json:"batchId"`
	Status  string             `json:"status"`
}

// MintBatchNft — POST /api/v1/batches/{id}/mint.
func (h *APIHandler) MintBatchNft(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())

	res, err := h.lifecycle.MintBatchNft(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка сборки mint-транзакции")
		return
	}

	writeJSON(w, http.StatusOK, mintResponse{
		signingMaterialResponse: mapSigningMaterial(&res.SigningMaterial),
		PolicyID:                res.PolicyID,
		AssetName:               res.AssetName,
		Fingerprint:             res.Fingerprint,
		ScriptAddress:           res.ScriptAddress,
	})
}

// TransferBatch — POST /api/v1/batches/{id}/transfer.
func (h *APIHandler) TransferBatch(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.lifecycle.TransferBatch(r.Context(), middleware.SessionFromContext(r.Context()), service.TransferRequest{
		BatchID:         chi.URLParam(r, "id"),
		ToParticipantID: req.ToParticipantID.String(),
		Reason:          req.Reason,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка сборки перевода партии")
		return
	}
	writeJSON(w, http.StatusOK, mapSigningMaterial(m))
}

// AnchorDocument — POST /api/v1/batches/{id}/documents.
func (h *APIHandler) AnchorDocument(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.lifecycle.AnchorDocument(r.Context(), middleware.SessionFromContext(r.Context()), service.AnchorRequest{
		BatchID:      chi.URLParam(r, "id"),
		DocumentHash: req.DocumentHash,
		DocumentType: req.DocumentType,
		Visibility:   req.Visibility,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка закрепления документа")
		return
	}
	writeJSON(w, http.StatusOK, mapSigningMaterial(m))
}

// RecallBatch — POST /api/v1/batches/{id}/recall.
func (h *APIHandler) RecallBatch(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.lifecycle.RecallBatch(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка отзыва партии")
		return
	}
	writeJSON(w, http.StatusOK, mapSigningMaterial(m))
}

// ConfirmReceipt — POST /api/v1/batches/{id}/confirm-receipt.
// Транзакция не создаётся: IN_TRANSIT → DELIVERED только в БД.
func (h *APIHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	status, err := h.lifecycle.ConfirmReceipt(r.Context(), batchID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка подтверждения приёмки")
		return
	}
	writeJSON(w, http.StatusOK, confirmReceiptResponse{BatchID: toUUID(batchID), Status: string(status)})
}

// RetryFailedTransaction — POST /api/v1/proof-events/{id}/retry.
func (h *APIHandler) RetryFailedTransaction(w http.ResponseWriter, r *http.Request) {
	m, err := h.lifecycle.RetryFailedTransaction(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка повторной сборки транзакции")
		return
	}
	writeJSON(w, http.StatusOK, mapSigningMaterial(m))
}

func mapSigningMaterial(m *service.SigningMaterial) signingMaterialResponse {
	return signingMaterialResponse{
		ProofEventID:     toUUID(m.ProofEventID),
		BuildID:          m.BuildID,
		SigningRequestID: m.SigningRequestID,
		UnsignedTxCbor:   m.UnsignedCbor,
		TxBodyHash:       m.TxBodyHash,
	}
}
