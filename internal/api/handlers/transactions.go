// transactions.go — отправка подписанных транзакций и ручная сверка.
package handlers

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

type submitRequest struct {
	SigningRequestID string `json:"signingRequestId"`
	SignedTxCbor     string `json:"signedTxCbor"`
}

type submitResponse struct {
	ProofEventID openapi_types.UUID `json:"proofEventId"`
	TxHash       string             `json:"txHash"`
	SubmissionID string             `json:"submissionId"`
	Status       string             `json:"status"`
}

type checkResultResponse struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SubmitSigned — POST /api/v1/transactions/submit.
func (h *APIHandler) SubmitSigned(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.lifecycle.SubmitSigned(r.Context(), req.SigningRequestID, req.SignedTxCbor)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка отправки транзакции")
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		ProofEventID: toUUID(res.ProofEventID),
		TxHash:       res.TxHash,
		SubmissionID: res.SubmissionID,
		Status:       string(res.Status),
	})
}

// CheckPendingTransactions — POST /api/v1/transactions/check.
// Запрос ждёт завершения текущего цикла сверки и выполняет свой.
func (h *APIHandler) CheckPendingTransactions(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconcile.CheckPendingTransactions(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка проверки транзакций")
		return
	}

	writeJSON(w, http.StatusOK, checkResultResponse{
		Checked:   res.Checked,
		Confirmed: res.Confirmed,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
	})
}
