package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/pharmatrace/internal/service"
)

type verificationStepResponse struct {
	Step          int     `json:"step"`
	Holder        string  `json:"holder"`
	EventType     string  `json:"eventType"`
	TxHash        *string `json:"txHash,omitempty"`
	Status        string  `json:"status"`
	OnChainStatus string  `json:"onChainStatus"`
}

type verifiedAnchorResponse struct {
	DocumentHash string  `json:"documentHash"`
	DocumentType string  `json:"documentType"`
	Visibility   string  `json:"visibility"`
	TxHash       *string `json:"txHash,omitempty"`
	Status       string  `json:"status"`
}

type verificationReportResponse struct {
	BatchID         openapi_types.UUID         `json:"batchId"`
	BatchNumber     string                     `json:"batchNumber"`
	Fingerprint     string                     `json:"fingerprint,omitempty"`
	CurrentHolder   *string                    `json:"currentHolder,omitempty"`
	ConfirmedHolder *string                    `json:"confirmedHolder,omitempty"`
	Step            int                        `json:"step"`
	BatchStatus     string                     `json:"batchStatus"`
	ConfirmedStatus *string                    `json:"confirmedStatus,omitempty"`
	IsValid         bool                       `json:"isValid"`
	OnChainMatch    bool                       `json:"onChainMatch"`
	Steps           []verificationStepResponse `json:"steps"`
	DocumentAnchors []verifiedAnchorResponse   `json:"documentAnchors"`
}

// VerifyBatch — GET /api/v1/verify/{batchIdOrFingerprint}. Публичный,
// без аутентификации и сессии кошелька.
func (h *APIHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.verify.VerifyBatch(r.Context(), chi.URLParam(r, "batchIdOrFingerprint"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка проверки партии")
		return
	}
	writeJSON(w, http.StatusOK, mapReport(report))
}

func mapReport(rep *service.VerificationReport) verificationReportResponse {
	resp := verificationReportResponse{
		BatchID:         toUUID(rep.BatchID),
		BatchNumber:     rep.BatchNumber,
		Fingerprint:     rep.Fingerprint,
		CurrentHolder:   rep.CurrentHolder,
		ConfirmedHolder: rep.ConfirmedHolder,
		Step:            rep.Step,
		BatchStatus:     string(rep.BatchStatus),
		IsValid:         rep.IsValid,
		OnChainMatch:    rep.OnChainMatch,
		Steps:           make([]verificationStepResponse, 0, len(rep.Steps)),
		DocumentAnchors: make([]verifiedAnchorResponse, 0, len(rep.DocumentAnchors)),
	}
	if rep.ConfirmedStatus != nil {
		s := string(*rep.ConfirmedStatus)
		resp.ConfirmedStatus = &s
	}
	for _, st := range rep.Steps {
		resp.Steps = append(resp.Steps, verificationStepResponse{
			Step:          st.Step,
			Holder:        st.Holder,
			EventType:     string(st.EventType),
			TxHash:        st.TxHash,
			Status:        string(st.Status),
			OnChainStatus: st.OnChainStatus,
		})
	}
	for _, a := range rep.DocumentAnchors {
		resp.DocumentAnchors = append(resp.DocumentAnchors, verifiedAnchorResponse{
			DocumentHash: a.DocumentHash,
			DocumentType: a.DocumentType,
			Visibility:   a.Visibility,
			TxHash:       a.TxHash,
			Status:       string(a.Status),
		})
	}
	return resp
}
