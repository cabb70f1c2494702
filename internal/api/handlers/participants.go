// participants.go — обработчики /api/v1/participants.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/service"
)

type createParticipantRequest struct {
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Address *string `json:"address,omitempty"`
	Vkh     *string `json:"vkh,omitempty"`
}

type participantResponse struct {
	ID        openapi_types.UUID `json:"id"`
	Name      string             `json:"name"`
	Role      string             `json:"role"`
	Address   *string            `json:"address,omitempty"`
	Vkh       *string            `json:"vkh,omitempty"`
	IsActive  bool               `json:"isActive"`
	CreatedAt time.Time          `json:"createdAt"`
}

type participantListResponse struct {
	Items  []participantResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// CreateParticipant — POST /api/v1/participants.
func (h *APIHandler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req createParticipantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.registry.CreateParticipant(r.Context(), service.CreateParticipantRequest{
		Name:    req.Name,
		Role:    req.Role,
		Address: req.Address,
		Vkh:     req.Vkh,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка регистрации участника")
		return
	}

	writeJSON(w, http.StatusCreated, mapParticipant(p))
}

// ListParticipants — GET /api/v1/participants?role=&limit=&offset=.
func (h *APIHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	var role *string
	if v := r.URL.Query().Get("role"); v != "" {
		role = &v
	}

	items, total, err := h.registry.ListParticipants(r.Context(), role, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка участников")
		return
	}

	resp := participantListResponse{
		Items:  make([]participantResponse, 0, len(items)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, p := range items {
		resp.Items = append(resp.Items, mapParticipant(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetParticipant — GET /api/v1/participants/{id}.
func (h *APIHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.GetParticipant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения участника")
		return
	}
	writeJSON(w, http.StatusOK, mapParticipant(p))
}

func mapParticipant(p *model.Participant) participantResponse {
	return participantResponse{
		ID:        toUUID(p.ID),
		Name:      p.Name,
		Role:      p.Role,
		Address:   p.Address,
		Vkh:       p.Vkh,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}
