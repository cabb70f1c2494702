// registry.go — реестр участников и партий.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

// RegistryService — CRUD участников и партий.
type RegistryService struct {
	store  repository.Store
	logger *slog.Logger
}

// NewRegistryService создаёт сервис реестра.
func NewRegistryService(store repository.Store, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		store:  store,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// CreateParticipantRequest — параметры регистрации участника.
type CreateParticipantRequest struct {
	Name    string
	Role    string
	Address *string
	Vkh     *string
}

// CreateParticipant регистрирует участника цепочки поставок.
func (s *RegistryService) CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*model.Participant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name обязателен", ErrValidation)
	}
	if !model.ValidRole(req.Role) {
		return nil, fmt.Errorf("%w: role %q, допустимые: MANUFACTURER, DISTRIBUTOR, PHARMACY, REGULATOR", ErrValidation, req.Role)
	}

	p := &model.Participant{
		ID:       uuid.NewString(),
		Name:     name,
		Role:     req.Role,
		Address:  nonEmpty(req.Address),
		Vkh:      nonEmpty(req.Vkh),
		IsActive: true,
	}
	if p.Vkh != nil {
		v := strings.ToLower(*p.Vkh)
		if !isHex(v) {
			return nil, fmt.Errorf("%w: vkh должен быть hex-строкой", ErrValidation)
		}
		p.Vkh = &v
	}

	if err := s.store.Repos().Participants.Create(ctx, p); err != nil {
		return nil, repoErr(err, "участник")
	}

	s.logger.Info("Участник зарегистрирован",
		slog.String("participant_id", p.ID),
		slog.String("role", p.Role),
	)
	return p, nil
}

// GetParticipant возвращает участника по UUID.
func (s *RegistryService) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	if err := validateID(id, "participantId"); err != nil {
		return nil, err
	}
	p, err := s.store.Repos().Participants.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "участник "+id)
	}
	return p, nil
}

// ListParticipants возвращает участников с фильтром по роли.
func (s *RegistryService) ListParticipants(ctx context.Context, role *string, limit, offset int) ([]*model.Participant, int, error) {
	if role != nil && !model.ValidRole(*role) {
		return nil, 0, fmt.Errorf("%w: role %q", ErrValidation, *role)
	}
	return s.store.Repos().Participants.List(ctx, role, limit, offset)
}

// CreateBatchRequest — параметры создания партии.
type CreateBatchRequest struct {
	BatchNumber    string
	Product        string
	ManufacturerID *string
	OriginPayload  json.RawMessage
}

// CreateBatch создаёт партию в статусе DRAFT.
func (s *RegistryService) CreateBatch(ctx context.Context, req CreateBatchRequest) (*model.Batch, error) {
	number := strings.TrimSpace(req.BatchNumber)
	product := strings.TrimSpace(req.Product)
	if number == "" || product == "" {
		return nil, fmt.Errorf("%w: batchNumber и product обязательны", ErrValidation)
	}
	if len(req.OriginPayload) > 0 && !json.Valid(req.OriginPayload) {
		return nil, fmt.Errorf("%w: originPayload должен быть JSON", ErrValidation)
	}

	repos := s.store.Repos()
	if req.ManufacturerID != nil {
		if err := validateID(*req.ManufacturerID, "manufacturerId"); err != nil {
			return nil, err
		}
		if _, err := repos.Participants.GetByID(ctx, *req.ManufacturerID); err != nil {
			return nil, repoErr(err, "участник "+*req.ManufacturerID)
		}
	}

	b := &model.Batch{
		ID:              uuid.NewString(),
		BatchNumber:     number,
		Product:         product,
		Status:          lifecycle.BatchDraft,
		ManufacturerID:  req.ManufacturerID,
		CurrentHolderID: req.ManufacturerID,
		OriginPayload:   req.OriginPayload,
	}
	if err := repos.Batches.Create(ctx, b); err != nil {
		return nil, repoErr(err, "партия")
	}

	s.logger.Info("Партия создана",
		slog.String("batch_id", b.ID),
		slog.String("batch_number", b.BatchNumber),
	)
	return b, nil
}

// GetBatch возвращает партию по UUID.
func (s *RegistryService) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	if err := validateID(id, "batchId"); err != nil {
		return nil, err
	}
	b, err := s.store.Repos().Batches.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "партия "+id)
	}
	return b, nil
}

// ListBatches возвращает партии с фильтром по статусу.
func (s *RegistryService) ListBatches(ctx context.Context, status *string, limit, offset int) ([]*model.Batch, int, error) {
	if status != nil {
		if _, err := lifecycle.ParseBatchStatus(*status); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return s.store.Repos().Batches.List(ctx, status, limit, offset)
}

// ListProofEvents возвращает proof-события партии в порядке создания.
func (s *RegistryService) ListProofEvents(ctx context.Context, batchID string) ([]*model.ProofEvent, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.store.Repos().Events.ListByBatch(ctx, batchID)
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return s != ""
}
