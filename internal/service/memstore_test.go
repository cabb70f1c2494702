package service

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

// memData — состояние in-memory хранилища.
type memData struct {
	participants map[string]model.Participant
	batches      map[string]model.Batch
	assets       map[string]model.OnChainAsset // ключ — batch_id
	events       map[string]model.ProofEvent
	anchors      map[string]model.DocumentAnchor
	seq          map[string]int // порядок создания событий и закреплений
	nextSeq      int
}

func newMemData() *memData {
	return &memData{
		participants: map[string]model.Participant{},
		batches:      map[string]model.Batch{},
		assets:       map[string]model.OnChainAsset{},
		events:       map[string]model.ProofEvent{},
		anchors:      map[string]model.DocumentAnchor{},
		seq:          map[string]int{},
	}
}

func (d *memData) clone() *memData {
	return &memData{
		participants: maps.Clone(d.participants),
		batches:      maps.Clone(d.batches),
		assets:       maps.Clone(d.assets),
		events:       maps.Clone(d.events),
		anchors:      maps.Clone(d.anchors),
		seq:          maps.Clone(d.seq),
		nextSeq:      d.nextSeq,
	}
}

// memStore — repository.Store в памяти. InTx работает на копии состояния
// и подменяет его только при успехе fn.
type memStore struct {
	mu   sync.Mutex
	data *memData
	// failEventCreate — ошибка, которую вернёт создание события (для проверки отката)
	failEventCreate error
	// listFailures — сколько ближайших вызовов ListByStatus завершатся ошибкой
	listFailures atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{data: newMemData()}
}

func (s *memStore) Repos() *repository.Repos {
	return s.repos(nil)
}

func (s *memStore) InTx(ctx context.Context, fn func(r *repository.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.data.clone()
	if err := fn(s.repos(tx)); err != nil {
		return err
	}
	s.data = tx
	return nil
}

func (s *memStore) repos(tx *memData) *repository.Repos {
	m := memRepo{s: s, tx: tx}
	return &repository.Repos{
		Participants: memParticipants{m},
		Batches:      memBatches{m},
		Assets:       memAssets{m},
		Events:       memEvents{m},
		Anchors:      memAnchors{m},
	}
}

// snapshot возвращает копию текущего состояния для проверок в тестах.
func (s *memStore) snapshot() *memData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

type memRepo struct {
	s  *memStore
	tx *memData
}

func (m memRepo) do(fn func(d *memData) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return fn(m.s.data)
}

// --- participants ---

type memParticipants struct{ memRepo }

func (r memParticipants) Create(_ context.Context, p *model.Participant) error {
	return r.do(func(d *memData) error {
		if p.Vkh != nil {
			for _, other := range d.participants {
				if other.Vkh != nil && *other.Vkh == *p.Vkh {
					return repository.ErrConflict
				}
			}
		}
		p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
		d.participants[p.ID] = *p
		return nil
	})
}

func (r memParticipants) GetByID(_ context.Context, id string) (*model.Participant, error) {
	var out *model.Participant
	err := r.do(func(d *memData) error {
		p, ok := d.participants[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r memParticipants) GetActiveByVkh(_ context.Context, vkh string) (*model.Participant, error) {
	var out *model.Participant
	err := r.do(func(d *memData) error {
		for _, p := range d.participants {
			if p.IsActive && p.Vkh != nil && *p.Vkh == vkh {
				out = &p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r memParticipants) List(_ context.Context, role *string, limit, offset int) ([]*model.Participant, int, error) {
	var all []*model.Participant
	_ = r.do(func(d *memData) error {
		for _, p := range d.participants {
			if role == nil || p.Role == *role {
				all = append(all, &p)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), len(all), nil
}

// --- batches ---

type memBatches struct{ memRepo }

func (r memBatches) Create(_ context.Context, b *model.Batch) error {
	return r.do(func(d *memData) error {
		for _, other := range d.batches {
			if other.BatchNumber == b.BatchNumber {
				return repository.ErrConflict
			}
		}
		if b.Status == "" {
			b.Status = lifecycle.BatchDraft
		}
		b.CreatedAt, b.UpdatedAt = time.Now(), time.Now()
		d.batches[b.ID] = *b
		return nil
	})
}

func (r memBatches) GetByID(_ context.Context, id string) (*model.Batch, error) {
	var out *model.Batch
	err := r.do(func(d *memData) error {
		b, ok := d.batches[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &b
		return nil
	})
	return out, err
}

func (r memBatches) GetByIDForUpdate(ctx context.Context, id string) (*model.Batch, error) {
	return r.GetByID(ctx, id)
}

func (r memBatches) List(_ context.Context, status *string, limit, offset int) ([]*model.Batch, int, error) {
	var all []*model.Batch
	_ = r.do(func(d *memData) error {
		for _, b := range d.batches {
			if status == nil || string(b.Status) == *status {
				all = append(all, &b)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].BatchNumber < all[j].BatchNumber })
	return page(all, limit, offset), len(all), nil
}

func (r memBatches) update(id string, fn func(b *model.Batch) error) error {
	return r.do(func(d *memData) error {
		b, ok := d.batches[id]
		if !ok {
			return repository.ErrNotFound
		}
		if err := fn(&b); err != nil {
			return err
		}
		b.UpdatedAt = time.Now()
		d.batches[id] = b
		return nil
	})
}

func (r memBatches) UpdateStatus(_ context.Context, id string, expected, next lifecycle.BatchStatus) error {
	err := r.update(id, func(b *model.Batch) error {
		if b.Status != expected {
			return repository.ErrStaleStatus
		}
		b.Status = next
		return nil
	})
	if err == repository.ErrNotFound {
		return repository.ErrStaleStatus
	}
	return err
}

func (r memBatches) SetConfirmedStatus(_ context.Context, id string, status lifecycle.BatchStatus) error {
	return r.update(id, func(b *model.Batch) error {
		b.ConfirmedStatus = &status
		return nil
	})
}

func (r memBatches) StampParties(_ context.Context, id, participantID string) error {
	return r.update(id, func(b *model.Batch) error {
		if b.ManufacturerID == nil {
			b.ManufacturerID = &participantID
		}
		if b.CurrentHolderID == nil {
			b.CurrentHolderID = &participantID
		}
		return nil
	})
}

func (r memBatches) SetCurrentHolder(_ context.Context, id, participantID string) error {
	return r.update(id, func(b *model.Batch) error {
		b.CurrentHolderID = &participantID
		return nil
	})
}

// --- assets ---

type memAssets struct{ memRepo }

func (r memAssets) Create(_ context.Context, a *model.OnChainAsset) error {
	return r.do(func(d *memData) error {
		if _, ok := d.assets[a.BatchID]; ok {
			return repository.ErrConflict
		}
		a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
		d.assets[a.BatchID] = *a
		return nil
	})
}

func (r memAssets) GetByBatchID(_ context.Context, batchID string) (*model.OnChainAsset, error) {
	var out *model.OnChainAsset
	err := r.do(func(d *memData) error {
		a, ok := d.assets[batchID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r memAssets) GetByFingerprint(_ context.Context, fingerprint string) (*model.OnChainAsset, error) {
	var out *model.OnChainAsset
	err := r.do(func(d *memData) error {
		for _, a := range d.assets {
			if a.Fingerprint != "" && a.Fingerprint == fingerprint {
				out = &a
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r memAssets) update(batchID string, fn func(a *model.OnChainAsset)) error {
	return r.do(func(d *memData) error {
		a, ok := d.assets[batchID]
		if !ok {
			return repository.ErrNotFound
		}
		fn(&a)
		a.UpdatedAt = time.Now()
		d.assets[batchID] = a
		return nil
	})
}

func (r memAssets) SetDeclaredHolder(_ context.Context, batchID string, expected *string, holderVkh string) error {
	return r.do(func(d *memData) error {
		a, ok := d.assets[batchID]
		if !ok {
			return repository.ErrStaleStatus
		}
		switch {
		case expected == nil && a.CurrentHolder != nil,
			expected != nil && (a.CurrentHolder == nil || *a.CurrentHolder != *expected):
			return repository.ErrStaleStatus
		}
		a.CurrentHolder = &holderVkh
		a.UpdatedAt = time.Now()
		d.assets[batchID] = a
		return nil
	})
}

func (r memAssets) ApplyMint(_ context.Context, batchID, utxoRef, holderVkh string) error {
	return r.update(batchID, func(a *model.OnChainAsset) {
		a.CurrentUtxoRef = &utxoRef
		a.ConfirmedHolder = &holderVkh
		if a.CurrentHolder == nil {
			a.CurrentHolder = &holderVkh
		}
	})
}

func (r memAssets) ApplyTransfer(_ context.Context, batchID, utxoRef, holderVkh string) error {
	return r.update(batchID, func(a *model.OnChainAsset) {
		a.Step++
		a.CurrentUtxoRef = &utxoRef
		a.CurrentHolder = &holderVkh
		a.ConfirmedHolder = &holderVkh
	})
}

// --- proof events ---

type memEvents struct{ memRepo }

func (r memEvents) Create(_ context.Context, e *model.ProofEvent) error {
	if err := r.s.failEventCreate; err != nil {
		return err
	}
	return r.do(func(d *memData) error {
		for _, other := range d.events {
			if other.Status == lifecycle.EventPending && other.SigningRequestID == e.SigningRequestID {
				return repository.ErrConflict
			}
		}
		if e.Status == "" {
			e.Status = lifecycle.EventPending
		}
		e.CreatedAt, e.UpdatedAt = time.Now(), time.Now()
		d.events[e.ID] = *e
		d.nextSeq++
		d.seq[e.ID] = d.nextSeq
		return nil
	})
}

func (r memEvents) GetByID(_ context.Context, id string) (*model.ProofEvent, error) {
	var out *model.ProofEvent
	err := r.do(func(d *memData) error {
		e, ok := d.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r memEvents) GetPendingBySigningRequest(_ context.Context, signingRequestID string) (*model.ProofEvent, error) {
	var out *model.ProofEvent
	err := r.do(func(d *memData) error {
		for _, e := range d.events {
			if e.Status == lifecycle.EventPending && e.SigningRequestID == signingRequestID {
				out = &e
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r memEvents) filter(keep func(e model.ProofEvent) bool) []*model.ProofEvent {
	var out []*model.ProofEvent
	var seq map[string]int
	_ = r.do(func(d *memData) error {
		seq = maps.Clone(d.seq)
		for _, e := range d.events {
			if keep(e) {
				out = append(out, &e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return seq[out[i].ID] < seq[out[j].ID] })
	return out
}

func (r memEvents) ListByBatch(_ context.Context, batchID string) ([]*model.ProofEvent, error) {
	return r.filter(func(e model.ProofEvent) bool { return e.BatchID == batchID }), nil
}

func (r memEvents) ListByStatus(_ context.Context, status lifecycle.EventStatus, limit int) ([]*model.ProofEvent, error) {
	if r.s.listFailures.Add(-1) >= 0 {
		return nil, errors.New("conn closed")
	}
	r.s.listFailures.Store(0)
	out := r.filter(func(e model.ProofEvent) bool { return e.Status == status })
	return page(out, limit, 0), nil
}

// cas меняет событие, если его статус равен expected.
func (r memEvents) cas(id string, expected lifecycle.EventStatus, fn func(e *model.ProofEvent)) (bool, error) {
	applied := false
	err := r.do(func(d *memData) error {
		e, ok := d.events[id]
		if !ok || e.Status != expected {
			return nil
		}
		fn(&e)
		e.UpdatedAt = time.Now()
		d.events[id] = e
		applied = true
		return nil
	})
	return applied, err
}

func (r memEvents) MarkSubmitted(_ context.Context, id, txHash, submissionID string) error {
	ok, err := r.cas(id, lifecycle.EventPending, func(e *model.ProofEvent) {
		e.Status = lifecycle.EventSubmitted
		e.OnChainTxHash = &txHash
		e.SubmissionID = &submissionID
	})
	if err == nil && !ok {
		return repository.ErrStaleStatus
	}
	return err
}

func (r memEvents) MarkConfirmed(_ context.Context, id, txHash string) (bool, error) {
	return r.cas(id, lifecycle.EventSubmitted, func(e *model.ProofEvent) {
		e.Status = lifecycle.EventConfirmed
		if txHash != "" {
			e.OnChainTxHash = &txHash
		}
		e.ErrorMessage = nil
	})
}

func (r memEvents) MarkFailed(_ context.Context, id, message string) (bool, error) {
	return r.cas(id, lifecycle.EventSubmitted, func(e *model.ProofEvent) {
		e.Status = lifecycle.EventFailed
		e.ErrorMessage = &message
	})
}

func (r memEvents) ResetForRetry(_ context.Context, id, buildID, signingRequestID string) error {
	ok, err := r.cas(id, lifecycle.EventFailed, func(e *model.ProofEvent) {
		e.Status = lifecycle.EventPending
		e.BuildID = buildID
		e.SigningRequestID = signingRequestID
		e.SubmissionID = nil
		e.OnChainTxHash = nil
		e.ErrorMessage = nil
	})
	if err == nil && !ok {
		return repository.ErrStaleStatus
	}
	return err
}

func (r memEvents) TouchChecked(_ context.Context, id string, at time.Time) error {
	return r.do(func(d *memData) error {
		e, ok := d.events[id]
		if !ok {
			return nil
		}
		e.LastCheckedAt = &at
		d.events[id] = e
		return nil
	})
}

// --- document anchors ---

type memAnchors struct{ memRepo }

func (r memAnchors) Create(_ context.Context, a *model.DocumentAnchor) error {
	return r.do(func(d *memData) error {
		if a.Status == "" {
			a.Status = lifecycle.EventPending
		}
		if a.Visibility == "" {
			a.Visibility = model.VisibilityPublic
		}
		a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
		d.anchors[a.ID] = *a
		d.nextSeq++
		d.seq[a.ID] = d.nextSeq
		return nil
	})
}

func (r memAnchors) ListByBatch(_ context.Context, batchID string) ([]*model.DocumentAnchor, error) {
	var out []*model.DocumentAnchor
	var seq map[string]int
	_ = r.do(func(d *memData) error {
		seq = maps.Clone(d.seq)
		for _, a := range d.anchors {
			if a.BatchID == batchID {
				out = append(out, &a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return seq[out[i].ID] < seq[out[j].ID] })
	return out, nil
}

func (r memAnchors) updateWhere(match func(a model.DocumentAnchor) bool, fn func(a *model.DocumentAnchor)) (bool, error) {
	applied := false
	err := r.do(func(d *memData) error {
		for id, a := range d.anchors {
			if match(a) {
				fn(&a)
				d.anchors[id] = a
				applied = true
			}
		}
		return nil
	})
	return applied, err
}

func unfinished(s lifecycle.EventStatus) bool {
	return s == lifecycle.EventPending || s == lifecycle.EventSubmitted
}

func (r memAnchors) MarkSubmittedBySigningRequest(_ context.Context, signingRequestID, txHash, submissionID string) (bool, error) {
	return r.updateWhere(
		func(a model.DocumentAnchor) bool {
			return a.SigningRequestID == signingRequestID && a.Status == lifecycle.EventPending
		},
		func(a *model.DocumentAnchor) {
			a.Status = lifecycle.EventSubmitted
			a.OnChainTxHash = &txHash
			a.SubmissionID = &submissionID
		})
}

func (r memAnchors) MarkConfirmedByBuild(_ context.Context, buildID, txHash string) (bool, error) {
	return r.updateWhere(
		func(a model.DocumentAnchor) bool { return a.BuildID == buildID && unfinished(a.Status) },
		func(a *model.DocumentAnchor) {
			a.Status = lifecycle.EventConfirmed
			if txHash != "" {
				a.OnChainTxHash = &txHash
			}
		})
}

func (r memAnchors) MarkFailedByBuild(_ context.Context, buildID string) (bool, error) {
	return r.updateWhere(
		func(a model.DocumentAnchor) bool { return a.BuildID == buildID && unfinished(a.Status) },
		func(a *model.DocumentAnchor) { a.Status = lifecycle.EventFailed })
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

var _ repository.Store = (*memStore)(nil)
