package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
	"github.com/bigkaa/pharmatrace/internal/domain/model"
)

const (
	mfrVkh  = "aa01"
	distVkh = "bb02"
	pharVkh = "cc03"
)

var mfrSession = Session{WalletAddress: "addr_test1mfr", WalletVkh: mfrVkh}

// fakeChain — ChainAdapter в памяти. Сборки нумеруются, статусы отправок
// и транзакций задаются тестом.
type fakeChain struct {
	mu sync.Mutex

	buildErr  error
	submitErr error

	mints     []chainclient.MintParams
	transfers []chainclient.TransferParams
	anchors   []chainclient.AnchorParams
	submits   int
	txChecks  int

	// submissionStatus — ответ CheckSubmissionStatus по submission id
	submissionStatus map[string]*chainclient.SubmissionStatus
	checkErr         map[string]error
	// afterTransferBuild вызывается один раз после сборки перевода,
	// до сохранения результата сервисом
	afterTransferBuild func()
	// txStatus — ответ GetTxStatus по хешу; отсутствие — pending
	txStatus map[string]string
	txErr    map[string]error

	seq int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		submissionStatus: map[string]*chainclient.SubmissionStatus{},
		checkErr:         map[string]error{},
		txStatus:         map[string]string{},
		txErr:            map[string]error{},
	}
}

func (f *fakeChain) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeChain) BuildMint(_ context.Context, p chainclient.MintParams) (*chainclient.MintBuild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.mints = append(f.mints, p)
	return &chainclient.MintBuild{
		Build:         chainclient.Build{ID: f.next("build"), UnsignedCbor: "84a4", TxBodyHash: "bodyhash"},
		PolicyID:      "policy-" + p.ManufacturerVkh,
		AssetName:     chainclient.BatchAssetName(p.BatchNumber),
		Fingerprint:   "asset1" + p.BatchNumber,
		ScriptAddress: "addr_test1script",
	}, nil
}

func (f *fakeChain) BuildTransfer(_ context.Context, p chainclient.TransferParams) (*chainclient.Build, error) {
	f.mu.Lock()
	if f.buildErr != nil {
		f.mu.Unlock()
		return nil, f.buildErr
	}
	f.transfers = append(f.transfers, p)
	build := &chainclient.Build{ID: f.next("build"), UnsignedCbor: "84a5", TxBodyHash: "bodyhash"}
	hook := f.afterTransferBuild
	f.afterTransferBuild = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return build, nil
}

func (f *fakeChain) BuildAnchor(_ context.Context, p chainclient.AnchorParams) (*chainclient.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.anchors = append(f.anchors, p)
	return &chainclient.Build{ID: f.next("build"), UnsignedCbor: "84a6", TxBodyHash: "bodyhash"}, nil
}

func (f *fakeChain) CreateSigningRequest(_ context.Context, buildID string) (*chainclient.SigningRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &chainclient.SigningRequest{ID: "sr-" + buildID}, nil
}

func (f *fakeChain) SubmitSigned(_ context.Context, signingRequestID, _ string) (*chainclient.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits++
	return &chainclient.Submission{
		TxHash:       "tx-" + signingRequestID,
		SubmissionID: "sub-" + signingRequestID,
		Status:       chainclient.StatusSubmitted,
	}, nil
}

func (f *fakeChain) CheckSubmissionStatus(_ context.Context, submissionID string) (*chainclient.SubmissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkErr[submissionID]; err != nil {
		return nil, err
	}
	if st, ok := f.submissionStatus[submissionID]; ok {
		return st, nil
	}
	return &chainclient.SubmissionStatus{Status: chainclient.StatusSubmitted}, nil
}

func (f *fakeChain) GetTxStatus(_ context.Context, txHash string) (*chainclient.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txChecks++
	if err := f.txErr[txHash]; err != nil {
		return nil, err
	}
	if st, ok := f.txStatus[txHash]; ok {
		return &chainclient.TxStatus{Status: st}, nil
	}
	return &chainclient.TxStatus{Status: chainclient.StatusPending}, nil
}

// confirm помечает отправку подтверждённой в сети.
func (f *fakeChain) confirm(submissionID, txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissionStatus[submissionID] = &chainclient.SubmissionStatus{Status: chainclient.StatusConfirmed, TxHash: txHash}
	f.txStatus[txHash] = chainclient.StatusConfirmed
}

// fail помечает отправку отклонённой сетью.
func (f *fakeChain) fail(submissionID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissionStatus[submissionID] = &chainclient.SubmissionStatus{Status: chainclient.StatusFailed, ErrorMessage: message}
}

func (f *fakeChain) calls() (builds, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mints) + len(f.transfers) + len(f.anchors), f.submits
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// env — сервисы поверх общего хранилища и адаптера.
type env struct {
	store      *memStore
	chain      *fakeChain
	lifecycle  *LifecycleService
	registry   *RegistryService
	confirmer  *Confirmer
	reconciler *Reconciler
	verifier   *Verifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newMemStore()
	chain := newFakeChain()
	logger := testLogger()
	confirmer := NewConfirmer(store, logger)
	return &env{
		store:      store,
		chain:      chain,
		lifecycle:  NewLifecycleService(store, chain, true, logger),
		registry:   NewRegistryService(store, logger),
		confirmer:  confirmer,
		reconciler: NewReconciler(store, chain, confirmer, nil, 0, 0, logger),
		verifier:   NewVerifier(store, chain, NewTxStatusCache(100, 0), 4, logger),
	}
}

func (e *env) participant(t *testing.T, name, role, vkh string) *model.Participant {
	t.Helper()
	p, err := e.registry.CreateParticipant(context.Background(), CreateParticipantRequest{
		Name: name, Role: role, Vkh: &vkh,
	})
	require.NoError(t, err)
	return p
}

func (e *env) batch(t *testing.T) *model.Batch {
	t.Helper()
	b, err := e.registry.CreateBatch(context.Background(), CreateBatchRequest{
		BatchNumber:   "LOT-" + uuid.NewString()[:8],
		Product:       "Amoxicillin 500mg",
		OriginPayload: []byte(`{"site":"Berlin","gmp":true}`),
	})
	require.NoError(t, err)
	return b
}

// submit отправляет подписанную транзакцию и возвращает submission id.
func (e *env) submit(t *testing.T, m *SigningMaterial) *SubmitResult {
	t.Helper()
	res, err := e.lifecycle.SubmitSigned(context.Background(), m.SigningRequestID, "84a4signed")
	require.NoError(t, err)
	return res
}

// mintConfirmed выпускает NFT партии и подтверждает выпуск через сверку.
func (e *env) mintConfirmed(t *testing.T, b *model.Batch) *MintResult {
	t.Helper()
	ctx := context.Background()
	mint, err := e.lifecycle.MintBatchNft(ctx, mfrSession, b.ID)
	require.NoError(t, err)
	res := e.submit(t, &mint.SigningMaterial)
	e.chain.confirm(res.SubmissionID, res.TxHash)
	_, err = e.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	return mint
}
