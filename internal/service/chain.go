package service

import (
	"context"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
)

// ChainAdapter — операции сервиса сборки транзакций, используемые сервисным слоем.
// Реализуется *chainclient.Client.
type ChainAdapter interface {
	BuildMint(ctx context.Context, p chainclient.MintParams) (*chainclient.MintBuild, error)
	BuildTransfer(ctx context.Context, p chainclient.TransferParams) (*chainclient.Build, error)
	BuildAnchor(ctx context.Context, p chainclient.AnchorParams) (*chainclient.Build, error)
	CreateSigningRequest(ctx context.Context, buildID string) (*chainclient.SigningRequest, error)
	SubmitSigned(ctx context.Context, signingRequestID, signedTxCbor string) (*chainclient.Submission, error)
	CheckSubmissionStatus(ctx context.Context, submissionID string) (*chainclient.SubmissionStatus, error)
	GetTxStatus(ctx context.Context, txHash string) (*chainclient.TxStatus, error)
}

var _ ChainAdapter = (*chainclient.Client)(nil)

// SigningMaterial — данные для внешней подписи собранной транзакции.
type SigningMaterial struct {
	ProofEventID     string
	BuildID          string
	SigningRequestID string
	UnsignedCbor     string
	TxBodyHash       string
}

// signingMaterial создаёт запрос подписи для сборки и собирает результат.
func signingMaterial(ctx context.Context, chain ChainAdapter, build *chainclient.Build) (*SigningMaterial, error) {
	sr, err := chain.CreateSigningRequest(ctx, build.ID)
	if err != nil {
		return nil, chainErr("создание запроса подписи", err)
	}
	m := &SigningMaterial{
		BuildID:          build.ID,
		SigningRequestID: sr.ID,
		UnsignedCbor:     sr.UnsignedTxCbor,
		TxBodyHash:       sr.TxBodyHash,
	}
	if m.UnsignedCbor == "" {
		m.UnsignedCbor = build.UnsignedCbor
	}
	if m.TxBodyHash == "" {
		m.TxBodyHash = build.TxBodyHash
	}
	return m, nil
}
