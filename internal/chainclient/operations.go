package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Суммы lovelace на выходах транзакций.
const (
	scriptOutputLovelace   = "2000000"
	metadataOutputLovelace = "1500000"
)

// Статусы отправки и транзакции.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Build — результат сборки неподписанной транзакции.
type Build struct {
	ID           string `json:"id"`
	UnsignedCbor string `json:"unsignedTxCbor"`
	TxBodyHash   string `json:"txBodyHash"`
}

// MintParams — параметры выпуска NFT партии.
type MintParams struct {
	// SenderAddress — адрес кошелька производителя (отправитель, получатель и сдача)
	SenderAddress   string
	ManufacturerVkh string
	BatchNumber     string
}

// MintBuild — собранная mint-транзакция и параметры актива.
type MintBuild struct {
	Build
	PolicyID      string
	AssetName     string
	Fingerprint   string
	ScriptAddress string
	Datum         string
}

// TransferParams — параметры перевода NFT следующему держателю.
type TransferParams struct {
	SenderAddress    string
	ManufacturerVkh  string
	CurrentHolderVkh string
	NextHolderVkh    string
	// AssetName — hex номера партии
	AssetName   string
	CurrentStep int
	Utxo        UtxoRef
}

// AnchorParams — параметры metadata-транзакции.
type AnchorParams struct {
	SenderAddress string
	// Metadata — метаданные транзакции (сериализуются в JSON)
	Metadata any
}

// SigningRequest — запрос на внешнюю подпись.
type SigningRequest struct {
	ID             string `json:"id"`
	UnsignedTxCbor string `json:"unsignedTxCbor"`
	TxBodyHash     string `json:"txBodyHash"`
}

// Submission — результат отправки подписанной транзакции.
type Submission struct {
	TxHash       string `json:"txHash"`
	SubmissionID string `json:"id"`
	Status       string `json:"status"`
}

// SubmissionStatus — статус отправленной транзакции.
type SubmissionStatus struct {
	Status       string
	TxHash       string
	ErrorMessage string
}

// TxStatus — статус транзакции в сети.
type TxStatus struct {
	Status string
	Block  *string
	Slot   *int64
}

// BuildMint собирает транзакцию выпуска NFT партии. NFT блокируется на
// адресе скрипта с inline datum (шаг 0, держатель — производитель).
func (c *Client) BuildMint(ctx context.Context, p MintParams) (*MintBuild, error) {
	policy, err := c.validators.CompiledCode(MintValidatorTitle)
	if err != nil {
		return nil, err
	}

	assetName := BatchAssetName(p.BatchNumber)
	datum := CustodyDatum(p.ManufacturerVkh, p.ManufacturerVkh, assetName, 0)

	body := map[string]any{
		"senderAddress":       p.SenderAddress,
		"recipientAddress":    p.SenderAddress,
		"lovelaceAmount":      scriptOutputLovelace,
		"mintActionsJson":     mustJSON([]map[string]string{{"assetUnit": assetName, "quantity": "1"}}),
		"mintingPolicyScript": policy,
		"scriptParamsJson":    mustJSON([]map[string]string{{"bytes": p.ManufacturerVkh}}),
		"changeAddress":       p.SenderAddress,
		"requiredSignersJson": mustJSON([]string{p.ManufacturerVkh}),
		"inlineDatumJson":     datum,
		"lockOnScript":        true,
	}

	var resp struct {
		Build
		ScriptHash    string  `json:"scriptHash"`
		Fingerprint   *string `json:"fingerprint"`
		ScriptAddress string  `json:"scriptAddress"`
	}
	if err := c.do(ctx, "BuildMintTransaction", http.MethodPost, c.txURL+"/BuildMintTransaction", body, &resp); err != nil {
		return nil, err
	}

	result := &MintBuild{
		Build:         resp.Build,
		PolicyID:      resp.ScriptHash,
		AssetName:     assetName,
		ScriptAddress: resp.ScriptAddress,
		Datum:         datum,
	}
	if resp.Fingerprint != nil {
		result.Fingerprint = *resp.Fingerprint
	}

	c.logger.Debug("Mint-транзакция собрана",
		slog.String("build_id", result.ID),
		slog.String("policy_id", result.PolicyID),
		slog.String("asset_name", assetName),
	)
	return result, nil
}

// BuildTransfer собирает spend-транзакцию перевода NFT. Выходной datum
// содержит следующего держателя и шаг currentStep+1; подписывает
// текущий держатель.
func (c *Client) BuildTransfer(ctx context.Context, p TransferParams) (*Build, error) {
	validator, err := c.validators.CompiledCode(SpendValidatorTitle)
	if err != nil {
		return nil, err
	}

	outputDatum := CustodyDatum(p.ManufacturerVkh, p.NextHolderVkh, p.AssetName, p.CurrentStep+1)

	// datumJson не передаётся: datum UTxO inline и читается из сети
	body := map[string]any{
		"senderAddress":       p.SenderAddress,
		"recipientAddress":    p.SenderAddress,
		"lovelaceAmount":      scriptOutputLovelace,
		"validatorScript":     validator,
		"scriptParamsJson":    mustJSON([]map[string]string{{"bytes": p.ManufacturerVkh}}),
		"scriptTxHash":        p.Utxo.TxHash,
		"scriptOutputIndex":   p.Utxo.Index,
		"redeemerJson":        TransferRedeemer(p.NextHolderVkh),
		"inlineDatumJson":     outputDatum,
		"changeAddress":       p.SenderAddress,
		"requiredSignersJson": mustJSON([]string{p.CurrentHolderVkh}),
		"lockOnScript":        true,
	}

	var resp Build
	if err := c.do(ctx, "BuildPlutusSpendTransaction", http.MethodPost, c.txURL+"/BuildPlutusSpendTransaction", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BuildAnchor собирает транзакцию с метаданными (без изменения владения).
func (c *Client) BuildAnchor(ctx context.Context, p AnchorParams) (*Build, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("сериализация метаданных: %w", err)
	}

	body := map[string]any{
		"senderAddress":    p.SenderAddress,
		"recipientAddress": p.SenderAddress,
		"lovelaceAmount":   metadataOutputLovelace,
		"metadataJson":     string(metadata),
		"changeAddress":    p.SenderAddress,
	}

	var resp Build
	if err := c.do(ctx, "BuildTransactionWithMetadata", http.MethodPost, c.txURL+"/BuildTransactionWithMetadata", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSigningRequest создаёт запрос на подпись собранной транзакции.
func (c *Client) CreateSigningRequest(ctx context.Context, buildID string) (*SigningRequest, error) {
	var resp SigningRequest
	body := map[string]string{"buildId": buildID}
	if err := c.do(ctx, "CreateSigningRequest", http.MethodPost, c.txURL+"/CreateSigningRequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("CreateSigningRequest: в ответе нет id запроса на подпись (build %s)", buildID)
	}
	return &resp, nil
}

// SubmitSigned отправляет подписанную транзакцию (witness set кошелька).
// Сервис пересобирает транзакцию и сверяет хеш тела перед отправкой.
func (c *Client) SubmitSigned(ctx context.Context, signingRequestID, signedTxCbor string) (*Submission, error) {
	reqURL := fmt.Sprintf("%s/SigningRequests(%s)/SubmitVerifiedTransaction", c.txURL, odataKey(signingRequestID))
	body := map[string]string{"signedTxCbor": signedTxCbor}

	var resp Submission
	if err := c.do(ctx, "SubmitVerifiedTransaction", http.MethodPost, reqURL, body, &resp); err != nil {
		return nil, err
	}
	if resp.TxHash == "" {
		return nil, fmt.Errorf("SubmitVerifiedTransaction: в ответе нет хеша транзакции")
	}
	return &resp, nil
}

// CheckSubmissionStatus запрашивает статус отправки. Отсутствующий статус
// нормализуется в submitted, 404 — в pending.
func (c *Client) CheckSubmissionStatus(ctx context.Context, submissionID string) (*SubmissionStatus, error) {
	reqURL := fmt.Sprintf("%s/Submissions(%s)/CheckSubmissionStatus", c.txURL, odataKey(submissionID))

	var resp struct {
		Status       *string `json:"status"`
		TxHash       *string `json:"txHash"`
		ErrorMessage *string `json:"errorMessage"`
	}
	err := c.do(ctx, "CheckSubmissionStatus", http.MethodPost, reqURL, map[string]any{}, &resp)
	if IsNotFound(err) {
		return &SubmissionStatus{Status: StatusPending}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &SubmissionStatus{Status: StatusSubmitted}
	if resp.Status != nil && *resp.Status != "" {
		result.Status = strings.ToLower(*resp.Status)
	}
	if resp.TxHash != nil {
		result.TxHash = *resp.TxHash
	}
	if resp.ErrorMessage != nil {
		result.ErrorMessage = *resp.ErrorMessage
	}
	return result, nil
}

// GetTxStatus проверяет наличие транзакции в сети. 404 означает, что
// транзакция ещё не найдена (pending).
func (c *Client) GetTxStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	reqURL := fmt.Sprintf("%s/GetTransactionByHash(hash=%s)", c.queryURL, url.PathEscape("'"+txHash+"'"))

	var resp struct {
		BlockHash *string `json:"blockHash"`
		Slot      *int64  `json:"slot"`
	}
	err := c.do(ctx, "GetTransactionByHash", http.MethodGet, reqURL, nil, &resp)
	if IsNotFound(err) {
		return &TxStatus{Status: StatusPending}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TxStatus{Status: StatusConfirmed, Block: resp.BlockHash, Slot: resp.Slot}, nil
}

// odataKey форматирует строковый ключ сущности OData: 'value'.
func odataKey(id string) string {
	return url.PathEscape("'" + strings.ReplaceAll(id, "'", "''") + "'")
}
