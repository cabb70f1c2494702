package chainclient

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MetadataLabel — метка метаданных транзакции для сообщений (CIP-20).
const MetadataLabel = "674"

// plutusData — узел Plutus data в detailed schema JSON (cardano-cli).
type plutusData struct {
	Constructor *int         `json:"constructor,omitempty"`
	Fields      []plutusData `json:"fields,omitempty"`
	Bytes       *string      `json:"bytes,omitempty"`
	Int         *int         `json:"int,omitempty"`
}

func pdBytes(s string) plutusData { return plutusData{Bytes: &s} }
func pdInt(n int) plutusData      { return plutusData{Int: &n} }

func pdConstr(index int, fields ...plutusData) plutusData {
	return plutusData{Constructor: &index, Fields: fields}
}

// CustodyDatum строит inline datum цепочки владения:
// Constr 0 [manufacturerVkh, currentHolderVkh, batchIdHex, step].
func CustodyDatum(manufacturerVkh, currentHolderVkh, batchIDHex string, step int) string {
	return mustJSON(pdConstr(0,
		pdBytes(manufacturerVkh),
		pdBytes(currentHolderVkh),
		pdBytes(batchIDHex),
		pdInt(step),
	))
}

// TransferRedeemer строит redeemer перевода: Constr 0 [nextHolderVkh].
func TransferRedeemer(nextHolderVkh string) string {
	return mustJSON(pdConstr(0, pdBytes(nextHolderVkh)))
}

// BatchAssetName — имя актива: UTF-8 номера партии в hex.
func BatchAssetName(batchNumber string) string {
	return hex.EncodeToString([]byte(batchNumber))
}

// UtxoRef — ссылка на UTxO: хеш транзакции и индекс выхода.
type UtxoRef struct {
	TxHash string
	Index  int
}

// String возвращает ссылку в формате "<txHash>#<index>".
func (r UtxoRef) String() string {
	return FormatUtxoRef(r.TxHash, r.Index)
}

// FormatUtxoRef форматирует ссылку на UTxO.
func FormatUtxoRef(txHash string, index int) string {
	return txHash + "#" + strconv.Itoa(index)
}

// ParseUtxoRef разбирает "<txHash>#<index>".
func ParseUtxoRef(s string) (UtxoRef, error) {
	hash, idx, ok := strings.Cut(s, "#")
	if !ok || hash == "" {
		return UtxoRef{}, fmt.Errorf("некорректная ссылка на UTxO: %q", s)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return UtxoRef{}, fmt.Errorf("некорректный индекс выхода в ссылке на UTxO: %q", s)
	}
	return UtxoRef{TxHash: hash, Index: n}, nil
}

// MessageMetadata строит метаданные с меткой 674: {"674": {"msg": [msg], ...fields}}.
func MessageMetadata(msg string, fields map[string]any) map[string]any {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["msg"] = []string{msg}
	return map[string]any{MetadataLabel: body}
}

// TruncateRunes обрезает строку до n символов, не разрывая UTF-8.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("chainclient: сериализация plutus data: %v", err))
	}
	return string(b)
}
