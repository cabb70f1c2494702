// Пакет digest — детерминированный хеш JSON-подобной полезной нагрузки.
//
// Каноническая форма — RFC 8785 (JCS): ключи объектов отсортированы
// рекурсивно, массивы сохраняют порядок, числа в формате ES6.
// Члены объекта со значением null удаляются, поэтому null и
// отсутствующее поле дают одинаковый хеш.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

var nullJSON = []byte("null")

// Canonicalize возвращает каноническую JSON-форму payload.
func Canonicalize(payload any) ([]byte, error) {
	if payload == nil {
		return nullJSON, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("digest: сериализация payload: %w", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON возвращает каноническую форму уже закодированного JSON.
// Пустой вход трактуется как null.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nullJSON, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("digest: разбор JSON: %w", err)
	}

	v = dropNulls(v)
	if v == nil {
		return nullJSON, nil
	}

	pruned, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("digest: сериализация: %w", err)
	}
	canonical, err := jcs.Transform(pruned)
	if err != nil {
		return nil, fmt.Errorf("digest: канонизация: %w", err)
	}
	return canonical, nil
}

// Compute возвращает SHA-256 канонической формы payload в нижнем регистре hex.
func Compute(payload any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return hashHex(canonical), nil
}

// ComputeJSON — Compute для уже закодированного JSON (например, JSONB-колонки).
func ComputeJSON(raw []byte) (string, error) {
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", err
	}
	return hashHex(canonical), nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// dropNulls рекурсивно удаляет члены объектов со значением null.
// null внутри массивов сохраняется: позиция элемента значима.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = dropNulls(val)
		}
		return t
	default:
		return v
	}
}
