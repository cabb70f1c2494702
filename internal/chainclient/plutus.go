package chainclient

import (
	"encoding/json"
	"fmt"
	"os"
)

// Заголовки валидаторов контракта pharma_trace в plutus.json.
const (
	MintValidatorTitle  = "pharma_trace.pharma_trace.mint"
	SpendValidatorTitle = "pharma_trace.pharma_trace.spend"
)

// blueprint — CIP-57 plutus.json (используются только валидаторы).
type blueprint struct {
	Validators []struct {
		Title        string `json:"title"`
		CompiledCode string `json:"compiledCode"`
		Hash         string `json:"hash"`
	} `json:"validators"`
}

// Validators — каталог скомпилированных Plutus-валидаторов по заголовку.
type Validators struct {
	byTitle map[string]string
}

// LoadValidators читает plutus.json с диска.
func LoadValidators(path string) (*Validators, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	v, err := ParseValidators(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ParseValidators разбирает содержимое plutus.json.
// Проверяет наличие валидаторов mint и spend контракта.
func ParseValidators(data []byte) (*Validators, error) {
	var bp blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("разбор plutus.json: %w", err)
	}

	v := &Validators{byTitle: make(map[string]string, len(bp.Validators))}
	for _, val := range bp.Validators {
		if val.Title == "" || val.CompiledCode == "" {
			continue
		}
		v.byTitle[val.Title] = val.CompiledCode
	}

	for _, title := range []string{MintValidatorTitle, SpendValidatorTitle} {
		if _, ok := v.byTitle[title]; !ok {
			return nil, fmt.Errorf("валидатор %q не найден в plutus.json", title)
		}
	}
	return v, nil
}

// CompiledCode возвращает hex скомпилированного валидатора.
func (v *Validators) CompiledCode(title string) (string, error) {
	code, ok := v.byTitle[title]
	if !ok {
		return "", fmt.Errorf("валидатор %q не найден в plutus.json", title)
	}
	return code, nil
}
