// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — состояние ресурса не допускает операцию.
	ErrConflict = errors.New("конфликт состояния")
	// ErrForbidden — у кошелька нет права на действие.
	ErrForbidden = errors.New("действие запрещено")
	// ErrUnsupported — операция не поддерживается для этого типа события.
	ErrUnsupported = errors.New("операция не поддерживается")
	// ErrChainAdapter — сервис сборки транзакций вернул ошибку или недоступен.
	ErrChainAdapter = errors.New("ошибка сервиса транзакций")
)

// repoErr переводит ошибки репозитория в ошибки сервиса.
func repoErr(err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, repository.ErrStaleStatus):
		return fmt.Errorf("%w: %s изменён параллельным запросом", ErrConflict, what)
	default:
		return err
	}
}

// actionErr оборачивает *lifecycle.TransitionError в ErrConflict.
func actionErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConflict, err)
}

// chainErr оборачивает ошибку адаптера в ErrChainAdapter.
func chainErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrChainAdapter, op, err)
}

// TransitionCode возвращает код ошибки перехода, если err её содержит.
func TransitionCode(err error) (string, bool) {
	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		return te.Code, true
	}
	return "", false
}
