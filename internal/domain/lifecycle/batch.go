// Пакет lifecycle — конечные автоматы жизненного цикла партии и proof-событий.
//
// Жизненный цикл партии:
//
//	DRAFT → MINTED → IN_TRANSIT → DELIVERED
//	MINTED | IN_TRANSIT | DELIVERED → RECALLED
//
// DRAFT и RECALLED поглощающие для действий с цепочкой: до выпуска
// переводить нечего, после отзыва партия не выпускается и не передаётся.
//
// Состояние хранится в БД; автомат только проверяет переходы.
// Сами записи выполняются compare-and-set по ожидаемому статусу.
package lifecycle

import (
	"fmt"
	"strings"
)

// BatchStatus — статус партии.
type BatchStatus string

const (
	// BatchDraft — партия создана, NFT не выпущен
	BatchDraft BatchStatus = "DRAFT"
	// BatchMinted — NFT выпущен, партия у производителя
	BatchMinted BatchStatus = "MINTED"
	// BatchInTransit — партия передаётся по цепочке поставок
	BatchInTransit BatchStatus = "IN_TRANSIT"
	// BatchDelivered — получатель подтвердил приёмку
	BatchDelivered BatchStatus = "DELIVERED"
	// BatchRecalled — партия отозвана
	BatchRecalled BatchStatus = "RECALLED"
)

// Action — действие жизненного цикла над партией.
type Action string

const (
	ActionMint           Action = "MINT"
	ActionTransfer       Action = "TRANSFER"
	ActionAnchor         Action = "ANCHOR"
	ActionRecall         Action = "RECALL"
	ActionConfirmReceipt Action = "CONFIRM_RECEIPT"
)

// Коды ошибок переходов.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeActionNotAllowed  = "ACTION_NOT_ALLOWED"
)

// batchTransitions — матрица допустимых переходов статуса партии.
var batchTransitions = map[BatchStatus]map[BatchStatus]bool{
	BatchDraft:     {BatchMinted: true},
	BatchMinted:    {BatchInTransit: true, BatchRecalled: true},
	BatchInTransit: {BatchDelivered: true, BatchRecalled: true},
	BatchDelivered: {BatchRecalled: true},
	BatchRecalled:  {},
}

// actionStates — статусы партии, в которых допустимо действие.
var actionStates = map[Action]map[BatchStatus]bool{
	ActionMint:           {BatchDraft: true},
	ActionTransfer:       {BatchMinted: true, BatchInTransit: true},
	ActionAnchor:         {BatchMinted: true, BatchInTransit: true, BatchDelivered: true},
	ActionRecall:         {BatchMinted: true, BatchInTransit: true, BatchDelivered: true},
	ActionConfirmReceipt: {BatchInTransit: true},
}

// TransitionError — ошибка перехода или недопустимого действия.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, ACTION_NOT_ALLOWED
	Message string
	// Current — статус на момент проверки
	Current BatchStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to BatchStatus) bool {
	return batchTransitions[from][to]
}

// Transition возвращает to, если переход допустим, иначе *TransitionError.
func Transition(from, to BatchStatus) (BatchStatus, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
			Current: from,
		}
	}
	return to, nil
}

// CheckAction проверяет, допустимо ли действие для партии в статусе current.
func CheckAction(action Action, current BatchStatus) error {
	if actionStates[action][current] {
		return nil
	}
	return &TransitionError{
		Code:    CodeActionNotAllowed,
		Message: fmt.Sprintf("действие %s недопустимо для партии в статусе %s (допустимые: %s)", action, current, allowedFor(action)),
		Current: current,
	}
}

// IsValid проверяет, является ли статус допустимым.
func (s BatchStatus) IsValid() bool {
	_, ok := batchTransitions[s]
	return ok
}

// ParseBatchStatus преобразует строку в BatchStatus.
func ParseBatchStatus(s string) (BatchStatus, error) {
	st := BatchStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус партии: %q, допустимые: DRAFT, MINTED, IN_TRANSIT, DELIVERED, RECALLED", s)
	}
	return st, nil
}

func allowedFor(action Action) string {
	order := []BatchStatus{BatchDraft, BatchMinted, BatchInTransit, BatchDelivered, BatchRecalled}
	var names []string
	for _, st := range order {
		if actionStates[action][st] {
			names = append(names, string(st))
		}
	}
	return strings.Join(names, ", ")
}
