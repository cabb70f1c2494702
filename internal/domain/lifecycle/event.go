package lifecycle

import "fmt"

// EventType — тип proof-события. Закрытое перечисление: новые значения
// добавляются только вместе с обработчиком в сервисном слое.
type EventType string

const (
	EventMint           EventType = "MINT"
	EventTransfer       EventType = "TRANSFER"
	EventDocumentAnchor EventType = "DOCUMENT_ANCHOR"
	EventRecall         EventType = "RECALL"
)

// eventTypes — все варианты в порядке объявления.
var eventTypes = []EventType{EventMint, EventTransfer, EventDocumentAnchor, EventRecall}

// EventTypes возвращает все типы событий.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// ParseEventType преобразует строку в EventType.
func ParseEventType(s string) (EventType, error) {
	for _, t := range eventTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("недопустимый тип события: %q, допустимые: MINT, TRANSFER, DOCUMENT_ANCHOR, RECALL", s)
}

// Retryable — можно ли пересобрать транзакцию события после ошибки.
func (t EventType) Retryable() bool {
	return t == EventMint || t == EventTransfer
}

// OptimisticBatchStatus возвращает статус, в который партия продвигается
// сразу после отправки подписанной транзакции, и false для событий,
// не меняющих статус партии.
func (t EventType) OptimisticBatchStatus() (BatchStatus, bool) {
	switch t {
	case EventMint:
		return BatchMinted, true
	case EventTransfer:
		return BatchInTransit, true
	default:
		return "", false
	}
}

// Schema возвращает тег схемы полезной нагрузки события.
// Для DOCUMENT_ANCHOR схема — тип документа и задаётся вызывающим.
func (t EventType) Schema() string {
	switch t {
	case EventMint:
		return "TRACE_MINT_V1"
	case EventTransfer:
		return "TRACE_TRANSFER_V1"
	case EventRecall:
		return "TRACE_RECALL_V1"
	default:
		return ""
	}
}

// EventStatus — статус proof-события.
type EventStatus string

const (
	// EventPending — транзакция собрана, ожидает подписи
	EventPending EventStatus = "PENDING"
	// EventSubmitted — подписанная транзакция отправлена в сеть
	EventSubmitted EventStatus = "SUBMITTED"
	// EventConfirmed — транзакция подтверждена в блоке
	EventConfirmed EventStatus = "CONFIRMED"
	// EventFailed — отправка или подтверждение не удались
	EventFailed EventStatus = "FAILED"
)

// eventTransitions — допустимые переходы статуса события.
// FAILED → PENDING только через повторную сборку (retry).
var eventTransitions = map[EventStatus]map[EventStatus]bool{
	EventPending:   {EventSubmitted: true},
	EventSubmitted: {EventConfirmed: true, EventFailed: true},
	EventConfirmed: {},
	EventFailed:    {EventPending: true},
}

// CanAdvance проверяет, допустим ли переход статуса события.
func (s EventStatus) CanAdvance(to EventStatus) bool {
	return eventTransitions[s][to]
}

// IsFinal — событие больше не изменится без явного вмешательства.
func (s EventStatus) IsFinal() bool {
	return s == EventConfirmed || s == EventFailed
}

// ParseEventStatus преобразует строку в EventStatus.
func ParseEventStatus(s string) (EventStatus, error) {
	st := EventStatus(s)
	if _, ok := eventTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимый статус события: %q, допустимые: PENDING, SUBMITTED, CONFIRMED, FAILED", s)
	}
	return st, nil
}
