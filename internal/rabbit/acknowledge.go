package rabbit

// Outcome — результат обработчика, по которому выбирается подтверждение брокеру.
type Outcome int

const (
	// OutcomeAccept — положительный ack (значение по умолчанию).
	OutcomeAccept Outcome = iota
	// OutcomeRejectRequeue — reject с возвратом сообщения в очередь.
	OutcomeRejectRequeue
	// OutcomeRejectDrop — reject без возврата (сообщение теряется/уходит в DLX).
	OutcomeRejectDrop
	// OutcomeNackRequeue — nack с возвратом сообщения в очередь.
	OutcomeNackRequeue
)

// String — метка для метрик и логов.
func (o Outcome) String() string {
	switch o {
	case OutcomeRejectRequeue:
		return "reject_requeue"
	case OutcomeRejectDrop:
		return "reject"
	case OutcomeNackRequeue:
		return "nack_requeue"
	default:
		return "ack"
	}
}

// resolveOutcome нормализует результат обработчика: всё, что не является
// одним из трёх явных отказов, трактуется как положительный ack.
// Контракт "по умолчанию — ack" фиксирован: его изменение меняет
// поведение потери/передоставки сообщений.
func resolveOutcome(o Outcome) Outcome {
	switch o {
	case OutcomeRejectRequeue, OutcomeRejectDrop, OutcomeNackRequeue:
		return o
	default:
		return OutcomeAccept
	}
}

// acknowledge отправляет брокеру действие, соответствующее результату.
func acknowledge(d Delivery, o Outcome) error {
	switch resolveOutcome(o) {
	case OutcomeRejectRequeue:
		return d.Reject(true)
	case OutcomeRejectDrop:
		return d.Reject(false)
	case OutcomeNackRequeue:
		return d.Nack(true)
	default:
		return d.Ack()
	}
}
