package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Declarator — предварительное объявление топологии брокера.
// Вызывается один раз перед подпиской, когда включён auto-declare.
type Declarator interface {
	DeclareAll(queues []string) error
}

// topologyChannel — минимальный контракт канала для объявления топологии.
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Topology — объявляет exchange, очереди и привязки.
// Все вызовы идемпотентны (повторное объявление с теми же параметрами безопасно).
// Routing key совпадает с именем очереди.
type Topology struct {
	ch       topologyChannel
	exchange string
	kind     string
}

func NewTopology(ch topologyChannel, exchange, kind string) *Topology {
	if kind == "" {
		kind = "direct"
	}
	return &Topology{ch: ch, exchange: exchange, kind: kind}
}

func (t *Topology) DeclareAll(queues []string) error {
	if t.exchange != "" {
		if err := t.ch.ExchangeDeclare(t.exchange, t.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q: %w", t.exchange, err)
		}
	}

	for _, q := range queues {
		if _, err := t.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", q, err)
		}
		if t.exchange != "" {
			if err := t.ch.QueueBind(q, q, t.exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %q to %q: %w", q, t.exchange, err)
			}
		}
	}

	return nil
}
