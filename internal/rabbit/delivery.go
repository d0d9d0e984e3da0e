package rabbit

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery — обёртка над одним доставленным сообщением.
// Хранит имя очереди, тело и ссылку на acknowledger канала,
// через который уходит подтверждение. Подтверждается ровно один раз.
type Delivery struct {
	Queue       string // очередь, из которой пришло сообщение
	Body        []byte // сырое тело сообщения
	Redelivered bool   // признак повторной доставки

	tag   uint64
	acker amqp.Acknowledger
}

func newDelivery(queue string, d amqp.Delivery) Delivery {
	return Delivery{
		Queue:       queue,
		Body:        d.Body,
		Redelivered: d.Redelivered,
		tag:         d.DeliveryTag,
		acker:       d.Acknowledger,
	}
}

// Ack — положительное подтверждение (сообщение обработано).
func (d Delivery) Ack() error {
	return d.acker.Ack(d.tag, false)
}

// Nack — отрицательное подтверждение; requeue управляет возвратом в очередь.
func (d Delivery) Nack(requeue bool) error {
	return d.acker.Nack(d.tag, false, requeue)
}

// Reject — отказ от сообщения; requeue управляет возвратом в очередь.
func (d Delivery) Reject(requeue bool) error {
	return d.acker.Reject(d.tag, requeue)
}
