package rabbit

import "errors"

var (
	// ErrNoBindings — попытка старта без единой привязки очереди.
	ErrNoBindings = errors.New("no queue bindings registered")
	// ErrIdleTimeout — за отведённое время не пришло ни одного сообщения.
	ErrIdleTimeout = errors.New("idle timeout: no delivery received")
	// ErrSignalsUnavailable — затребован дренаж сигналов, но канал не подключён.
	ErrSignalsUnavailable = errors.New("signal draining required but no signal channel wired")
	// ErrAlreadyStarted — повторный Start до завершения предыдущего запуска.
	ErrAlreadyStarted = errors.New("consumer already started")
)
