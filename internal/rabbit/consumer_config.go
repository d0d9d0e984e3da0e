package rabbit

import "time"

// ConsumerConfig — настройки сессии потребления.
// QoS-параметры пробрасываются в канал брокера как есть, до подписки.
type ConsumerConfig struct {
	Name           string        // отображаемое имя сессии (для consumer tag)
	IdleTimeout    time.Duration // 0 — ждать сообщения бесконечно
	IdleExitCode   int           // 0 — таймаут простоя считается ошибкой
	MemoryLimitMB  int           // 0 — контроль памяти выключен
	PrefetchCount  int
	PrefetchSize   int
	QosGlobal      bool
	AutoDeclare    bool // перед подпиской объявить топологию
	RequireSignals bool // без канала сигналов старт невозможен
	LogDeliveries  bool // структурная запись в лог на каждое сообщение
}

// defaultName — имя сессии, если оператор его не задал.
const defaultName = "unnamed"

func (c *ConsumerConfig) name() string {
	if c.Name == "" {
		return defaultName
	}
	return c.Name
}

func (c *ConsumerConfig) memoryLimitBytes() uint64 {
	if c.MemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.MemoryLimitMB) << 20
}
