package rabbit

import (
	"context"
	"fmt"
	"runtime"
)

// drainSignals неблокирующе вычитывает накопившиеся сигналы остановки.
// Любой сигнал взводит force-stop; закрытый канал отключает дренаж.
func (c *Consumer) drainSignals(ctx context.Context) {
	if c.signals == nil {
		return
	}
	for {
		select {
		case sig, ok := <-c.signals:
			if !ok {
				c.signals = nil
				return
			}
			c.log.Infof(ctx, "stop signal received: %v", sig)
			c.forceStop.Store(true)
		default:
			return
		}
	}
}

// shouldStop — проверка условий остановки в порядке приоритета:
// force-stop, достигнутая квота, потолок памяти. Память проверяется
// только после обработанного сообщения, не перед ожиданием.
func (c *Consumer) shouldStop(postMessage bool) bool {
	if c.forceStop.Load() {
		return true
	}
	if c.target > 0 && c.consumed.Load() >= c.target {
		return true
	}
	if postMessage {
		if limit := c.cfg.memoryLimitBytes(); limit > 0 && c.memUsage() >= limit {
			return true
		}
	}
	return false
}

// consumerTag — тег подписки: очередь, имя сессии и её идентификатор.
// Позволяет оператору сопоставить consumer в брокере с конкретным процессом.
func (c *Consumer) consumerTag(queue string) string {
	return fmt.Sprintf("%s-%s-%s", queue, c.cfg.name(), c.SessionID())
}

func (c *Consumer) queueNames() []string {
	names := make([]string, 0, len(c.bindings))
	for _, b := range c.bindings {
		names = append(names, b.queue)
	}
	return names
}

// memoryUsage — текущее потребление памяти процессом (аллоцированная куча).
func memoryUsage() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc
}

// truncatePayload обрезает тело сообщения для безопасного вывода в лог.
func truncatePayload(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
