package rabbit

import (
	"context"
	"time"

	"github.com/Gunvolt24/amqp_worker/internal/ports"
)

// Hooks — внешние наблюдатели жизненного цикла сообщения.
// Вызываются до и после обработки; на управление циклом не влияют.
type Hooks interface {
	BeforeProcess(ctx context.Context, d Delivery)
	AfterProcess(ctx context.Context, d Delivery, action Outcome, elapsed time.Duration)
}

// NopHooks — заглушка, когда наблюдатели не нужны.
type NopHooks struct{}

func (NopHooks) BeforeProcess(context.Context, Delivery) {}

func (NopHooks) AfterProcess(context.Context, Delivery, Outcome, time.Duration) {}

// LogHooks — наблюдатель, пишущий события обработки в лог.
type LogHooks struct {
	log ports.Logger
}

func NewLogHooks(log ports.Logger) *LogHooks {
	return &LogHooks{log: log}
}

func (h *LogHooks) BeforeProcess(ctx context.Context, d Delivery) {
	h.log.Infof(ctx, "processing started queue=%s bytes=%d redelivered=%t", d.Queue, len(d.Body), d.Redelivered)
}

func (h *LogHooks) AfterProcess(ctx context.Context, d Delivery, action Outcome, elapsed time.Duration) {
	h.log.Infof(ctx, "processing finished queue=%s action=%s elapsed=%s", d.Queue, action, elapsed)
}
