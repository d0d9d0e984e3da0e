package rabbit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Gunvolt24/amqp_worker/internal/ports"
	"github.com/Gunvolt24/amqp_worker/pkg/metrics"
)

// Проверка, что Consumer удовлетворяет интерфейсу верхнего уровня (порт приложения).
var _ ports.MessageConsumer = (*Consumer)(nil)

// HandlerFunc — обработчик одного сообщения. Возвращённый Outcome определяет
// подтверждение брокеру; ошибка фатальна для текущего запуска.
type HandlerFunc func(ctx context.Context, d Delivery) (Outcome, error)

// channel — минимальный контракт над amqp-каналом,
// чтобы легко подменять его фейками в тестах.
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// binding — пара (очередь, обработчик). Неизменяема после старта.
type binding struct {
	queue   string
	handler HandlerFunc
}

// inbound — сообщение из общего канала fan-in вместе со своей привязкой.
type inbound struct {
	queue   string
	handler HandlerFunc
	msg     amqp.Delivery
}

// Consumer — сессия потребления: держит таблицу привязок, счётчики запуска
// и ведёт цикл доставки. Один логический цикл на сессию; из чужих горутин
// трогаются только атомарные поля (forceStop, consumed) и список тегов под мьютексом.
type Consumer struct {
	ch    channel
	log   ports.Logger
	hooks Hooks
	cfg   ConsumerConfig

	declarator Declarator
	signals    <-chan os.Signal
	memUsage   func() uint64

	bindings []binding

	consumed  atomic.Uint64
	forceStop atomic.Bool
	running   atomic.Bool

	mu        sync.Mutex
	sessionID string
	target    uint64
	tags      []string
}

// NewConsumer — конструктор. Hooks может быть nil (подставится заглушка).
func NewConsumer(cfg *ConsumerConfig, ch *amqp.Channel, log ports.Logger, hooks Hooks) *Consumer {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Consumer{
		ch:       ch,
		log:      log,
		hooks:    hooks,
		cfg:      *cfg,
		memUsage: memoryUsage,
	}
}

// SetDeclarator подключает объявление топологии (используется при AutoDeclare).
func (c *Consumer) SetDeclarator(d Declarator) {
	c.declarator = d
}

// SetSignals подключает канал сигналов остановки. Отсутствие канала не фатально,
// если RequireSignals выключен: force-stop тогда взводится только явным RequestStop.
func (c *Consumer) SetSignals(sig <-chan os.Signal) {
	c.signals = sig
}

// Bind регистрирует обработчик очереди. На одну очередь — не более одного
// обработчика; после старта таблица привязок не меняется.
func (c *Consumer) Bind(queue string, h HandlerFunc) error {
	if c.running.Load() {
		return ErrAlreadyStarted
	}
	for _, b := range c.bindings {
		if b.queue == queue {
			return fmt.Errorf("queue %q already bound", queue)
		}
	}
	c.bindings = append(c.bindings, binding{queue: queue, handler: h})
	return nil
}

// Start начинает (или возобновляет) потребление. quota > 0 ограничивает запуск
// ровно этим числом успешно обработанных сообщений; 0 — без ограничения.
// Возвращает код завершения: 0 при штатном исчерпании подписок или force-stop,
// сконфигурированный IdleExitCode при таймауте простоя. Таймаут без кода —
// ошибка ErrIdleTimeout.
func (c *Consumer) Start(ctx context.Context, quota uint64) (int, error) {
	if !c.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyStarted
	}
	defer c.running.Store(false)

	if len(c.bindings) == 0 {
		return 0, ErrNoBindings
	}
	if c.cfg.RequireSignals && c.signals == nil {
		return 0, ErrSignalsUnavailable
	}

	// Новый идентификатор на каждый запуск: consumer tag уникален даже
	// для нескольких сессий, разделяющих одно соединение.
	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.target = quota
	c.mu.Unlock()

	if c.cfg.AutoDeclare && c.declarator != nil {
		if err := c.declarator.DeclareAll(c.queueNames()); err != nil {
			return 0, fmt.Errorf("declare topology: %w", err)
		}
	}

	if err := c.ch.Qos(c.cfg.PrefetchCount, c.cfg.PrefetchSize, c.cfg.QosGlobal); err != nil {
		return 0, fmt.Errorf("set qos: %w", err)
	}

	merged, err := c.subscribe()
	if err != nil {
		if cErr := c.CancelAllSubscriptions(); cErr != nil {
			c.log.Warnf(ctx, "cancel after failed subscribe: %v", cErr)
		}
		return 0, err
	}

	c.log.Infof(ctx, "consumer started name=%s session=%s queues=%v target=%d",
		c.cfg.name(), c.SessionID(), c.queueNames(), quota)

	return c.consumeLoop(ctx, merged)
}

// subscribe регистрирует по одной подписке на каждую привязку и собирает
// их каналы доставки в общий. Один форвардер на очередь сохраняет порядок
// сообщений внутри очереди; общий канал закрывается, когда закрыты все источники.
func (c *Consumer) subscribe() (<-chan inbound, error) {
	type source struct {
		queue      string
		handler    HandlerFunc
		deliveries <-chan amqp.Delivery
	}

	sources := make([]source, 0, len(c.bindings))
	for _, b := range c.bindings {
		tag := c.consumerTag(b.queue)
		deliveries, err := c.ch.Consume(b.queue, tag, false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("consume queue %q: %w", b.queue, err)
		}
		c.mu.Lock()
		c.tags = append(c.tags, tag)
		c.mu.Unlock()
		sources = append(sources, source{queue: b.queue, handler: b.handler, deliveries: deliveries})
	}

	merged := make(chan inbound)
	var wg sync.WaitGroup
	for _, s := range sources {
		wg.Add(1)
		go func(s source) {
			defer wg.Done()
			for msg := range s.deliveries {
				merged <- inbound{queue: s.queue, handler: s.handler, msg: msg}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	return merged, nil
}

// consumeLoop — основной цикл:
// 1) дренаж сигналов и проверка условий остановки; при остановке — отмена подписок;
// 2) блокирующее ожидание следующего сообщения (с таймаутом простоя, если задан);
// 3) обработка, подтверждение и пост-проверка (включая потолок памяти);
// 4) выход, когда закрыт общий канал доставки.
func (c *Consumer) consumeLoop(ctx context.Context, merged <-chan inbound) (int, error) {
	// При раннем выходе оставшиеся в fan-in сообщения вычитываются вхолостую,
	// чтобы форвардеры могли завершиться. Подтверждения им не отправляются.
	defer func() {
		go func() {
			for range merged {
			}
		}()
	}()

	stopping := false
	stop := func() {
		stopping = true
		if err := c.CancelAllSubscriptions(); err != nil {
			c.log.Warnf(ctx, "cancel subscriptions: %v", err)
		}
	}

	for {
		c.drainSignals(ctx)
		if !stopping && c.shouldStop(false) {
			stop()
		}

		in, ok, timedOut, ctxDone := c.waitNext(ctx, merged, stopping)
		switch {
		case ctxDone:
			c.log.Infof(ctx, "context cancelled, stopping consumer")
			c.RequestStop()
			stop()
			continue
		case timedOut:
			if code := c.cfg.IdleExitCode; code != 0 {
				c.log.Infof(ctx, "idle timeout %s reached, exiting with code %d", c.cfg.IdleTimeout, code)
				return code, nil
			}
			return 0, fmt.Errorf("%w after %s", ErrIdleTimeout, c.cfg.IdleTimeout)
		case !ok:
			// Все подписки сняты, каналы доставки закрыты — штатный выход.
			c.log.Infof(ctx, "consumer stopped session=%s consumed=%d", c.SessionID(), c.consumed.Load())
			return 0, nil
		}

		if stopping {
			// Добравшиеся из префетча сообщения после отмены подписок
			// не обрабатываются и не подтверждаются: брокер передоставит их сам.
			continue
		}

		if err := c.dispatch(ctx, in); err != nil {
			stop()
			return 0, err
		}

		c.drainSignals(ctx)
		if !stopping && c.shouldStop(true) {
			stop()
		}
	}
}

// waitNext — единственная точка ожидания цикла: ровно один блокирующий
// приём за итерацию, ограниченный таймаутом простоя, если тот задан.
// После начала остановки отмена контекста больше не слушается:
// цикл ждёт только закрытия канала доставки.
func (c *Consumer) waitNext(ctx context.Context, merged <-chan inbound, stopping bool) (in inbound, ok, timedOut, ctxDone bool) {
	var timeout <-chan time.Time
	if c.cfg.IdleTimeout > 0 {
		timer := time.NewTimer(c.cfg.IdleTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	done := ctx.Done()
	if stopping {
		done = nil
	}

	select {
	case in, ok = <-merged:
		return in, ok, false, false
	case <-timeout:
		return inbound{}, false, true, false
	case <-done:
		return inbound{}, false, false, true
	}
}

// dispatch обрабатывает одно сообщение: хуки, вызов обработчика, подтверждение,
// метрики и инкремент счётчика. Ошибка обработчика фатальна: подтверждение
// не отправляется, ошибка возвращается наружу.
func (c *Consumer) dispatch(ctx context.Context, in inbound) error {
	d := newDelivery(in.queue, in.msg)
	metrics.MessagesConsumed.WithLabelValues(d.Queue).Inc()
	c.hooks.BeforeProcess(ctx, d)

	start := time.Now()
	out, err := in.handler(ctx, d)
	elapsed := time.Since(start)

	if err != nil {
		metrics.MessagesFailed.WithLabelValues(d.Queue).Inc()
		c.log.Errorf(ctx, "handler failed queue=%s bytes=%d elapsed=%s payload=%q: %v",
			d.Queue, len(d.Body), elapsed, truncatePayload(d.Body), err)
		return fmt.Errorf("process message from queue %q: %w", d.Queue, err)
	}

	action := resolveOutcome(out)
	if ackErr := acknowledge(d, action); ackErr != nil {
		c.log.Warnf(ctx, "acknowledge failed queue=%s action=%s: %v", d.Queue, action, ackErr)
	}

	metrics.MessagesProcessed.WithLabelValues(d.Queue).Inc()
	metrics.AckActions.WithLabelValues(d.Queue, action.String()).Inc()
	metrics.ProcessingDuration.WithLabelValues(d.Queue).Observe(elapsed.Seconds())

	c.consumed.Add(1)

	mem := c.memUsage()
	metrics.MemoryUsage.Set(float64(mem))

	c.hooks.AfterProcess(ctx, d, action, elapsed)

	if c.cfg.LogDeliveries {
		c.log.Infof(ctx, "message processed queue=%s action=%s bytes=%d elapsed=%s consumed=%d mem=%d",
			d.Queue, action, len(d.Body), elapsed, c.consumed.Load(), mem)
	}

	return nil
}

// Reset обнуляет счётчик обработанных сообщений, позволяя повторные
// ограниченные запуски от одной долгоживущей сессии.
// Допустим только между запусками; во время работы цикла игнорируется.
func (c *Consumer) Reset() {
	if c.running.Load() {
		return
	}
	c.consumed.Store(0)
}

// RequestStop взводит флаг принудительной остановки. Идемпотентен и безопасен
// из контекста обработки сигналов; срабатывает на ближайшей точке проверки —
// сообщение, обрабатываемое в этот момент, завершается вместе со своим подтверждением.
func (c *Consumer) RequestStop() {
	c.forceStop.Store(true)
}

// CancelAllSubscriptions снимает все активные подписки сессии, не закрывая
// соединение. Повторный вызов безопасен: список тегов очищается после отмены.
func (c *Consumer) CancelAllSubscriptions() error {
	c.mu.Lock()
	tags := c.tags
	c.tags = nil
	c.mu.Unlock()

	for _, tag := range tags {
		if err := c.ch.Cancel(tag, false); err != nil {
			return fmt.Errorf("cancel consumer %q: %w", tag, err)
		}
	}
	return nil
}

// Consumed — число успешно обработанных сообщений текущего запуска.
func (c *Consumer) Consumed() uint64 {
	return c.consumed.Load()
}

// SessionID — идентификатор текущего запуска (новый на каждый Start).
func (c *Consumer) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Snapshot — срез состояния сессии для операционного эндпоинта.
type Snapshot struct {
	Name       string   `json:"name"`
	SessionID  string   `json:"session_id"`
	Consumed   uint64   `json:"consumed"`
	Target     uint64   `json:"target"`
	Queues     []string `json:"queues"`
	ActiveTags []string `json:"active_tags"`
	ForceStop  bool     `json:"force_stop"`
}

func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	tags := make([]string, len(c.tags))
	copy(tags, c.tags)
	session := c.sessionID
	target := c.target
	c.mu.Unlock()

	return Snapshot{
		Name:       c.cfg.name(),
		SessionID:  session,
		Consumed:   c.consumed.Load(),
		Target:     target,
		Queues:     c.queueNames(),
		ActiveTags: tags,
		ForceStop:  c.forceStop.Load(),
	}
}
