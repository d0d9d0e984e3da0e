//go:build integration

package rabbit_test

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/Gunvolt24/amqp_worker/internal/rabbit"
	"github.com/Gunvolt24/amqp_worker/internal/testutil"
	"github.com/Gunvolt24/amqp_worker/pkg/logger"
)

var reUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func safe(t *testing.T) string { return reUnsafe.ReplaceAllString(t.Name(), "-") }

// newStack поднимает брокер, соединение и два канала: отдельный для публикации,
// отдельный для потребления (Qos не должен влиять на издателя).
func newStack(t *testing.T) (context.Context, context.CancelFunc, *amqp.Channel, *amqp.Channel, *logger.ZapLogger) {
	t.Helper()

	// длинный контекст только на старт контейнера
	ctxStart, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStart()

	env, stop, err := testutil.StartRabbitTC(ctxStart)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop(context.Background()) })

	conn, err := amqp.Dial(env.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	consumeCh, err := conn.Channel()
	require.NoError(t, err)
	publishCh, err := conn.Channel()
	require.NoError(t, err)

	logg, cleanup, err := logger.NewZapLogger(false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })

	// короткий контекст на сам тест
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	return ctx, cancel, consumeCh, publishCh, logg
}

func publish(ctx context.Context, t *testing.T, ch *amqp.Channel, queue string, bodies ...string) {
	t.Helper()
	for _, b := range bodies {
		require.NoError(t, ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(b),
		}))
	}
}

// 1) Квота N против реального брокера: ровно N сообщений, порядок очереди сохраняется.
func TestRabbit_QuotaBoundedRun_TC(t *testing.T) {
	ctx, cancel, consumeCh, publishCh, logg := newStack(t)
	defer cancel()

	queue := "itc-" + safe(t)

	consumer := rabbit.NewConsumer(&rabbit.ConsumerConfig{
		Name:          "itc-worker",
		PrefetchCount: 1,
		AutoDeclare:   true,
	}, consumeCh, logg, nil)
	consumer.SetDeclarator(rabbit.NewTopology(consumeCh, "", ""))

	var mu sync.Mutex
	var got []string
	require.NoError(t, consumer.Bind(queue, func(ctx context.Context, d rabbit.Delivery) (rabbit.Outcome, error) {
		mu.Lock()
		got = append(got, string(d.Body))
		mu.Unlock()
		return rabbit.OutcomeAccept, nil
	}))

	// Очередь объявляется заранее, чтобы публикация не ушла в никуда.
	_, err := publishCh.QueueDeclare(queue, true, false, false, false, nil)
	require.NoError(t, err)

	want := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		want = append(want, fmt.Sprintf("msg-%d", i))
	}
	publish(ctx, t, publishCh, queue, want...)

	code, err := consumer.Start(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.EqualValues(t, 5, consumer.Consumed())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, want, got)
}

// 2) Reject с возвратом: брокер передоставляет сообщение с флагом redelivered.
func TestRabbit_RejectRequeue_Redelivered_TC(t *testing.T) {
	ctx, cancel, consumeCh, publishCh, logg := newStack(t)
	defer cancel()

	queue := "itc-" + safe(t)

	consumer := rabbit.NewConsumer(&rabbit.ConsumerConfig{
		Name:          "itc-worker",
		PrefetchCount: 1,
		AutoDeclare:   true,
	}, consumeCh, logg, nil)
	consumer.SetDeclarator(rabbit.NewTopology(consumeCh, "", ""))

	var mu sync.Mutex
	var redelivered bool
	first := true
	require.NoError(t, consumer.Bind(queue, func(ctx context.Context, d rabbit.Delivery) (rabbit.Outcome, error) {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return rabbit.OutcomeRejectRequeue, nil
		}
		redelivered = d.Redelivered
		return rabbit.OutcomeAccept, nil
	}))

	_, err := publishCh.QueueDeclare(queue, true, false, false, false, nil)
	require.NoError(t, err)
	publish(ctx, t, publishCh, queue, "retry-me")

	// Первая доставка отклоняется с возвратом, вторая принимается: итого две обработки.
	code, err := consumer.Start(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 0, code)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, redelivered, "second delivery must carry redelivered flag")
}

// 3) Таймаут простоя на пустой очереди возвращает сконфигурированный код.
func TestRabbit_IdleTimeout_ExitCode_TC(t *testing.T) {
	ctx, cancel, consumeCh, _, logg := newStack(t)
	defer cancel()

	queue := "itc-" + safe(t)

	consumer := rabbit.NewConsumer(&rabbit.ConsumerConfig{
		Name:          "itc-worker",
		PrefetchCount: 1,
		AutoDeclare:   true,
		IdleTimeout:   2 * time.Second,
		IdleExitCode:  3,
	}, consumeCh, logg, nil)
	consumer.SetDeclarator(rabbit.NewTopology(consumeCh, "", ""))

	require.NoError(t, consumer.Bind(queue, func(context.Context, rabbit.Delivery) (rabbit.Outcome, error) {
		return rabbit.OutcomeAccept, nil
	}))

	code, err := consumer.Start(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.EqualValues(t, 0, consumer.Consumed())
}
