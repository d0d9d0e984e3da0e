//go:build integration

package testutil

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ----------------------------------------------------------------------------
// Красивые логи жизненного цикла
// ----------------------------------------------------------------------------

func shortID(c tc.Container) string {
	id := c.GetContainerID()
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func logHooks(l *log.Logger) tc.ContainerLifecycleHooks {
	return tc.ContainerLifecycleHooks{
		PreCreates: []tc.ContainerRequestHook{
			func(_ context.Context, req tc.ContainerRequest) error {
				l.Printf("🐳 creating container image=%s", req.Image)
				return nil
			},
		},
		PostCreates: []tc.ContainerHook{
			func(ctx context.Context, c tc.Container) error {
				n, _ := c.Name(ctx)
				l.Printf("✅ created id=%s name=%s", shortID(c), n)
				return nil
			},
		},
		PreStarts: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("🐳 starting id=%s", shortID(c))
				return nil
			},
		},
		PostStarts: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("✅ started id=%s", shortID(c))
				return nil
			},
		},
		PostReadies: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("🔔 ready id=%s", shortID(c))
				return nil
			},
		},
		PreTerminates: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("🛑 terminating id=%s", shortID(c))
				return nil
			},
		},
		PostTerminates: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("🚫 terminated id=%s", shortID(c))
				return nil
			},
		},
	}
}

// Общий логгер для testcontainers (можно подключить свой)
var tcLogger = log.New(os.Stdout, "[tc] ", log.LstdFlags)

// ----------------------------------------------------------------------------
// RabbitMQ
// ----------------------------------------------------------------------------

type RabbitEnv struct {
	Container *rabbitmq.RabbitMQContainer
	URL       string
}

func StartRabbitTC(ctx context.Context) (*RabbitEnv, func(context.Context) error, error) {
	rmq, err := rabbitmq.Run(
		ctx,
		"rabbitmq:3.12-management-alpine",
		// красиво логируем этапы жизни контейнера
		tc.WithLifecycleHooks(logHooks(tcLogger)),
		// подождём, пока брокер начнёт принимать соединения
		tc.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("run rabbitmq: %w", err)
	}

	// Готовый AMQP URL от контейнера (учтёт реальный host:port)
	url, err := rmq.AmqpURL(ctx)
	if err != nil {
		_ = tc.TerminateContainer(rmq)
		return nil, nil, fmt.Errorf("amqp url: %w", err)
	}

	env := &RabbitEnv{Container: rmq, URL: url}
	stop := func(_ context.Context) error { return tc.TerminateContainer(rmq) }
	return env, stop, nil
}
