package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Gunvolt24/amqp_worker/config"
	"github.com/Gunvolt24/amqp_worker/internal/app"
	"github.com/Gunvolt24/amqp_worker/internal/ports"
	"github.com/Gunvolt24/amqp_worker/internal/rabbit"
)

// echoHandler — демонстрационный обработчик: логирует тело и подтверждает.
// Прикладные воркеры регистрируют здесь свою логику.
func echoHandler(log ports.Logger) rabbit.HandlerFunc {
	return func(ctx context.Context, d rabbit.Delivery) (rabbit.Outcome, error) {
		log.Infof(ctx, "echo queue=%s redelivered=%t body=%s", d.Queue, d.Redelivered, d.Body)
		return rabbit.OutcomeAccept, nil
	}
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Отмена контекста по сигналу будит цикл даже при бесконечном ожидании;
	// те же сигналы дренируются внутри цикла и взводят force-stop.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bind := func(log ports.Logger) map[string]rabbit.HandlerFunc {
		m := make(map[string]rabbit.HandlerFunc, len(cfg.Consumer.Queues))
		for _, q := range cfg.Consumer.Queues {
			m[q] = echoHandler(log)
		}
		return m
	}

	a, cleanup, err := app.Bootstrap(ctx, &cfg, bind)
	if err != nil {
		panic(err)
	}

	code, runErr := a.Run(ctx)
	cleanup()

	if runErr != nil {
		a.Logger.Errorf(ctx, "worker finished with error: %v", runErr)
		os.Exit(1)
	}
	os.Exit(code)
}
