package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Gunvolt24/amqp_worker/config"
	"github.com/Gunvolt24/amqp_worker/internal/ports"
	"github.com/Gunvolt24/amqp_worker/internal/rabbit"
	rest "github.com/Gunvolt24/amqp_worker/internal/transport/http"
	"github.com/Gunvolt24/amqp_worker/pkg/logger"
	"github.com/Gunvolt24/amqp_worker/pkg/metrics"
	"github.com/Gunvolt24/amqp_worker/pkg/telemetry"
)

// App — собранное приложение и его внешние интерфейсы (consumer, операционный HTTP).
type App struct {
	Logger          ports.Logger
	HTTPServer      *http.Server
	Consumer        ports.MessageConsumer
	quota           uint64
	gracefulTimeout time.Duration
}

// Cleanup — функция освобождения ресурсов.
type Cleanup func()

// applyGinMode — устанавливает режим Gin по строке;
// неизвестное значение → debug и предупреждение в лог.
func applyGinMode(ctx context.Context, mode string, log ports.Logger) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	case "", "debug":
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.DebugMode)
		log.Warnf(ctx, "unknown GIN_MODE=%q, fallback to debug", mode)
	}
}

// Bootstrap — собирает зависимости и возвращает приложение, функцию очистки и ошибку.
// bind получает логгер приложения и возвращает обработчики по именам очередей;
// каждая очередь из конфигурации обязана иметь обработчик.
func Bootstrap(ctx context.Context, cfg *config.Config, bind func(log ports.Logger) map[string]rabbit.HandlerFunc) (*App, Cleanup, error) {
	// Логгер (dev/prod режим задаётся конфигурацией).
	logg, cleanupLogger, err := logger.NewZapLogger(cfg.Logger.IsProd)
	if err != nil {
		return nil, func() {}, err
	}

	// Регистрация метрик (Prometheus).
	metrics.MustRegister()

	// Трейсинг OTEL (при включённой конфигурации); по умолчанию — no-op.
	shutdownTrace := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		setup, tErr := telemetry.SetupTracing(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
		if tErr != nil {
			logg.Warnf(ctx, "failed to setup tracing: %v", tErr)
		} else {
			logg.Infof(ctx, "otel tracing enabled service=%s endpoint=%s sample=%.2f",
				cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
			shutdownTrace = setup
		}
	}

	// Соединение и канал AMQP.
	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		if cErr := cleanupLogger(); cErr != nil {
			logg.Warnf(ctx, "cleanup logger: %v", cErr)
		}
		return nil, func() {}, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		if cErr := cleanupLogger(); cErr != nil {
			logg.Warnf(ctx, "cleanup logger: %v", cErr)
		}
		return nil, func() {}, fmt.Errorf("open channel: %w", err)
	}

	// Сборка сессии потребления.
	consumerCfg := rabbit.ConsumerConfig{
		Name:           cfg.Consumer.Name,
		IdleTimeout:    cfg.Consumer.IdleTimeout,
		IdleExitCode:   cfg.Consumer.IdleExitCode,
		MemoryLimitMB:  cfg.Consumer.MemoryLimitMB,
		PrefetchCount:  cfg.AMQP.PrefetchCount,
		PrefetchSize:   cfg.AMQP.PrefetchSize,
		QosGlobal:      cfg.AMQP.QosGlobal,
		AutoDeclare:    cfg.AMQP.AutoDeclare,
		RequireSignals: cfg.Consumer.RequireSignals,
		LogDeliveries:  cfg.Consumer.LogDeliveries,
	}
	consumer := rabbit.NewConsumer(&consumerCfg, ch, logg, rabbit.NewLogHooks(logg))
	consumer.SetDeclarator(rabbit.NewTopology(ch, cfg.AMQP.Exchange, cfg.AMQP.ExchangeType))

	// Канал сигналов остановки для дренажа внутри цикла потребления.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	consumer.SetSignals(sigCh)

	// Привязки очередей.
	handlers := bind(logg)
	for _, q := range cfg.Consumer.Queues {
		h, ok := handlers[q]
		if !ok {
			signal.Stop(sigCh)
			_ = ch.Close()
			_ = conn.Close()
			if cErr := cleanupLogger(); cErr != nil {
				logg.Warnf(ctx, "cleanup logger: %v", cErr)
			}
			return nil, func() {}, fmt.Errorf("no handler registered for queue %q", q)
		}
		if bErr := consumer.Bind(q, h); bErr != nil {
			signal.Stop(sigCh)
			_ = ch.Close()
			_ = conn.Close()
			if cErr := cleanupLogger(); cErr != nil {
				logg.Warnf(ctx, "cleanup logger: %v", cErr)
			}
			return nil, func() {}, bErr
		}
	}

	// Режим Gin.
	applyGinMode(ctx, cfg.HTTP.GinMode, logg)

	// Имя сервиса для otelgin (только при включённом трейсинге).
	otelServiceName := ""
	if cfg.Tracing.Enabled {
		otelServiceName = cfg.Tracing.ServiceName
	}

	// Операционный роутер и HTTP-сервер.
	router := rest.NewRouter(rest.NewHandler(consumer, logg), otelServiceName)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	app := &App{
		Logger:          logg,
		HTTPServer:      httpSrv,
		Consumer:        consumer,
		quota:           cfg.Consumer.Target,
		gracefulTimeout: cfg.HTTP.GracefulTimeout,
	}

	// Очистка ресурсов (в обратном порядке).
	cleanup := func() {
		signal.Stop(sigCh)
		if terr := shutdownTrace(context.Background()); terr != nil {
			logg.Warnf(ctx, "shutdown tracing: %v", terr)
		}
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			logg.Warnf(ctx, "amqp channel close error: %v", err)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			logg.Warnf(ctx, "amqp connection close error: %v", err)
		}
		if cerr := cleanupLogger(); cerr != nil {
			logg.Warnf(ctx, "cleanup logger: %v", cerr)
		}
	}

	return app, cleanup, nil
}

// Run — запускает операционный HTTP и цикл потребления; возвращает код
// завершения запуска. Отмена контекста останавливает consumer кооперативно.
func (a *App) Run(ctx context.Context) (int, error) {
	httpErr := make(chan error, 1)

	go func() {
		a.Logger.Infof(ctx, "ops http server starting (addr=%s)", a.HTTPServer.Addr)
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)

	go func() {
		code, err := a.Consumer.Start(runCtx, a.quota)
		done <- result{code: code, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case err := <-httpErr:
		// Падение операционного HTTP не должно оставлять consumer без присмотра.
		a.Logger.Warnf(ctx, "ops http server failed: %v", err)
		a.Consumer.RequestStop()
		cancelRun()
		res = <-done
	}

	gt := a.gracefulTimeout
	if gt <= 0 {
		gt = 5 * time.Second
	}

	// Корректная остановка HTTP-сервера.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gt)
	defer cancel()

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warnf(ctx, "http server shutdown failed: %v", err)
	} else {
		a.Logger.Infof(ctx, "http server stopped gracefully")
	}

	a.Logger.Infof(ctx, "worker stopped code=%d", res.code)
	return res.code, res.err
}
