package logger

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger — обёртка над zap, реализующая ports.Logger.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// NewZapLogger — конструктор; isProd переключает production/development пресеты.
// Вторым значением возвращается функция сброса буферов.
func NewZapLogger(isProd bool) (*ZapLogger, func() error, error) {
	var (
		base *zap.Logger
		err  error
	)

	if isProd {
		base, err = zap.NewProduction()
	} else {
		base, err = zap.NewDevelopment()
	}

	if err != nil {
		return nil, nil, err
	}

	l := &ZapLogger{
		base:  base,
		sugar: base.Sugar(),
	}

	cleanup := func() error { return l.base.Sync() }
	return l, cleanup, nil
}

func (z *ZapLogger) Infof(_ context.Context, format string, args ...any) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(_ context.Context, format string, args ...any) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(_ context.Context, format string, args ...any) {
	z.sugar.Errorf(format, args...)
}

// Named возвращает копию логгера с дочерним именем (для разделения подсистем).
func (z *ZapLogger) Named(name string) *ZapLogger {
	child := z.base.Named(name)
	return &ZapLogger{base: child, sugar: child.Sugar()}
}

func (z *ZapLogger) Base() *zap.Logger { return z.base }
