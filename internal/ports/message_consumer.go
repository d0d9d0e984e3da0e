package ports

import "context"

// MessageConsumer — порт сессии потребления для внешних слоёв.
// Start возвращает код завершения запуска; RequestStop безопасен из
// обработчика сигналов, Reset допустим только между запусками.
type MessageConsumer interface {
	Start(ctx context.Context, quota uint64) (int, error)
	Reset()
	RequestStop()
}
