package port

import "github.com/dreschagin/visual-regression/internal/application/dto"

// NotificationService определяет интерфейс для отправки уведомлений (Port)
// Реализация будет в Infrastructure слое (WebSocket Hub)
type NotificationService interface {
	// Broadcast отправляет событие жизненного цикла всем подключенным клиентам
	Broadcast(event *dto.VisualTestEvent)

	// ClientCount возвращает количество подключенных клиентов
	ClientCount() int
}
