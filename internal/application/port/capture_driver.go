package port

import "context"

// CaptureDriver снимает скриншот по targetReference и возвращает PNG.
// Дедлайн задает ctx, повторы на стороне драйвера.
type CaptureDriver interface {
	Capture(ctx context.Context, targetReference string) ([]byte, error)
}
