package repository

import (
	"context"
	"errors"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
)

// ErrVisualTestNotFound возвращается, когда тест с указанным id не существует
var ErrVisualTestNotFound = errors.New("visual test not found")

// VisualTestFilter ограничивает выборку тестов
type VisualTestFilter struct {
	// ProjectID пустой означает все проекты
	ProjectID string
	// ProjectIDs непустой список ограничивает выборку проектами вызывающего
	ProjectIDs []string
	Name       string
}

// VisualTestRepository реестр тестов (Port).
// Реализация в Infrastructure слое (sqlite, postgres).
type VisualTestRepository interface {
	// Create сохраняет новый тест
	Create(ctx context.Context, test *entity.VisualTest) error

	// FindByID возвращает ErrVisualTestNotFound, если теста нет
	FindByID(ctx context.Context, id string) (*entity.VisualTest, error)

	// List возвращает тесты в порядке создания
	List(ctx context.Context, filter VisualTestFilter) ([]*entity.VisualTest, error)

	// Update перезаписывает изменяемые поля (имя, target, статус, процент)
	Update(ctx context.Context, test *entity.VisualTest) error

	// Delete идемпотентен: отсутствие записи не является ошибкой
	Delete(ctx context.Context, id string) error
}
