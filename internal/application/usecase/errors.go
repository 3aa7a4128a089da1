package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
)

var (
	// ErrNoLatestCapture promote/approve без захваченного latest
	ErrNoLatestCapture = errors.New("no latest capture to promote")
	// ErrCaptureFailed capture driver вернул ошибку или истек таймаут
	ErrCaptureFailed = errors.New("capture failed")
	// ErrStorageFailure ошибка записи/чтения артефактов или реестра
	ErrStorageFailure = errors.New("storage failure")
	// ErrInvalidInput некорректные параметры команды
	ErrInvalidInput = errors.New("invalid input")
	// ErrCaptureNotConfigured capture driver не подключен
	ErrCaptureNotConfigured = errors.New("capture driver is not configured")
)

// AccessScope проекты, доступные вызывающему.
// Пустой список означает доступ ко всем проектам.
type AccessScope struct {
	ProjectIDs []string
}

// Allows проверяет доступ к тесту проекта projectID
func (s AccessScope) Allows(projectID string) bool {
	if len(s.ProjectIDs) == 0 {
		return true
	}
	return slices.Contains(s.ProjectIDs, projectID)
}

// Unrestricted true, если вызывающий видит все проекты
func (s AccessScope) Unrestricted() bool {
	return len(s.ProjectIDs) == 0
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: test id is required", ErrInvalidInput)
	}
	return id, nil
}

func loadScoped(ctx context.Context, tests repository.VisualTestRepository, testID string, scope AccessScope) (*entity.VisualTest, error) {
	test, err := tests.FindByID(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrVisualTestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load test: %w", ErrStorageFailure, err)
	}
	if !scope.Allows(test.ProjectID()) {
		return nil, repository.ErrVisualTestNotFound
	}
	return test, nil
}
