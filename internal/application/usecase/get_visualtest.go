package usecase

import (
	"context"
	"errors"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

type GetVisualTestQuery struct {
	TestID string
	Scope  AccessScope
}

// GetVisualTestUseCase возвращает текущий статус теста.
// Читает под разделяемой блокировкой: кеш заполняется только согласованным состоянием.
type GetVisualTestUseCase struct {
	tests  repository.VisualTestRepository
	locks  *lock.KeyedLock
	cache  port.Cache
	logger *logger.Logger
}

func NewGetVisualTestUseCase(
	tests repository.VisualTestRepository,
	locks *lock.KeyedLock,
	cache port.Cache,
	log *logger.Logger,
) *GetVisualTestUseCase {
	return &GetVisualTestUseCase{
		tests:  tests,
		locks:  locks,
		cache:  cache,
		logger: log,
	}
}

func (uc *GetVisualTestUseCase) Execute(ctx context.Context, query GetVisualTestQuery) (*dto.VisualTestDTO, error) {
	testID, err := normalizeID(query.TestID)
	if err != nil {
		return nil, err
	}

	release, err := uc.locks.RLock(ctx, testID)
	if err != nil {
		return nil, err
	}
	defer release()

	key := StatusCacheKey(testID)
	if uc.cache != nil {
		var cached dto.VisualTestDTO
		err := uc.cache.Get(ctx, key, &cached)
		if err == nil {
			if !query.Scope.Allows(cached.ProjectID) {
				return nil, repository.ErrVisualTestNotFound
			}
			uc.logger.Debug("Cache hit for visual test status", "test_id", testID)
			return &cached, nil
		}
		if !errors.Is(err, port.ErrCacheMiss) {
			uc.logger.Warn("Status cache read failed", "test_id", testID, "error", err.Error())
		}
	}

	test, err := loadScoped(ctx, uc.tests, testID, query.Scope)
	if err != nil {
		return nil, err
	}

	out := dto.FromVisualTest(test)
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, key, out); err != nil {
			uc.logger.Warn("Failed to cache visual test status", "test_id", testID, "error", err.Error())
		}
	}

	return out, nil
}
