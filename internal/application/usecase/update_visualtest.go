package usecase

import (
	"context"
	"fmt"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

// UpdateVisualTestCommand nil поля не изменяются
type UpdateVisualTestCommand struct {
	TestID          string
	Name            *string
	TargetReference *string
	Scope           AccessScope
}

// UpdateVisualTestUseCase переименовывает/перенацеливает тест, статус не трогает
type UpdateVisualTestUseCase struct {
	tests  repository.VisualTestRepository
	locks  *lock.KeyedLock
	cache  port.Cache
	logger *logger.Logger
}

func NewUpdateVisualTestUseCase(
	tests repository.VisualTestRepository,
	locks *lock.KeyedLock,
	cache port.Cache,
	log *logger.Logger,
) *UpdateVisualTestUseCase {
	return &UpdateVisualTestUseCase{
		tests:  tests,
		locks:  locks,
		cache:  cache,
		logger: log,
	}
}

func (uc *UpdateVisualTestUseCase) Execute(ctx context.Context, cmd UpdateVisualTestCommand) (*dto.VisualTestDTO, error) {
	testID, err := normalizeID(cmd.TestID)
	if err != nil {
		return nil, err
	}
	if cmd.Name == nil && cmd.TargetReference == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if cmd.TargetReference != nil {
		if err := validateTargetReference(*cmd.TargetReference); err != nil {
			return nil, err
		}
	}

	release, err := uc.locks.Lock(ctx, testID)
	if err != nil {
		return nil, err
	}
	defer release()

	test, err := loadScoped(ctx, uc.tests, testID, cmd.Scope)
	if err != nil {
		return nil, err
	}

	if cmd.Name != nil {
		if err := test.Rename(*cmd.Name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	if cmd.TargetReference != nil {
		if err := test.Retarget(*cmd.TargetReference); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	if err := uc.tests.Update(ctx, test); err != nil {
		uc.logger.Error("Failed to update visual test", err, "test_id", testID)
		return nil, fmt.Errorf("%w: update test: %w", ErrStorageFailure, err)
	}

	invalidateStatus(ctx, uc.cache, uc.logger, testID)

	return dto.FromVisualTest(test), nil
}
