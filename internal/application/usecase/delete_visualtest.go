package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

type DeleteVisualTestCommand struct {
	TestID string
	Scope  AccessScope
}

// DeleteVisualTestUseCase удаляет тест каскадно: артефакты и история удаляются
// best-effort (ошибки логируются), затем запись реестра. Повторное удаление не ошибка.
type DeleteVisualTestUseCase struct {
	tests     repository.VisualTestRepository
	snapshots repository.SnapshotRepository
	storage   port.ArtifactStorage
	locks     *lock.KeyedLock
	cache     port.Cache
	events    port.EventPublisher
	notifier  port.NotificationService
	logger    *logger.Logger
}

func NewDeleteVisualTestUseCase(
	tests repository.VisualTestRepository,
	snapshots repository.SnapshotRepository,
	storage port.ArtifactStorage,
	locks *lock.KeyedLock,
	log *logger.Logger,
) *DeleteVisualTestUseCase {
	return &DeleteVisualTestUseCase{
		tests:     tests,
		snapshots: snapshots,
		storage:   storage,
		locks:     locks,
		logger:    log,
	}
}

// WithNotifications подключает кеш, брокер и WebSocket hub (любой может быть nil)
func (uc *DeleteVisualTestUseCase) WithNotifications(cache port.Cache, events port.EventPublisher, notifier port.NotificationService) *DeleteVisualTestUseCase {
	uc.cache = cache
	uc.events = events
	uc.notifier = notifier
	return uc
}

func (uc *DeleteVisualTestUseCase) Execute(ctx context.Context, cmd DeleteVisualTestCommand) error {
	testID, err := normalizeID(cmd.TestID)
	if err != nil {
		return err
	}

	release, err := uc.locks.Lock(ctx, testID)
	if err != nil {
		return err
	}
	defer release()

	test, err := uc.tests.FindByID(ctx, testID)
	if errors.Is(err, repository.ErrVisualTestNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load test: %w", ErrStorageFailure, err)
	}
	if !cmd.Scope.Allows(test.ProjectID()) {
		return repository.ErrVisualTestNotFound
	}

	opCtx := context.WithoutCancel(ctx)
	log := uc.logger.With("test_id", testID)

	for _, slot := range valueobject.AllArtifactSlots() {
		if err := uc.storage.Delete(opCtx, testID, slot); err != nil {
			log.Warn("Failed to delete artifact", "slot", slot.String(), "error", err.Error())
		}
	}

	if uc.snapshots != nil {
		if err := uc.snapshots.DeleteByTest(opCtx, testID); err != nil {
			log.Warn("Failed to delete snapshot history", "error", err.Error())
		}
	}

	if err := uc.tests.Delete(opCtx, testID); err != nil {
		log.Error("Failed to delete visual test", err)
		return fmt.Errorf("%w: delete test: %w", ErrStorageFailure, err)
	}

	invalidateStatus(opCtx, uc.cache, log, testID)
	publishEvent(opCtx, uc.events, uc.notifier, log, dto.NewVisualTestEvent(dto.EventDeleted, test))

	log.Info("Visual test deleted")

	return nil
}
