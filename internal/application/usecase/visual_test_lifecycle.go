package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/service"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

const (
	DefaultCaptureTimeout = 30 * time.Second
	MaxCaptureTimeout     = 5 * time.Minute
	rollbackTimeout       = 15 * time.Second
)

// LifecycleConfig параметры контроллера жизненного цикла
type LifecycleConfig struct {
	CaptureTimeout    time.Duration
	MaxCaptureTimeout time.Duration
}

// CompareCommand сравнение загруженного изображения с baseline
type CompareCommand struct {
	TestID string
	Image  []byte
	Scope  AccessScope
}

// RunCommand capture по targetReference и сравнение
type RunCommand struct {
	TestID  string
	Timeout time.Duration
	Scope   AccessScope
}

// PromoteCommand принятие latest как baseline
type PromoteCommand struct {
	TestID string
	Scope  AccessScope
}

// VisualTestLifecycleUseCase единственный writer статуса теста и артефактов.
// Все мутации одного теста выполняются под эксклюзивной блокировкой его id.
type VisualTestLifecycleUseCase struct {
	tests     repository.VisualTestRepository
	snapshots repository.SnapshotRepository
	storage   port.ArtifactStorage
	engine    *service.DiffEngine
	locks     *lock.KeyedLock
	capture   port.CaptureDriver
	events    port.EventPublisher
	notifier  port.NotificationService
	cache     port.Cache
	metrics   port.MetricsPublisher
	config    LifecycleConfig
	logger    *logger.Logger
}

func NewVisualTestLifecycleUseCase(
	tests repository.VisualTestRepository,
	snapshots repository.SnapshotRepository,
	storage port.ArtifactStorage,
	engine *service.DiffEngine,
	locks *lock.KeyedLock,
	config LifecycleConfig,
	log *logger.Logger,
) *VisualTestLifecycleUseCase {
	if config.CaptureTimeout <= 0 {
		config.CaptureTimeout = DefaultCaptureTimeout
	}
	if config.MaxCaptureTimeout <= 0 {
		config.MaxCaptureTimeout = MaxCaptureTimeout
	}
	if config.CaptureTimeout > config.MaxCaptureTimeout {
		config.CaptureTimeout = config.MaxCaptureTimeout
	}

	return &VisualTestLifecycleUseCase{
		tests:     tests,
		snapshots: snapshots,
		storage:   storage,
		engine:    engine,
		locks:     locks,
		config:    config,
		logger:    log.With("component", "lifecycle"),
	}
}

// WithCaptureDriver подключает capture driver для Run
func (uc *VisualTestLifecycleUseCase) WithCaptureDriver(driver port.CaptureDriver) *VisualTestLifecycleUseCase {
	uc.capture = driver
	return uc
}

// WithEventPublisher подключает брокер событий
func (uc *VisualTestLifecycleUseCase) WithEventPublisher(events port.EventPublisher) *VisualTestLifecycleUseCase {
	uc.events = events
	return uc
}

// WithNotifier подключает WebSocket hub
func (uc *VisualTestLifecycleUseCase) WithNotifier(notifier port.NotificationService) *VisualTestLifecycleUseCase {
	uc.notifier = notifier
	return uc
}

// WithStatusCache подключает кеш статусов для инвалидации
func (uc *VisualTestLifecycleUseCase) WithStatusCache(cache port.Cache) *VisualTestLifecycleUseCase {
	uc.cache = cache
	return uc
}

// WithMetricsPublisher подключает экспорт метрик сравнений
func (uc *VisualTestLifecycleUseCase) WithMetricsPublisher(metrics port.MetricsPublisher) *VisualTestLifecycleUseCase {
	uc.metrics = metrics
	return uc
}

// Compare (runAndCompare) сохраняет загруженное изображение как latest и сравнивает с baseline.
// Байты декодируются до захвата блокировки: некорректные данные ничего не меняют.
func (uc *VisualTestLifecycleUseCase) Compare(ctx context.Context, cmd CompareCommand) (*dto.ComparisonDTO, error) {
	testID, err := normalizeID(cmd.TestID)
	if err != nil {
		return nil, err
	}
	if len(cmd.Image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}

	img, err := service.DecodePNG(cmd.Image)
	if err != nil {
		return nil, err
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

	return uc.applyCapture(ctx, test, cmd.Image, img)
}

// Run снимает скриншот через capture driver и выполняет Compare.
// Capture выполняется под блокировкой теста и ограничен таймаутом;
// при ошибке или таймауте состояние теста не меняется.
func (uc *VisualTestLifecycleUseCase) Run(ctx context.Context, cmd RunCommand) (*dto.ComparisonDTO, error) {
	if uc.capture == nil {
		return nil, ErrCaptureNotConfigured
	}
	testID, err := normalizeID(cmd.TestID)
	if err != nil {
		return nil, err
	}
	if cmd.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative", ErrInvalidInput)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = uc.config.CaptureTimeout
	}
	if timeout > uc.config.MaxCaptureTimeout {
		timeout = uc.config.MaxCaptureTimeout
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
	if !test.HasTarget() {
		return nil, fmt.Errorf("%w: test has no target reference, upload an image instead", ErrInvalidInput)
	}

	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	data, err := uc.capture.Capture(captureCtx, test.TargetReference())
	cancel()
	if err != nil {
		uc.logger.Warn("Capture failed",
			"test_id", testID,
			"elapsed", time.Since(started).String(),
			"error", err.Error(),
		)
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	img, err := service.DecodePNG(data)
	if err != nil {
		return nil, err
	}

	return uc.applyCapture(ctx, test, data, img)
}

// Promote копирует latest в baseline, удаляет diff и переводит тест в PASS (100).
// Повторный вызов без нового capture дает тот же результат.
func (uc *VisualTestLifecycleUseCase) Promote(ctx context.Context, cmd PromoteCommand) (*dto.VisualTestDTO, error) {
	testID, err := normalizeID(cmd.TestID)
	if err != nil {
		return nil, err
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

	opCtx := context.WithoutCancel(ctx)
	log := uc.logger.With("test_id", testID)

	latest, err := uc.storage.Get(opCtx, testID, valueobject.SlotLatest)
	if errors.Is(err, port.ErrArtifactNotFound) {
		return nil, ErrNoLatestCapture
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read latest: %w", ErrStorageFailure, err)
	}

	snap, err := uc.snapshot(opCtx, testID, valueobject.SlotBaseline, valueobject.SlotDiff)
	if err != nil {
		return nil, err
	}

	if err := uc.storage.Put(opCtx, testID, valueobject.SlotBaseline, latest); err != nil {
		return nil, fmt.Errorf("%w: write baseline: %w", ErrStorageFailure, err)
	}
	if err := uc.storage.Delete(opCtx, testID, valueobject.SlotDiff); err != nil {
		uc.restore(opCtx, log, testID, snap)
		return nil, fmt.Errorf("%w: delete diff: %w", ErrStorageFailure, err)
	}

	test.RecordPromotion()
	if err := uc.tests.Update(opCtx, test); err != nil {
		uc.restore(opCtx, log, testID, snap)
		return nil, fmt.Errorf("%w: update registry: %w", ErrStorageFailure, err)
	}

	uc.appendLedger(opCtx, log, entity.NewPromotionRecord(testID))
	uc.afterWrite(opCtx, log, dto.NewVisualTestEvent(dto.EventPromoted, test))

	log.Info("Baseline promoted")

	return dto.FromVisualTest(test), nil
}

// applyCapture выполняется под блокировкой теста.
// Порядок: latest → сравнение → diff → реестр. При ошибке реестра артефакты откатываются.
func (uc *VisualTestLifecycleUseCase) applyCapture(
	ctx context.Context,
	test *entity.VisualTest,
	data []byte,
	img image.Image,
) (*dto.ComparisonDTO, error) {
	opCtx := context.WithoutCancel(ctx)
	testID := test.ID()
	log := uc.logger.With("test_id", testID)
	started := time.Now()

	baselineBytes, err := uc.storage.Get(opCtx, testID, valueobject.SlotBaseline)
	hasBaseline := true
	if errors.Is(err, port.ErrArtifactNotFound) {
		hasBaseline = false
	} else if err != nil {
		return nil, fmt.Errorf("%w: read baseline: %w", ErrStorageFailure, err)
	}

	var baseline image.Image
	if hasBaseline {
		baseline, err = service.DecodePNG(baselineBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: stored baseline is unreadable: %w", ErrStorageFailure, err)
		}
	}

	snap, err := uc.snapshot(opCtx, testID, valueobject.SlotLatest, valueobject.SlotDiff)
	if err != nil {
		return nil, err
	}

	if err := uc.storage.Put(opCtx, testID, valueobject.SlotLatest, data); err != nil {
		return nil, fmt.Errorf("%w: write latest: %w", ErrStorageFailure, err)
	}

	result := &dto.ComparisonDTO{}
	var compared *service.DiffResult

	if !hasBaseline {
		if err := uc.storage.Delete(opCtx, testID, valueobject.SlotDiff); err != nil {
			uc.restore(opCtx, log, testID, snap)
			return nil, fmt.Errorf("%w: delete diff: %w", ErrStorageFailure, err)
		}
		test.MarkNew()
	} else {
		diff := uc.engine.Compare(baseline, img)

		if diff.HasDiff() {
			encoded, err := service.EncodePNG(diff.DiffImage)
			if err != nil {
				uc.restore(opCtx, log, testID, snap)
				return nil, err
			}
			if err := uc.storage.Put(opCtx, testID, valueobject.SlotDiff, encoded); err != nil {
				uc.restore(opCtx, log, testID, snap)
				return nil, fmt.Errorf("%w: write diff: %w", ErrStorageFailure, err)
			}
		} else if err := uc.storage.Delete(opCtx, testID, valueobject.SlotDiff); err != nil {
			uc.restore(opCtx, log, testID, snap)
			return nil, fmt.Errorf("%w: delete diff: %w", ErrStorageFailure, err)
		}

		if err := test.RecordComparison(diff.Status(), diff.MatchPercentage); err != nil {
			uc.restore(opCtx, log, testID, snap)
			return nil, err
		}

		compared = &diff
		result.Compared = true
		result.MismatchCount = diff.MismatchCount
		result.TotalPixels = diff.TotalPixels
		result.DimensionMismatch = diff.DimensionMismatch
		result.HasDiff = diff.HasDiff()
	}

	if err := uc.tests.Update(opCtx, test); err != nil {
		uc.restore(opCtx, log, testID, snap)
		return nil, fmt.Errorf("%w: update registry: %w", ErrStorageFailure, err)
	}

	result.Test = dto.FromVisualTest(test)

	if compared != nil {
		uc.appendLedger(opCtx, log, entity.NewComparisonRecord(
			testID, compared.Status(), compared.MatchPercentage,
			compared.MismatchCount, compared.TotalPixels, compared.DimensionMismatch,
		))
		uc.publishMetric(opCtx, log, test, *compared, time.Since(started))
	}

	event := dto.NewVisualTestEvent(dto.EventCompared, test)
	event.HasDiff = result.HasDiff
	uc.afterWrite(opCtx, log, event)

	log.Info("Capture applied",
		"status", test.Status().String(),
		"compared", result.Compared,
		"mismatch_count", result.MismatchCount,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return result, nil
}

// slotSnapshot содержимое слотов до мутации, для отката
type slotSnapshot map[valueobject.ArtifactSlot][]byte

func (uc *VisualTestLifecycleUseCase) snapshot(ctx context.Context, testID string, slots ...valueobject.ArtifactSlot) (slotSnapshot, error) {
	snap := make(slotSnapshot, len(slots))
	for _, slot := range slots {
		data, err := uc.storage.Get(ctx, testID, slot)
		switch {
		case errors.Is(err, port.ErrArtifactNotFound):
			snap[slot] = nil
		case err != nil:
			return nil, fmt.Errorf("%w: read %s: %w", ErrStorageFailure, slot, err)
		default:
			snap[slot] = data
		}
	}
	return snap, nil
}

func (uc *VisualTestLifecycleUseCase) restore(ctx context.Context, log *logger.Logger, testID string, snap slotSnapshot) {
	ctx, cancel := context.WithTimeout(ctx, rollbackTimeout)
	defer cancel()

	for slot, data := range snap {
		var err error
		if data == nil {
			err = uc.storage.Delete(ctx, testID, slot)
		} else {
			err = uc.storage.Put(ctx, testID, slot, data)
		}
		if err != nil {
			log.Error("Failed to roll back artifact", err, "slot", slot.String())
		}
	}
}

func (uc *VisualTestLifecycleUseCase) appendLedger(ctx context.Context, log *logger.Logger, record entity.SnapshotRecord) {
	if uc.snapshots == nil {
		return
	}
	if err := uc.snapshots.Append(ctx, record); err != nil {
		log.Error("Failed to append snapshot record", err, "is_baseline", record.IsBaseline)
	}
}

func (uc *VisualTestLifecycleUseCase) publishMetric(ctx context.Context, log *logger.Logger, test *entity.VisualTest, diff service.DiffResult, elapsed time.Duration) {
	if uc.metrics == nil {
		return
	}
	err := uc.metrics.PublishComparison(ctx, port.ComparisonMetric{
		TestID:            test.ID(),
		ProjectID:         test.ProjectID(),
		Status:            diff.Status().String(),
		MatchPercentage:   diff.MatchPercentage,
		MismatchCount:     diff.MismatchCount,
		DimensionMismatch: diff.DimensionMismatch,
		Duration:          elapsed,
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		log.Warn("Failed to publish comparison metric", "error", err.Error())
	}
}

// afterWrite инвалидирует кеш статуса и рассылает событие.
// Вызывается под блокировкой теста, ошибки только логируются.
func (uc *VisualTestLifecycleUseCase) afterWrite(ctx context.Context, log *logger.Logger, event *dto.VisualTestEvent) {
	invalidateStatus(ctx, uc.cache, log, event.TestID)
	publishEvent(ctx, uc.events, uc.notifier, log, event)
}

func invalidateStatus(ctx context.Context, cache port.Cache, log *logger.Logger, testID string) {
	if cache == nil {
		return
	}
	if err := cache.Delete(ctx, StatusCacheKey(testID)); err != nil {
		log.Warn("Failed to invalidate status cache", "error", err.Error())
	}
}

func publishEvent(ctx context.Context, events port.EventPublisher, notifier port.NotificationService, log *logger.Logger, event *dto.VisualTestEvent) {
	if events != nil {
		if err := events.Publish(ctx, event); err != nil {
			log.Warn("Failed to publish event", "type", string(event.Type), "error", err.Error())
		}
	}
	if notifier != nil {
		notifier.Broadcast(event)
	}
}

// StatusCacheKey ключ кеша статуса теста
func StatusCacheKey(testID string) string {
	return "visual-test:status:" + testID
}
