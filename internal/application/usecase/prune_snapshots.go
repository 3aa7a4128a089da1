package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

// PruneSnapshotsUseCase применяет политику хранения истории сравнений
type PruneSnapshotsUseCase struct {
	snapshots repository.SnapshotRepository
	retention time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

func NewPruneSnapshotsUseCase(snapshots repository.SnapshotRepository, retention time.Duration, log *logger.Logger) *PruneSnapshotsUseCase {
	return &PruneSnapshotsUseCase{
		snapshots: snapshots,
		retention: retention,
		now:       time.Now,
		logger:    log,
	}
}

// Enabled false при нулевом сроке хранения
func (uc *PruneSnapshotsUseCase) Enabled() bool {
	return uc.retention > 0
}

// Execute удаляет записи старше срока хранения, возвращает их количество
func (uc *PruneSnapshotsUseCase) Execute(ctx context.Context) (int64, error) {
	if !uc.Enabled() {
		return 0, nil
	}

	cutoff := uc.now().UTC().Add(-uc.retention)
	removed, err := uc.snapshots.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		uc.logger.Error("Failed to prune snapshot history", err, "cutoff", cutoff.Format(time.RFC3339))
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	if removed > 0 {
		uc.logger.Info("Pruned snapshot history", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}

	return removed, nil
}
