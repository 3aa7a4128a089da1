package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

type ListSnapshotsQuery struct {
	TestID string
	Limit  int
	Cursor string
	Scope  AccessScope
}

// ListSnapshotsUseCase постраничное чтение истории сравнений (от новых к старым)
type ListSnapshotsUseCase struct {
	tests     repository.VisualTestRepository
	snapshots repository.SnapshotRepository
	logger    *logger.Logger
}

func NewListSnapshotsUseCase(
	tests repository.VisualTestRepository,
	snapshots repository.SnapshotRepository,
	log *logger.Logger,
) *ListSnapshotsUseCase {
	return &ListSnapshotsUseCase{
		tests:     tests,
		snapshots: snapshots,
		logger:    log,
	}
}

func (uc *ListSnapshotsUseCase) Execute(ctx context.Context, query ListSnapshotsQuery) (*dto.SnapshotPageDTO, error) {
	testID, err := normalizeID(query.TestID)
	if err != nil {
		return nil, err
	}
	if query.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}

	if _, err := loadScoped(ctx, uc.tests, testID, query.Scope); err != nil {
		return nil, err
	}

	page, err := uc.snapshots.List(ctx, repository.SnapshotQuery{
		TestID: testID,
		Limit:  query.Limit,
		Cursor: query.Cursor,
	})
	if errors.Is(err, repository.ErrInvalidCursor) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err != nil {
		uc.logger.Error("Failed to list snapshot history", err, "test_id", testID)
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return dto.FromSnapshotPage(page), nil
}
