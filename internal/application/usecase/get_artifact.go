package usecase

import (
	"context"
	"fmt"

	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

type GetArtifactQuery struct {
	TestID string
	Slot   string
	Scope  AccessScope
}

type ArtifactResult struct {
	TestID      string
	Slot        valueobject.ArtifactSlot
	ContentType string
	Data        []byte
}

// GetArtifactUseCase читает байты слота под разделяемой блокировкой теста,
// поэтому baseline/latest/diff всегда из одного согласованного состояния.
type GetArtifactUseCase struct {
	tests   repository.VisualTestRepository
	storage port.ArtifactStorage
	locks   *lock.KeyedLock
}

func NewGetArtifactUseCase(tests repository.VisualTestRepository, storage port.ArtifactStorage, locks *lock.KeyedLock) *GetArtifactUseCase {
	return &GetArtifactUseCase{
		tests:   tests,
		storage: storage,
		locks:   locks,
	}
}

// Execute возвращает port.ErrArtifactNotFound, если слот пуст
func (uc *GetArtifactUseCase) Execute(ctx context.Context, query GetArtifactQuery) (*ArtifactResult, error) {
	testID, err := normalizeID(query.TestID)
	if err != nil {
		return nil, err
	}
	slot, err := valueobject.ParseArtifactSlot(query.Slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	release, err := uc.locks.RLock(ctx, testID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := loadScoped(ctx, uc.tests, testID, query.Scope); err != nil {
		return nil, err
	}

	data, err := uc.storage.Get(ctx, testID, slot)
	if err != nil {
		return nil, err
	}

	return &ArtifactResult{
		TestID:      testID,
		Slot:        slot,
		ContentType: "image/png",
		Data:        data,
	}, nil
}
