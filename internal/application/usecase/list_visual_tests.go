package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

type ListVisualTestsQuery struct {
	ProjectID string
	Name      string
	Scope     AccessScope
}

type ListVisualTestsUseCase struct {
	tests  repository.VisualTestRepository
	logger *logger.Logger
}

func NewListVisualTestsUseCase(tests repository.VisualTestRepository, log *logger.Logger) *ListVisualTestsUseCase {
	return &ListVisualTestsUseCase{
		tests:  tests,
		logger: log,
	}
}

func (uc *ListVisualTestsUseCase) Execute(ctx context.Context, query ListVisualTestsQuery) ([]*dto.VisualTestDTO, error) {
	filter := repository.VisualTestFilter{
		ProjectID: strings.TrimSpace(query.ProjectID),
		Name:      strings.TrimSpace(query.Name),
	}

	if !query.Scope.Unrestricted() {
		if filter.ProjectID != "" && !query.Scope.Allows(filter.ProjectID) {
			return []*dto.VisualTestDTO{}, nil
		}
		filter.ProjectIDs = query.Scope.ProjectIDs
	}

	tests, err := uc.tests.List(ctx, filter)
	if err != nil {
		uc.logger.Error("Failed to list visual tests", err, "project_id", filter.ProjectID)
		return nil, fmt.Errorf("%w: list tests: %w", ErrStorageFailure, err)
	}

	return dto.ToVisualTestDTOs(tests), nil
}
