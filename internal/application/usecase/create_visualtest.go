package usecase

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

var projectIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type CreateVisualTestCommand struct {
	ProjectID       string
	Name            string
	TargetReference string
	Scope           AccessScope
}

type CreateVisualTestUseCase struct {
	tests  repository.VisualTestRepository
	logger *logger.Logger
}

func NewCreateVisualTestUseCase(tests repository.VisualTestRepository, log *logger.Logger) *CreateVisualTestUseCase {
	return &CreateVisualTestUseCase{
		tests:  tests,
		logger: log,
	}
}

func (uc *CreateVisualTestUseCase) Execute(ctx context.Context, cmd CreateVisualTestCommand) (*dto.VisualTestDTO, error) {
	projectID := strings.TrimSpace(cmd.ProjectID)
	if projectID != "" && !projectIDRegex.MatchString(projectID) {
		return nil, fmt.Errorf("%w: invalid project_id", ErrInvalidInput)
	}
	if projectID == "" && len(cmd.Scope.ProjectIDs) == 1 {
		projectID = cmd.Scope.ProjectIDs[0]
	}
	if !cmd.Scope.Allows(projectID) {
		return nil, fmt.Errorf("%w: project %q is outside of caller scope", ErrInvalidInput, projectID)
	}

	if err := validateTargetReference(cmd.TargetReference); err != nil {
		return nil, err
	}

	test, err := entity.NewVisualTest(projectID, cmd.Name, cmd.TargetReference)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := uc.tests.Create(ctx, test); err != nil {
		uc.logger.Error("Failed to create visual test", err, "project_id", projectID)
		return nil, fmt.Errorf("%w: create test: %w", ErrStorageFailure, err)
	}

	uc.logger.Info("Visual test created",
		"test_id", test.ID(),
		"project_id", projectID,
	)

	return dto.FromVisualTest(test), nil
}

// validateTargetReference допускает пустое значение (тест только с загрузкой)
// или абсолютный http(s)/file URL.
func validateTargetReference(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: target_reference is not a valid URL", ErrInvalidInput)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: target_reference must include a host", ErrInvalidInput)
		}
	case "file":
	default:
		return fmt.Errorf("%w: unsupported target_reference scheme %q", ErrInvalidInput, u.Scheme)
	}
	return nil
}
