package suite

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/usecase"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

type TestLister interface {
	Execute(ctx context.Context, query usecase.ListVisualTestsQuery) ([]*dto.VisualTestDTO, error)
}

type TestCreator interface {
	Execute(ctx context.Context, cmd usecase.CreateVisualTestCommand) (*dto.VisualTestDTO, error)
}

type TestUpdater interface {
	Execute(ctx context.Context, cmd usecase.UpdateVisualTestCommand) (*dto.VisualTestDTO, error)
}

type Lifecycle interface {
	Run(ctx context.Context, cmd usecase.RunCommand) (*dto.ComparisonDTO, error)
	Compare(ctx context.Context, cmd usecase.CompareCommand) (*dto.ComparisonDTO, error)
}

// Result итог прогона одного теста набора
type Result struct {
	Test            Test
	TestID          string
	Status          string
	MatchPercentage *float64
	Compared        bool
	Duration        time.Duration
	Err             error
}

// Report результаты в порядке тестов набора
type Report struct {
	Results []Result
}

// Counts число тестов по статусам; ошибки считаются под ключом "ERROR"
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int, 4)
	for _, res := range r.Results {
		if res.Err != nil {
			counts["ERROR"]++
			continue
		}
		counts[res.Status]++
	}
	return counts
}

// Failed true, если хотя бы один тест упал или завершился ошибкой
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Err != nil || res.Status == valueobject.StatusFail.String() {
			return true
		}
	}
	return false
}

// Runner создает недостающие тесты и прогоняет набор с ограниченным параллелизмом
type Runner struct {
	lister    TestLister
	creator   TestCreator
	updater   TestUpdater
	lifecycle Lifecycle
	readFile  func(string) ([]byte, error)
	logger    *logger.Logger
}

func NewRunner(lister TestLister, creator TestCreator, updater TestUpdater, lifecycle Lifecycle, log *logger.Logger) *Runner {
	return &Runner{
		lister:    lister,
		creator:   creator,
		updater:   updater,
		lifecycle: lifecycle,
		readFile:  os.ReadFile,
		logger:    log.With("component", "suite"),
	}
}

// Run выполняет все тесты набора. Ошибка одного теста не прерывает остальные
// и попадает в Result.Err.
func (r *Runner) Run(ctx context.Context, s *Suite) *Report {
	report := &Report{Results: make([]Result, len(s.Tests))}

	var g errgroup.Group
	g.SetLimit(s.Parallel)
	for i, t := range s.Tests {
		g.Go(func() error {
			report.Results[i] = r.runOne(ctx, t, s.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (r *Runner) runOne(ctx context.Context, t Test, timeout time.Duration) Result {
	started := time.Now()
	res := Result{Test: t}

	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Duration = time.Since(started)
		return res
	}

	testID, err := r.ensure(ctx, t)
	if err != nil {
		res.Err = fmt.Errorf("ensure test: %w", err)
		res.Duration = time.Since(started)
		return res
	}
	res.TestID = testID

	var cmp *dto.ComparisonDTO
	if t.Image != "" {
		data, readErr := r.readFile(t.Image)
		if readErr != nil {
			res.Err = fmt.Errorf("read image: %w", readErr)
			res.Duration = time.Since(started)
			return res
		}
		cmp, err = r.lifecycle.Compare(ctx, usecase.CompareCommand{TestID: testID, Image: data})
	} else {
		cmp, err = r.lifecycle.Run(ctx, usecase.RunCommand{TestID: testID, Timeout: timeout})
	}
	res.Duration = time.Since(started)
	if err != nil {
		res.Err = err
		r.logger.Warn("Suite test failed to run", "test", t.Name, "project", t.Project, "error", err.Error())
		return res
	}

	res.Compared = cmp.Compared
	res.Status = cmp.Test.Status
	res.MatchPercentage = cmp.Test.MatchPercentage
	r.logger.Debug("Suite test finished", "test", t.Name, "status", res.Status)
	return res
}

// ensure находит тест по имени в проекте, создает при отсутствии
// и обновляет target, если он изменился в наборе
func (r *Runner) ensure(ctx context.Context, t Test) (string, error) {
	existing, err := r.lister.Execute(ctx, usecase.ListVisualTestsQuery{ProjectID: t.Project, Name: t.Name})
	if err != nil {
		return "", err
	}

	for _, vt := range existing {
		if vt.Name != t.Name || vt.ProjectID != t.Project {
			continue
		}
		if t.Target != "" && vt.TargetReference != t.Target {
			target := t.Target
			if _, err := r.updater.Execute(ctx, usecase.UpdateVisualTestCommand{TestID: vt.ID, TargetReference: &target}); err != nil {
				return "", err
			}
			r.logger.Info("Suite test retargeted", "test", t.Name, "target", t.Target)
		}
		return vt.ID, nil
	}

	created, err := r.creator.Execute(ctx, usecase.CreateVisualTestCommand{
		ProjectID:       t.Project,
		Name:            t.Name,
		TargetReference: t.Target,
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("Suite test created", "test", t.Name, "project", t.Project, "id", created.ID)
	return created.ID, nil
}

// WriteSummary печатает таблицу результатов и итоговую строку
func WriteSummary(w io.Writer, report *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tPROJECT\tTEST\tMATCH %\tTIME\tDETAILS")
	for _, res := range report.Results {
		status, match, details := res.Status, "-", ""
		if res.Err != nil {
			status, details = "ERROR", res.Err.Error()
		} else if res.MatchPercentage != nil && res.Compared {
			match = fmt.Sprintf("%.2f", *res.MatchPercentage)
		}
		if res.Err == nil && !res.Compared {
			details = "baseline recorded"
		}
		project := res.Test.Project
		if project == "" {
			project = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			status, project, res.Test.Name, match, res.Duration.Round(time.Millisecond), details)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := report.Counts()
	_, err := fmt.Fprintf(w, "\n%d tests: %d passed, %d failed, %d new, %d errors\n",
		len(report.Results),
		counts[valueobject.StatusPass.String()],
		counts[valueobject.StatusFail.String()],
		counts[valueobject.StatusNew.String()],
		counts["ERROR"],
	)
	return err
}
