package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

func TestCreateVisualTestUseCase(t *testing.T) {
	f := newLifecycleFixture(t)
	uc := NewCreateVisualTestUseCase(f.tests, f.log)

	out, err := uc.Execute(context.Background(), CreateVisualTestCommand{
		ProjectID:       "shop",
		Name:            "Checkout",
		TargetReference: "https://shop.example.com/checkout",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.ID == "" || out.Status != "NEW" || out.MatchPercentage != nil {
		t.Fatalf("unexpected created test: %+v", out)
	}
	if _, err := f.tests.FindByID(context.Background(), out.ID); err != nil {
		t.Fatalf("expected test to be stored: %v", err)
	}
}

func TestCreateVisualTestUseCase_Validation(t *testing.T) {
	f := newLifecycleFixture(t)
	uc := NewCreateVisualTestUseCase(f.tests, f.log)

	tests := []struct {
		name string
		cmd  CreateVisualTestCommand
	}{
		{"empty name", CreateVisualTestCommand{Name: " "}},
		{"bad project", CreateVisualTestCommand{Name: "a", ProjectID: "bad project"}},
		{"bad scheme", CreateVisualTestCommand{Name: "a", TargetReference: "ftp://example.com"}},
		{"missing host", CreateVisualTestCommand{Name: "a", TargetReference: "https:///path"}},
		{"foreign project", CreateVisualTestCommand{Name: "a", ProjectID: "blog", Scope: AccessScope{ProjectIDs: []string{"shop"}}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), tc.cmd)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateVisualTestUseCase_DefaultsToSingleScopedProject(t *testing.T) {
	f := newLifecycleFixture(t)
	uc := NewCreateVisualTestUseCase(f.tests, f.log)

	out, err := uc.Execute(context.Background(), CreateVisualTestCommand{
		Name:  "Home",
		Scope: AccessScope{ProjectIDs: []string{"shop"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.ProjectID != "shop" {
		t.Fatalf("expected project from scope, got %q", out.ProjectID)
	}
}

func TestListVisualTestsUseCase(t *testing.T) {
	f := newLifecycleFixture(t)
	f.createTest(t, "shop", "A", "")
	f.createTest(t, "shop", "B", "")
	f.createTest(t, "blog", "C", "")
	uc := NewListVisualTestsUseCase(f.tests, f.log)

	tests := []struct {
		name  string
		query ListVisualTestsQuery
		want  int
	}{
		{"all", ListVisualTestsQuery{}, 3},
		{"by project", ListVisualTestsQuery{ProjectID: "shop"}, 2},
		{"by name", ListVisualTestsQuery{Name: "C"}, 1},
		{"scoped", ListVisualTestsQuery{Scope: AccessScope{ProjectIDs: []string{"blog"}}}, 1},
		{"scoped foreign filter", ListVisualTestsQuery{ProjectID: "shop", Scope: AccessScope{ProjectIDs: []string{"blog"}}}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := uc.Execute(context.Background(), tc.query)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(out) != tc.want {
				t.Fatalf("expected %d tests, got %d", tc.want, len(out))
			}
		})
	}
}

func TestGetVisualTestUseCase_UsesCache(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.createTest(t, "shop", "A", "")
	uc := NewGetVisualTestUseCase(f.tests, f.locks, f.cache, f.log)

	first, err := uc.Execute(context.Background(), GetVisualTestQuery{TestID: id})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// запись в обход контроллера, кеш должен вернуть прежнее значение
	_ = f.tests.Delete(context.Background(), id)
	second, err := uc.Execute(context.Background(), GetVisualTestQuery{TestID: id})
	if err != nil {
		t.Fatalf("expected cached value, got %v", err)
	}
	if second.ID != first.ID || second.Status != first.Status {
		t.Fatalf("unexpected cached value: %+v", second)
	}

	if _, err := uc.Execute(context.Background(), GetVisualTestQuery{TestID: id, Scope: AccessScope{ProjectIDs: []string{"blog"}}}); !errors.Is(err, repository.ErrVisualTestNotFound) {
		t.Fatalf("expected scope check on cached value, got %v", err)
	}
}

func TestGetVisualTestUseCase_NotFound(t *testing.T) {
	f := newLifecycleFixture(t)
	uc := NewGetVisualTestUseCase(f.tests, f.locks, nil, f.log)

	if _, err := uc.Execute(context.Background(), GetVisualTestQuery{TestID: "missing"}); !errors.Is(err, repository.ErrVisualTestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := uc.Execute(context.Background(), GetVisualTestQuery{TestID: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateVisualTestUseCase(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.createTest(t, "", "Old", "")
	_, _ = f.lifecycle.Compare(context.Background(), CompareCommand{TestID: id, Image: imgRed4x4(t)})
	_, _ = f.lifecycle.Promote(context.Background(), PromoteCommand{TestID: id})
	uc := NewUpdateVisualTestUseCase(f.tests, f.locks, f.cache, f.log)

	name := "New"
	target := "https://example.com/new"
	out, err := uc.Execute(context.Background(), UpdateVisualTestCommand{TestID: id, Name: &name, TargetReference: &target})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Name != "New" || out.TargetReference != target {
		t.Fatalf("unexpected update result: %+v", out)
	}
	if out.Status != "PASS" || *out.MatchPercentage != 100 {
		t.Fatalf("update must not change status, got %+v", out)
	}

	if _, err := uc.Execute(context.Background(), UpdateVisualTestCommand{TestID: id}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty update, got %v", err)
	}
	empty := " "
	if _, err := uc.Execute(context.Background(), UpdateVisualTestCommand{TestID: id, Name: &empty}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}
	if _, err := uc.Execute(context.Background(), UpdateVisualTestCommand{TestID: "missing", Name: &name}); !errors.Is(err, repository.ErrVisualTestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteVisualTestUseCase_Cascades(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	id := f.createTest(t, "", "T1", "")
	other := f.createTest(t, "", "T2", "")

	_, _ = f.lifecycle.Compare(ctx, CompareCommand{TestID: id, Image: imgRed4x4(t)})
	_, _ = f.lifecycle.Promote(ctx, PromoteCommand{TestID: id})
	_, _ = f.lifecycle.Compare(ctx, CompareCommand{TestID: id, Image: imgRed4x4WithBlue(t)})
	_, _ = f.lifecycle.Compare(ctx, CompareCommand{TestID: other, Image: imgRed4x4(t)})

	uc := NewDeleteVisualTestUseCase(f.tests, f.snapshots, f.storage, f.locks, f.log).
		WithNotifications(f.cache, f.events, nil)

	if err := uc.Execute(ctx, DeleteVisualTestCommand{TestID: id}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, slot := range valueobject.AllArtifactSlots() {
		if _, ok := f.storage.slot(id, slot); ok {
			t.Fatalf("slot %s must be deleted", slot)
		}
	}
	if len(f.snapshots.forTest(id)) != 0 {
		t.Fatalf("ledger must be cleared")
	}
	if _, err := f.tests.FindByID(ctx, id); !errors.Is(err, repository.ErrVisualTestNotFound) {
		t.Fatalf("registry record must be deleted")
	}
	if _, ok := f.storage.slot(other, valueobject.SlotLatest); !ok {
		t.Fatalf("other tests must be untouched")
	}

	// идемпотентность
	if err := uc.Execute(ctx, DeleteVisualTestCommand{TestID: id}); err != nil {
		t.Fatalf("second delete must succeed, got %v", err)
	}
}

func TestDeleteVisualTestUseCase_ArtifactFailuresAreLogged(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.createTest(t, "", "T1", "")
	f.storage.deleteErr = errBoom

	uc := NewDeleteVisualTestUseCase(f.tests, f.snapshots, f.storage, f.locks, f.log)
	if err := uc.Execute(context.Background(), DeleteVisualTestCommand{TestID: id}); err != nil {
		t.Fatalf("artifact cleanup failures must not be propagated, got %v", err)
	}
	if _, err := f.tests.FindByID(context.Background(), id); !errors.Is(err, repository.ErrVisualTestNotFound) {
		t.Fatalf("registry record must still be deleted")
	}
}

func TestGetArtifactUseCase(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.createTest(t, "", "T1", "")
	red := imgRed4x4(t)
	_, _ = f.lifecycle.Compare(context.Background(), CompareCommand{TestID: id, Image: red})
	uc := NewGetArtifactUseCase(f.tests, f.storage, f.locks)

	out, err := uc.Execute(context.Background(), GetArtifactQuery{TestID: id, Slot: "latest"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(out.Data) != string(red) || out.ContentType != "image/png" {
		t.Fatalf("unexpected artifact")
	}

	if _, err := uc.Execute(context.Background(), GetArtifactQuery{TestID: id, Slot: "baseline"}); !errors.Is(err, port.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
	if _, err := uc.Execute(context.Background(), GetArtifactQuery{TestID: id, Slot: "thumbnail"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := uc.Execute(context.Background(), GetArtifactQuery{TestID: "missing", Slot: "latest"}); !errors.Is(err, repository.ErrVisualTestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListSnapshotsUseCase_Paging(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	id := f.createTest(t, "", "T1", "")
	for i := 0; i < 5; i++ {
		_ = f.snapshots.Append(ctx, entity.NewComparisonRecord(id, valueobject.StatusPass, 0, 0, 16, false))
	}
	uc := NewListSnapshotsUseCase(f.tests, f.snapshots, f.log)

	page, err := uc.Execute(ctx, ListSnapshotsQuery{TestID: id, Limit: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %d items, cursor %q", len(page.Items), page.NextCursor)
	}

	seen := len(page.Items)
	for page.NextCursor != "" {
		page, err = uc.Execute(ctx, ListSnapshotsQuery{TestID: id, Limit: 2, Cursor: page.NextCursor})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		seen += len(page.Items)
	}
	if seen != 5 {
		t.Fatalf("expected to page through 5 records, got %d", seen)
	}

	if _, err := uc.Execute(ctx, ListSnapshotsQuery{TestID: id, Limit: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPruneSnapshotsUseCase(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := entity.NewComparisonRecord("t1", valueobject.StatusPass, 0, 0, 1, false)
	old.CreatedAt = now.Add(-40 * 24 * time.Hour)
	fresh := entity.NewComparisonRecord("t1", valueobject.StatusPass, 0, 0, 1, false)
	fresh.CreatedAt = now.Add(-time.Hour)
	_ = f.snapshots.Append(ctx, old)
	_ = f.snapshots.Append(ctx, fresh)

	uc := NewPruneSnapshotsUseCase(f.snapshots, 30*24*time.Hour, f.log)
	uc.now = func() time.Time { return now }

	removed, err := uc.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if removed != 1 || len(f.snapshots.forTest("t1")) != 1 {
		t.Fatalf("expected 1 record pruned, got %d", removed)
	}

	disabled := NewPruneSnapshotsUseCase(f.snapshots, 0, f.log)
	if disabled.Enabled() {
		t.Fatalf("zero retention must disable pruning")
	}
}
