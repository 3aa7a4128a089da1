package entity

import (
	"errors"
	"strings"
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/google/uuid"
)

const (
	maxNameLength      = 200
	maxTargetRefLength = 2048
	maxProjectIDLength = 64
)

// PromotedMatchPercentage значение matchPercentage после принятия latest как baseline.
const PromotedMatchPercentage = 100.0

// VisualTest представляет отслеживаемую страницу/сценарий (Aggregate Root).
// Статус и процент совпадения меняет только lifecycle controller.
type VisualTest struct {
	id              string
	projectID       string
	name            string
	targetReference string
	status          valueobject.TestStatus
	matchPercentage *float64
	createdAt       time.Time
	updatedAt       time.Time
}

// NewVisualTest создает новый тест в статусе NEW (Factory Method)
func NewVisualTest(projectID, name, targetReference string) (*VisualTest, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	targetReference = strings.TrimSpace(targetReference)
	if len(targetReference) > maxTargetRefLength {
		return nil, errors.New("target reference is too long")
	}
	projectID = strings.TrimSpace(projectID)
	if len(projectID) > maxProjectIDLength {
		return nil, errors.New("project id is too long")
	}

	now := time.Now().UTC()

	return &VisualTest{
		id:              uuid.Must(uuid.NewV7()).String(),
		projectID:       projectID,
		name:            name,
		targetReference: targetReference,
		status:          valueobject.StatusNew,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// ReconstructVisualTest восстанавливает тест из хранилища (для Repository)
func ReconstructVisualTest(
	id, projectID, name, targetReference string,
	status valueobject.TestStatus,
	matchPercentage *float64,
	createdAt, updatedAt time.Time,
) *VisualTest {
	var pct *float64
	if matchPercentage != nil {
		v := *matchPercentage
		pct = &v
	}

	return &VisualTest{
		id:              id,
		projectID:       projectID,
		name:            name,
		targetReference: targetReference,
		status:          status,
		matchPercentage: pct,
		createdAt:       createdAt.UTC(),
		updatedAt:       updatedAt.UTC(),
	}
}

func (t *VisualTest) ID() string {
	return t.id
}

func (t *VisualTest) ProjectID() string {
	return t.projectID
}

func (t *VisualTest) Name() string {
	return t.name
}

func (t *VisualTest) TargetReference() string {
	return t.targetReference
}

func (t *VisualTest) Status() valueobject.TestStatus {
	return t.status
}

// MatchPercentage возвращает последний вычисленный процент и признак его наличия
func (t *VisualTest) MatchPercentage() (float64, bool) {
	if t.matchPercentage == nil {
		return 0, false
	}
	return *t.matchPercentage, true
}

func (t *VisualTest) CreatedAt() time.Time {
	return t.createdAt
}

func (t *VisualTest) UpdatedAt() time.Time {
	return t.updatedAt
}

// Domain Methods

// Rename меняет человекочитаемое имя теста
func (t *VisualTest) Rename(name string) error {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return err
	}
	t.name = name
	t.touch()
	return nil
}

// Retarget меняет адрес, который использует capture driver
func (t *VisualTest) Retarget(targetReference string) error {
	targetReference = strings.TrimSpace(targetReference)
	if len(targetReference) > maxTargetRefLength {
		return errors.New("target reference is too long")
	}
	t.targetReference = targetReference
	t.touch()
	return nil
}

// HasTarget сообщает, можно ли запускать capture для теста
func (t *VisualTest) HasTarget() bool {
	return t.targetReference != ""
}

// MarkNew фиксирует прогон без baseline: статус NEW, процент не меняется.
func (t *VisualTest) MarkNew() {
	t.status = valueobject.StatusNew
	t.touch()
}

// RecordComparison фиксирует результат сравнения с baseline
func (t *VisualTest) RecordComparison(status valueobject.TestStatus, matchPercentage float64) error {
	if !status.IsCompared() {
		return errors.New("comparison status must be PASS or FAIL")
	}
	if matchPercentage < 0 || matchPercentage > 100 {
		return errors.New("match percentage must be within [0, 100]")
	}
	pct := matchPercentage
	t.status = status
	t.matchPercentage = &pct
	t.touch()
	return nil
}

// RecordPromotion фиксирует принятие latest как нового baseline
func (t *VisualTest) RecordPromotion() {
	pct := PromotedMatchPercentage
	t.status = valueobject.StatusPass
	t.matchPercentage = &pct
	t.touch()
}

// Clone возвращает независимую копию (репозитории в памяти и кеш)
func (t *VisualTest) Clone() *VisualTest {
	return ReconstructVisualTest(
		t.id, t.projectID, t.name, t.targetReference,
		t.status, t.matchPercentage, t.createdAt, t.updatedAt,
	)
}

func (t *VisualTest) touch() {
	now := time.Now().UTC()
	if !now.After(t.updatedAt) {
		now = t.updatedAt.Add(time.Microsecond)
	}
	t.updatedAt = now
}

func validateName(name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > maxNameLength {
		return errors.New("name is too long")
	}
	return nil
}
