package valueobject

import (
	"errors"
	"strings"
)

// ArtifactSlot одна из трех ячеек изображения, принадлежащих тесту (Value Object)
type ArtifactSlot string

const (
	SlotBaseline ArtifactSlot = "baseline"
	SlotLatest   ArtifactSlot = "latest"
	SlotDiff     ArtifactSlot = "diff"
)

// Validate проверяет валидность слота
func (s ArtifactSlot) Validate() error {
	switch s {
	case SlotBaseline, SlotLatest, SlotDiff:
		return nil
	default:
		return errors.New("invalid artifact slot")
	}
}

// String возвращает строковое представление слота
func (s ArtifactSlot) String() string {
	return string(s)
}

// ParseArtifactSlot разбирает слот из пути запроса.
func ParseArtifactSlot(raw string) (ArtifactSlot, error) {
	slot := ArtifactSlot(strings.ToLower(strings.TrimSpace(raw)))
	if err := slot.Validate(); err != nil {
		return "", err
	}
	return slot, nil
}

// AllArtifactSlots возвращает все слоты теста
func AllArtifactSlots() []ArtifactSlot {
	return []ArtifactSlot{SlotBaseline, SlotLatest, SlotDiff}
}
