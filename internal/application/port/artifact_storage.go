package port

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

// ErrArtifactNotFound слот артефакта пуст
var ErrArtifactNotFound = errors.New("artifact not found")

const DefaultArtifactPrefix = "visual-tests"

// ArtifactStorage хранит три слота изображений на тест (baseline, latest, diff).
// Put атомарен: конкурентный Get видит либо старые, либо новые байты целиком.
type ArtifactStorage interface {
	Put(ctx context.Context, testID string, slot valueobject.ArtifactSlot, data []byte) error

	// Get возвращает ErrArtifactNotFound, если слот пуст
	Get(ctx context.Context, testID string, slot valueobject.ArtifactSlot) ([]byte, error)

	Exists(ctx context.Context, testID string, slot valueobject.ArtifactSlot) (bool, error)

	// Delete идемпотентен
	Delete(ctx context.Context, testID string, slot valueobject.ArtifactSlot) error
}

// ArtifactKey строит ключ артефакта, зависит только от (testID, slot).
func ArtifactKey(prefix, testID string, slot valueobject.ArtifactSlot) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultArtifactPrefix
	}
	return fmt.Sprintf("%s/%s/%s.png", prefix, testID, slot)
}
