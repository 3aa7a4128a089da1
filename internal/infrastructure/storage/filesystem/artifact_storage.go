package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

var testIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ArtifactStorage хранит слоты на локальном диске: <root>/<prefix>/<testID>/<slot>.png.
// Запись идет во временный файл того же каталога с последующим rename,
// поэтому читатель никогда не видит частично записанный файл.
type ArtifactStorage struct {
	root      string
	keyPrefix string
}

func NewArtifactStorage(root, keyPrefix string) (*ArtifactStorage, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifact root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}

	return &ArtifactStorage{root: abs, keyPrefix: keyPrefix}, nil
}

// Root каталог хранилища (для проверки свободного места)
func (s *ArtifactStorage) Root() string {
	return s.root
}

func (s *ArtifactStorage) Put(ctx context.Context, testID string, slot valueobject.ArtifactSlot, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(testID, slot)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+slot.String()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to publish artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) Get(ctx context.Context, testID string, slot valueobject.ArtifactSlot) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(testID, slot)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, port.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func (s *ArtifactStorage) Exists(ctx context.Context, testID string, slot valueobject.ArtifactSlot) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.path(testID, slot)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return true, nil
}

// Delete идемпотентен; пустой каталог теста удаляется вместе с последним слотом
func (s *ArtifactStorage) Delete(ctx context.Context, testID string, slot valueobject.ArtifactSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(testID, slot)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (s *ArtifactStorage) path(testID string, slot valueobject.ArtifactSlot) (string, error) {
	if !testIDPattern.MatchString(testID) {
		return "", fmt.Errorf("invalid test id %q", testID)
	}
	if err := slot.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(port.ArtifactKey(s.keyPrefix, testID, slot))), nil
}
