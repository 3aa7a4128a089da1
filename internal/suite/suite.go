// Package suite описывает YAML-набор визуальных тестов и прогоняет его.
package suite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultParallel = 4
	MaxParallel     = 64
)

// Suite набор тестов из YAML файла
//
//	project: web
//	parallel: 4
//	timeout: 45s
//	tests:
//	  - name: landing
//	    target: https://example.com
//	  - name: logo
//	    image: fixtures/logo.png
type Suite struct {
	Project  string        `yaml:"project"`
	Parallel int           `yaml:"parallel"`
	Timeout  time.Duration `yaml:"timeout"`
	Tests    []Test        `yaml:"tests"`
}

// Test один элемент набора. Target снимается браузером,
// Image загружается как готовый снимок.
type Test struct {
	Name    string `yaml:"name"`
	Target  string `yaml:"target"`
	Project string `yaml:"project"`
	Image   string `yaml:"image"`
}

// Load читает файл набора; относительные пути image разрешаются от каталога файла
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}

	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range s.Tests {
		if img := s.Tests[i].Image; img != "" && !filepath.IsAbs(img) {
			s.Tests[i].Image = filepath.Join(dir, img)
		}
	}
	return s, nil
}

// Parse декодирует набор, неизвестные поля считаются ошибкой
func Parse(r io.Reader) (*Suite, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Suite
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("suite is empty")
		}
		return nil, fmt.Errorf("decode suite: %w", err)
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Suite) normalize() {
	s.Project = strings.TrimSpace(s.Project)
	if s.Parallel <= 0 {
		s.Parallel = DefaultParallel
	}
	if s.Parallel > MaxParallel {
		s.Parallel = MaxParallel
	}
	for i := range s.Tests {
		t := &s.Tests[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Target = strings.TrimSpace(t.Target)
		t.Image = strings.TrimSpace(t.Image)
		t.Project = strings.TrimSpace(t.Project)
		if t.Project == "" {
			t.Project = s.Project
		}
	}
}

// Validate проверяет имена, источники снимков и уникальность (project, name)
func (s *Suite) Validate() error {
	if len(s.Tests) == 0 {
		return fmt.Errorf("suite has no tests")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	var errs []error
	seen := make(map[string]int, len(s.Tests))
	for i, t := range s.Tests {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tests[%d]: name is required", i))
			continue
		}
		if (t.Target == "") == (t.Image == "") {
			errs = append(errs, fmt.Errorf("tests[%d] %q: exactly one of target or image is required", i, t.Name))
		}
		key := t.Project + "\x00" + t.Name
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("tests[%d] %q: duplicates tests[%d]", i, t.Name, prev))
			continue
		}
		seen[key] = i
	}
	return errors.Join(errs...)
}
