package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/service"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

type memoryTestRepository struct {
	mu        sync.Mutex
	tests     map[string]*entity.VisualTest
	order     []string
	updateErr error
}

func newMemoryTestRepository() *memoryTestRepository {
	return &memoryTestRepository{tests: make(map[string]*entity.VisualTest)}
}

func (r *memoryTestRepository) Create(_ context.Context, test *entity.VisualTest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests[test.ID()] = test.Clone()
	r.order = append(r.order, test.ID())
	return nil
}

func (r *memoryTestRepository) FindByID(_ context.Context, id string) (*entity.VisualTest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	test, ok := r.tests[id]
	if !ok {
		return nil, repository.ErrVisualTestNotFound
	}
	return test.Clone(), nil
}

func (r *memoryTestRepository) List(_ context.Context, filter repository.VisualTestFilter) ([]*entity.VisualTest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.VisualTest, 0)
	for _, id := range r.order {
		test, ok := r.tests[id]
		if !ok {
			continue
		}
		if filter.ProjectID != "" && test.ProjectID() != filter.ProjectID {
			continue
		}
		if len(filter.ProjectIDs) > 0 && !(AccessScope{ProjectIDs: filter.ProjectIDs}).Allows(test.ProjectID()) {
			continue
		}
		if filter.Name != "" && test.Name() != filter.Name {
			continue
		}
		out = append(out, test.Clone())
	}
	return out, nil
}

func (r *memoryTestRepository) Update(_ context.Context, test *entity.VisualTest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.tests[test.ID()]; !ok {
		return repository.ErrVisualTestNotFound
	}
	r.tests[test.ID()] = test.Clone()
	return nil
}

func (r *memoryTestRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tests, id)
	return nil
}

type memorySnapshotRepository struct {
	mu        sync.Mutex
	records   []entity.SnapshotRecord
	appendErr error
}

func (r *memorySnapshotRepository) Append(_ context.Context, record entity.SnapshotRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.records = append(r.records, record)
	return nil
}

func (r *memorySnapshotRepository) List(_ context.Context, query repository.SnapshotQuery) (repository.SnapshotPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]entity.SnapshotRecord, 0)
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].TestID == query.TestID {
			items = append(items, r.records[i])
		}
	}
	offset := 0
	if query.Cursor != "" {
		offset, _ = strconv.Atoi(query.Cursor)
	}
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	limit := query.NormalizeLimit()
	page := repository.SnapshotPage{}
	if len(items) > limit {
		page.NextCursor = strconv.Itoa(offset + limit)
		items = items[:limit]
	}
	page.Items = items
	return page, nil
}

func (r *memorySnapshotRepository) DeleteByTest(_ context.Context, testID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.TestID != testID {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

func (r *memorySnapshotRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return removed, nil
}

func (r *memorySnapshotRepository) forTest(testID string) []entity.SnapshotRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.SnapshotRecord, 0)
	for _, rec := range r.records {
		if rec.TestID == testID {
			out = append(out, rec)
		}
	}
	return out
}

type memoryArtifactStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    map[valueobject.ArtifactSlot]error
	deleteErr error
}

func newMemoryArtifactStorage() *memoryArtifactStorage {
	return &memoryArtifactStorage{
		objects: make(map[string][]byte),
		putErr:  make(map[valueobject.ArtifactSlot]error),
	}
}

func (s *memoryArtifactStorage) Put(_ context.Context, testID string, slot valueobject.ArtifactSlot, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putErr[slot]; err != nil {
		return err
	}
	s.objects[port.ArtifactKey("", testID, slot)] = append([]byte(nil), data...)
	return nil
}

func (s *memoryArtifactStorage) Get(_ context.Context, testID string, slot valueobject.ArtifactSlot) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[port.ArtifactKey("", testID, slot)]
	if !ok {
		return nil, port.ErrArtifactNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memoryArtifactStorage) Exists(_ context.Context, testID string, slot valueobject.ArtifactSlot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[port.ArtifactKey("", testID, slot)]
	return ok, nil
}

func (s *memoryArtifactStorage) Delete(_ context.Context, testID string, slot valueobject.ArtifactSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, port.ArtifactKey("", testID, slot))
	return nil
}

func (s *memoryArtifactStorage) slot(testID string, slot valueobject.ArtifactSlot) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[port.ArtifactKey("", testID, slot)]
	return data, ok
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*dto.VisualTestEvent
	err    error
}

func (e *recordingEvents) Publish(_ context.Context, event *dto.VisualTestEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEvents) Close() error { return nil }

func (e *recordingEvents) types() []dto.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]dto.EventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type memoryCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	deletes []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.values[key]
	if !ok {
		return port.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
		c.deletes = append(c.deletes, k)
	}
	return nil
}

func (c *memoryCache) Ping(context.Context) error { return nil }
func (c *memoryCache) Close() error               { return nil }

type fakeCapture struct {
	data  []byte
	err   error
	delay time.Duration
	calls int
	mu    sync.Mutex
}

func (f *fakeCapture) Capture(ctx context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	metrics []port.ComparisonMetric
}

func (m *recordingMetrics) PublishComparison(_ context.Context, metric port.ComparisonMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}

func (m *recordingMetrics) Flush(context.Context) error { return nil }

var errBoom = errors.New("boom")

func encodeSolid(t *testing.T, w, h int, c color.NRGBA, overrides map[image.Point]color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	for p, oc := range overrides {
		img.SetNRGBA(p.X, p.Y, oc)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

var (
	redPixel  = color.NRGBA{R: 255, A: 255}
	bluePixel = color.NRGBA{B: 255, A: 255}
)

func imgRed4x4(t *testing.T) []byte {
	return encodeSolid(t, 4, 4, redPixel, nil)
}

func imgRed4x4WithBlue(t *testing.T) []byte {
	return encodeSolid(t, 4, 4, redPixel, map[image.Point]color.NRGBA{{X: 1, Y: 2}: bluePixel})
}

type lifecycleFixture struct {
	tests     *memoryTestRepository
	snapshots *memorySnapshotRepository
	storage   *memoryArtifactStorage
	locks     *lock.KeyedLock
	events    *recordingEvents
	cache     *memoryCache
	metrics   *recordingMetrics
	lifecycle *VisualTestLifecycleUseCase
	log       *logger.Logger
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	engine, err := service.NewDiffEngine(service.DefaultThreshold)
	if err != nil {
		t.Fatalf("NewDiffEngine() error = %v", err)
	}

	f := &lifecycleFixture{
		tests:     newMemoryTestRepository(),
		snapshots: &memorySnapshotRepository{},
		storage:   newMemoryArtifactStorage(),
		locks:     lock.NewKeyedLock(),
		events:    &recordingEvents{},
		cache:     newMemoryCache(),
		metrics:   &recordingMetrics{},
		log:       logger.New("error"),
	}
	f.lifecycle = NewVisualTestLifecycleUseCase(
		f.tests, f.snapshots, f.storage, engine, f.locks,
		LifecycleConfig{CaptureTimeout: time.Second}, f.log,
	).
		WithEventPublisher(f.events).
		WithStatusCache(f.cache).
		WithMetricsPublisher(f.metrics)
	return f
}

func (f *lifecycleFixture) createTest(t *testing.T, projectID, name, target string) string {
	t.Helper()
	test, err := entity.NewVisualTest(projectID, name, target)
	if err != nil {
		t.Fatalf("NewVisualTest() error = %v", err)
	}
	if err := f.tests.Create(context.Background(), test); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return test.ID()
}

func (f *lifecycleFixture) stored(t *testing.T, id string) *entity.VisualTest {
	t.Helper()
	test, err := f.tests.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	return test
}
