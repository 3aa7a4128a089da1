package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 минимальный path-style S3 для PUT/GET/HEAD/DELETE объектов
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			if strings.Count(key, "/") == 0 && r.Method == http.MethodHead {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", contentTypePNG)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T) (*ArtifactStorage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	storage, err := NewArtifactStorage(context.Background(), Config{
		Bucket:          "artifacts",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
		KeyPrefix:       "visual-tests",
	})
	require.NoError(t, err)
	return storage, fake
}

func TestArtifactStorage_RoundTrip(t *testing.T) {
	storage, fake := newTestStorage(t)
	ctx := context.Background()
	payload := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	require.NoError(t, storage.Put(ctx, "t1", valueobject.SlotLatest, payload))
	assert.Contains(t, fake.objects, "artifacts/visual-tests/t1/latest.png")

	got, err := storage.Get(ctx, "t1", valueobject.SlotLatest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	ok, err := storage.Exists(ctx, "t1", valueobject.SlotLatest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArtifactStorage_MissingSlot(t *testing.T) {
	storage, _ := newTestStorage(t)
	ctx := context.Background()

	_, err := storage.Get(ctx, "t1", valueobject.SlotBaseline)
	assert.ErrorIs(t, err, port.ErrArtifactNotFound)

	ok, err := storage.Exists(ctx, "t1", valueobject.SlotBaseline)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, storage.Delete(ctx, "t1", valueobject.SlotBaseline))
}

func TestArtifactStorage_Delete(t *testing.T) {
	storage, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.Put(ctx, "t1", valueobject.SlotDiff, []byte("x")))
	require.NoError(t, storage.Delete(ctx, "t1", valueobject.SlotDiff))

	_, err := storage.Get(ctx, "t1", valueobject.SlotDiff)
	assert.ErrorIs(t, err, port.ErrArtifactNotFound)
}

func TestNewArtifactStorage_Validation(t *testing.T) {
	_, err := NewArtifactStorage(context.Background(), Config{AccessKeyID: "a", SecretAccessKey: "b"})
	assert.Error(t, err)
	_, err = NewArtifactStorage(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)
}
