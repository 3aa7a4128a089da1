package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/application/usecase"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/service"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

const (
	defaultMaxImageBytes = 20 * 1024 * 1024
	maxJSONBodyBytes     = 64 * 1024
)

// Use case'ы, которые обслуживает VisualTestHandler
type (
	VisualTestCreator interface {
		Execute(ctx context.Context, cmd usecase.CreateVisualTestCommand) (*dto.VisualTestDTO, error)
	}
	VisualTestLister interface {
		Execute(ctx context.Context, query usecase.ListVisualTestsQuery) ([]*dto.VisualTestDTO, error)
	}
	VisualTestGetter interface {
		Execute(ctx context.Context, query usecase.GetVisualTestQuery) (*dto.VisualTestDTO, error)
	}
	VisualTestUpdater interface {
		Execute(ctx context.Context, cmd usecase.UpdateVisualTestCommand) (*dto.VisualTestDTO, error)
	}
	VisualTestDeleter interface {
		Execute(ctx context.Context, cmd usecase.DeleteVisualTestCommand) error
	}
	ArtifactGetter interface {
		Execute(ctx context.Context, query usecase.GetArtifactQuery) (*usecase.ArtifactResult, error)
	}
	SnapshotLister interface {
		Execute(ctx context.Context, query usecase.ListSnapshotsQuery) (*dto.SnapshotPageDTO, error)
	}
	Lifecycle interface {
		Compare(ctx context.Context, cmd usecase.CompareCommand) (*dto.ComparisonDTO, error)
		Run(ctx context.Context, cmd usecase.RunCommand) (*dto.ComparisonDTO, error)
		Promote(ctx context.Context, cmd usecase.PromoteCommand) (*dto.VisualTestDTO, error)
	}
)

// VisualTestUseCases зависимости handler'а
type VisualTestUseCases struct {
	Create    VisualTestCreator
	List      VisualTestLister
	Get       VisualTestGetter
	Update    VisualTestUpdater
	Delete    VisualTestDeleter
	Artifact  ArtifactGetter
	Snapshots SnapshotLister
	Lifecycle Lifecycle
}

// VisualTestHandler REST API /api/v1/visual-tests
type VisualTestHandler struct {
	uc            VisualTestUseCases
	maxImageBytes int64
	logger        *logger.Logger
}

type createVisualTestRequest struct {
	Name            string `json:"name"`
	TargetReference string `json:"target_reference"`
	ProjectID       string `json:"project_id"`
}

type updateVisualTestRequest struct {
	Name            *string `json:"name"`
	TargetReference *string `json:"target_reference"`
}

type runRequest struct {
	TimeoutMS int64 `json:"timeout_ms"`
}

type compareJSONRequest struct {
	DataBase64 string `json:"data_base64"`
}

type listResponse struct {
	Items []*dto.VisualTestDTO `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewVisualTestHandler(uc VisualTestUseCases, maxImageBytes int64, log *logger.Logger) *VisualTestHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	return &VisualTestHandler{
		uc:            uc,
		maxImageBytes: maxImageBytes,
		logger:        log,
	}
}

func scopeOf(r *http.Request) usecase.AccessScope {
	return usecase.AccessScope{ProjectIDs: middleware.IdentityFromContext(r.Context()).Projects}
}

// List GET /api/v1/visual-tests?project_id=&name=
func (h *VisualTestHandler) List(w http.ResponseWriter, r *http.Request) {
	tests, err := h.uc.List.Execute(r.Context(), usecase.ListVisualTestsQuery{
		ProjectID: r.URL.Query().Get("project_id"),
		Name:      r.URL.Query().Get("name"),
		Scope:     scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse{Items: tests})
}

// Create POST /api/v1/visual-tests
func (h *VisualTestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createVisualTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	test, err := h.uc.Create.Execute(r.Context(), usecase.CreateVisualTestCommand{
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		TargetReference: req.TargetReference,
		Scope:           scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/visual-tests/"+test.ID)
	middleware.WriteJSON(w, http.StatusCreated, test)
}

// Get GET /api/v1/visual-tests/{id}
func (h *VisualTestHandler) Get(w http.ResponseWriter, r *http.Request) {
	test, err := h.uc.Get.Execute(r.Context(), usecase.GetVisualTestQuery{
		TestID: r.PathValue("id"),
		Scope:  scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, test)
}

// Update PATCH /api/v1/visual-tests/{id}
func (h *VisualTestHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateVisualTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil && req.TargetReference == nil {
		writeErrorMessage(w, http.StatusBadRequest, "nothing to update")
		return
	}

	test, err := h.uc.Update.Execute(r.Context(), usecase.UpdateVisualTestCommand{
		TestID:          r.PathValue("id"),
		Name:            req.Name,
		TargetReference: req.TargetReference,
		Scope:           scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, test)
}

// Delete DELETE /api/v1/visual-tests/{id}, повторное удаление тоже 204
func (h *VisualTestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.uc.Delete.Execute(r.Context(), usecase.DeleteVisualTestCommand{
		TestID: r.PathValue("id"),
		Scope:  scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run POST /api/v1/visual-tests/{id}/run
func (h *VisualTestHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.TimeoutMS < 0 {
		writeErrorMessage(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	result, err := h.uc.Lifecycle.Run(r.Context(), usecase.RunCommand{
		TestID:  r.PathValue("id"),
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
		Scope:   scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// Compare POST /api/v1/visual-tests/{id}/compare
// Тело: image/png (или application/octet-stream) либо JSON {"data_base64": "..."}.
func (h *VisualTestHandler) Compare(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes)
	defer r.Body.Close()

	image, status, err := h.readImage(r)
	if err != nil {
		writeErrorMessage(w, status, err.Error())
		return
	}

	result, err := h.uc.Lifecycle.Compare(r.Context(), usecase.CompareCommand{
		TestID: r.PathValue("id"),
		Image:  image,
		Scope:  scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// Promote POST /api/v1/visual-tests/{id}/promote (и /approve)
func (h *VisualTestHandler) Promote(w http.ResponseWriter, r *http.Request) {
	test, err := h.uc.Lifecycle.Promote(r.Context(), usecase.PromoteCommand{
		TestID: r.PathValue("id"),
		Scope:  scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, test)
}

// Artifact GET /api/v1/visual-tests/{id}/artifacts/{slot}
func (h *VisualTestHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.uc.Artifact.Execute(r.Context(), usecase.GetArtifactQuery{
		TestID: r.PathValue("id"),
		Slot:   r.PathValue("slot"),
		Scope:  scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		h.logger.Warn("Failed to write artifact", "test_id", artifact.TestID, "slot", artifact.Slot, "error", err.Error())
	}
}

// Snapshots GET /api/v1/visual-tests/{id}/snapshots?limit=&cursor=
func (h *VisualTestHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.uc.Snapshots.Execute(r.Context(), usecase.ListSnapshotsQuery{
		TestID: r.PathValue("id"),
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
		Scope:  scopeOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
			return false
		}
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *VisualTestHandler) readImage(r *http.Request) ([]byte, int, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, http.StatusUnsupportedMediaType, errors.New("content type is required")
	}

	var tooLarge *http.MaxBytesError
	switch mediaType {
	case "image/png", "application/octet-stream":
		data, err := io.ReadAll(r.Body)
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("payload too large")
		}
		if err != nil {
			return nil, http.StatusBadRequest, errors.New("failed to read body")
		}
		if len(data) == 0 {
			return nil, http.StatusBadRequest, errors.New("empty image")
		}
		return data, 0, nil
	case "application/json":
		var req compareJSONRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if errors.As(err, &tooLarge) {
				return nil, http.StatusRequestEntityTooLarge, errors.New("payload too large")
			}
			return nil, http.StatusBadRequest, errors.New("invalid request body")
		}
		data, err := decodeBase64Image(req.DataBase64)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		return data, 0, nil
	default:
		return nil, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func decodeBase64Image(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("empty data_base64")
	}

	value = strings.TrimPrefix(value, "data:image/png;base64,")

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid base64")
	}

	if !service.IsPNG(decoded) {
		return nil, fmt.Errorf("invalid png signature")
	}

	return decoded, nil
}

// StatusFor отображает ошибку use case'а в HTTP статус
func StatusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrVisualTestNotFound), errors.Is(err, port.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrNoLatestCapture):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidImageData),
		errors.Is(err, service.ErrEmptyImage),
		errors.Is(err, usecase.ErrInvalidInput),
		errors.Is(err, repository.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrCaptureFailed):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, usecase.ErrCaptureNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *VisualTestHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		h.logger.Error("Visual test request failed", err,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", middleware.RequestIDFromContext(r.Context()),
		)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	writeErrorMessage(w, status, message)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	middleware.WriteJSON(w, status, errorResponse{Error: message})
}
