package handler

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

const (
	defaultTokenTTL = time.Hour
	maxTokenTTL     = 30 * 24 * time.Hour
)

// AuthAPIHandler показывает identity вызывающего и выпускает JWT
// для CI с областью проектов не шире собственной
type AuthAPIHandler struct {
	authConfig middleware.AuthConfig
	logger     *logger.Logger
}

type issueTokenRequest struct {
	Subject    string   `json:"subject"`
	Projects   []string `json:"projects"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Projects  []string  `json:"projects"`
	ExpiresAt time.Time `json:"expires_at"`
}

type authStatusResponse struct {
	AuthEnabled bool     `json:"auth_enabled"`
	Subject     string   `json:"subject"`
	Projects    []string `json:"projects"`
	CanIssue    bool     `json:"can_issue_tokens"`
}

func NewAuthAPIHandler(authConfig middleware.AuthConfig, log *logger.Logger) *AuthAPIHandler {
	return &AuthAPIHandler{
		authConfig: authConfig,
		logger:     log,
	}
}

// Status GET /api/v1/auth/status
func (h *AuthAPIHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	projects := identity.Projects
	if projects == nil {
		projects = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, authStatusResponse{
		AuthEnabled: h.authConfig.Enabled,
		Subject:     identity.Subject,
		Projects:    projects,
		CanIssue:    h.authConfig.Enabled && h.authConfig.JWTSecret != "",
	})
}

// IssueToken POST /api/v1/auth/token
func (h *AuthAPIHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.authConfig.Enabled || h.authConfig.JWTSecret == "" {
		writeErrorMessage(w, http.StatusServiceUnavailable, "token issuing is not configured")
		return
	}

	var req issueTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		writeErrorMessage(w, http.StatusBadRequest, "subject is required")
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds < 0 {
		writeErrorMessage(w, http.StatusBadRequest, "ttl_seconds must not be negative")
		return
	}
	if req.TTLSeconds > 0 {
		ttl = min(time.Duration(req.TTLSeconds)*time.Second, maxTokenTTL)
	}

	caller := middleware.IdentityFromContext(r.Context())
	projects, ok := narrowProjects(caller.Projects, req.Projects)
	if !ok {
		h.logger.Warn("Token scope escalation rejected",
			"caller", caller.Subject,
			"requested", strings.Join(req.Projects, ","),
		)
		writeErrorMessage(w, http.StatusForbidden, "requested projects exceed caller scope")
		return
	}

	expiresAt := time.Now().Add(ttl)
	token, err := middleware.IssueToken([]byte(h.authConfig.JWTSecret), h.authConfig.JWTIssuer, subject, projects, ttl)
	if err != nil {
		h.logger.Error("Failed to issue token", err, "subject", subject)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("Token issued", "caller", caller.Subject, "subject", subject, "projects", strings.Join(projects, ","))
	if projects == nil {
		projects = []string{}
	}
	middleware.WriteJSON(w, http.StatusCreated, issueTokenResponse{
		Token:     token,
		Subject:   subject,
		Projects:  projects,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
	})
}

// narrowProjects область нового токена: пустой запрос наследует область вызывающего,
// ограниченный вызывающий не может выдать проекты вне своей области
func narrowProjects(caller, requested []string) ([]string, bool) {
	cleaned := make([]string, 0, len(requested))
	for _, p := range requested {
		if p = strings.TrimSpace(p); p != "" && !slices.Contains(cleaned, p) {
			cleaned = append(cleaned, p)
		}
	}

	if len(cleaned) == 0 {
		if len(caller) == 0 {
			return nil, true
		}
		return slices.Clone(caller), true
	}
	if len(caller) == 0 {
		return cleaned, true
	}
	for _, p := range cleaned {
		if !slices.Contains(caller, p) {
			return nil, false
		}
	}
	return cleaned, true
}
