package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	wsInfra "github.com/dreschagin/visual-regression/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

// WebSocketHandler подписывает клиента на события visual tests.
// Аутентификацию выполняет Auth middleware (токен может прийти в ?token=).
type WebSocketHandler struct {
	hub      *wsInfra.Hub
	logger   *logger.Logger
	origins  originPolicy
	upgrader websocket.Upgrader
}

// originPolicy нормализованные scheme://host, "*" разрешает любой
type originPolicy map[string]struct{}

func newOriginPolicy(allowed []string) originPolicy {
	policy := make(originPolicy, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			policy[origin] = struct{}{}
		}
	}
	return policy
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		// CLI и CI клиенты без Origin
		return true
	}
	if _, ok := p["*"]; ok {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	_, ok := p[parsed.Scheme+"://"+parsed.Host]
	return ok
}

func NewWebSocketHandler(hub *wsInfra.Hub, allowedOrigins []string, log *logger.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:     hub,
		logger:  log,
		origins: newOriginPolicy(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return h.origins.allows(strings.TrimSpace(r.Header.Get("Origin")))
		},
	}
	return h
}

// HandleConnection GET /ws?project_id=a,b
// project_id сужает подписку внутри области вызывающего.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())

	projects, ok := narrowProjects(identity.Projects, splitProjects(r.URL.Query().Get("project_id")))
	if !ok {
		writeErrorMessage(w, http.StatusForbidden, "requested projects exceed caller scope")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err.Error())
		return
	}

	client := wsInfra.NewClient(h.hub, conn, projects, h.logger)
	h.hub.Register(client)
	h.logger.Debug("WebSocket subscriber connected",
		"subject", identity.Subject,
		"projects", strings.Join(projects, ","),
	)

	go client.WritePump()
	go client.ReadPump()
}

func splitProjects(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
