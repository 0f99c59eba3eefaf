package core

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

//go:embed templates/*.html
var templateFS embed.FS

// RouterDeps bundles the services the HTTP layer orchestrates.
type RouterDeps struct {
	Auth         *AuthService
	Audit        *AuditLogger
	Dashboard    *DashboardService
	SessionStore sessions.Store
	Metrics      *Metrics
	DB           Pinger              // optional; checked by /healthz
	SpillStatus  *SpillStatusService // optional; nil when REDIS_URL is unset
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) *gin.Engine {
	r := gin.Default()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Printf("invalid TRUSTED_PROXIES %v: %v", cfg.TrustedProxies, err)
	}
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templateFS, "templates/*.html")))

	// Global middleware: origin/CORS -> CSRF
	r.Use(OriginRefererMiddleware(cfg))
	if cfg.CSRFEnabled && deps.SessionStore != nil {
		r.Use(CSRFMiddleware(cfg, deps.SessionStore))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.Ping(ctx); err != nil {
				log.Printf("[http] healthz: database ping failed: %v", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled && deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	h := &handlers{cfg: cfg, deps: deps}

	pages := r.Group("/")
	pages.Use(SessionGate(deps.Auth))
	{
		pages.GET("/", h.landingPage)
		pages.GET("/login", h.loginPage)
		pages.GET("/dashboard", h.dashboardPage)
	}
	// Unknown /dashboard/* paths still pass the gate before the 404.
	r.NoRoute(SessionGate(deps.Auth), func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Not found")
	})

	r.POST("/login", h.login)
	r.POST("/logout", OptionalSession(deps.Auth), h.logout)

	api := r.Group("/")
	api.Use(RequireSession(deps.Auth))
	{
		api.GET("/users", h.listUsers)
		api.GET("/logs", h.listLogs)

		admin := api.Group("/")
		admin.Use(AdminOnly())
		admin.POST("/users", h.createUser)
		admin.DELETE("/users/:id", h.deleteUser)
		if deps.SpillStatus != nil {
			admin.GET("/spill-status", h.spillStatus)
		}
	}

	return r
}

type handlers struct {
	cfg  Config
	deps RouterDeps
}

func (h *handlers) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}

	res, err := h.deps.Auth.Login(c.Request.Context(), req.Username, req.Password, requestOrigin(c))
	switch {
	case errors.Is(err, ErrMissingCredentials):
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required")
		return
	case errors.Is(err, ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
		return
	case err != nil:
		respondInternal(c, "login", err)
		return
	}

	setSessionCookie(c, h.cfg, res.Token)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": res.User})
}

func (h *handlers) logout(c *gin.Context) {
	h.deps.Auth.Logout(c.Request.Context(), claimsFrom(c), requestOrigin(c))
	clearSessionCookie(c, h.cfg)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) listUsers(c *gin.Context) {
	users, err := h.deps.Auth.ListUsers(c.Request.Context())
	if err != nil {
		respondInternal(c, "list users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *handlers) listLogs(c *gin.Context) {
	limit, offset, err := parseLimitOffset(c.Query("limit"), c.Query("offset"), h.cfg.LogsDefaultLimit, h.cfg.LogsMaxLimit)
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	logs, err := h.deps.Audit.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondInternal(c, "list logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
}

func (h *handlers) createUser(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	in := CreateUserInput{Username: req.Username, Email: req.Email, Password: req.Password, Role: Role(strings.ToLower(req.Role))}
	u, err := h.deps.Auth.CreateUser(c.Request.Context(), claimsFrom(c), in, requestOrigin(c))
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		case errors.Is(err, ErrUserExists):
			respondError(c, http.StatusConflict, "CONFLICT", "username or email already exists")
		default:
			respondInternal(c, "create user", err)
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (h *handlers) deleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
		return
	}
	if err := h.deps.Auth.DeleteUser(c.Request.Context(), claimsFrom(c), id, requestOrigin(c)); err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		case errors.Is(err, ErrUserNotFound):
			respondError(c, http.StatusNotFound, "NOT_FOUND", "user not found")
		default:
			respondInternal(c, "delete user", err)
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) spillStatus(c *gin.Context) {
	backlog, err := h.deps.SpillStatus.Backlog(c.Request.Context())
	if err != nil {
		respondInternal(c, "spill backlog", err)
		return
	}
	workers, err := h.deps.SpillStatus.Workers(c.Request.Context())
	if err != nil {
		respondInternal(c, "replay workers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backlog": backlog, "workers": workers})
}

func (h *handlers) landingPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{})
}

func (h *handlers) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{"CSRFToken": c.GetString(csrfContextKey)})
}

func (h *handlers) dashboardPage(c *gin.Context) {
	snap, err := h.deps.Dashboard.Snapshot(c.Request.Context(), h.cfg.LogsDefaultLimit)
	if err != nil {
		log.Printf("[http] dashboard snapshot: %v", err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"Session":   claimsFrom(c),
		"Users":     snap.Users,
		"Logs":      snap.Logs,
		"CSRFToken": c.GetString(csrfContextKey),
	})
}
