// Package httpapi exposes the sync and approval control surface over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/approval"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/metrics"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/syncer"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Syncer is the part of the sync coordinator the API calls.
type Syncer interface {
	TriggerSync(ctx context.Context, accountID string) (syncer.TriggerResult, error)
	GetSyncStatus(ctx context.Context, accountID string) (api.MailAccount, error)
	ListAccounts(ctx context.Context, owner string) ([]api.MailAccount, error)
	CleanupStuckSyncs(ctx context.Context) (int, error)
}

// Approvals is the part of the approval ledger the API calls.
type Approvals interface {
	Get(ctx context.Context, id string) (api.Approval, error)
	List(ctx context.Context, opts approval.ListOptions) ([]api.Approval, error)
	Approve(ctx context.Context, id string, ov *approval.Override) (api.Approval, error)
	Reject(ctx context.Context, id string) (api.Approval, error)
}

// Accounts registers new mail accounts.
type Accounts interface {
	CreateAccount(ctx context.Context, acct api.MailAccount) (api.MailAccount, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the router.
type Deps struct {
	Syncer    Syncer
	Approvals Approvals
	Accounts  Accounts
	Health    Pinger
	JWTSecret string
	// Providers lists the mailbox providers accounts may use.
	Providers []string
	Logger    *slog.Logger
}

type handler struct {
	Deps
	logger *slog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handler{Deps: d, logger: d.Logger.With("component", "httpapi")}

	r := gin.New()
	r.Use(gin.Recovery(), h.observe)

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/")
	auth.Use(AuthMiddleware(d.JWTSecret))
	{
		auth.GET("/accounts", h.listAccounts)
		auth.POST("/accounts", h.createAccount)
		auth.POST("/accounts/:id/sync", h.triggerSync)
		auth.GET("/accounts/:id/sync", h.syncStatus)

		auth.GET("/approvals", h.listApprovals)
		auth.GET("/approvals/:id", h.getApproval)
		auth.POST("/approvals/:id/approve", h.approve)
		auth.POST("/approvals/:id/reject", h.reject)
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(d.JWTSecret), RequireRole(RoleAdmin))
	{
		admin.POST("/cleanup-stuck-syncs", h.cleanup)
	}

	return r
}

// observe logs and times every request.
func (h *handler) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	status := c.Writer.Status()
	elapsed := time.Since(start)
	metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(status), elapsed)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(c.Request.Context(), level, "request",
		"method", c.Request.Method,
		"path", path,
		"status", status,
		"duration", elapsed,
	)
}

func (h *handler) health(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
