// Package control implements the Control Plane admin API (C7): package
// listing and detail, local-archive and git deploys via the Safe-Deploy
// Orchestrator, deletion, manual reload, log tailing, and platform status.
// cmd/funcdock mounts every route here behind internal/auth's bearer-token
// middleware when JWT_SECRET is set (and without authentication when it is
// not); function invocation traffic never touches this router.
package control

import (
	"context"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reaatech/funcdock/internal/apperrors"
	"github.com/reaatech/funcdock/internal/cache"
	"github.com/reaatech/funcdock/internal/deploy"
	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/funclog"
	"github.com/reaatech/funcdock/internal/gitclone"
	"github.com/reaatech/funcdock/internal/logger"
	"github.com/reaatech/funcdock/internal/registry"
	"github.com/reaatech/funcdock/internal/wsfanout"
)

const listCacheTTL = 5 * time.Second

// Server wires the registry, orchestrator, logs, and fan-out hub into the
// admin HTTP surface.
type Server struct {
	reg     *registry.Registry
	orch    *deploy.Orchestrator
	logs    *funclog.Manager
	hub     *wsfanout.Hub
	gitCli  *gitclone.Client
	cache   *cache.Cache
	startAt time.Time
}

// New creates a Server. hub may be nil, in which case the real-time
// WebSocket endpoint responds 404 (deployments the fan-out channel is
// disabled for need nothing else to degrade gracefully). c may be a disabled
// *cache.Cache (REDIS_URL unset); listFunctions and status fall back to the
// registry directly whenever the cache misses or is disabled. If bus is
// non-nil, the Server invalidates its cached list/status on every function
// lifecycle event.
func New(reg *registry.Registry, orch *deploy.Orchestrator, logs *funclog.Manager, hub *wsfanout.Hub, gitCli *gitclone.Client, c *cache.Cache, bus *events.Bus) *Server {
	s := &Server{reg: reg, orch: orch, logs: logs, hub: hub, gitCli: gitCli, cache: c, startAt: time.Now().UTC()}
	if bus != nil && c != nil && c.Enabled() {
		invalidate := func(string, interface{}) {
			ctx := context.Background()
			c.Invalidate(ctx, cache.FunctionsListKey)
			c.Invalidate(ctx, cache.StatusKey)
		}
		for _, topic := range []string{
			events.TopicFunctionLoaded,
			events.TopicFunctionUnloaded,
			events.TopicFunctionUpdated,
			events.TopicFunctionDeployed,
			events.TopicFunctionDeleted,
		} {
			bus.Subscribe(topic, invalidate)
		}
	}
	return s
}

// Register mounts every admin route onto router (typically a gin.RouterGroup
// already behind auth.RequireBearer and a rate limiter).
func (s *Server) Register(router gin.IRoutes) {
	router.GET("/functions", s.listFunctions)
	router.GET("/functions/:name", s.getFunction)
	router.POST("/functions/deploy/local", s.deployLocal)
	router.POST("/functions/deploy/git", s.deployGit)
	router.DELETE("/functions/:name", s.deleteFunction)
	router.POST("/reload", s.reload)
	router.GET("/functions/:name/logs", s.tailLogs)
	router.GET("/status", s.status)
	router.GET("/ws", s.serveWS)
}

func (s *Server) listFunctions(c *gin.Context) {
	var cached []registry.PackageSummary
	if hit, err := s.cache.Get(c.Request.Context(), cache.FunctionsListKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, gin.H{"ok": true, "functions": cached})
		return
	}

	functions := s.reg.List()
	if err := s.cache.Set(c.Request.Context(), cache.FunctionsListKey, functions, listCacheTTL); err != nil {
		logger.HTTP().Warn().Err(err).Msg("failed to populate function list cache")
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "functions": functions})
}

func (s *Server) getFunction(c *gin.Context) {
	name := c.Param("name")
	for _, p := range s.reg.List() {
		if p.Name == name {
			c.JSON(http.StatusOK, gin.H{"ok": true, "function": p})
			return
		}
	}
	writeAppError(c, apperrors.NotFound("function"))
}

type gitDeployRequest struct {
	Name     string `json:"name" binding:"required"`
	Repo     string `json:"repo" binding:"required"`
	Branch   string `json:"branch"`
	AuthType string `json:"authType"`
	Secret   string `json:"secret"`
}

func (s *Server) deployLocal(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		writeAppError(c, apperrors.New(apperrors.CodeBadRequest, "form field \"name\" is required"))
		return
	}

	fh, err := c.FormFile("archive")
	if err != nil {
		writeAppError(c, apperrors.New(apperrors.CodeBadRequest, "form file \"archive\" is required"))
		return
	}

	archivePath, cleanup, err := stageUpload(fh)
	if err != nil {
		writeAppError(c, apperrors.DeployFailed("staging uploaded archive: "+err.Error()))
		return
	}
	defer cleanup()

	meta := registry.DeploymentMetadata{Source: registry.SourceLocal, DeployedAt: time.Now().UTC()}
	if err := s.orch.Deploy(c.Request.Context(), name, meta, deploy.LocalArchiveMutation(archivePath)); err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "function": name})
}

func stageUpload(fh *multipart.FileHeader) (string, func(), error) {
	tmp, err := os.CreateTemp("", "funcdock-upload-*.zip")
	if err != nil {
		return "", func() {}, err
	}
	defer tmp.Close()

	src, err := fh.Open()
	if err != nil {
		os.Remove(tmp.Name())
		return "", func() {}, err
	}
	defer src.Close()

	if _, err := tmp.ReadFrom(src); err != nil {
		os.Remove(tmp.Name())
		return "", func() {}, err
	}

	path := tmp.Name()
	return path, func() { os.Remove(path) }, nil
}

func (s *Server) deployGit(c *gin.Context) {
	var req gitDeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperrors.New(apperrors.CodeBadRequest, err.Error()))
		return
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	var auth *gitclone.Auth
	if req.AuthType != "" {
		auth = &gitclone.Auth{Type: gitclone.AuthType(req.AuthType), Secret: req.Secret}
	}

	meta := registry.DeploymentMetadata{Source: registry.SourceGit, OriginURL: req.Repo, Branch: branch, DeployedAt: time.Now().UTC()}
	mutation := deploy.GitMutation(s.gitCli, req.Repo, branch, auth)
	if err := s.orch.Deploy(c.Request.Context(), req.Name, meta, mutation); err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "function": req.Name})
}

func (s *Server) deleteFunction(c *gin.Context) {
	name := c.Param("name")
	if err := s.orch.Delete(name); err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type reloadRequest struct {
	FunctionName string `json:"functionName"`
}

func (s *Server) reload(c *gin.Context) {
	var req reloadRequest
	_ = c.ShouldBindJSON(&req)

	if req.FunctionName != "" {
		if _, err := s.reg.Load(req.FunctionName); err != nil {
			writeAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "reloaded": []string{req.FunctionName}})
		return
	}

	var reloaded []string
	for _, p := range s.reg.List() {
		if _, err := s.reg.Load(p.Name); err != nil {
			logger.HTTP().Warn().Err(err).Str("package", p.Name).Msg("reload failed")
			continue
		}
		reloaded = append(reloaded, p.Name)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "reloaded": reloaded})
}

func (s *Server) tailLogs(c *gin.Context) {
	name := c.Param("name")
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	stream, err := s.logs.For(name)
	if err != nil {
		writeAppError(c, apperrors.Wrap(apperrors.CodeInvalidPath, "invalid function name", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": stream.Tail(limit)})
}

type statusBody struct {
	PackageCount int                       `json:"packageCount"`
	Functions    []registry.PackageSummary `json:"functions"`
	Failures     map[string]string         `json:"failures"`
}

func (s *Server) status(c *gin.Context) {
	var cached statusBody
	if hit, err := s.cache.Get(c.Request.Context(), cache.StatusKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, gin.H{
			"ok":            true,
			"uptimeSeconds": int(time.Since(s.startAt).Seconds()),
			"packageCount":  cached.PackageCount,
			"functions":     cached.Functions,
			"failures":      cached.Failures,
		})
		return
	}

	packages := s.reg.List()
	body := statusBody{PackageCount: len(packages), Functions: packages, Failures: s.reg.Failures()}
	if err := s.cache.Set(c.Request.Context(), cache.StatusKey, body, listCacheTTL); err != nil {
		logger.HTTP().Warn().Err(err).Msg("failed to populate status cache")
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"uptimeSeconds": int(time.Since(s.startAt).Seconds()),
		"packageCount":  body.PackageCount,
		"functions":     body.Functions,
		"failures":      body.Failures,
	})
}

func (s *Server) serveWS(c *gin.Context) {
	if s.hub == nil {
		writeAppError(c, apperrors.NotFound("real-time channel"))
		return
	}
	if err := s.hub.ServeHTTP(c.Writer, c.Request); err != nil {
		logger.HTTP().Warn().Err(err).Msg("websocket upgrade failed")
	}
}

func writeAppError(c *gin.Context, err error) {
	if ae, ok := err.(*apperrors.AppError); ok {
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.Wrap(apperrors.CodeInternal, "internal error", err).ToResponse())
}
