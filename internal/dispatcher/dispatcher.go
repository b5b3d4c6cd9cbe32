// Package dispatcher implements the Route Dispatcher (C3): a gin-gonic
// HTTP server that resolves every inbound request against a single
// dereferenced registry.Snapshot and invokes the matched function
// handler in-process.
package dispatcher

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/logger"
	"github.com/reaatech/funcdock/internal/registry"
)

// Dispatcher owns the gin.Engine that serves all function traffic. It
// never mutates the registry; it only reads whatever Snapshot is current
// at the moment each request arrives.
type Dispatcher struct {
	reg        *registry.Registry
	bus        *events.Bus
	engine     *gin.Engine
	loggerFor  func(packageName string) registry.FunctionLogger
}

// New builds a Dispatcher wired to reg for snapshot lookups. bus is stored
// on the Dispatcher but the dispatch path publishes no events on it.
// loggerFor builds the per-function logger handed to every invocation; pass
// nil to leave InvocationContext.Logger unset (tests only).
func New(reg *registry.Registry, bus *events.Bus, loggerFor func(packageName string) registry.FunctionLogger) *Dispatcher {
	d := &Dispatcher{reg: reg, bus: bus, loggerFor: loggerFor}
	d.engine = gin.New()
	d.engine.Use(gin.Recovery())
	d.engine.NoRoute(d.handle)
	return d
}

// Engine returns the underlying http.Handler for use by an http.Server, or
// by middleware composition in cmd/funcdock.
func (d *Dispatcher) Engine() *gin.Engine {
	return d.engine
}

// handle is the single entry point for every request: the Snapshot it
// captures here is the one and only view of the registry this request will
// ever see, which is what makes the dispatch atomic with respect to
// concurrent reloads (I2).
func (d *Dispatcher) handle(c *gin.Context) {
	snap := d.reg.Snapshot()

	method := registry.Method(strings.ToUpper(c.Request.Method))
	path := c.Request.URL.Path

	if method == "OPTIONS" {
		d.handlePreflight(c, snap, path)
		return
	}

	entry, params, found, methodMismatch, allowed := snap.Lookup(method, path)
	if methodMismatch {
		c.Header("Allow", joinMethods(allowed))
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"ok":    false,
			"error": "method_not_allowed",
		})
		return
	}
	if !found {
		logger.Dispatcher().Info().Str("path", path).Str("method", string(method)).Msg("no route matched")
		c.JSON(http.StatusNotFound, gin.H{
			"ok":    false,
			"error": "not_found",
		})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad_request"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	correlationID := c.GetHeader("X-Correlation-ID")
	if correlationID == "" {
		correlationID = registry.NewCorrelationID()
	}

	invCtx := &registry.InvocationContext{
		Context:       c.Request.Context(),
		Method:        method,
		Path:          path,
		PackageName:   entry.PackageName,
		PathParams:    params,
		Query:         map[string][]string(c.Request.URL.Query()),
		Headers:       map[string][]string(c.Request.Header),
		Body:          body,
		CorrelationID: correlationID,
	}
	if d.loggerFor != nil {
		invCtx.Logger = d.loggerFor(entry.PackageName)
	}

	resp, err := invokeRecovered(entry.Handler.Handler, invCtx)
	if err != nil {
		logger.Dispatcher().Error().Err(err).
			Str("package", entry.PackageName).
			Str("correlationId", correlationID).
			Msg("handler returned an error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":            false,
			"error":         "internal_handler_error",
			"correlationId": correlationID,
		})
		return
	}

	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	c.Header("X-Correlation-ID", correlationID)
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, contentTypeOf(resp.Headers), resp.Body)
}

// handlePreflight answers a cross-origin CORS preflight request for path.
// A path with no registered route at all still falls through to the
// ordinary 404, since there is nothing to preflight against.
func (d *Dispatcher) handlePreflight(c *gin.Context, snap *registry.Snapshot, path string) {
	allowed, found := snap.AllowedMethods(path)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
		return
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", joinMethods(allowed)+", OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Status(http.StatusOK)
}

func contentTypeOf(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	return "application/octet-stream"
}

// invokeRecovered calls h.Invoke, converting a handler panic into an error
// so one misbehaving function can never take down the dispatcher.
func invokeRecovered(h registry.Handler, ctx *registry.InvocationContext) (resp *registry.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return h.Invoke(ctx)
}

type panicError struct{ value interface{} }

func (p panicError) Error() string { return "handler panic" }

func joinMethods(methods []registry.Method) string {
	strs := make([]string, len(methods))
	for i, m := range methods {
		strs[i] = string(m)
	}
	return strings.Join(strs, ", ")
}
