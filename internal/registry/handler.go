package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is the capability every function handler implements: given an
// invocation context, produce a response or raise an error. This is the
// "dynamic handler dispatch" design note's capability interface — handler
// files compile to a Go plugin (.so) exporting a NewHandler() Handler
// factory, the idiomatic in-process equivalent of the source's duck-typed
// callables.
type Handler interface {
	Invoke(ctx *InvocationContext) (*Response, error)
}

// HandlerFunc adapts a plain function to the Handler interface, for tests
// and for built-in synthetic handlers.
type HandlerFunc func(ctx *InvocationContext) (*Response, error)

func (f HandlerFunc) Invoke(ctx *InvocationContext) (*Response, error) { return f(ctx) }

// NewHandlerFactory is the symbol every handler plugin must export.
type NewHandlerFactory func() Handler

// Response is what a Handler returns to be written back to the client (or,
// for cron invocations, discarded after logging).
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// InvocationContext is passed to every Handler invocation, HTTP or cron.
// It is the composed-collaborators design note's carrier: no global
// singletons, everything a handler needs travels down through this struct.
type InvocationContext struct {
	Context       context.Context
	Method        Method
	Path          string
	PackageName   string
	PathParams    map[string]string
	Query         map[string][]string
	Headers       map[string][]string
	Body          []byte
	CorrelationID string
	Logger        FunctionLogger

	// CronJob is set only for cron-triggered invocations (Method == CRON).
	CronJob *CronInvocation
}

// CronInvocation carries the synthesized request body for a cron tick, per
// the platform spec's §4.4 synthetic invocation shape.
type CronInvocation struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// FunctionLogger is the narrow logging capability handlers are given; it is
// satisfied by *funclog.Stream without registry needing to import funclog.
type FunctionLogger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Cron(msg string, fields map[string]interface{})
}

// LoadedHandler pairs an invocable Handler with the absolute path it was
// imported from and the registry generation that loaded it (§3).
type LoadedHandler struct {
	Handler    Handler
	Path       string
	ContentSum string
	Generation uint64
}

// NewCorrelationID returns a fresh correlation id for an invocation.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Loader imports handler plugin files with cache invalidation: a new Load
// call always observes the on-disk bytes as of the moment it is called (the
// §4.1 "Cache invalidation" contract). It does this by keying Go's plugin
// cache on path+content-hash: before calling plugin.Open, the handler's
// bytes are copied into cacheDir as <basename>-<sha256 of contents>.so, so
// identical bytes reuse the same already-open
// plugin.Plugin, but any edit produces a new path that plugin.Open has
// never seen and therefore cannot serve stale state for.
type Loader struct {
	cacheDir string

	mu     sync.Mutex
	opened map[string]*plugin.Plugin // cache path -> opened plugin
}

// NewLoader creates a Loader that stages hashed copies under cacheDir.
func NewLoader(cacheDir string) *Loader {
	return &Loader{cacheDir: cacheDir, opened: make(map[string]*plugin.Plugin)}
}

// Load imports the handler plugin at absPath, returning a LoadedHandler
// tagged with generation. It fails with a plain error (wrapped by the
// caller into apperrors.HandlerLoadFailed) if the file is missing, is not a
// valid Go plugin, or does not export NewHandler with the right signature.
func (l *Loader) Load(absPath string, generation uint64) (*LoadedHandler, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading handler file: %w", err)
	}
	sum := contentHash(data)

	cachePath, err := l.stage(absPath, sum, data)
	if err != nil {
		return nil, fmt.Errorf("staging handler file: %w", err)
	}

	l.mu.Lock()
	p, ok := l.opened[cachePath]
	if !ok {
		var err error
		p, err = plugin.Open(cachePath)
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("opening handler plugin: %w", err)
		}
		l.opened[cachePath] = p
	}
	l.mu.Unlock()

	sym, err := p.Lookup("NewHandler")
	if err != nil {
		return nil, fmt.Errorf("handler plugin missing NewHandler: %w", err)
	}
	factory, ok := sym.(func() Handler)
	if !ok {
		return nil, fmt.Errorf("NewHandler has wrong signature, expected func() registry.Handler")
	}

	return &LoadedHandler{
		Handler:    factory(),
		Path:       absPath,
		ContentSum: sum,
		Generation: generation,
	}, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// stage ensures a copy of data exists at cacheDir/<basename>-<sum>.so and
// returns that path. Reusing an existing staged file for the same hash is
// what lets unchanged handlers share one already-open plugin.Plugin.
func (l *Loader) stage(absPath, sum string, data []byte) (string, error) {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.so", filepath.Base(absPath), sum)
	dst := filepath.Join(l.cacheDir, name)

	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", err
	}
	return dst, nil
}
