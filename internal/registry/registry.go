package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reaatech/funcdock/internal/apperrors"
	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/logger"
	cronparser "github.com/robfig/cron/v3"
)

const (
	routeConfigName = "route.config.json"
	cronConfigName  = "cron.json"
	packageJSONName = "package.json"
	deploymentMeta  = ".deployment.json"
)

// Registry owns the on-disk function packages under functionsDir, loads and
// validates them, and publishes immutable Snapshots for the Dispatcher and
// Cron Scheduler to read (I2). Load/Unload are serialized by loadMu so two
// concurrent deploys can't race each other building conflicting snapshots;
// readers never take that lock, they just dereference current.
type Registry struct {
	functionsDir string
	loader       *Loader
	bus          *events.Bus

	loadMu  sync.Mutex
	current atomic.Pointer[Snapshot]

	failuresMu sync.RWMutex
	failures   map[string]loadFailure
}

// loadFailure records the most recent failed load/reload attempt for a
// package, so the Control Plane's status endpoint can surface it (spec
// §4.7's "last error per package") even for a package that never made it
// into a published Snapshot.
type loadFailure struct {
	Err error
	At  time.Time
}

// New creates a Registry rooted at functionsDir, using loader to import
// handler plugin files and bus to publish lifecycle events. The initial
// snapshot is empty; call LoadAll to populate it from disk at startup.
func New(functionsDir string, loader *Loader, bus *events.Bus) *Registry {
	r := &Registry{functionsDir: functionsDir, loader: loader, bus: bus, failures: make(map[string]loadFailure)}
	r.current.Store(newEmptySnapshot())
	return r
}

// Snapshot returns the currently published Snapshot. Callers must
// dereference it once and use that value for the lifetime of whatever
// they're doing (a single request, a single cron tick) rather than calling
// Snapshot again mid-operation, which is what gives I2 its guarantee.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// LoadAll discovers every subdirectory of functionsDir and loads each as a
// package, in an unspecified order. Errors loading individual packages are
// logged and skipped so that one broken package doesn't prevent the rest of
// the platform from starting.
func (r *Registry) LoadAll() error {
	entries, err := os.ReadDir(r.functionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading functions directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := r.Load(e.Name()); err != nil {
			logger.Registry().Error().Err(err).Str("package", e.Name()).Msg("failed to load function package at startup")
		}
	}
	return nil
}

// Load parses, validates, and installs (or reloads in place) the function
// package at functionsDir/name. On success it publishes a new Snapshot with
// a monotonically increased generation and emits function:loaded (first
// install) or function:updated (reload) on the event bus. Load serializes
// against other Load/Unload calls so two deploys can never observe or
// publish inconsistent intermediate states.
func (r *Registry) Load(name string) (pkg *FunctionPackage, err error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	defer r.recordOutcome(name, &err)

	dir := filepath.Join(r.functionsDir, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, apperrors.PackageIncomplete(fmt.Sprintf("function directory %q does not exist", name))
	}

	pkg, err = parsePackage(name, dir)
	if err != nil {
		return nil, err
	}

	prev := r.current.Load()
	_, alreadyLoaded := prev.Packages[name]

	next, err := r.buildSnapshot(prev, pkg)
	if err != nil {
		return nil, err
	}

	r.current.Store(next)

	if alreadyLoaded {
		r.bus.Emit(events.TopicFunctionUpdated, pkg)
	} else {
		r.bus.Emit(events.TopicFunctionLoaded, pkg)
	}
	return pkg, nil
}

// Unload removes a package from the registry and publishes a new Snapshot
// without it. Unloading a package that isn't loaded is a no-op.
func (r *Registry) Unload(name string) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	prev := r.current.Load()
	if _, ok := prev.Packages[name]; !ok {
		return nil
	}

	next := newEmptySnapshot()
	next.Generation = prev.Generation + 1
	for pname, p := range prev.Packages {
		if pname == name {
			continue
		}
		next.Packages[pname] = p
	}
	for key, entry := range prev.routes {
		if entry.PackageName == name {
			continue
		}
		next.routes[key] = entry
	}
	for key, h := range prev.cronHandlers {
		if key.Package == name {
			continue
		}
		next.cronHandlers[key] = h
	}
	rebuildMethodsByPath(next)

	r.current.Store(next)
	r.failuresMu.Lock()
	delete(r.failures, name)
	r.failuresMu.Unlock()
	r.bus.Emit(events.TopicFunctionUnloaded, name)
	return nil
}

// recordOutcome updates the failures table after a Load attempt: a
// successful load clears any previously recorded failure for name, a
// failed one records it with a timestamp.
func (r *Registry) recordOutcome(name string, err *error) {
	r.failuresMu.Lock()
	defer r.failuresMu.Unlock()
	if *err != nil {
		r.failures[name] = loadFailure{Err: *err, At: time.Now().UTC()}
		return
	}
	delete(r.failures, name)
}

// List returns a summary of every currently loaded package. A package
// whose most recent reload attempt failed is still listed (it keeps
// serving its previous generation) but carries that attempt's error in
// LastError (spec §4.7).
func (r *Registry) List() []PackageSummary {
	out := r.current.Load().List()

	r.failuresMu.RLock()
	defer r.failuresMu.RUnlock()
	for i, p := range out {
		if f, ok := r.failures[p.Name]; ok {
			out[i].LastError = f.Err.Error()
		}
	}
	return out
}

// Failures returns the load error recorded for every package that has
// never successfully loaded at all — the deploy/reload attempt failed
// before any Snapshot ever carried it, so List above has no entry for it.
// Used by the Control Plane's status endpoint to surface these alongside
// the loaded package list (spec §4.7).
func (r *Registry) Failures() map[string]string {
	loaded := r.current.Load().Packages

	r.failuresMu.RLock()
	defer r.failuresMu.RUnlock()

	out := make(map[string]string)
	for name, f := range r.failures {
		if _, ok := loaded[name]; ok {
			continue
		}
		out[name] = f.Err.Error()
	}
	return out
}

// buildSnapshot produces the next Snapshot: it validates pkg's routes
// against every other package already published (I1), loads every distinct
// handler file pkg references, and replaces pkg's slice of the flat route
// index while carrying every other package's entries forward unchanged (no
// re-loading of handlers that didn't change).
func (r *Registry) buildSnapshot(prev *Snapshot, pkg *FunctionPackage) (*Snapshot, error) {
	otherResolved := make(map[string][]resolvedRoute, len(prev.Packages))
	for pname, p := range prev.Packages {
		if pname == pkg.Name {
			continue
		}
		otherResolved[pname] = resolveRoutes(p)
	}

	candidateRoutes := resolveRoutes(pkg)
	if conflicts := detectConflicts(pkg.Name, candidateRoutes, otherResolved); len(conflicts) > 0 {
		return nil, apperrors.RouteConflict(formatConflicts(conflicts))
	}

	pkg.Generation = prev.Generation + 1

	handlers := make(map[string]*LoadedHandler)
	load := func(handlerFile string) error {
		if _, ok := handlers[handlerFile]; ok {
			return nil
		}
		abs := filepath.Join(pkg.Dir, handlerFile)
		lh, err := r.loader.Load(abs, pkg.Generation)
		if err != nil {
			return err
		}
		handlers[handlerFile] = lh
		return nil
	}
	for _, rr := range candidateRoutes {
		if err := load(rr.HandlerFile); err != nil {
			return nil, apperrors.HandlerLoadFailed(rr.HandlerFile, err)
		}
	}
	for _, c := range pkg.Crons {
		hf := c.HandlerFile
		if hf == "" {
			hf = pkg.DefaultHandlerFile
		}
		if err := load(hf); err != nil {
			return nil, apperrors.HandlerLoadFailed(hf, err)
		}
	}

	next := newEmptySnapshot()
	next.Generation = pkg.Generation
	for pname, p := range prev.Packages {
		next.Packages[pname] = p
	}
	next.Packages[pkg.Name] = pkg

	for key, entry := range prev.routes {
		if entry.PackageName == pkg.Name {
			continue
		}
		next.routes[key] = entry
	}
	for _, rr := range candidateRoutes {
		key := routeKey{Method: rr.Method, Skeleton: skeleton(rr.Path)}
		next.routes[key] = &routeEntry{
			Handler:      handlers[rr.HandlerFile],
			PackageName:  pkg.Name,
			PathTemplate: rr.Path,
		}
	}

	for key, h := range prev.cronHandlers {
		if key.Package == pkg.Name {
			continue
		}
		next.cronHandlers[key] = h
	}
	for _, c := range pkg.Crons {
		hf := c.HandlerFile
		if hf == "" {
			hf = pkg.DefaultHandlerFile
		}
		next.cronHandlers[cronKey{Package: pkg.Name, Name: c.Name}] = handlers[hf]
	}

	rebuildMethodsByPath(next)

	return next, nil
}

// rebuildMethodsByPath derives snap's secondary (405/Allow) index from its
// authoritative route index, so the two can never drift out of sync.
func rebuildMethodsByPath(snap *Snapshot) {
	snap.methodsByPath = make(map[string]map[Method]bool)
	for key := range snap.routes {
		if snap.methodsByPath[key.Skeleton] == nil {
			snap.methodsByPath[key.Skeleton] = make(map[Method]bool)
		}
		snap.methodsByPath[key.Skeleton][key.Method] = true
	}
}

func formatConflicts(conflicts []conflict) string {
	out := ""
	for i, c := range conflicts {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s %s conflicts between %q and %q", c.Method, c.Path, c.PackageA, c.PackageB)
	}
	return out
}

// parsePackage reads and validates route.config.json, cron.json, and
// package.json under dir, per the registry's on-disk contract.
// route.config.json and package.json are mandatory; cron.json is optional.
func parsePackage(name, dir string) (*FunctionPackage, error) {
	routeData, err := os.ReadFile(filepath.Join(dir, routeConfigName))
	if err != nil {
		return nil, apperrors.PackageIncomplete(fmt.Sprintf("%s: missing %s", name, routeConfigName))
	}
	var rc routeConfigFile
	if err := json.Unmarshal(routeData, &rc); err != nil {
		return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: invalid %s: %v", name, routeConfigName, err))
	}
	if len(rc.Routes) == 0 {
		return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: %s defines no routes", name, routeConfigName))
	}

	pkg := &FunctionPackage{
		Name:               name,
		BasePath:           rc.Base,
		DefaultHandlerFile: rc.Handler,
		Dir:                dir,
	}
	if pkg.DefaultHandlerFile == "" {
		pkg.DefaultHandlerFile = "handler.so"
	}

	for _, rs := range rc.Routes {
		if rs.Path == "" || len(rs.Methods) == 0 {
			return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: route missing path or methods", name))
		}
		methods := make([]Method, 0, len(rs.Methods))
		for _, m := range rs.Methods {
			methods = append(methods, normalizeMethod(m))
		}
		pkg.Routes = append(pkg.Routes, RouteSpec{
			Path:        rs.Path,
			Methods:     methods,
			HandlerFile: rs.Handler,
		})
	}

	if cronData, err := os.ReadFile(filepath.Join(dir, cronConfigName)); err == nil {
		var cc cronConfigFile
		if err := json.Unmarshal(cronData, &cc); err != nil {
			return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: invalid %s: %v", name, cronConfigName, err))
		}
		parser := cronparser.NewParser(cronparser.SecondOptional | cronparser.Minute | cronparser.Hour | cronparser.Dom | cronparser.Month | cronparser.Dow)
		for _, cs := range cc.Jobs {
			if cs.Name == "" || cs.Schedule == "" {
				return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: cron job missing name or schedule", name))
			}
			if _, err := parser.Parse(cs.Schedule); err != nil {
				return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: cron %q has invalid schedule %q: %v", name, cs.Name, cs.Schedule, err))
			}
			enabled := true
			if cs.Enabled != nil {
				enabled = *cs.Enabled
			}
			tz := cs.Timezone
			if tz == "" {
				tz = "UTC"
			}
			pkg.Crons = append(pkg.Crons, CronSpec{
				Name:        cs.Name,
				Schedule:    cs.Schedule,
				HandlerFile: cs.Handler,
				Timezone:    tz,
				Enabled:     enabled,
				Description: cs.Description,
			})
		}
	}

	pkgJSONData, err := os.ReadFile(filepath.Join(dir, packageJSONName))
	if err != nil {
		return nil, apperrors.PackageIncomplete(fmt.Sprintf("%s: missing %s", name, packageJSONName))
	}
	var pj packageJSONFile
	if err := json.Unmarshal(pkgJSONData, &pj); err != nil {
		return nil, apperrors.PackageMalformed(fmt.Sprintf("%s: invalid %s: %v", name, packageJSONName, err))
	}

	if metaData, err := os.ReadFile(filepath.Join(dir, deploymentMeta)); err == nil {
		var dm DeploymentMetadata
		if err := json.Unmarshal(metaData, &dm); err == nil {
			pkg.Deployment = dm
		}
	} else {
		pkg.Deployment = DeploymentMetadata{Source: SourceLocal, DeployedAt: time.Now().UTC()}
	}

	return pkg, nil
}
