package registry

// routeEntry is one flattened, fully-resolved route in a Snapshot's index.
type routeEntry struct {
	Handler     *LoadedHandler
	PackageName string
	ParamNames  []string // not populated by buildSnapshot; parameter names are read from PathTemplate at lookup
	PathTemplate string  // original (non-skeleton) normalised path, e.g. "/items/:id"
}

// Snapshot is an immutable view of the registry at one generation (§3). It
// is never mutated after publication; the Registry always swaps in a
// freshly built Snapshot. The Dispatcher dereferences exactly one Snapshot
// per request, which is what gives I2 ("atomic swap") its guarantee.
type Snapshot struct {
	Generation uint64
	Packages   map[string]*FunctionPackage

	// routes indexes by (method, path-skeleton) for dispatch.
	routes map[routeKey]*routeEntry
	// methodsByPath indexes every method registered for a given path
	// skeleton, for the dispatcher's 405 Allow header.
	methodsByPath map[string]map[Method]bool

	// cronHandlers indexes the loaded handler for every (package, cron
	// job name), since cron tasks have no route to look them up by.
	cronHandlers map[cronKey]*LoadedHandler
}

type cronKey struct {
	Package string
	Name    string
}

func newEmptySnapshot() *Snapshot {
	return &Snapshot{
		Packages:      make(map[string]*FunctionPackage),
		routes:        make(map[routeKey]*routeEntry),
		methodsByPath: make(map[string]map[Method]bool),
		cronHandlers:  make(map[cronKey]*LoadedHandler),
	}
}

// CronHandler returns the loaded handler for a package's cron job by name.
func (s *Snapshot) CronHandler(packageName, jobName string) (*LoadedHandler, bool) {
	h, ok := s.cronHandlers[cronKey{Package: packageName, Name: jobName}]
	return h, ok
}

// PackageSummary is one package's entry in List's output, for the Control
// Plane's list/detail endpoints.
type PackageSummary struct {
	Name       string
	BasePath   string
	Routes     []RouteSpec
	Crons      []CronSpec
	Deployment DeploymentMetadata
	Status     string
	// LastError is the most recent load/reload error recorded for this
	// package, if any. A loaded package with a non-empty LastError failed
	// its latest reload attempt but is still serving its previous
	// generation.
	LastError string `json:"lastError,omitempty"`
}

// List returns a shallow description of every package in the snapshot.
func (s *Snapshot) List() []PackageSummary {
	out := make([]PackageSummary, 0, len(s.Packages))
	for _, p := range s.Packages {
		out = append(out, PackageSummary{
			Name:       p.Name,
			BasePath:   p.BasePath,
			Routes:     p.Routes,
			Crons:      p.Crons,
			Deployment: p.Deployment,
			Status:     "loaded",
		})
	}
	return out
}

// Lookup resolves (method, path) against the route index, extracting path
// parameters along the way. found is false if no route skeleton matches at
// all (404 territory); methodMismatch is true if the path matches some
// route but not this method (405 territory), with allowed listing the
// methods that do match.
func (s *Snapshot) Lookup(method Method, path string) (entry *routeEntry, params map[string]string, found bool, methodMismatch bool, allowed []Method) {
	skel := skeleton(path)
	key := routeKey{Method: method, Skeleton: skel}
	if e, ok := s.routes[key]; ok {
		return e, extractParams(e.PathTemplate, path), true, false, nil
	}

	if methods, ok := s.methodsByPath[skel]; ok {
		for m := range methods {
			allowed = append(allowed, m)
		}
		return nil, nil, false, true, allowed
	}

	return nil, nil, false, false, nil
}

// AllowedMethods reports every method registered at path's skeleton,
// regardless of which one a request actually used. found is false if
// nothing is registered at that path at all. Used by the dispatcher to
// answer CORS preflight OPTIONS requests with the full method list.
func (s *Snapshot) AllowedMethods(path string) (allowed []Method, found bool) {
	methods, ok := s.methodsByPath[skeleton(path)]
	if !ok {
		return nil, false
	}
	for m := range methods {
		allowed = append(allowed, m)
	}
	return allowed, true
}

func extractParams(template, actual string) map[string]string {
	tSegs := splitPath(template)
	aSegs := splitPath(actual)
	if len(tSegs) != len(aSegs) {
		return map[string]string{}
	}
	params := make(map[string]string)
	for i, seg := range tSegs {
		if len(seg) > 0 && seg[0] == ':' {
			params[seg[1:]] = aSegs[i]
		}
	}
	return params
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		segs = append(segs, p[start:])
	}
	return segs
}
