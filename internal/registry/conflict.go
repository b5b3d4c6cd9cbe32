package registry

import "strings"

// normalizeBasePath trims a trailing slash from a base path, per §4.1(a).
func normalizeBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if len(base) > 1 {
		base = strings.TrimRight(base, "/")
	}
	return base
}

// joinPath joins a base path and a route path with a single "/", per
// §4.1(b), and collapses any resulting duplicate slashes.
func joinPath(base, path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := base + path
	return collapseSlashes(full)
}

func collapseSlashes(p string) string {
	var b strings.Builder
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > 1 {
		out = strings.TrimRight(out, "/")
	}
	if out == "" {
		out = "/"
	}
	return out
}

// normalizeMethod upper-cases a method string, per §4.1(c).
func normalizeMethod(m string) Method {
	return Method(strings.ToUpper(strings.TrimSpace(m)))
}

// skeleton replaces every parameter segment (one beginning with ":") with
// the sentinel "*", so two differently-named parameters at the same
// position are detected as the same route shape (§4.1).
func skeleton(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}

// routeKey is the fully-qualified, normalised (method, path-skeleton) tuple
// conflicts are detected over.
type routeKey struct {
	Method   Method
	Skeleton string
}

// conflict describes one detected I1 violation, naming both offenders.
type conflict struct {
	Method      Method
	Path        string
	PackageA    string
	PackageB    string
}

// resolvedRoute is a RouteSpec after basePath-joining and method/path
// normalisation, still carrying the original (non-skeleton) path for
// error messages and dispatcher indexing.
type resolvedRoute struct {
	Method      Method
	Path        string // normalised, concrete (may still contain :param segments)
	HandlerFile string
}

func resolveRoutes(pkg *FunctionPackage) []resolvedRoute {
	base := normalizeBasePath(pkg.BasePath)
	var out []resolvedRoute
	for _, r := range pkg.Routes {
		full := joinPath(base, r.Path)
		handler := r.HandlerFile
		if handler == "" {
			handler = pkg.DefaultHandlerFile
		}
		for _, m := range r.Methods {
			out = append(out, resolvedRoute{
				Method:      normalizeMethod(string(m)),
				Path:        full,
				HandlerFile: handler,
			})
		}
	}
	return out
}

// detectConflicts reports every pairwise I1 violation between candidate's
// resolved routes and those of every other package already present in
// existing (keyed by package name, excluding candidate's own name in case
// of a reload-in-place).
func detectConflicts(candidateName string, candidateRoutes []resolvedRoute, existing map[string][]resolvedRoute) []conflict {
	var conflicts []conflict
	for _, cr := range candidateRoutes {
		key := routeKey{Method: cr.Method, Skeleton: skeleton(cr.Path)}
		for otherName, otherRoutes := range existing {
			if otherName == candidateName {
				continue
			}
			for _, or := range otherRoutes {
				otherKey := routeKey{Method: or.Method, Skeleton: skeleton(or.Path)}
				if key == otherKey {
					conflicts = append(conflicts, conflict{
						Method:   cr.Method,
						Path:     cr.Path,
						PackageA: candidateName,
						PackageB: otherName,
					})
				}
			}
		}
	}
	return conflicts
}
