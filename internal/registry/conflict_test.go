package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBasePathEnforcesLeadingSlashAndTrimsTrailing(t *testing.T) {
	assert.Equal(t, "/", normalizeBasePath(""))
	assert.Equal(t, "/", normalizeBasePath("  "))
	assert.Equal(t, "/hello", normalizeBasePath("hello"))
	assert.Equal(t, "/hello", normalizeBasePath("/hello/"))
	assert.Equal(t, "/hello", normalizeBasePath("  /hello  "))
}

func TestJoinPathCollapsesDuplicateSlashes(t *testing.T) {
	assert.Equal(t, "/hello/world", joinPath("/hello", "/world"))
	assert.Equal(t, "/hello/world", joinPath("/hello/", "/world"))
	assert.Equal(t, "/hello/world", joinPath("/hello", "world"))
	assert.Equal(t, "/hello", joinPath("/hello", "/"))
}

func TestNormalizeMethodUpperCasesAndTrims(t *testing.T) {
	assert.Equal(t, GET, normalizeMethod(" get "))
	assert.Equal(t, POST, normalizeMethod("Post"))
}

func TestSkeletonReplacesParameterSegments(t *testing.T) {
	assert.Equal(t, "/items/*", skeleton("/items/:id"))
	assert.Equal(t, "/items/*/reviews/*", skeleton("/items/:id/reviews/:reviewId"))
	assert.Equal(t, "/items", skeleton("/items"))
}

func TestResolveRoutesJoinsBasePathAndDefaultsHandler(t *testing.T) {
	pkg := &FunctionPackage{
		Name:               "hello",
		BasePath:           "/hello",
		DefaultHandlerFile: "index.js",
		Routes: []RouteSpec{
			{Path: "/world", Methods: []Method{GET, POST}},
			{Path: "/custom", Methods: []Method{"put"}, HandlerFile: "custom.js"},
		},
	}

	resolved := resolveRoutes(pkg)
	byKey := map[string]resolvedRoute{}
	for _, r := range resolved {
		byKey[string(r.Method)+" "+r.Path] = r
	}

	assert.Len(t, resolved, 3)
	assert.Equal(t, "index.js", byKey["GET /hello/world"].HandlerFile)
	assert.Equal(t, "index.js", byKey["POST /hello/world"].HandlerFile)
	assert.Equal(t, "custom.js", byKey["PUT /hello/custom"].HandlerFile)
}

func TestDetectConflictsFindsSamePathAndMethodAcrossPackages(t *testing.T) {
	candidate := []resolvedRoute{{Method: GET, Path: "/hello/:id"}}
	existing := map[string][]resolvedRoute{
		"other": {{Method: GET, Path: "/hello/:name"}},
	}

	conflicts := detectConflicts("mine", candidate, existing)
	assert.Len(t, conflicts, 1)
	assert.Equal(t, "other", conflicts[0].PackageB)
}

func TestDetectConflictsIgnoresCandidatesOwnPreviousRoutes(t *testing.T) {
	candidate := []resolvedRoute{{Method: GET, Path: "/hello/:id"}}
	existing := map[string][]resolvedRoute{
		"mine": {{Method: GET, Path: "/hello/:id"}},
	}

	conflicts := detectConflicts("mine", candidate, existing)
	assert.Empty(t, conflicts, "a package reloading in place must not conflict with its own prior routes")
}

func TestDetectConflictsAllowsDifferentMethodsOnTheSamePath(t *testing.T) {
	candidate := []resolvedRoute{{Method: POST, Path: "/hello"}}
	existing := map[string][]resolvedRoute{
		"other": {{Method: GET, Path: "/hello"}},
	}

	conflicts := detectConflicts("mine", candidate, existing)
	assert.Empty(t, conflicts)
}
