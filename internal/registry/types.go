// Package registry implements the Function Registry & Loader (C2) and the
// Route Dispatcher's data model (C3's Snapshot). It owns parsing function
// package metadata on disk, importing handler code with cache invalidation,
// detecting route conflicts (I1), and publishing immutable snapshots (I2).
package registry

import "time"

// Method is an HTTP method name, always upper-cased once normalised.
type Method string

const (
	GET     Method = "GET"
	POST    Method = "POST"
	PUT     Method = "PUT"
	DELETE  Method = "DELETE"
	PATCH   Method = "PATCH"
	OPTIONS Method = "OPTIONS"
	HEAD    Method = "HEAD"
	// CRON is a synthetic pseudo-method used for the invocation context
	// synthesized by the Cron Scheduler (C4); it never appears in a
	// RouteSpec and is never matched by the dispatcher.
	CRON Method = "CRON"
)

// SourceKind identifies how a FunctionPackage's code arrived on disk.
type SourceKind string

const (
	SourceGit         SourceKind = "git"
	SourcePullRequest SourceKind = "pull-request"
	SourceLocal       SourceKind = "local"
)

// DeploymentMetadata records provenance for a deployed function package, as
// written by the Safe-Deploy Orchestrator into .deployment.json.
type DeploymentMetadata struct {
	Source     SourceKind `json:"source"`
	OriginURL  string     `json:"originUrl,omitempty"`
	Branch     string     `json:"branch,omitempty"`
	PRNumber   int        `json:"prNumber,omitempty"`
	Commit     string     `json:"commit,omitempty"`
	DeployedAt time.Time  `json:"deployedAt"`
	DeployedBy string     `json:"deployedBy,omitempty"`
}

// RouteSpec describes one route entry from route.config.json.
type RouteSpec struct {
	// Path is relative to the package's basePath and may contain parameter
	// segments (":id"). Always starts with "/" after normalisation.
	Path string `json:"path"`
	// Methods is the non-empty set of HTTP methods this route answers.
	Methods []Method `json:"methods"`
	// HandlerFile is relative to the package directory; defaults to the
	// package's defaultHandlerFile when empty.
	HandlerFile string `json:"handler,omitempty"`
}

// CronSpec describes one scheduled task entry from cron.json.
type CronSpec struct {
	// Name is unique within the owning package.
	Name string `json:"name"`
	// Schedule is a 5- or 6-field cron expression, validated at load time.
	Schedule string `json:"schedule"`
	// HandlerFile is relative to the package directory; defaults to the
	// package's defaultHandlerFile when empty.
	HandlerFile string `json:"handler,omitempty"`
	// Timezone is an IANA timezone name; defaults to "UTC".
	Timezone string `json:"timezone,omitempty"`
	// Enabled controls whether the scheduler starts a task for this entry.
	Enabled bool `json:"enabled"`
	// Description is informational only, surfaced by list().
	Description string `json:"description,omitempty"`
}

// FunctionPackage is the parsed, validated on-disk unit under
// functions/<name>/.
type FunctionPackage struct {
	Name               string
	BasePath           string
	DefaultHandlerFile string
	Routes             []RouteSpec
	Crons              []CronSpec
	Deployment         DeploymentMetadata
	// Dir is the absolute path to the package directory.
	Dir string
	// Generation is the registry generation this package was installed in.
	Generation uint64
}

// routeConfigFile is the on-disk shape of route.config.json.
type routeConfigFile struct {
	Base    string           `json:"base"`
	Handler string           `json:"handler,omitempty"`
	Routes  []routeSpecFile  `json:"routes"`
}

type routeSpecFile struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
	Handler string   `json:"handler,omitempty"`
}

// cronConfigFile is the on-disk shape of cron.json.
type cronConfigFile struct {
	Jobs []cronSpecFile `json:"jobs"`
}

type cronSpecFile struct {
	Name        string `json:"name"`
	Schedule    string `json:"schedule"`
	Handler     string `json:"handler,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// packageJSONFile is intentionally opaque to the core (§3); parsePackage
// only checks that it exists and is valid JSON.
type packageJSONFile map[string]interface{}
