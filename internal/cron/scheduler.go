// Package cron implements the Cron Scheduler (C4): one shared robfig/cron/v3
// instance reconciled against the registry's current snapshot, so adding,
// editing, or removing a cron.json entry takes effect on the next reload
// without restarting the process. The Scheduler subscribes itself to the
// registry's function:loaded/updated/unloaded events so every load path
// (deploy, manual reload, filesystem watch, delete) reconciles it, not just
// startup.
package cron

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/logger"
	"github.com/reaatech/funcdock/internal/registry"
	"github.com/robfig/cron/v3"
)

// jobKey identifies one scheduled task across reconciliations.
type jobKey struct {
	Package string
	Name    string
}

type job struct {
	entryID cron.EntryID
	spec    registry.CronSpec
	running atomic.Bool // true while an invocation of this task is in flight
}

// Scheduler owns a single cron.Cron instance and keeps it in sync with
// whatever registry.Snapshot is current.
type Scheduler struct {
	reg      *registry.Registry
	bus      *events.Bus
	cron     *cron.Cron
	loggerFor func(packageName string) registry.FunctionLogger

	jobs map[jobKey]*job
}

// New creates a Scheduler. loggerFor builds the per-function logger handed
// to a cron task's InvocationContext; pass nil to leave it unset.
func New(reg *registry.Registry, bus *events.Bus, loggerFor func(packageName string) registry.FunctionLogger) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		reg:       reg,
		bus:       bus,
		cron:      cron.New(cron.WithParser(parser)),
		loggerFor: loggerFor,
		jobs:      make(map[jobKey]*job),
	}

	if bus != nil {
		onChange := func(string, interface{}) { s.Reconcile(s.reg.Snapshot()) }
		for _, topic := range []string{
			events.TopicFunctionLoaded,
			events.TopicFunctionUpdated,
			events.TopicFunctionUnloaded,
		} {
			bus.Subscribe(topic, onChange)
		}
	}

	return s
}

// Start begins the underlying cron goroutine and performs an initial
// reconciliation against the registry's current snapshot.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.Reconcile(s.reg.Snapshot())
}

// Stop drains the cron goroutine, waiting for any in-flight task.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Reconcile adds, updates, or removes scheduled tasks so the running set
// exactly matches what snap's packages declare. Called once at startup and
// again after every registry reload.
func (s *Scheduler) Reconcile(snap *registry.Snapshot) {
	wanted := make(map[jobKey]registry.CronSpec)
	for _, pkg := range snap.Packages {
		for _, c := range pkg.Crons {
			if !c.Enabled {
				continue
			}
			wanted[jobKey{Package: pkg.Name, Name: c.Name}] = c
		}
	}

	for key, existing := range s.jobs {
		newSpec, stillWanted := wanted[key]
		if !stillWanted || newSpec.Schedule != existing.spec.Schedule || newSpec.Timezone != existing.spec.Timezone {
			s.cron.Remove(existing.entryID)
			delete(s.jobs, key)
		}
	}

	for key, spec := range wanted {
		if _, ok := s.jobs[key]; ok {
			continue
		}
		pkg := snap.Packages[key.Package]
		if pkg == nil {
			continue
		}
		s.addJob(pkg, spec)
	}
}

func (s *Scheduler) addJob(pkg *registry.FunctionPackage, spec registry.CronSpec) {
	key := jobKey{Package: pkg.Name, Name: spec.Name}
	j := &job{spec: spec}

	expr := spec.Schedule
	if spec.Timezone != "" {
		expr = fmt.Sprintf("CRON_TZ=%s %s", spec.Timezone, spec.Schedule)
	}

	entryID, err := s.cron.AddFunc(expr, func() {
		s.run(pkg.Name, spec, j)
	})
	if err != nil {
		logger.Cron().Error().Err(err).Str("package", pkg.Name).Str("job", spec.Name).Msg("failed to schedule cron task")
		return
	}
	j.entryID = entryID
	s.jobs[key] = j
}

// run invokes one cron task's handler, skipping the tick entirely if the
// previous invocation of the same task is still running (overlap policy).
func (s *Scheduler) run(packageName string, spec registry.CronSpec, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		logger.Cron().Warn().Str("package", packageName).Str("job", spec.Name).Msg("skipping tick: previous invocation still running")
		return
	}
	defer j.running.Store(false)

	snap := s.reg.Snapshot()
	pkg := snap.Packages[packageName]
	if pkg == nil {
		logger.Cron().Warn().Str("package", packageName).Str("job", spec.Name).Msg("package disappeared before cron tick could run")
		return
	}

	lh, ok := snap.CronHandler(packageName, spec.Name)
	if !ok {
		logger.Cron().Error().Str("package", packageName).Str("job", spec.Name).Msg("no loaded handler for cron task")
		return
	}

	scheduledAt := time.Now().UTC()
	invCtx := &registry.InvocationContext{
		Context:       context.Background(),
		Method:        registry.CRON,
		Path:          "/__cron/" + spec.Name,
		PackageName:   packageName,
		CorrelationID: registry.NewCorrelationID(),
		CronJob: &registry.CronInvocation{
			Name:        spec.Name,
			Schedule:    spec.Schedule,
			ScheduledAt: scheduledAt,
		},
	}
	if s.loggerFor != nil {
		invCtx.Logger = s.loggerFor(packageName)
	}

	logger.Cron().Info().Str("package", packageName).Str("job", spec.Name).Msg("running cron task")
	if _, err := invokeRecoveredCron(lh.Handler, invCtx); err != nil {
		logger.Cron().Error().Err(err).Str("package", packageName).Str("job", spec.Name).Msg("cron task failed")
	}
}

func invokeRecoveredCron(h registry.Handler, ctx *registry.InvocationContext) (resp *registry.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cron handler panic: %v", r)
		}
	}()
	return h.Invoke(ctx)
}
