package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coordinator is the operations surface of the sync engine. It serializes
// concurrent analyses per scope, keeps the last report per scope in the
// cache, runs the periodic background reconciliation and emits
// status-changed events when a scope's issue count moves.
type Coordinator struct {
	collector *Collector
	repairer  *Repairer
	cache     ReportCache
	notifier  Notifier

	interval time.Duration
	cacheTTL time.Duration

	group    singleflight.Group
	done     chan struct{}
	stopOnce sync.Once
}

func NewCoordinator(collector *Collector, repairer *Repairer, cache ReportCache, notifier Notifier, interval, cacheTTL time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Coordinator{
		collector: collector,
		repairer:  repairer,
		cache:     cache,
		notifier:  notifier,
		interval:  interval,
		cacheTTL:  cacheTTL,
		done:      make(chan struct{}),
	}
}

// Analyze runs a full reconciliation pass over the scope. Concurrent calls
// for the same scope attach to the in-flight pass instead of starting
// redundant work; distinct scopes run independently.
func (c *Coordinator) Analyze(ctx context.Context, scope Scope) (*GlobalReport, error) {
	v, err, _ := c.group.Do(scope.Key(), func() (any, error) {
		return c.analyzeOnce(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	return v.(*GlobalReport), nil
}

func (c *Coordinator) analyzeOnce(ctx context.Context, scope Scope) (*GlobalReport, error) {
	snap, err := c.collector.Collect(ctx, scope)
	if err != nil {
		return nil, err
	}
	report := Analyze(snap)

	previous, cached, cacheErr := c.cache.Get(ctx, scope)
	if cacheErr != nil {
		log.Printf("coordinator: read cached report for %s: %v", scope, cacheErr)
	}
	if err := c.cache.Put(ctx, scope, report, c.cacheTTL); err != nil {
		log.Printf("coordinator: cache report for %s: %v", scope, err)
	}
	if c.notifier != nil && cached && previous.Issues != report.Issues {
		c.notifier.StatusChanged(ctx, scope, previous.Issues, report.Issues)
	}
	return report, nil
}

// CachedReport returns the last stored report for the scope without running
// an analysis. The second return value is false when no report is cached.
func (c *Coordinator) CachedReport(ctx context.Context, scope Scope) (*GlobalReport, bool, error) {
	return c.cache.Get(ctx, scope)
}

// Repair re-analyzes the scope and executes the resulting action plan. The
// fresh analysis guarantees stale plans are never executed against
// since-changed state, and makes repair idempotent: on a clean report the
// plan is empty.
func (c *Coordinator) Repair(ctx context.Context, scope Scope, dryRun bool) (*RepairResult, error) {
	report, err := c.Analyze(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("analyze before repair: %w", err)
	}
	return c.repairer.Execute(ctx, report, dryRun), nil
}

// RepairOne repairs a single file, identified by owner and key. The owner's
// scope is re-analyzed first so the action is planned from current state.
func (c *Coordinator) RepairOne(ctx context.Context, identity FileIdentity, dryRun bool) (*RepairResult, error) {
	report, err := c.Analyze(ctx, OwnerScope(identity.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("analyze before repair: %w", err)
	}

	narrowed := &GlobalReport{Scope: report.Scope, GeneratedAt: report.GeneratedAt}
	for _, f := range report.Files {
		if f.Identity.Key == identity.Key {
			narrowed.Files = append(narrowed.Files, f)
			narrowed.TotalFiles = 1
			break
		}
	}
	if narrowed.TotalFiles == 0 {
		return nil, fmt.Errorf("file %s/%s: no active metadata record", identity.OwnerID, identity.Key)
	}
	return c.repairer.Execute(ctx, narrowed, dryRun), nil
}

// PurgeOrphans deletes the named orphan vector entries. This is the only
// path that removes orphans, it is never part of repair planning, and it
// refuses to run without explicit confirmation. Entries are matched against
// a fresh analysis so anything that has gained an owner since is skipped.
func (c *Coordinator) PurgeOrphans(ctx context.Context, scope Scope, keys []string, confirm bool) (*PurgeResult, error) {
	if !confirm {
		return nil, fmt.Errorf("orphan purge requires explicit confirmation")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("orphan purge requires the entry keys to delete")
	}

	report, err := c.Analyze(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("analyze before purge: %w", err)
	}

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	result := &PurgeResult{Scope: scope.Key(), Errors: []string{}}
	for _, o := range report.Orphans {
		if !wanted[o.Key] {
			continue
		}
		if err := c.repairer.vector.Delete(ctx, o.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", o.Key, err))
			continue
		}
		result.Deleted++
	}
	return result, nil
}

// Start launches the periodic background reconciliation over all scopes.
func (c *Coordinator) Start() {
	go c.loop()
}

// Stop signals the background loop to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.interval)
			report, err := c.Analyze(ctx, AllScopes())
			cancel()
			if err != nil {
				log.Printf("coordinator: periodic reconciliation failed: %v", err)
				continue
			}
			log.Printf("coordinator: periodic reconciliation: %d files, %d synced, %d issues, %d orphan candidates",
				report.TotalFiles, report.Synced, report.Issues, len(report.Orphans))
		}
	}
}
