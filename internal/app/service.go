package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vaultd/syncd/internal/config"
	"vaultd/syncd/internal/engine"
)

// syncEngine is the coordinator surface the service consumes.
type syncEngine interface {
	Analyze(ctx context.Context, scope engine.Scope) (*engine.GlobalReport, error)
	CachedReport(ctx context.Context, scope engine.Scope) (*engine.GlobalReport, bool, error)
	Repair(ctx context.Context, scope engine.Scope, dryRun bool) (*engine.RepairResult, error)
	RepairOne(ctx context.Context, identity engine.FileIdentity, dryRun bool) (*engine.RepairResult, error)
	PurgeOrphans(ctx context.Context, scope engine.Scope, keys []string, confirm bool) (*engine.PurgeResult, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg    config.Config
	engine syncEngine
	meta   pinger
}

func New(cfg config.Config, eng syncEngine, meta pinger) *Service {
	return &Service{cfg: cfg, engine: eng, meta: meta}
}

// Ping reports metadata store connectivity for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.meta.Ping(ctx)
}

// Analyze runs a reconciliation pass and returns the fresh report.
func (s *Service) Analyze(ctx context.Context, scope engine.Scope) (*engine.GlobalReport, error) {
	report, err := s.engine.Analyze(ctx, scope)
	if errors.Is(err, engine.ErrMetadataUnavailable) {
		return nil, domainError(http.StatusServiceUnavailable, "METADATA_UNAVAILABLE",
			"Metadata store unreachable, no authoritative file list", nil)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Report returns the cached report for a scope without blocking on a new
// analysis pass.
func (s *Service) Report(ctx context.Context, scope engine.Scope) (*engine.GlobalReport, error) {
	report, ok, err := s.engine.CachedReport(ctx, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusNotFound, "NO_REPORT",
			"No report cached for scope, run analyze first", map[string]any{"scope": scope.Key()})
	}
	return report, nil
}

// Repair plans and, unless dryRun, executes corrective actions for a scope.
func (s *Service) Repair(ctx context.Context, scope engine.Scope, dryRun bool) (*engine.RepairResult, error) {
	result, err := s.engine.Repair(ctx, scope, dryRun)
	if errors.Is(err, engine.ErrMetadataUnavailable) {
		return nil, domainError(http.StatusServiceUnavailable, "METADATA_UNAVAILABLE",
			"Metadata store unreachable, refusing to plan repairs", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RepairOne repairs a single file.
func (s *Service) RepairOne(ctx context.Context, identity engine.FileIdentity, dryRun bool) (*engine.RepairResult, error) {
	if strings.TrimSpace(identity.OwnerID) == "" || strings.TrimSpace(identity.Key) == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_IDENTITY",
			"ownerId and fileKey are required", nil)
	}
	result, err := s.engine.RepairOne(ctx, identity, dryRun)
	if errors.Is(err, engine.ErrMetadataUnavailable) {
		return nil, domainError(http.StatusServiceUnavailable, "METADATA_UNAVAILABLE",
			"Metadata store unreachable, refusing to plan repairs", nil)
	}
	if err != nil {
		return nil, domainError(http.StatusNotFound, "FILE_NOT_FOUND", err.Error(), nil)
	}
	return result, nil
}

// Orphans lists the scope's orphan candidates from the cached report,
// analyzing first when none is cached.
func (s *Service) Orphans(ctx context.Context, scope engine.Scope) ([]engine.OrphanEntry, error) {
	report, ok, err := s.engine.CachedReport(ctx, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		if report, err = s.Analyze(ctx, scope); err != nil {
			return nil, err
		}
	}
	if report.Orphans == nil {
		return []engine.OrphanEntry{}, nil
	}
	return report.Orphans, nil
}

// PurgeOrphans deletes named orphan entries after explicit confirmation.
func (s *Service) PurgeOrphans(ctx context.Context, scope engine.Scope, keys []string, confirm bool) (*engine.PurgeResult, error) {
	if !confirm {
		return nil, domainError(http.StatusBadRequest, "CONFIRMATION_REQUIRED",
			"Orphan purge is destructive and requires \"confirm\": true", nil)
	}
	if len(keys) == 0 {
		return nil, domainError(http.StatusBadRequest, "KEYS_REQUIRED",
			"Orphan purge requires the entry keys to delete", nil)
	}
	result, err := s.engine.PurgeOrphans(ctx, scope, keys, confirm)
	if errors.Is(err, engine.ErrMetadataUnavailable) {
		return nil, domainError(http.StatusServiceUnavailable, "METADATA_UNAVAILABLE",
			"Metadata store unreachable, refusing to purge", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
